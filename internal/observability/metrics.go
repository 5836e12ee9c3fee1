// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyward/keyward/internal/auth"
)

// Metrics holds the Keyward collectors. It satisfies auth.Observer.
type Metrics struct {
	RegisterTotal  *prometheus.CounterVec
	LoginTotal     *prometheus.CounterVec
	AuthorizeTotal *prometheus.CounterVec
	TokensSwept    prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

var _ auth.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RegisterTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_register_total",
				Help: "Registration attempts by result",
			},
			[]string{"result"},
		),
		LoginTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_login_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		AuthorizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_authorize_total",
				Help: "Bearer token authorizations by result",
			},
			[]string{"result"},
		),
		TokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyward_tokens_swept_total",
			Help: "Expired access tokens deleted by the sweeper",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_http_requests_total",
				Help: "HTTP API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyward_http_request_duration_seconds",
				Help:    "HTTP API request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		m.RegisterTotal,
		m.LoginTotal,
		m.AuthorizeTotal,
		m.TokensSwept,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

func (m *Metrics) ObserveRegister(status auth.Status) {
	m.RegisterTotal.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) ObserveLogin(status auth.Status) {
	m.LoginTotal.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) ObserveAuthorize(status auth.Status) {
	m.AuthorizeTotal.WithLabelValues(status.String()).Inc()
}

// ObserveSweep counts tokens removed by one sweep. Pass it to
// auth.WithSweepObserver.
func (m *Metrics) ObserveSweep(deleted int64) {
	if deleted > 0 {
		m.TokensSwept.Add(float64(deleted))
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
