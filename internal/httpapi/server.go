// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package httpapi serves the account HTTP API: registration, login and the
// bearer-gated profile endpoint.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Authority is the subset of *auth.Authority the API calls.
type Authority interface {
	Register(ctx context.Context, email, password string) (auth.Result[*auth.Account], error)
	Login(ctx context.Context, email, password string) (auth.Result[*auth.AccessToken], error)
	Authorize(ctx context.Context, header string) (ulid.ULID, error)
	Account(ctx context.Context, id ulid.ULID) (auth.Result[*auth.Account], error)
}

var _ Authority = (*auth.Authority)(nil)

// RequestObserver records served requests.
type RequestObserver interface {
	ObserveHTTP(route string, code int, elapsed time.Duration)
}

type nopRequestObserver struct{}

func (nopRequestObserver) ObserveHTTP(string, int, time.Duration) {}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRequestObserver sets the request metrics sink.
func WithRequestObserver(o RequestObserver) Option {
	return func(s *Server) {
		if o != nil {
			s.observer = o
		}
	}
}

// Server is the HTTP API listener.
type Server struct {
	addr       string
	authority  Authority
	logger     *slog.Logger
	observer   RequestObserver
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a Server that will listen on addr.
func NewServer(addr string, authority Authority, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		authority: authority,
		logger:    slog.Default(),
		observer:  nopRequestObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/user/register", http.HandlerFunc(s.handleRegister))
	s.route(mux, "POST /api/user/login", http.HandlerFunc(s.handleLogin))
	s.route(mux, "GET /api/user/me", RequireAuth(s.authority, s.logger)(http.HandlerFunc(s.handleMe)))
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, instrument(pattern, s.observer, h))
}

// Start begins serving. The returned channel carries any serve error and is
// closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("HTTP_ALREADY_RUNNING").Errorf("http server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("HTTP_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("http server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
		}
	}
	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
