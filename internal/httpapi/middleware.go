// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/pkg/errutil"
)

// Authorizer resolves an Authorization header to an account id.
type Authorizer interface {
	Authorize(ctx context.Context, header string) (ulid.ULID, error)
}

// RequireAuth rejects requests without a live bearer token. Accepted requests
// carry the account id in their context (auth.AccountIDFromContext).
func RequireAuth(authz Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authz.Authorize(r.Context(), r.Header.Get("Authorization"))
			switch {
			case errors.Is(err, auth.ErrUnauthorized):
				writeError(w, unauthorizedResponse)
				return
			case err != nil:
				errutil.LogErrorContext(r.Context(), logger, "authorization failed", err)
				writeError(w, internalResponse)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAccountID(r.Context(), id)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, o RequestObserver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		o.ObserveHTTP(route, rec.status, time.Since(start))
	})
}
