// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

type accountIDKey struct{}

// WithAccountID returns a copy of ctx carrying the authorized account id.
func WithAccountID(ctx context.Context, id ulid.ULID) context.Context {
	return context.WithValue(ctx, accountIDKey{}, id)
}

// AccountIDFromContext returns the account id stored by WithAccountID.
func AccountIDFromContext(ctx context.Context) (ulid.ULID, bool) {
	id, ok := ctx.Value(accountIDKey{}).(ulid.ULID)
	return id, ok
}
