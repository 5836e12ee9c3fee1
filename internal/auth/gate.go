// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"regexp"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var bearerRegex = regexp.MustCompile(`(?i)^bearer +(\S+)$`)

// ExtractBearer returns the token carried by an Authorization header value.
func ExtractBearer(header string) (string, bool) {
	m := bearerRegex.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Gate authorizes requests by their bearer token.
type Gate struct {
	resolver IdentityResolver
}

// NewGate creates a Gate.
func NewGate(resolver IdentityResolver) *Gate {
	return &Gate{resolver: resolver}
}

// Authorize resolves the owner of the bearer token in header. Missing,
// malformed, unknown and expired tokens all fail with the same error wrapping
// ErrUnauthorized. Storage failures are returned unwrapped from that sentinel.
func (g *Gate) Authorize(ctx context.Context, header string) (ulid.ULID, error) {
	value, ok := ExtractBearer(header)
	if !ok {
		return ulid.ULID{}, unauthorized()
	}

	owner, found, err := g.resolver.ResolveIdentity(ctx, value)
	if err != nil {
		return ulid.ULID{}, oops.Code("AUTH_GATE_FAILED").
			With("token_prefix", TokenPrefix(value)).
			Wrap(err)
	}
	if !found {
		return ulid.ULID{}, unauthorized()
	}
	return owner, nil
}

func unauthorized() error {
	return oops.Code("AUTH_UNAUTHORIZED").Wrap(ErrUnauthorized)
}
