// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// IdentityResolver maps a presented token value to its owner.
type IdentityResolver interface {
	// ResolveIdentity returns the owner of a live token, or false if the value
	// is unknown or expired.
	ResolveIdentity(ctx context.Context, value string) (ulid.ULID, bool, error)
}

// TokenService issues and resolves access tokens.
//
// Repeated logins within the TTL return the owner's oldest live token instead
// of minting a new one. Two concurrent first logins may both mint; later
// logins then converge on the older of the two.
type TokenService struct {
	tokens    TokenRepository
	generator TokenGenerator
	now       func() time.Time
}

var _ IdentityResolver = (*TokenService)(nil)

// NewTokenService creates a TokenService.
func NewTokenService(tokens TokenRepository, generator TokenGenerator, opts ...ServiceOption) (*TokenService, error) {
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token repository is required")
	}
	if generator == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token generator is required")
	}
	o := applyServiceOptions(opts)
	return &TokenService{tokens: tokens, generator: generator, now: o.now}, nil
}

// FindPreviousToken returns the owner's oldest live token, if any.
func (s *TokenService) FindPreviousToken(ctx context.Context, ownerID ulid.ULID) (*AccessToken, bool, error) {
	token, err := s.tokens.GetOldestLiveByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, oops.Code("TOKEN_LOOKUP_FAILED").
			With("owner_id", ownerID.String()).
			Wrap(err)
	}
	return token, true, nil
}

// CreateToken mints and persists a new token for ownerID.
func (s *TokenService) CreateToken(ctx context.Context, ownerID ulid.ULID) (*AccessToken, error) {
	value, err := s.generator.Generate(ownerID)
	if err != nil {
		return nil, oops.Code("TOKEN_CREATE_FAILED").
			With("owner_id", ownerID.String()).
			Wrap(err)
	}

	token := &AccessToken{
		Value:   value,
		OwnerID: ownerID,
		// Postgres stores microseconds; truncate so round trips compare equal.
		IssuedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, oops.Code("TOKEN_CREATE_FAILED").
			With("owner_id", ownerID.String()).
			With("token_prefix", TokenPrefix(value)).
			Wrap(err)
	}
	return token, nil
}

// IssueOrReuse is the login path: reuse the oldest live token or mint one.
func (s *TokenService) IssueOrReuse(ctx context.Context, ownerID ulid.ULID) (*AccessToken, error) {
	token, found, err := s.FindPreviousToken(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if found {
		return token, nil
	}
	return s.CreateToken(ctx, ownerID)
}

// ResolveIdentity returns the owner of a live token.
func (s *TokenService) ResolveIdentity(ctx context.Context, value string) (ulid.ULID, bool, error) {
	if value == "" {
		return ulid.ULID{}, false, nil
	}
	token, err := s.tokens.GetByValue(ctx, value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, false, nil
		}
		return ulid.ULID{}, false, oops.Code("TOKEN_RESOLVE_FAILED").
			With("token_prefix", TokenPrefix(value)).
			Wrap(err)
	}
	return token.OwnerID, true, nil
}
