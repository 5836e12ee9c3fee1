// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// Compile-time interface check.
var _ auth.TokenRepository = (*TokenRepository)(nil)

// TokenRepository keeps tokens in insertion order. Liveness is decided by
// the configured clock at read time.
type TokenRepository struct {
	opts auth.TokenStoreOptions

	mu     sync.RWMutex
	tokens []auth.AccessToken
}

// NewTokenRepository creates an empty TokenRepository.
func NewTokenRepository(opts auth.TokenStoreOptions) *TokenRepository {
	return &TokenRepository{opts: opts.WithDefaults()}
}

// Create appends a copy of token.
func (r *TokenRepository) Create(_ context.Context, token *auth.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, *token)
	return nil
}

// GetByValue retrieves a live token by value.
func (r *TokenRepository) GetByValue(_ context.Context, value string) (*auth.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.opts.Cutoff()
	for i := range r.tokens {
		t := r.tokens[i]
		if t.Value == value && t.IssuedAt.After(cutoff) {
			return &t, nil
		}
	}
	return nil, oops.Code("TOKEN_NOT_FOUND").
		With("token_prefix", auth.TokenPrefix(value)).
		Wrap(auth.ErrNotFound)
}

// GetOldestLiveByOwner retrieves the earliest-issued live token of ownerID.
// Ties on IssuedAt go to the lowest value.
func (r *TokenRepository) GetOldestLiveByOwner(_ context.Context, ownerID ulid.ULID) (*auth.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.opts.Cutoff()
	var oldest *auth.AccessToken
	for i := range r.tokens {
		t := &r.tokens[i]
		if t.OwnerID != ownerID || !t.IssuedAt.After(cutoff) {
			continue
		}
		if oldest == nil || t.IssuedAt.Before(oldest.IssuedAt) ||
			(t.IssuedAt.Equal(oldest.IssuedAt) && t.Value < oldest.Value) {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("owner_id", ownerID.String()).
			Wrap(auth.ErrNotFound)
	}
	out := *oldest
	return &out, nil
}

// DeleteExpired drops every expired token.
func (r *TokenRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.opts.Cutoff()
	before := len(r.tokens)
	r.tokens = slices.DeleteFunc(r.tokens, func(t auth.AccessToken) bool {
		return !t.IssuedAt.After(cutoff)
	})
	return int64(before - len(r.tokens)), nil
}

// Len returns the number of stored tokens, live or expired.
func (r *TokenRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
