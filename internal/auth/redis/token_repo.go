// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package redis implements auth.TokenRepository on Redis, relying on native
// key expiry instead of a sweeper.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// DefaultKeyPrefix namespaces every key written by TokenRepository.
const DefaultKeyPrefix = "keyward:"

// Compile-time interface check.
var _ auth.TokenRepository = (*TokenRepository)(nil)

// Options configures a TokenRepository.
type Options struct {
	auth.TokenStoreOptions
	// KeyPrefix is prepended to every key. Empty selects DefaultKeyPrefix.
	KeyPrefix string
}

// tokenRecord is the JSON value stored under a token key.
type tokenRecord struct {
	OwnerID  string    `json:"owner_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// TokenRepository stores each token under "<prefix>token:<value>" with an
// expiry of IssuedAt+TTL, and indexes an owner's tokens in the sorted set
// "<prefix>owner:<id>" scored by IssuedAt in microseconds. Equal scores
// order by value, so ties go to the lowest value.
type TokenRepository struct {
	client goredis.UniversalClient
	opts   auth.TokenStoreOptions
	prefix string
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(client goredis.UniversalClient, opts Options) *TokenRepository {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &TokenRepository{
		client: client,
		opts:   opts.TokenStoreOptions.WithDefaults(),
		prefix: prefix,
	}
}

func (r *TokenRepository) tokenKey(value string) string {
	return r.prefix + "token:" + value
}

func (r *TokenRepository) ownerKey(id ulid.ULID) string {
	return r.prefix + "owner:" + id.String()
}

// Create stores token. A token that is already expired is accepted and
// dropped, matching what a read would observe.
func (r *TokenRepository) Create(ctx context.Context, token *auth.AccessToken) error {
	remaining := token.ExpiresAt(r.opts.TTL).Sub(r.opts.Now())
	if remaining <= 0 {
		return nil
	}

	data, err := json.Marshal(tokenRecord{OwnerID: token.OwnerID.String(), IssuedAt: token.IssuedAt})
	if err != nil {
		return oops.Code("TOKEN_INSERT_FAILED").With("operation", "encode token").Wrap(err)
	}

	ownerKey := r.ownerKey(token.OwnerID)
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.tokenKey(token.Value), data, remaining)
		pipe.ZAdd(ctx, ownerKey, goredis.Z{Score: float64(token.IssuedAt.UnixMicro()), Member: token.Value})
		// No live token outlives a full TTL from now.
		pipe.Expire(ctx, ownerKey, r.opts.TTL)
		return nil
	})
	if err != nil {
		return oops.Code("TOKEN_INSERT_FAILED").
			With("operation", "store token").
			With("owner_id", token.OwnerID.String()).
			With("token_prefix", auth.TokenPrefix(token.Value)).
			Wrap(err)
	}
	return nil
}

// GetByValue retrieves a live token by value.
func (r *TokenRepository) GetByValue(ctx context.Context, value string) (*auth.AccessToken, error) {
	token, err := r.load(ctx, value)
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get token by value").
			With("token_prefix", auth.TokenPrefix(value)).
			Wrap(err)
	}
	if token == nil {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("token_prefix", auth.TokenPrefix(value)).
			Wrap(auth.ErrNotFound)
	}
	return token, nil
}

// GetOldestLiveByOwner retrieves the earliest-issued live token of ownerID.
// Index entries whose token key has expired are pruned on the way.
func (r *TokenRepository) GetOldestLiveByOwner(ctx context.Context, ownerID ulid.ULID) (*auth.AccessToken, error) {
	ownerKey := r.ownerKey(ownerID)
	cutoff := strconv.FormatInt(r.opts.Cutoff().UnixMicro(), 10)

	if err := r.client.ZRemRangeByScore(ctx, ownerKey, "-inf", cutoff).Err(); err != nil {
		return nil, r.ownerLookupFailed(ownerID, err)
	}

	values, err := r.client.ZRange(ctx, ownerKey, 0, -1).Result()
	if err != nil {
		return nil, r.ownerLookupFailed(ownerID, err)
	}

	for _, value := range values {
		token, err := r.load(ctx, value)
		if err != nil {
			return nil, r.ownerLookupFailed(ownerID, err)
		}
		if token != nil {
			return token, nil
		}
		if err := r.client.ZRem(ctx, ownerKey, value).Err(); err != nil {
			return nil, r.ownerLookupFailed(ownerID, err)
		}
	}

	return nil, oops.Code("TOKEN_NOT_FOUND").
		With("owner_id", ownerID.String()).
		Wrap(auth.ErrNotFound)
}

// DeleteExpired is a no-op: Redis expires token keys itself.
func (r *TokenRepository) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

// load returns the live token stored under value, or nil if there is none.
func (r *TokenRepository) load(ctx context.Context, value string) (*auth.AccessToken, error) {
	data, err := r.client.Get(ctx, r.tokenKey(value)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oops.Code("TOKEN_CORRUPT").Wrap(err)
	}
	owner, err := ulid.Parse(rec.OwnerID)
	if err != nil {
		return nil, oops.Code("TOKEN_CORRUPT_OWNER").With("owner_id", rec.OwnerID).Wrap(err)
	}

	token := &auth.AccessToken{Value: value, OwnerID: owner, IssuedAt: rec.IssuedAt}
	if token.IsExpiredAt(r.opts.Now(), r.opts.TTL) {
		return nil, nil
	}
	return token, nil
}

func (r *TokenRepository) ownerLookupFailed(ownerID ulid.ULID, err error) error {
	return oops.Code("TOKEN_GET_FAILED").
		With("operation", "get oldest token by owner").
		With("owner_id", ownerID.String()).
		Wrap(err)
}
