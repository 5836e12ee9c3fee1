// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Access token configuration.
const (
	AccessTokenTTL    = 30 * time.Minute // lifetime measured from IssuedAt
	AccessTokenLength = 2 * sha512.Size  // 64 bytes = 128 hex chars
)

// AccessToken is an opaque bearer token bound to an account.
// Tokens are immutable; a new login mints a new row rather than refreshing.
type AccessToken struct {
	Value    string
	OwnerID  ulid.ULID
	IssuedAt time.Time
}

// ExpiresAt returns the instant after which the token is no longer live.
func (t *AccessToken) ExpiresAt(ttl time.Duration) time.Time {
	return t.IssuedAt.Add(ttl)
}

// IsExpiredAt returns true if the token would be expired at the given time.
func (t *AccessToken) IsExpiredAt(now time.Time, ttl time.Duration) bool {
	return !now.Before(t.ExpiresAt(ttl))
}

// TokenPrefix returns the first eight characters of a token value, which is
// all that may appear in logs.
func TokenPrefix(value string) string {
	if len(value) <= 8 {
		return value
	}
	return value[:8]
}

// TokenGenerator mints opaque token values.
type TokenGenerator interface {
	Generate(ownerID ulid.ULID) (string, error)
}

// SHA512TokenGenerator renders SHA-512("<unix-nanos>/<owner>/<uuid>") as
// 128 upper-case hex characters. Mixing time, identity and a random UUID
// makes values unpredictable; uniqueness is not guaranteed by storage.
type SHA512TokenGenerator struct {
	now     func() time.Time
	newUUID func() (uuid.UUID, error)
}

// NewSHA512TokenGenerator creates a generator backed by the wall clock and
// random (v4) UUIDs.
func NewSHA512TokenGenerator() *SHA512TokenGenerator {
	return &SHA512TokenGenerator{now: time.Now, newUUID: uuid.NewRandom}
}

// Generate mints a new token value for ownerID.
func (g *SHA512TokenGenerator) Generate(ownerID ulid.ULID) (string, error) {
	id, err := g.newUUID()
	if err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "generate uuid").
			Wrap(err)
	}

	var b strings.Builder
	b.WriteString(strconv.FormatInt(g.now().UnixNano(), 10))
	b.WriteByte('/')
	b.WriteString(ownerID.String())
	b.WriteByte('/')
	b.WriteString(id.String())

	sum := sha512.Sum512([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// TokenRepository manages access token persistence. Implementations must
// never return a token whose IssuedAt is older than their configured TTL.
type TokenRepository interface {
	// Create appends a token. No uniqueness is enforced beyond the value's entropy.
	Create(ctx context.Context, token *AccessToken) error

	// GetByValue retrieves a live token by exact value.
	// Returns ErrNotFound if no live token matches.
	GetByValue(ctx context.Context, value string) (*AccessToken, error)

	// GetOldestLiveByOwner retrieves the earliest-issued live token of an owner.
	// Returns ErrNotFound if the owner has no live token.
	GetOldestLiveByOwner(ctx context.Context, ownerID ulid.ULID) (*AccessToken, error)

	// DeleteExpired removes expired tokens and returns the count of deleted
	// records. Stores with native expiry may return zero.
	DeleteExpired(ctx context.Context) (int64, error)
}

// TokenStoreOptions configures a TokenRepository.
type TokenStoreOptions struct {
	// TTL is the token lifetime. Zero selects AccessTokenTTL.
	TTL time.Duration
	// Now is the clock used to decide liveness. Nil selects time.Now.
	Now func() time.Time
}

// WithDefaults fills unset fields.
func (o TokenStoreOptions) WithDefaults() TokenStoreOptions {
	if o.TTL <= 0 {
		o.TTL = AccessTokenTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Cutoff returns the instant at or before which an IssuedAt is expired.
func (o TokenStoreOptions) Cutoff() time.Time {
	return o.Now().Add(-o.TTL)
}
