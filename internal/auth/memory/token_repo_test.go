// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/auth/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTokenRepo() (*memory.TokenRepository, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return memory.NewTokenRepository(auth.TokenStoreOptions{Now: clock.Now}), clock
}

func TestTokenRepository_GetByValue(t *testing.T) {
	ctx := context.Background()
	repo, clock := newTokenRepo()
	owner := ulid.Make()

	require.NoError(t, repo.Create(ctx, &auth.AccessToken{Value: "T1", OwnerID: owner, IssuedAt: clock.Now()}))

	got, err := repo.GetByValue(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, owner, got.OwnerID)

	_, err = repo.GetByValue(ctx, "t1")
	assert.ErrorIs(t, err, auth.ErrNotFound, "lookup is exact")
}

func TestTokenRepository_Expiry(t *testing.T) {
	ctx := context.Background()
	repo, clock := newTokenRepo()
	owner := ulid.Make()
	require.NoError(t, repo.Create(ctx, &auth.AccessToken{Value: "T1", OwnerID: owner, IssuedAt: clock.Now()}))

	clock.Advance(auth.AccessTokenTTL - time.Second)
	_, err := repo.GetByValue(ctx, "T1")
	require.NoError(t, err, "still live just before the TTL")

	clock.Advance(time.Second)
	_, err = repo.GetByValue(ctx, "T1")
	assert.ErrorIs(t, err, auth.ErrNotFound, "expired exactly at the TTL")

	_, err = repo.GetOldestLiveByOwner(ctx, owner)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestTokenRepository_GetOldestLiveByOwner(t *testing.T) {
	ctx := context.Background()
	repo, clock := newTokenRepo()
	owner := ulid.Make()
	other := ulid.Make()
	start := clock.Now()

	require.NoError(t, repo.Create(ctx, &auth.AccessToken{Value: "NEWER", OwnerID: owner, IssuedAt: start.Add(time.Minute)}))
	require.NoError(t, repo.Create(ctx, &auth.AccessToken{Value: "OLDER", OwnerID: owner, IssuedAt: start}))
	require.NoError(t, repo.Create(ctx, &auth.AccessToken{Value: "OTHER", OwnerID: other, IssuedAt: start.Add(-time.Minute)}))

	got, err := repo.GetOldestLiveByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "OLDER", got.Value)

	// Once the older token expires the newer one is surfaced.
	clock.Advance(auth.AccessTokenTTL)
	got, err = repo.GetOldestLiveByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "NEWER", got.Value)
}

func TestTokenRepository_GetOldestLiveByOwner_TieBreak(t *testing.T) {
	ctx := context.Background()
	repo, clock := newTokenRepo()
	owner := ulid.Make()

	for _, value := range []string{"BBB", "AAA", "CCC"} {
		require.NoError(t, repo.Create(ctx, &auth.AccessToken{Value: value, OwnerID: owner, IssuedAt: clock.Now()}))
	}

	got, err := repo.GetOldestLiveByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "AAA", got.Value)
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo, clock := newTokenRepo()
	owner := ulid.Make()
	start := clock.Now()

	require.NoError(t, repo.Create(ctx, &auth.AccessToken{Value: "OLD", OwnerID: owner, IssuedAt: start.Add(-auth.AccessTokenTTL)}))
	require.NoError(t, repo.Create(ctx, &auth.AccessToken{Value: "LIVE", OwnerID: owner, IssuedAt: start}))

	deleted, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 1, repo.Len())

	deleted, err = repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestTokenRepository_CustomTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := memory.NewTokenRepository(auth.TokenStoreOptions{TTL: time.Minute, Now: clock.Now})

	require.NoError(t, repo.Create(ctx, &auth.AccessToken{Value: "T", OwnerID: ulid.Make(), IssuedAt: clock.Now()}))
	clock.Advance(time.Minute)

	_, err := repo.GetByValue(ctx, "T")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}
