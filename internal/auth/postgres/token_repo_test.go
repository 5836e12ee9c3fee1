// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/pkg/errutil"
)

var tokenTestNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestTokenRepo(mock pgxmock.PgxPoolIface) *TokenRepository {
	return NewTokenRepository(mock, auth.TokenStoreOptions{Now: func() time.Time { return tokenTestNow }})
}

func TestTokenRepository_Create(t *testing.T) {
	owner := ulid.Make()
	token := &auth.AccessToken{Value: "ABCDEF0123", OwnerID: owner, IssuedAt: tokenTestNow}

	t.Run("inserts row", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO access_tokens`).
			WithArgs("ABCDEF0123", owner.String(), tokenTestNow).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, newTestTokenRepo(mock).Create(context.Background(), token))
	})

	t.Run("database error keeps only the token prefix", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO access_tokens`).
			WithArgs("ABCDEF0123", owner.String(), tokenTestNow).
			WillReturnError(errors.New("duplicate key"))

		err := newTestTokenRepo(mock).Create(context.Background(), token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TOKEN_INSERT_FAILED")
		errutil.AssertErrorContext(t, err, "token_prefix", "ABCDEF01")
	})
}

func TestTokenRepository_GetByValue(t *testing.T) {
	owner := ulid.Make()
	cutoff := tokenTestNow.Add(-auth.AccessTokenTTL)
	columns := []string{"value", "owner_id", "issued_at"}

	t.Run("live token", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`WHERE value = \$1 AND issued_at > \$2`).
			WithArgs("T1", cutoff).
			WillReturnRows(pgxmock.NewRows(columns).AddRow("T1", owner.String(), tokenTestNow))

		got, err := newTestTokenRepo(mock).GetByValue(context.Background(), "T1")
		require.NoError(t, err)
		assert.Equal(t, &auth.AccessToken{Value: "T1", OwnerID: owner, IssuedAt: tokenTestNow}, got)
	})

	t.Run("absent or expired", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`WHERE value = \$1 AND issued_at > \$2`).
			WithArgs("T1", cutoff).
			WillReturnError(pgx.ErrNoRows)

		_, err := newTestTokenRepo(mock).GetByValue(context.Background(), "T1")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("custom ttl moves the cutoff", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`WHERE value = \$1 AND issued_at > \$2`).
			WithArgs("T1", tokenTestNow.Add(-time.Minute)).
			WillReturnError(pgx.ErrNoRows)

		repo := NewTokenRepository(mock, auth.TokenStoreOptions{TTL: time.Minute, Now: func() time.Time { return tokenTestNow }})
		_, err := repo.GetByValue(context.Background(), "T1")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestTokenRepository_GetOldestLiveByOwner(t *testing.T) {
	owner := ulid.Make()
	cutoff := tokenTestNow.Add(-auth.AccessTokenTTL)
	columns := []string{"value", "owner_id", "issued_at"}

	t.Run("oldest first", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`ORDER BY issued_at ASC, value COLLATE "C" ASC`).
			WithArgs(owner.String(), cutoff).
			WillReturnRows(pgxmock.NewRows(columns).AddRow("OLD", owner.String(), cutoff.Add(time.Second)))

		got, err := newTestTokenRepo(mock).GetOldestLiveByOwner(context.Background(), owner)
		require.NoError(t, err)
		assert.Equal(t, "OLD", got.Value)
	})

	t.Run("none live", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`ORDER BY issued_at ASC, value COLLATE "C" ASC`).
			WithArgs(owner.String(), cutoff).
			WillReturnError(pgx.ErrNoRows)

		_, err := newTestTokenRepo(mock).GetOldestLiveByOwner(context.Background(), owner)
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorContext(t, err, "owner_id", owner.String())
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`ORDER BY issued_at ASC, value COLLATE "C" ASC`).
			WithArgs(owner.String(), cutoff).
			WillReturnError(errors.New("timeout"))

		_, err := newTestTokenRepo(mock).GetOldestLiveByOwner(context.Background(), owner)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "TOKEN_GET_FAILED")
	})
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	cutoff := tokenTestNow.Add(-auth.AccessTokenTTL)

	t.Run("reports affected rows", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM access_tokens WHERE issued_at <= \$1`).
			WithArgs(cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))

		n, err := newTestTokenRepo(mock).DeleteExpired(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM access_tokens`).
			WithArgs(cutoff).
			WillReturnError(errors.New("timeout"))

		_, err := newTestTokenRepo(mock).DeleteExpired(context.Background())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TOKEN_DELETE_EXPIRED_FAILED")
	})
}
