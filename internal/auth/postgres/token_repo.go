// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// Compile-time interface check.
var _ auth.TokenRepository = (*TokenRepository)(nil)

const tokenColumns = `value, owner_id, issued_at`

// TokenRepository implements auth.TokenRepository using PostgreSQL. Rows are
// kept until DeleteExpired runs; reads filter on issued_at instead.
type TokenRepository struct {
	pool poolIface
	opts auth.TokenStoreOptions
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(pool poolIface, opts auth.TokenStoreOptions) *TokenRepository {
	return &TokenRepository{pool: pool, opts: opts.WithDefaults()}
}

// Create stores a token.
func (r *TokenRepository) Create(ctx context.Context, token *auth.AccessToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO access_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3)
	`, token.Value, token.OwnerID.String(), token.IssuedAt)
	if err != nil {
		return oops.Code("TOKEN_INSERT_FAILED").
			With("operation", "insert access token").
			With("owner_id", token.OwnerID.String()).
			With("token_prefix", auth.TokenPrefix(token.Value)).
			Wrap(err)
	}
	return nil
}

// GetByValue retrieves a live token by value.
func (r *TokenRepository) GetByValue(ctx context.Context, value string) (*auth.AccessToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM access_tokens
		WHERE value = $1 AND issued_at > $2
	`, value, r.opts.Cutoff())

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("token_prefix", auth.TokenPrefix(value)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get token by value").
			With("token_prefix", auth.TokenPrefix(value)).
			Wrap(err)
	}
	return token, nil
}

// GetOldestLiveByOwner retrieves the earliest-issued live token of ownerID.
// Ties on issued_at go to the lowest value in byte order.
func (r *TokenRepository) GetOldestLiveByOwner(ctx context.Context, ownerID ulid.ULID) (*auth.AccessToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM access_tokens
		WHERE owner_id = $1 AND issued_at > $2
		ORDER BY issued_at ASC, value COLLATE "C" ASC
		LIMIT 1
	`, ownerID.String(), r.opts.Cutoff())

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("owner_id", ownerID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get oldest token by owner").
			With("owner_id", ownerID.String()).
			Wrap(err)
	}
	return token, nil
}

// DeleteExpired removes every expired token.
func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM access_tokens WHERE issued_at <= $1`, r.opts.Cutoff())
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*auth.AccessToken, error) {
	var (
		token    auth.AccessToken
		ownerStr string
	)
	if err := row.Scan(&token.Value, &ownerStr, &token.IssuedAt); err != nil {
		return nil, err
	}
	owner, err := ulid.Parse(ownerStr)
	if err != nil {
		return nil, oops.Code("TOKEN_CORRUPT_OWNER").With("owner_id", ownerStr).Wrap(err)
	}
	token.OwnerID = owner
	return &token, nil
}
