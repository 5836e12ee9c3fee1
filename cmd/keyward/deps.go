// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	authredis "github.com/keyward/keyward/internal/auth/redis"
	"github.com/keyward/keyward/internal/store"
)

// Migrator is the subset of *store.Migrator used by the migrate command.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

var _ Migrator = (*store.Migrator)(nil)

// Deps holds injectable dependencies for the serve and migrate commands.
// Nil fields use their default implementations.
type Deps struct {
	// ConnectDB opens the PostgreSQL pool. Default: store.Connect.
	ConnectDB func(ctx context.Context, url string, logger *slog.Logger) (*pgxpool.Pool, error)

	// ConnectRedis opens the redis client. Default: authredis.Connect.
	ConnectRedis func(ctx context.Context, url string) (*goredis.Client, error)

	// NewMigrator opens a migrator. Default: store.NewMigrator.
	NewMigrator func(url string) (Migrator, error)

	// Getenv reads environment variables. Default: os.Getenv.
	Getenv func(string) string

	// OnReady is called with the HTTP API address once every listener is up.
	OnReady func(httpAddr string)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.ConnectDB == nil {
		out.ConnectDB = func(ctx context.Context, url string, logger *slog.Logger) (*pgxpool.Pool, error) {
			return store.Connect(ctx, url, store.ConnectOptions{Logger: logger})
		}
	}
	if out.ConnectRedis == nil {
		out.ConnectRedis = authredis.Connect
	}
	if out.NewMigrator == nil {
		out.NewMigrator = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.Getenv == nil {
		out.Getenv = os.Getenv
	}
	if out.OnReady == nil {
		out.OnReady = func(string) {}
	}
	return &out
}
