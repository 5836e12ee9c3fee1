// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/auth/memory"
	"github.com/keyward/keyward/internal/auth/postgres"
	authredis "github.com/keyward/keyward/internal/auth/redis"
	"github.com/keyward/keyward/internal/config"
	kwgrpc "github.com/keyward/keyward/internal/grpc"
	"github.com/keyward/keyward/internal/httpapi"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/observability"
	"github.com/keyward/keyward/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the optional gRPC gate and the token sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := deps.withDefaults()
			cfg, err := loadConfig(cmd.Flags(), d.Getenv)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, d)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// backends holds the repositories selected by configuration.
type backends struct {
	accounts auth.AccountRepository
	tokens   auth.TokenRepository
	close    func()
}

func openBackends(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger) (*backends, error) {
	b := &backends{close: func() {}}
	storeOpts := auth.TokenStoreOptions{}.WithDefaults()

	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() {
		var err error
		pool, err = deps.ConnectDB(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		b.close = pool.Close
		logger.Info("connected to database")
	}

	switch cfg.AccountBackend {
	case config.BackendPostgres:
		b.accounts = postgres.NewAccountRepository(pool)
	default:
		b.accounts = memory.NewAccountRepository()
	}

	switch cfg.TokenBackend {
	case config.BackendPostgres:
		b.tokens = postgres.NewTokenRepository(pool, storeOpts)
	case config.BackendRedis:
		client, err := deps.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			b.close()
			return nil, oops.Code("REDIS_CONNECT_FAILED").With("operation", "connect to redis").Wrap(err)
		}
		closeDB := b.close
		b.close = func() {
			_ = client.Close() //nolint:errcheck // shutdown path
			closeDB()
		}
		b.tokens = authredis.NewTokenRepository(client, authredis.Options{
			TokenStoreOptions: storeOpts,
			KeyPrefix:         cfg.Redis.KeyPrefix,
		})
		logger.Info("connected to redis")
	default:
		b.tokens = memory.NewTokenRepository(storeOpts)
	}
	return b, nil
}

// runServe starts every listener and blocks until ctx is cancelled, a
// termination signal arrives, or a listener fails.
func runServe(ctx context.Context, cfg *config.Config, deps *Deps) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return oops.Wrap(err)
	}
	logger := logging.SetDefault(logging.Options{
		Service: "keyward",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   level,
	})
	logger.Info("starting keyward",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"account_backend", cfg.AccountBackend,
		"token_backend", cfg.TokenBackend,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b, err := openBackends(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer b.close()

	var ready atomic.Bool
	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, ready.Load, logger)
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	hasher, err := auth.NewPasswordHasher(cfg.PasswordHash)
	if err != nil {
		return oops.Wrap(err)
	}
	credentials, err := auth.NewCredentialService(b.accounts, hasher)
	if err != nil {
		return oops.Wrap(err)
	}
	tokens, err := auth.NewTokenService(b.tokens, auth.NewSHA512TokenGenerator())
	if err != nil {
		return oops.Wrap(err)
	}
	authority, err := auth.NewAuthority(credentials, tokens,
		auth.WithLogger(logger),
		auth.WithObserver(metrics),
	)
	if err != nil {
		return oops.Wrap(err)
	}

	sweeper := auth.NewSweeper(b.tokens, cfg.SweepInterval, logger, auth.WithSweepObserver(metrics.ObserveSweep))
	sweeper.Start(ctx)
	defer sweeper.Stop()

	var errChans []<-chan error
	var stops []func(context.Context) error
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](shutdownCtx); err != nil {
				logger.Warn("error during shutdown", "error", err)
			}
		}
		logger.Info("shutdown complete")
	}()

	api := httpapi.NewServer(cfg.HTTPAddr, authority,
		httpapi.WithLogger(logger),
		httpapi.WithRequestObserver(metrics),
	)
	apiErr, err := api.Start()
	if err != nil {
		return oops.Wrap(err)
	}
	errChans = append(errChans, apiErr)
	stops = append(stops, api.Stop)

	if cfg.GRPCAddr != "" {
		gate, err := kwgrpc.NewGate(authority, cfg.PublicMethods, logger)
		if err != nil {
			return oops.Wrap(err)
		}
		grpcServer := kwgrpc.NewServer(cfg.GRPCAddr, gate, logger)
		if len(grpcServer.ProtectedMethods()) == 0 {
			logger.Warn("grpc listener has no protected methods", "grpc_addr", cfg.GRPCAddr)
		}
		grpcErr, err := grpcServer.Start()
		if err != nil {
			return oops.Wrap(err)
		}
		errChans = append(errChans, grpcErr)
		stops = append(stops, grpcServer.Stop)
	}

	if obsServer != nil {
		obsErr, err := obsServer.Start()
		if err != nil {
			return oops.Wrap(err)
		}
		errChans = append(errChans, obsErr)
		stops = append(stops, obsServer.Stop)
	}

	ready.Store(true)
	deps.OnReady(api.Addr())
	logger.Info("keyward ready", "http_addr", api.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	failed := make(chan error, len(errChans))
	for _, ch := range errChans {
		go monitorServerErrors(ctx, ch, failed)
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-failed:
		errutil.LogError(logger, "listener failed", err)
		ready.Store(false)
		return oops.Code("SERVER_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}
	ready.Store(false)
	return nil
}

// monitorServerErrors forwards the first error from errCh to failed.
func monitorServerErrors(ctx context.Context, errCh <-chan error, failed chan<- error) {
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			failed <- err
		}
	}
}
