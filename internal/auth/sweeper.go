// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DefaultSweepInterval is how often expired tokens are purged.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired tokens from a TokenRepository.
// Lookups already ignore expired rows; sweeping only reclaims space.
type Sweeper struct {
	tokens   TokenRepository
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(deleted int64)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepObserver registers a callback invoked with the number of rows
// deleted by each successful sweep.
func WithSweepObserver(fn func(deleted int64)) SweeperOption {
	return func(s *Sweeper) { s.onSweep = fn }
}

// NewSweeper creates a Sweeper. A non-positive interval selects
// DefaultSweepInterval.
func NewSweeper(tokens TokenRepository, interval time.Duration, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		tokens:   tokens,
		interval: interval,
		logger:   logger,
		onSweep:  func(int64) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce deletes expired tokens once.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := s.tokens.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("TOKEN_SWEEP_FAILED").Wrap(err)
	}
	s.onSweep(deleted)
	if deleted > 0 {
		s.logger.InfoContext(ctx, "expired tokens swept", "deleted", deleted)
	}
	return deleted, nil
}

// Start begins periodic sweeping until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the sweeper and waits for the goroutine to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "token sweep failed", "error", err)
			}
		}
	}
}
