// Package maintenance runs periodic housekeeping against the ledger.
package maintenance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/domain/inventory"
	"github.com/example/farm-ledger/internal/infrastructure/cache"
)

// SweepLockKey is held by the replica running the current sweep.
const SweepLockKey = "inventory:sweep-expired"

type expirer interface {
	SweepExpired(ctx context.Context) (inventory.SweepResult, error)
}

// Sweeper expires overdue reservations on a fixed interval. Replicas share a
// lock so each tick is swept once.
type Sweeper struct {
	expirer  expirer
	locker   cache.Locker
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(expirer expirer, locker cache.Locker, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		expirer:  expirer,
		locker:   locker,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs a single sweep. It reports false when another replica held the
// lock and nothing was done.
func (s *Sweeper) Tick(ctx context.Context) (bool, error) {
	// the lock outlives a slow sweep by one interval at most
	lock, err := s.locker.TryLock(ctx, SweepLockKey, s.interval)
	if errors.Is(err, cache.ErrLockHeld) {
		s.logger.Debug("sweep skipped, lock held elsewhere")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release sweep lock", zap.Error(err))
		}
	}()

	start := time.Now()
	res, err := s.expirer.SweepExpired(ctx)
	if err != nil {
		return true, err
	}
	if res.Expired > 0 || res.Failed > 0 {
		s.logger.Info("reservations swept",
			zap.Int("expired", res.Expired),
			zap.Int("failed", res.Failed),
			zap.Duration("took", time.Since(start)),
		)
	}
	return true, nil
}
