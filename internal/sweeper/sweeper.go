// Package sweeper runs the periodic auto-release of commissions whose release
// date has passed.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"go.uber.org/zap"
)

const (
	defaultInterval  = 5 * time.Minute
	defaultBatchSize = 100
	defaultLockTTL   = 2 * time.Minute
)

// Releaser releases every eligible commission in one pass.
type Releaser interface {
	ReleaseEligible(ctx context.Context, actor commission.Actor, limit int) (commission.SweepResult, error)
}

// Observer receives the outcome of every completed pass.
type Observer interface {
	ObserveSweep(result commission.SweepResult)
}

// Config tunes the sweep cadence.
type Config struct {
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLocker makes passes exclusive across replicas.
func WithLocker(locker Locker) Option {
	return func(sweeper *Sweeper) {
		sweeper.locker = locker
	}
}

// WithObserver reports pass outcomes, typically to metrics.
func WithObserver(observer Observer) Option {
	return func(sweeper *Sweeper) {
		sweeper.observer = observer
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(sweeper *Sweeper) {
		if logger != nil {
			sweeper.logger = logger
		}
	}
}

// Sweeper drives Releaser on a fixed interval.
type Sweeper struct {
	releaser Releaser
	locker   Locker
	observer Observer
	logger   *zap.Logger
	cfg      Config
}

// New wires a Sweeper.
func New(releaser Releaser, cfg Config, options ...Option) (*Sweeper, error) {
	if releaser == nil {
		return nil, errors.New("sweeper releaser is required")
	}
	cfg.applyDefaults()
	sweeper := &Sweeper{releaser: releaser, logger: zap.NewNop(), cfg: cfg}
	for _, option := range options {
		if option != nil {
			option(sweeper)
		}
	}
	return sweeper, nil
}

// RunOnce performs a single pass. It returns ErrLockHeld when another replica
// is sweeping.
func (sweeper *Sweeper) RunOnce(ctx context.Context) (commission.SweepResult, error) {
	if sweeper.locker != nil {
		lease, err := sweeper.locker.Acquire(ctx, sweeper.cfg.LockTTL)
		if err != nil {
			return commission.SweepResult{}, err
		}
		defer func() {
			if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
				sweeper.logger.Warn("sweep lock release failed", zap.Error(releaseErr))
			}
		}()
	}
	result, err := sweeper.releaser.ReleaseEligible(ctx, commission.SystemActor, sweeper.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("release eligible: %w", err)
	}
	if sweeper.observer != nil {
		sweeper.observer.ObserveSweep(result)
	}
	for _, failure := range result.Failed {
		sweeper.logger.Error("auto-release failed", zap.String("order_id", failure.OrderID.String()), zap.Error(failure.Err))
	}
	sweeper.logger.Info("auto-release pass",
		zap.Int("released", len(result.Released)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (sweeper *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweeper.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := sweeper.RunOnce(ctx); err != nil {
			switch {
			case errors.Is(err, ErrLockHeld):
				sweeper.logger.Debug("sweep skipped", zap.Error(err))
			case ctx.Err() != nil:
				return nil
			default:
				sweeper.logger.Error("sweep failed", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
