// Package sweeper purges expired polls in the background. Correctness never
// depends on it: reads and writes already treat expired polls as gone, the
// sweeper only reclaims their storage.
package sweeper

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const DefaultInterval = time.Minute

type Cleaner interface {
	Sweep(ctx context.Context) (int64, error)
}

type Sweeper struct {
	cleaner  Cleaner
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
}

func New(cleaner Cleaner, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		cleaner:  cleaner,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps immediately and then once per interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Starting expired poll sweeper", zap.Duration("interval", s.interval))

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expired poll sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	deleted, err := s.cleaner.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Sweep failed", zap.Error(err))
		}
		return 0
	}
	if deleted > 0 {
		s.logger.Debug("Sweep pass finished", zap.Int64("deleted", deleted))
	}
	return deleted
}
