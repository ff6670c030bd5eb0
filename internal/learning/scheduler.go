package learning

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler refreshes model preferences and suggestion success rates on a
// fixed interval.
type Scheduler struct {
	loop     *Loop
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. If interval is <= 0, it defaults to 1h.
func NewScheduler(loop *Loop, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{loop: loop, interval: interval, logger: slog.Default()}
}

// Run executes RunOnce immediately and then on every tick until ctx is
// cancelled. Failed runs are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("scheduled learning run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs update_models then optimize_suggestions. Both are
// attempted even if the first fails.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, errModels := s.loop.Run(ctx, ActionUpdateModels)
	_, errTypes := s.loop.Run(ctx, ActionOptimizeSuggestions)
	return errors.Join(errModels, errTypes)
}
