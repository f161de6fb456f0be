package scheduler

import (
	"context"
	"time"

	"github.com/snowdenHM/algo-trading/internal/logger"
)

// IntervalScheduler runs a task on a fixed interval until the context is
// cancelled. It is used for process-level housekeeping, not for session
// ticks (each session runtime owns its own ticker).
type IntervalScheduler struct {
	Interval       time.Duration
	RunImmediately bool
}

func NewIntervalScheduler(interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{Interval: interval}
}

// Start blocks, running task every Interval, until ctx is cancelled.
func (s *IntervalScheduler) Start(ctx context.Context, task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.RunImmediately {
		task()
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}
