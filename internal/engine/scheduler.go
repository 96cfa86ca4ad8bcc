package engine

import (
	"context"
	"time"

	"pulsecrm/backend/internal/logging"
)

// Scheduler drives the Matcher's schedule ticks. It runs in every node;
// the queue deduplicates nothing between nodes, but the last_run_at
// guard keeps a tick from firing a rule twice.
type Scheduler struct {
	matcher *Matcher
	logger  *logging.Logger
	every   time.Duration
}

// NewScheduler creates a Scheduler ticking at the given interval.
func NewScheduler(matcher *Matcher, logger *logging.Logger, every time.Duration) *Scheduler {
	if every <= 0 {
		every = time.Minute
	}
	return &Scheduler{matcher: matcher, logger: logger, every: every}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.matcher.OnScheduleTick(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("schedule tick failed", "error", err)
				}
				continue
			}
			if n > 0 {
				s.logger.Info("schedule tick enqueued rules", "count", n)
			}
		}
	}
}
