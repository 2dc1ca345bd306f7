package training

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often the scheduler trains when not triggered.
const DefaultInterval = time.Hour

// Runner runs one training pass.
type Runner interface {
	Trigger(ctx context.Context) (Report, error)
}

// Scheduler runs training passes on a fixed interval and on request.
// Requests made while a pass is running are coalesced into one follow-up pass.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	requests chan struct{}
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler.
// If interval is <= 0, it defaults to one hour.
func NewScheduler(r Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   r,
		interval: interval,
		requests: make(chan struct{}, 1),
		logger:   slog.Default(),
	}
}

// Request asks for a pass as soon as the scheduler is free. It never blocks.
func (s *Scheduler) Request() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Run trains on every tick or request until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.requests:
		}
		if ctx.Err() != nil {
			return
		}
		s.RunOnce(ctx)
	}
}

// RunOnce runs a single pass, logging rather than returning failures.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	r, err := s.runner.Trigger(ctx)
	if err != nil {
		s.logger.Error("scheduled training failed", "error", err)
	}
	return r
}
