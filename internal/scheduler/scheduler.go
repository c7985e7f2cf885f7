// Package scheduler runs the dispatch pipeline periodically.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Scheduler runs the pipeline once at start and then at every interval.
// Runs never overlap; a trigger arriving during a run queues at most one
// more run.
type Scheduler struct {
	runner   Runner
	interval func() time.Duration
	log      *slog.Logger
	trigger  chan struct{}
}

// New creates a Scheduler. interval is consulted after every run so that a
// reloaded delay takes effect on the next tick.
func New(runner Runner, interval func() time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		log:      log,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate run. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	timer := time.NewTimer(s.next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.trigger:
			s.log.Info("manual run requested")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		s.runOnce(ctx)
		timer.Reset(s.next())
	}
}

func (s *Scheduler) next() time.Duration {
	d := s.interval()
	if d <= 0 {
		d = time.Minute
	}
	return d
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.runner.Run(ctx); err != nil {
		s.log.Error("pipeline run", "error", err)
		return
	}
	s.log.Debug("pipeline run finished", "duration", time.Since(start))
}
