package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every aligned poll boundary.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToStart fires on multiples of Interval (slot boundaries) instead of
	// Interval after start.
	AlignToStart bool
	StartupDelay time.Duration
	// Immediate runs one tick as soon as the startup delay elapses.
	Immediate bool
	// Now overrides the wall clock.
	Now func() time.Time
}

// Scheduler drives aligned execution of refresh evaluations.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Interval returns the configured tick spacing.
func (s *Scheduler) Interval() time.Duration { return s.opts.Interval }

// Run blocks, invoking tick at each aligned interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.Immediate {
		s.fire(ctx, tick, s.opts.Now())
	}

	next := s.Next(s.opts.Now())
	for {
		delay := next.Sub(s.opts.Now())
		if delay < 0 {
			next = s.Next(s.opts.Now())
			delay = next.Sub(s.opts.Now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, tick, next)
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Debug().Time("tick", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
	}
}

// Next returns the first tick strictly after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	return NextBoundary(now, s.opts.Interval)
}

// NextBoundary returns the first multiple of interval (counted from the Unix
// epoch) strictly after now. Half-hour boundaries line up with UK slot starts
// in both GMT and BST.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	b := now.Truncate(interval)
	if !b.After(now) {
		b = b.Add(interval)
	}
	return b
}

// Boundary returns the start of the interval containing t.
func Boundary(t time.Time, interval time.Duration) time.Time {
	return t.Truncate(interval)
}
