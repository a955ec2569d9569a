package service

import (
	"context"
	"time"

	"agilewatch/internal/scheduler"
)

// wake tells the retry loop that plans changed.
func (s *Service) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// nextRetry returns the earliest planned attempt after now that falls before
// the next poll tick. Later plans are picked up by the regular tick.
func (s *Service) nextRetry(now time.Time) (time.Time, bool) {
	tick := scheduler.NextBoundary(now, s.opts.PollInterval)
	s.mu.Lock()
	defer s.mu.Unlock()

	var best time.Time
	for _, at := range s.plans {
		if !at.After(now) || !at.Before(tick) {
			continue
		}
		if best.IsZero() || at.Before(best) {
			best = at
		}
	}
	return best, !best.IsZero()
}

func (s *Service) retryLoop(ctx context.Context) {
	for {
		var fire <-chan time.Time
		var timer *time.Timer
		if at, ok := s.nextRetry(s.opts.Now()); ok {
			timer = time.NewTimer(at.Sub(s.opts.Now()))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.life.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.kick:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			if err := s.Tick(ctx, s.opts.Now()); err != nil {
				s.logger.Error().Err(err).Msg("retry tick failed")
			}
		}
	}
}
