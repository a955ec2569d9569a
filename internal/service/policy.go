package service

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"agilewatch/internal/rates"
	"agilewatch/internal/scheduler"
	"agilewatch/internal/store"
)

// Outcome reports what a refresh evaluation did.
type Outcome string

const (
	OutcomeUpdated     Outcome = "updated"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeFresh       Outcome = "fresh"
	OutcomeBackoff     Outcome = "backoff"
	OutcomeNotEligible Outcome = "not_eligible"
	OutcomeClosed      Outcome = "window_closed"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeDiscarded   Outcome = "discarded"
)

// Backoff returns retry_base * 2^(failures-1) capped at max.
func Backoff(failures int, base, max time.Duration) time.Duration {
	return backoffAfter(failures, base, max, time.Now)
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// backoffAfter replays a deterministic exponential schedule up to the
// failures-th delay. Elapsed time never stops the schedule.
func backoffAfter(failures int, base, max time.Duration, now func() time.Time) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clockFunc(now),
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < failures; i++ {
		d = b.NextBackOff()
	}
	return d
}

// ExpectedSlots is the number of slots of length slot in the local day
// starting at date: 46, 48 or 50 for half-hour slots depending on DST.
func ExpectedSlots(date time.Time, loc *time.Location, slot time.Duration) int {
	if slot <= 0 {
		return 0
	}
	start := rates.StartOfDay(date, loc)
	end := start.AddDate(0, 0, 1)
	return int(end.Sub(start) / slot)
}

// fresh reports whether rec already satisfies the freshness rule for b.
// Today is fresh once refreshed inside the current aligned poll interval;
// tomorrow once its series covers the whole local day.
func fresh(b rates.Bucket, rec store.FetchRecord, now time.Time, poll time.Duration, loc *time.Location) bool {
	if !rec.HasSeries {
		return false
	}
	if b == rates.Today {
		return !rec.LastSuccessAt.Before(scheduler.Boundary(now, poll))
	}
	start := rates.StartOfDay(rec.Date, loc)
	return rec.Series.Covers(start, start.AddDate(0, 0, 1))
}

// retryAt places the next attempt after a retryable failure. Tomorrow's plan
// never extends past the last poll tick inside the fetch window.
func retryAt(b rates.Bucket, failures int, now time.Time, o Options) time.Time {
	at := now.Add(backoffAfter(failures, o.RetryBase, o.RetryMax, o.Now))
	if b == rates.Tomorrow {
		limit := scheduler.Boundary(o.FetchWindow.ClosesAt(now, o.Location), o.PollInterval)
		if at.After(limit) && limit.After(now) {
			at = limit
		}
	}
	return at
}
