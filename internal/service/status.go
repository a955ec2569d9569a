package service

import (
	"time"

	"agilewatch/internal/rates"
)

// BucketStatus is the freshness metadata of one day bucket.
type BucketStatus struct {
	Bucket              rates.Bucket `json:"bucket"`
	Date                string       `json:"date"`
	HasData             bool         `json:"has_data"`
	Slots               int          `json:"slots"`
	ExpectedSlots       int          `json:"expected_slots"`
	LastSuccessAt       *time.Time   `json:"last_success_at,omitempty"`
	LastAttemptAt       *time.Time   `json:"last_attempt_at,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
	NextAttemptAt       *time.Time   `json:"next_attempt_at,omitempty"`
}

// Status reports both buckets as seen at now.
func (s *Service) Status(now time.Time) []BucketStatus {
	snap := s.store.Snapshot()
	out := make([]BucketStatus, 0, len(rates.Buckets))
	for _, b := range rates.Buckets {
		rec := snap.Bucket(b, now)
		st := BucketStatus{
			Bucket:              b,
			Date:                rec.Date.Format(time.DateOnly),
			HasData:             rec.HasSeries,
			Slots:               rec.Series.Len(),
			ExpectedSlots:       ExpectedSlots(rec.Date, s.opts.Location, s.opts.SlotLength),
			LastSuccessAt:       timePtr(rec.LastSuccessAt),
			LastAttemptAt:       timePtr(rec.LastAttemptAt),
			ConsecutiveFailures: rec.ConsecutiveFailures,
		}
		if rec.LastError != nil {
			st.LastError = rec.LastError.Error()
		}
		if at, ok := s.plan(rec.Date); ok && at.After(now) {
			st.NextAttemptAt = &at
		}
		out = append(out, st)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
