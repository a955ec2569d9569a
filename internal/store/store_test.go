package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"agilewatch/internal/analysis"
	"agilewatch/internal/rates"
)

func daySeries(t *testing.T, day time.Time, values ...float64) rates.Series {
	t.Helper()
	slots := make([]rates.Slot, len(values))
	for i, v := range values {
		from := day.Add(time.Duration(i) * 30 * time.Minute)
		slots[i] = rates.Slot{ValidFrom: from, ValidTo: from.Add(30 * time.Minute), Value: v}
	}
	return rates.MustSeries(slots)
}

func TestNewStoreEmpty(t *testing.T) {
	s := New(time.UTC, analysis.DefaultThresholds())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := s.Snapshot().Bucket(rates.Today, now)
	if rec.HasSeries || rec.ConsecutiveFailures != 0 || !rec.Series.Empty() {
		t.Fatalf("fresh store should have empty records: %+v", rec)
	}
}

func TestFailureKeepsStaleSeries(t *testing.T) {
	s := New(time.UTC, analysis.DefaultThresholds())
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	series := daySeries(t, day, 1, 2, 3)

	s.RecordSuccess(day, series, day.Add(time.Hour))
	if n := s.RecordFailure(day, day.Add(2*time.Hour), errors.New("boom")); n != 1 {
		t.Fatalf("expected 1 failure, got %d", n)
	}
	if n := s.RecordFailure(day, day.Add(3*time.Hour), errors.New("boom")); n != 2 {
		t.Fatalf("expected 2 failures, got %d", n)
	}

	rec, ok := s.Snapshot().Record(day)
	if !ok || !rec.HasSeries || rec.Series.Len() != 3 {
		t.Fatalf("stale series must be retained: %+v", rec)
	}
	if !rec.LastSuccessAt.Equal(day.Add(time.Hour)) || !rec.LastAttemptAt.Equal(day.Add(3*time.Hour)) {
		t.Fatalf("unexpected timestamps %+v", rec)
	}

	s.RecordSuccess(day, series, day.Add(4*time.Hour))
	rec, _ = s.Snapshot().Record(day)
	if rec.ConsecutiveFailures != 0 || rec.LastError != nil {
		t.Fatalf("success must reset failures: %+v", rec)
	}
}

func TestRecordSuccessDetectsChange(t *testing.T) {
	s := New(time.UTC, analysis.DefaultThresholds())
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	if !s.RecordSuccess(day, daySeries(t, day, 1, 2), day) {
		t.Fatal("first population is a change")
	}
	if s.RecordSuccess(day, daySeries(t, day, 1, 2), day.Add(time.Minute)) {
		t.Fatal("identical content is not a change")
	}
	if !s.RecordSuccess(day, daySeries(t, day, 1, 2.5), day.Add(2*time.Minute)) {
		t.Fatal("different value is a change")
	}
	if !s.RecordSuccess(day, daySeries(t, day, 1, 2.5, 3), day.Add(3*time.Minute)) {
		t.Fatal("more slots is a change")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New(time.UTC, analysis.DefaultThresholds())
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.RecordSuccess(day, daySeries(t, day, 1), day)

	before := s.Snapshot()
	s.RecordSuccess(day, daySeries(t, day, 1, 2), day.Add(time.Hour))

	rec, _ := before.Record(day)
	if rec.Series.Len() != 1 {
		t.Fatal("published snapshots must not change")
	}
}

func TestRollPromotesTomorrow(t *testing.T) {
	s := New(time.UTC, analysis.DefaultThresholds())
	evening := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	today := rates.Today.Date(evening, time.UTC)
	tomorrow := rates.Tomorrow.Date(evening, time.UTC)

	s.Roll(evening)
	s.RecordSuccess(today, daySeries(t, today, 1), evening)
	s.RecordSuccess(tomorrow, daySeries(t, tomorrow, 7, 8), evening)

	afterMidnight := time.Date(2024, 5, 2, 0, 5, 0, 0, time.UTC)
	dropped := s.Roll(afterMidnight)
	if len(dropped) != 1 || !dropped[0].Equal(today) {
		t.Fatalf("expected yesterday dropped, got %v", dropped)
	}

	snap := s.Snapshot()
	promoted := snap.Bucket(rates.Today, afterMidnight)
	if !promoted.HasSeries || promoted.Series.Len() != 2 {
		t.Fatalf("old tomorrow should be today: %+v", promoted)
	}
	fresh := snap.Bucket(rates.Tomorrow, afterMidnight)
	if fresh.HasSeries || !fresh.Date.Equal(time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("new tomorrow should be empty: %+v", fresh)
	}
}

func TestRestoreDoesNotOverwrite(t *testing.T) {
	s := New(time.UTC, analysis.DefaultThresholds())
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.RecordSuccess(day, daySeries(t, day, 1, 2), day)
	s.Restore(day, daySeries(t, day, 9), day)

	rec, _ := s.Snapshot().Record(day)
	if rec.Series.Len() != 2 {
		t.Fatal("restore must not replace fetched data")
	}
}

func TestThresholdsConcurrentAccess(t *testing.T) {
	s := New(time.UTC, analysis.DefaultThresholds())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(v float64) {
			defer wg.Done()
			th := analysis.DefaultThresholds()
			th.Cheap = v
			s.SetThresholds(th)
		}(float64(i))
		go func() {
			defer wg.Done()
			_ = s.Thresholds()
			_ = s.Snapshot().Bucket(rates.Today, time.Now())
		}()
	}
	wg.Wait()
}
