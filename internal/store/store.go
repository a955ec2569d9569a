package store

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"agilewatch/internal/analysis"
	"agilewatch/internal/rates"
)

const dateKeyLayout = "2006-01-02"

// FetchRecord is the fetch state of one local calendar day.
type FetchRecord struct {
	Date                time.Time
	Series              rates.Series
	HasSeries           bool
	LastSuccessAt       time.Time
	LastAttemptAt       time.Time
	ConsecutiveFailures int
	LastError           error

	fingerprint uint64
}

// Snapshot is an immutable view of the store. Readers may hold it indefinitely.
type Snapshot struct {
	loc     *time.Location
	records map[string]FetchRecord
}

// Record returns the record for the local date of day.
func (s *Snapshot) Record(day time.Time) (FetchRecord, bool) {
	rec, ok := s.records[dateKey(day, s.loc)]
	return rec, ok
}

// Bucket returns the record for bucket relative to now. A missing record is
// reported as an empty one for the resolved date.
func (s *Snapshot) Bucket(b rates.Bucket, now time.Time) FetchRecord {
	date := b.Date(now, s.loc)
	if rec, ok := s.records[dateKey(date, s.loc)]; ok {
		return rec
	}
	return FetchRecord{Date: date}
}

// Series returns the bucket's series, empty when nothing was fetched yet.
func (s *Snapshot) Series(b rates.Bucket, now time.Time) rates.Series {
	return s.Bucket(b, now).Series
}

// Location the snapshot resolves buckets in.
func (s *Snapshot) Location() *time.Location { return s.loc }

// Store holds the latest series per day. A single writer mutates it; each
// mutation publishes a fresh Snapshot so readers never block.
type Store struct {
	loc  *time.Location
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]

	thresholds atomic.Pointer[analysis.Thresholds]
}

// New creates an empty store resolving days in loc.
func New(loc *time.Location, th analysis.Thresholds) *Store {
	if loc == nil {
		loc = time.UTC
	}
	s := &Store{loc: loc}
	s.snap.Store(&Snapshot{loc: loc, records: map[string]FetchRecord{}})
	s.thresholds.Store(&th)
	return s
}

// Location returns the installation timezone.
func (s *Store) Location() *time.Location { return s.loc }

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot { return s.snap.Load() }

// Thresholds returns the active classification thresholds.
func (s *Store) Thresholds() analysis.Thresholds { return *s.thresholds.Load() }

// SetThresholds replaces the classification thresholds.
func (s *Store) SetThresholds(th analysis.Thresholds) {
	s.thresholds.Store(&th)
}

// Roll makes sure records exist for today and tomorrow relative to now and
// drops older days. The former tomorrow record becomes today's untouched.
// It returns the dropped dates.
func (s *Store) Roll(now time.Time) []time.Time {
	today := rates.Today.Date(now, s.loc)
	tomorrow := rates.Tomorrow.Date(now, s.loc)

	var dropped []time.Time
	s.update(func(records map[string]FetchRecord) {
		for key, rec := range records {
			if rec.Date.Before(today) {
				dropped = append(dropped, rec.Date)
				delete(records, key)
			}
		}
		for _, d := range []time.Time{today, tomorrow} {
			key := dateKey(d, s.loc)
			if _, ok := records[key]; !ok {
				records[key] = FetchRecord{Date: d}
			}
		}
	})
	return dropped
}

// RecordSuccess replaces the series for day and reports whether its content changed.
func (s *Store) RecordSuccess(day time.Time, series rates.Series, at time.Time) bool {
	fp := fingerprint(series)
	var changed bool
	s.update(func(records map[string]FetchRecord) {
		key := dateKey(day, s.loc)
		rec := records[key]
		changed = !rec.HasSeries || rec.fingerprint != fp
		records[key] = FetchRecord{
			Date:          rates.StartOfDay(day, s.loc),
			Series:        series,
			HasSeries:     true,
			LastSuccessAt: at,
			LastAttemptAt: at,
			fingerprint:   fp,
		}
	})
	return changed
}

// RecordFailure counts a failed attempt and keeps any stored series.
func (s *Store) RecordFailure(day time.Time, at time.Time, err error) int {
	var failures int
	s.update(func(records map[string]FetchRecord) {
		key := dateKey(day, s.loc)
		rec, ok := records[key]
		if !ok {
			rec = FetchRecord{Date: rates.StartOfDay(day, s.loc)}
		}
		rec.LastAttemptAt = at
		rec.LastError = err
		rec.ConsecutiveFailures++
		failures = rec.ConsecutiveFailures
		records[key] = rec
	})
	return failures
}

// Restore seeds a day from persistent storage without touching failure counters.
func (s *Store) Restore(day time.Time, series rates.Series, fetchedAt time.Time) {
	if series.Empty() {
		return
	}
	s.update(func(records map[string]FetchRecord) {
		key := dateKey(day, s.loc)
		if rec, ok := records[key]; ok && rec.HasSeries {
			return
		}
		records[key] = FetchRecord{
			Date:          rates.StartOfDay(day, s.loc),
			Series:        series,
			HasSeries:     true,
			LastSuccessAt: fetchedAt,
			fingerprint:   fingerprint(series),
		}
	})
}

// update copies the record map, applies fn and publishes the result.
func (s *Store) update(fn func(records map[string]FetchRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	next := make(map[string]FetchRecord, len(cur.records)+1)
	for k, v := range cur.records {
		next[k] = v
	}
	fn(next)
	s.snap.Store(&Snapshot{loc: s.loc, records: next})
}

func dateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateKeyLayout)
}

// fingerprint hashes slot starts and values to detect content changes.
func fingerprint(series rates.Series) uint64 {
	h := fnv.New64a()
	var buf [16]byte
	for i := 0; i < series.Len(); i++ {
		slot := series.At(i)
		binary.LittleEndian.PutUint64(buf[:8], uint64(slot.ValidFrom.UnixNano()))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(slot.Value))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
