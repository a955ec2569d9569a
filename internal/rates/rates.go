package rates

import (
	"fmt"
	"strings"
	"time"
)

// Bucket identifies the local calendar day a series belongs to.
type Bucket string

const (
	Today    Bucket = "today"
	Tomorrow Bucket = "tomorrow"
)

// Buckets lists every bucket in evaluation order.
var Buckets = []Bucket{Today, Tomorrow}

// ParseBucket accepts "today" or "tomorrow" (case-insensitive). Empty means today.
func ParseBucket(s string) (Bucket, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Today):
		return Today, nil
	case string(Tomorrow):
		return Tomorrow, nil
	default:
		return "", &ConfigError{Field: "day", Reason: fmt.Sprintf("unknown day bucket %q", s)}
	}
}

// Date returns local midnight of the day the bucket refers to at instant now.
func (b Bucket) Date(now time.Time, loc *time.Location) time.Time {
	day := StartOfDay(now, loc)
	if b == Tomorrow {
		return day.AddDate(0, 0, 1)
	}
	return day
}

// StartOfDay truncates t to local midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// Slot is a single priced interval [ValidFrom, ValidTo).
type Slot struct {
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
	Value     float64   `json:"value_inc_vat"`
}

// NewSlot validates the interval bounds.
func NewSlot(from, to time.Time, value float64) (Slot, error) {
	if !to.After(from) {
		return Slot{}, fmt.Errorf("slot %s: valid_to %s must be after valid_from", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return Slot{ValidFrom: from, ValidTo: to, Value: value}, nil
}

// Duration of the slot.
func (s Slot) Duration() time.Duration {
	return s.ValidTo.Sub(s.ValidFrom)
}

// Contains reports whether t falls inside [ValidFrom, ValidTo).
func (s Slot) Contains(t time.Time) bool {
	return !t.Before(s.ValidFrom) && t.Before(s.ValidTo)
}

// Series is an immutable, chronologically ordered run of non-overlapping slots.
// The zero value is an empty series.
type Series struct {
	slots []Slot
}

// NewSeries validates ordering and overlap and takes a private copy of slots.
func NewSeries(slots []Slot) (Series, error) {
	cp := make([]Slot, len(slots))
	copy(cp, slots)
	for i, s := range cp {
		if !s.ValidTo.After(s.ValidFrom) {
			return Series{}, fmt.Errorf("slot %d: valid_to must be after valid_from", i)
		}
		if i == 0 {
			continue
		}
		prev := cp[i-1]
		if !s.ValidFrom.After(prev.ValidFrom) {
			return Series{}, fmt.Errorf("slot %d: valid_from %s not after previous %s", i, s.ValidFrom.Format(time.RFC3339), prev.ValidFrom.Format(time.RFC3339))
		}
		if s.ValidFrom.Before(prev.ValidTo) {
			return Series{}, fmt.Errorf("slot %d overlaps previous slot ending %s", i, prev.ValidTo.Format(time.RFC3339))
		}
	}
	return Series{slots: cp}, nil
}

// MustSeries panics on invalid input. Intended for fixtures.
func MustSeries(slots []Slot) Series {
	s, err := NewSeries(slots)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the slot count.
func (s Series) Len() int { return len(s.slots) }

// Empty reports whether the series has no slots.
func (s Series) Empty() bool { return len(s.slots) == 0 }

// At returns the i-th slot.
func (s Series) At(i int) Slot { return s.slots[i] }

// Slots returns a copy of the slots.
func (s Series) Slots() []Slot {
	cp := make([]Slot, len(s.slots))
	copy(cp, s.slots)
	return cp
}

// SlotLength is the length of the first slot, or zero for an empty series.
func (s Series) SlotLength() time.Duration {
	if len(s.slots) == 0 {
		return 0
	}
	return s.slots[0].Duration()
}

// Start returns the first slot's ValidFrom.
func (s Series) Start() time.Time {
	if len(s.slots) == 0 {
		return time.Time{}
	}
	return s.slots[0].ValidFrom
}

// End returns the last slot's ValidTo.
func (s Series) End() time.Time {
	if len(s.slots) == 0 {
		return time.Time{}
	}
	return s.slots[len(s.slots)-1].ValidTo
}

// Contiguous reports whether slot i begins exactly where slot i-1 ends.
func (s Series) Contiguous(i int) bool {
	if i <= 0 || i >= len(s.slots) {
		return true
	}
	return s.slots[i].ValidFrom.Equal(s.slots[i-1].ValidTo)
}

// SlotAt returns the slot containing t.
func (s Series) SlotAt(t time.Time) (Slot, bool) {
	for _, slot := range s.slots {
		if slot.Contains(t) {
			return slot, true
		}
		if slot.ValidFrom.After(t) {
			break
		}
	}
	return Slot{}, false
}

// Covers reports whether the series spans [from, to) without holes.
func (s Series) Covers(from, to time.Time) bool {
	if len(s.slots) == 0 {
		return false
	}
	if s.Start().After(from) || s.End().Before(to) {
		return false
	}
	for i := 1; i < len(s.slots); i++ {
		if !s.Contiguous(i) && s.slots[i].ValidFrom.After(from) && s.slots[i-1].ValidTo.Before(to) {
			return false
		}
	}
	return true
}

// Between returns the slots whose local start time-of-day lies in [from, to).
// A zero TimeOfDay bound is treated as open.
func (s Series) Between(from, to TimeOfDay, loc *time.Location) []Slot {
	out := make([]Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		tod := TimeOfDayOf(slot.ValidFrom.In(loc))
		if !from.IsZero() && tod.Before(from) {
			continue
		}
		if !to.IsZero() && !tod.Before(to) {
			continue
		}
		out = append(out, slot)
	}
	return out
}
