package rates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed as minutes after local midnight.
type TimeOfDay struct {
	minutes int
}

// NewTimeOfDay builds a TimeOfDay from hour and minute.
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %02d:%02d out of range", hour, minute)
	}
	return TimeOfDay{minutes: hour*60 + minute}, nil
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	return NewTimeOfDay(hour, minute)
}

// TimeOfDayOf extracts the wall-clock time of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{minutes: t.Hour()*60 + t.Minute()}
}

// IsZero reports midnight.
func (t TimeOfDay) IsZero() bool { return t.minutes == 0 }

// Before compares two times of day.
func (t TimeOfDay) Before(o TimeOfDay) bool { return t.minutes < o.minutes }

// On returns the instant of t on the local date of day.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.minutes/60, t.minutes%60, 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.minutes/60, t.minutes%60)
}

// FetchWindow is the inclusive time-of-day interval in which tomorrow's rates are requested.
type FetchWindow struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Contains reports whether the local wall-clock time of now is inside [Start, End].
func (w FetchWindow) Contains(now time.Time, loc *time.Location) bool {
	tod := TimeOfDayOf(now.In(loc))
	return !tod.Before(w.Start) && !w.End.Before(tod)
}

// Opened reports whether the window has started on now's local day.
func (w FetchWindow) Opened(now time.Time, loc *time.Location) bool {
	return !TimeOfDayOf(now.In(loc)).Before(w.Start)
}

// ClosesAt returns the instant the window ends on now's local day.
func (w FetchWindow) ClosesAt(now time.Time, loc *time.Location) time.Time {
	return w.End.On(now, loc)
}
