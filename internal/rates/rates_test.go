package rates

import (
	"errors"
	"testing"
	"time"
)

func mustLondon(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func halfHours(start time.Time, values ...float64) []Slot {
	out := make([]Slot, len(values))
	for i, v := range values {
		from := start.Add(time.Duration(i) * 30 * time.Minute)
		out[i] = Slot{ValidFrom: from, ValidTo: from.Add(30 * time.Minute), Value: v}
	}
	return out
}

func TestNewSeriesRejectsOverlap(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	slots := halfHours(start, 1, 2)
	slots[1].ValidFrom = start.Add(15 * time.Minute)
	if _, err := NewSeries(slots); err == nil {
		t.Fatal("overlapping slots should be rejected")
	}
}

func TestNewSeriesRejectsUnordered(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	slots := halfHours(start, 1, 2)
	slots[0], slots[1] = slots[1], slots[0]
	if _, err := NewSeries(slots); err == nil {
		t.Fatal("unordered slots should be rejected")
	}
}

func TestSeriesIsImmutable(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	input := halfHours(start, 1, 2, 3)
	series := MustSeries(input)

	input[0].Value = 99
	out := series.Slots()
	out[1].Value = 99

	if series.At(0).Value != 1 || series.At(1).Value != 2 {
		t.Fatalf("series mutated through caller slices: %+v", series.Slots())
	}
}

func TestSeriesGapsAreNotContiguous(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	slots := halfHours(start, 1, 2, 3)
	slots[2].ValidFrom = slots[2].ValidFrom.Add(time.Hour)
	slots[2].ValidTo = slots[2].ValidTo.Add(time.Hour)
	series := MustSeries(slots)

	if !series.Contiguous(1) {
		t.Fatal("slot 1 follows slot 0 directly")
	}
	if series.Contiguous(2) {
		t.Fatal("slot 2 follows a gap")
	}
	if series.Covers(start, series.End()) {
		t.Fatal("series with a gap cannot cover its full span")
	}
}

func TestSeriesSlotAt(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	series := MustSeries(halfHours(start, 1, 2, 3))

	slot, ok := series.SlotAt(start.Add(45 * time.Minute))
	if !ok || slot.Value != 2 {
		t.Fatalf("expected second slot, got %+v ok=%v", slot, ok)
	}
	if _, ok := series.SlotAt(start.Add(90 * time.Minute)); ok {
		t.Fatal("valid_to is exclusive")
	}
}

func TestBucketDateAcrossDST(t *testing.T) {
	loc := mustLondon(t)
	now := time.Date(2024, 3, 30, 22, 30, 0, 0, loc)

	today := Today.Date(now, loc)
	tomorrow := Tomorrow.Date(now, loc)
	if today.Day() != 30 || tomorrow.Day() != 31 {
		t.Fatalf("unexpected dates: %s %s", today, tomorrow)
	}
	if hours := tomorrow.AddDate(0, 0, 1).Sub(tomorrow); hours != 23*time.Hour {
		t.Fatalf("spring-forward day should be 23h, got %s", hours)
	}
}

func TestParseBucket(t *testing.T) {
	for in, want := range map[string]Bucket{"": Today, "today": Today, "TOMORROW": Tomorrow} {
		got, err := ParseBucket(in)
		if err != nil || got != want {
			t.Fatalf("ParseBucket(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseBucket("yesterday"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("unknown bucket should be a configuration error, got %v", err)
	}
}

func TestFetchWindow(t *testing.T) {
	start, _ := ParseTimeOfDay("16:00")
	end, _ := ParseTimeOfDay("20:00")
	w := FetchWindow{Start: start, End: end}
	loc := time.UTC

	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 3, 1, 15, 59, 0, 0, loc), false},
		{time.Date(2024, 3, 1, 16, 0, 0, 0, loc), true},
		{time.Date(2024, 3, 1, 20, 0, 0, 0, loc), true},
		{time.Date(2024, 3, 1, 20, 1, 0, 0, loc), false},
	}
	for _, tc := range cases {
		if got := w.Contains(tc.at, loc); got != tc.want {
			t.Fatalf("Contains(%s) = %v, want %v", tc.at.Format("15:04"), got, tc.want)
		}
	}
}

func TestParseTimeOfDayInvalid(t *testing.T) {
	for _, in := range []string{"", "16", "25:00", "10:61", "ab:cd"} {
		if _, err := ParseTimeOfDay(in); err == nil {
			t.Fatalf("ParseTimeOfDay(%q) should fail", in)
		}
	}
}

func TestFetchErrorKinds(t *testing.T) {
	auth := &FetchError{Kind: ErrFetchAuth, Status: 401}
	if !errors.Is(auth, ErrFetchAuth) || auth.Retryable() || IsRetryable(auth) {
		t.Fatal("auth errors must not be retryable")
	}
	cause := errors.New("dial tcp: refused")
	transport := &FetchError{Kind: ErrFetchTransport, Err: cause}
	if !errors.Is(transport, cause) || !transport.Retryable() {
		t.Fatal("transport errors wrap their cause and are retryable")
	}
}
