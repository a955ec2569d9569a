package analysis

import (
	"time"

	"agilewatch/internal/rates"
)

// ReadoutInput is a consistent view of both day buckets at one instant.
type ReadoutInput struct {
	Now        time.Time
	Today      rates.Series
	Tomorrow   rates.Series
	Thresholds Thresholds
	Windows    []time.Duration
}

// CurrentReadout describes the slot in effect now.
type CurrentReadout struct {
	Slot             rates.Slot `json:"slot"`
	Status           Status     `json:"status"`
	MinutesRemaining int        `json:"minutes_remaining"`
}

// NextReadout describes the next slot to start.
type NextReadout struct {
	Slot         rates.Slot `json:"slot"`
	MinutesUntil int        `json:"minutes_until"`
}

// WindowReadout is the cheapest window of one duration in one bucket.
type WindowReadout struct {
	Bucket       rates.Bucket `json:"bucket"`
	Minutes      int          `json:"period_minutes"`
	Found        bool         `json:"data_available"`
	Start        time.Time    `json:"start,omitempty"`
	End          time.Time    `json:"end,omitempty"`
	Average      float64      `json:"average_rate"`
	Active       bool         `json:"is_active"`
	MinutesUntil int          `json:"minutes_until"`
	Error        string       `json:"error,omitempty"`
}

// Readout bundles every derived value exposed to automation rules.
type Readout struct {
	GeneratedAt           time.Time       `json:"generated_at"`
	Current               *CurrentReadout `json:"current,omitempty"`
	Next                  *NextReadout    `json:"next,omitempty"`
	Today                 *Stats          `json:"today,omitempty"`
	Tomorrow              *Stats          `json:"tomorrow,omitempty"`
	Windows               []WindowReadout `json:"windows"`
	NegativeToday         NegativeReport  `json:"negative_today"`
	NegativeTomorrow      NegativeReport  `json:"negative_tomorrow"`
	CurrentlyCheap        bool            `json:"currently_cheap"`
	CurrentlyExpensive    bool            `json:"currently_expensive"`
	CurrentlyNegative     bool            `json:"currently_negative"`
	MinutesUntilCheap     *int            `json:"minutes_until_cheap,omitempty"`
	MinutesUntilExpensive *int            `json:"minutes_until_expensive,omitempty"`
}

// BuildReadout derives the full readout from in.
func BuildReadout(in ReadoutInput) Readout {
	out := Readout{GeneratedAt: in.Now, Windows: make([]WindowReadout, 0, 2*len(in.Windows))}

	todayStats, haveToday := Aggregate(in.Today)
	if haveToday {
		out.Today = &todayStats
	}
	if s, ok := Aggregate(in.Tomorrow); ok {
		out.Tomorrow = &s
	}

	if slot, ok := in.Today.SlotAt(in.Now); ok {
		out.Current = &CurrentReadout{
			Slot:             slot,
			Status:           Classify(slot.Value, todayStats, haveToday, in.Thresholds),
			MinutesRemaining: minutes(slot.ValidTo.Sub(in.Now)),
		}
		out.CurrentlyNegative = slot.Value < 0
		out.CurrentlyCheap = slot.Value < in.Thresholds.Cheap
		out.CurrentlyExpensive = slot.Value > in.Thresholds.Expensive
	}

	if slot, ok := NextSlot(in.Now, in.Today, in.Tomorrow); ok {
		out.Next = &NextReadout{Slot: slot, MinutesUntil: minutes(slot.ValidFrom.Sub(in.Now))}
	}

	cheap := in.Thresholds.Cheap
	if d, ok := TimeUntil(in.Now, func(v float64) bool { return v < cheap }, in.Today, in.Tomorrow); ok {
		m := minutes(d)
		out.MinutesUntilCheap = &m
	}
	expensive := in.Thresholds.Expensive
	if d, ok := TimeUntil(in.Now, func(v float64) bool { return v > expensive }, in.Today, in.Tomorrow); ok {
		m := minutes(d)
		out.MinutesUntilExpensive = &m
	}

	for _, d := range in.Windows {
		out.Windows = append(out.Windows, windowReadout(rates.Today, in.Today, d, in.Now))
	}
	for _, d := range in.Windows {
		out.Windows = append(out.Windows, windowReadout(rates.Tomorrow, in.Tomorrow, d, in.Now))
	}

	out.NegativeToday = DetectNegative(in.Today)
	out.NegativeTomorrow = DetectNegative(in.Tomorrow)
	return out
}

func windowReadout(bucket rates.Bucket, series rates.Series, d time.Duration, now time.Time) WindowReadout {
	wr := WindowReadout{Bucket: bucket, Minutes: int(d / time.Minute)}
	w, ok, err := FindCheapestWindow(series, d)
	if err != nil {
		wr.Error = err.Error()
		return wr
	}
	if !ok {
		return wr
	}
	wr.Found = true
	wr.Start = w.Start
	wr.End = w.End
	wr.Average = w.Average
	wr.Active = w.Active(now)
	wr.MinutesUntil = minutes(w.Until(now))
	return wr
}

// NextSlot returns the first slot starting after now, looking at each series in turn.
func NextSlot(now time.Time, series ...rates.Series) (rates.Slot, bool) {
	for _, s := range series {
		for i := 0; i < s.Len(); i++ {
			if slot := s.At(i); slot.ValidFrom.After(now) {
				return slot, true
			}
		}
	}
	return rates.Slot{}, false
}

// TimeUntil returns the delay until the next future slot whose value satisfies match.
func TimeUntil(now time.Time, match func(float64) bool, series ...rates.Series) (time.Duration, bool) {
	for _, s := range series {
		for i := 0; i < s.Len(); i++ {
			slot := s.At(i)
			if slot.ValidFrom.After(now) && match(slot.Value) {
				return slot.ValidFrom.Sub(now), true
			}
		}
	}
	return 0, false
}

func minutes(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
