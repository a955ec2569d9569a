package analysis

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agilewatch/internal/rates"
)

// Window is a contiguous run of slots scored by its average price.
type Window struct {
	Start   time.Time    `json:"start"`
	End     time.Time    `json:"end"`
	Average float64      `json:"average_cost"`
	Total   float64      `json:"total_cost"`
	Slots   []rates.Slot `json:"slots"`
}

// Active reports whether now lies in [Start, End).
func (w Window) Active(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// Until returns the time left before the window opens, zero once it has.
func (w Window) Until(now time.Time) time.Duration {
	if !w.Start.After(now) {
		return 0
	}
	return w.Start.Sub(now)
}

// FindCheapestWindow locates the contiguous run spanning duration with the
// lowest average price. The boolean is false when the series is too short or
// no gap-free run of that length exists.
func FindCheapestWindow(series rates.Series, duration time.Duration) (Window, bool, error) {
	if duration <= 0 {
		return Window{}, false, &rates.ConfigError{Field: "window_duration", Reason: "must be positive"}
	}
	if series.Empty() {
		return Window{}, false, nil
	}
	length := series.SlotLength()
	if duration%length != 0 {
		return Window{}, false, &rates.ConfigError{
			Field:  "window_duration",
			Reason: fmt.Sprintf("%s is not a multiple of the %s slot length", duration, length),
		}
	}
	return searchWindow(series, int(duration/length), false)
}

// searchWindow slides a k-slot window over series keeping a running sum in
// decimal so equal totals compare equal. Windows that straddle a gap between
// slots are skipped. Ties resolve to the earliest start.
func searchWindow(series rates.Series, k int, maximise bool) (Window, bool, error) {
	n := series.Len()
	if k <= 0 {
		return Window{}, false, &rates.ConfigError{Field: "num_slots", Reason: "must be at least 1"}
	}
	if k > n {
		return Window{}, false, nil
	}

	prices := slotPrices(series)
	var (
		sum       decimal.Decimal
		bestSum   decimal.Decimal
		bestStart = -1
		lastBreak int
	)
	for end := 0; end < n; end++ {
		if !series.Contiguous(end) {
			lastBreak = end
		}
		sum = sum.Add(prices[end])
		start := end - k + 1
		if start < 0 {
			continue
		}
		if start > 0 {
			sum = sum.Sub(prices[start-1])
		}
		if lastBreak > start {
			continue
		}
		if bestStart < 0 || better(sum, bestSum, maximise) {
			bestStart, bestSum = start, sum
		}
	}
	if bestStart < 0 {
		return Window{}, false, nil
	}

	slots := make([]rates.Slot, k)
	for i := range slots {
		slots[i] = series.At(bestStart + i)
	}
	return Window{
		Start:   slots[0].ValidFrom,
		End:     slots[k-1].ValidTo,
		Average: bestSum.Div(decimal.NewFromInt(int64(k))).InexactFloat64(),
		Total:   bestSum.InexactFloat64(),
		Slots:   slots,
	}, true, nil
}

func better(candidate, best decimal.Decimal, maximise bool) bool {
	if maximise {
		return candidate.GreaterThan(best)
	}
	return candidate.LessThan(best)
}
