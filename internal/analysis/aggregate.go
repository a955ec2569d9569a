package analysis

import (
	"time"

	"github.com/shopspring/decimal"

	"agilewatch/internal/rates"
)

// Stats summarises one day's series.
type Stats struct {
	Min       float64       `json:"min"`
	Max       float64       `json:"max"`
	Average   float64       `json:"average"`
	SlotCount int           `json:"slot_count"`
	Duration  time.Duration `json:"-"`
}

// Aggregate computes min, max and mean. It returns false for an empty series;
// callers must not read zero values as prices in that case.
//
// The mean is duration-weighted when slot lengths differ and a plain mean
// otherwise, computed in decimal and clamped into [Min, Max].
func Aggregate(series rates.Series) (Stats, bool) {
	n := series.Len()
	if n == 0 {
		return Stats{}, false
	}

	first := series.At(0)
	stats := Stats{Min: first.Value, Max: first.Value, SlotCount: n}
	uniform := true
	length := first.Duration()

	var sum, weighted decimal.Decimal
	for i := 0; i < n; i++ {
		slot := series.At(i)
		d := slot.Duration()
		if d != length {
			uniform = false
		}
		if slot.Value < stats.Min {
			stats.Min = slot.Value
		}
		if slot.Value > stats.Max {
			stats.Max = slot.Value
		}
		p := priceOf(slot.Value)
		sum = sum.Add(p)
		weighted = weighted.Add(p.Mul(decimal.NewFromInt(int64(d / time.Second))))
		stats.Duration += d
	}

	var avg decimal.Decimal
	if uniform {
		avg = sum.Div(decimal.NewFromInt(int64(n)))
	} else {
		avg = weighted.Div(decimal.NewFromInt(int64(stats.Duration / time.Second)))
	}
	stats.Average = clamp(avg.InexactFloat64(), stats.Min, stats.Max)
	return stats, true
}

// pricePlaces is the precision slot values are summed and compared at. The
// provider publishes at most four decimal places.
const pricePlaces = 6

// priceOf converts a slot value to decimal, dropping binary float noise.
func priceOf(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(pricePlaces)
}

func slotPrices(series rates.Series) []decimal.Decimal {
	out := make([]decimal.Decimal, series.Len())
	for i := range out {
		out[i] = priceOf(series.At(i).Value)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
