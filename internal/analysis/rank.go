package analysis

import (
	"sort"

	"github.com/shopspring/decimal"

	"agilewatch/internal/rates"
)

// Mode selects the ranking direction.
type Mode int

const (
	Cheapest Mode = iota
	MostExpensive
)

func (m Mode) String() string {
	if m == MostExpensive {
		return "expensive"
	}
	return "cheapest"
}

// Selection is the chronological result of a ranking query.
type Selection struct {
	Slots       []rates.Slot `json:"slots"`
	Requested   int          `json:"requested"`
	Consecutive bool         `json:"consecutive"`
	// Found is false when a consecutive run of the requested length does not exist.
	Found bool `json:"found"`
	// Partial is set when fewer independent slots than requested were available.
	Partial bool    `json:"partial"`
	Total   float64 `json:"total_cost"`
	Average float64 `json:"average_cost"`
}

// Rank picks n slots by price. Independent mode returns the n best slots
// (ties broken by start time); consecutive mode returns the single best run of
// n adjacent slots. Results are always ordered by ValidFrom.
func Rank(series rates.Series, n int, consecutive bool, mode Mode) (Selection, error) {
	if n <= 0 {
		return Selection{}, &rates.ConfigError{Field: "num_slots", Reason: "must be at least 1"}
	}
	sel := Selection{Requested: n, Consecutive: consecutive}

	if consecutive {
		w, ok, err := searchWindow(series, n, mode == MostExpensive)
		if err != nil {
			return Selection{}, err
		}
		if !ok {
			sel.Slots = []rates.Slot{}
			return sel, nil
		}
		sel.Found = true
		sel.Slots = w.Slots
		sel.Total = w.Total
		sel.Average = w.Average
		return sel, nil
	}

	type priced struct {
		slot  rates.Slot
		price decimal.Decimal
	}
	ranked := make([]priced, series.Len())
	for i := range ranked {
		slot := series.At(i)
		ranked[i] = priced{slot: slot, price: priceOf(slot.Value)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if c := a.price.Cmp(b.price); c != 0 {
			if mode == MostExpensive {
				return c > 0
			}
			return c < 0
		}
		return a.slot.ValidFrom.Before(b.slot.ValidFrom)
	})
	if n > len(ranked) {
		sel.Partial = true
		n = len(ranked)
	}
	picked := ranked[:n]
	sort.Slice(picked, func(i, j int) bool { return picked[i].slot.ValidFrom.Before(picked[j].slot.ValidFrom) })

	var total decimal.Decimal
	sel.Slots = make([]rates.Slot, len(picked))
	for i, p := range picked {
		sel.Slots[i] = p.slot
		total = total.Add(p.price)
	}
	sel.Found = len(picked) > 0
	sel.Total = total.InexactFloat64()
	if len(picked) > 0 {
		sel.Average = total.Div(decimal.NewFromInt(int64(len(picked)))).InexactFloat64()
	}
	return sel, nil
}
