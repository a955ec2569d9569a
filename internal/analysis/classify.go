package analysis

import "fmt"

// Status is the categorical price band of a single rate.
type Status int

const (
	StatusNormal Status = iota
	StatusNegative
	StatusVeryCheap
	StatusCheap
	StatusExpensive
	StatusVeryExpensive
)

var statusNames = map[Status]string{
	StatusNegative:      "negative",
	StatusVeryCheap:     "very_cheap",
	StatusCheap:         "cheap",
	StatusNormal:        "normal",
	StatusExpensive:     "expensive",
	StatusVeryExpensive: "very_expensive",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText renders the status name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Thresholds drive classification. Bands select the very_* refinements as a
// fraction of today's [min, average] and [average, max] ranges.
type Thresholds struct {
	Cheap             float64 `json:"cheap_threshold"`
	Expensive         float64 `json:"expensive_threshold"`
	VeryCheapBand     float64 `json:"very_cheap_band"`
	VeryExpensiveBand float64 `json:"very_expensive_band"`
}

// DefaultThresholds mirrors the shipped configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{Cheap: 10, Expensive: 30, VeryCheapBand: 0.25, VeryExpensiveBand: 0.75}
}

type rule struct {
	status Status
	match  func(value float64, today Stats, ok bool, th Thresholds) bool
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{StatusNegative, func(v float64, _ Stats, _ bool, _ Thresholds) bool {
		return v < 0
	}},
	{StatusVeryCheap, func(v float64, today Stats, ok bool, th Thresholds) bool {
		return ok && v < th.Cheap && v <= today.Min+th.VeryCheapBand*(today.Average-today.Min)
	}},
	{StatusCheap, func(v float64, _ Stats, _ bool, th Thresholds) bool {
		return v < th.Cheap
	}},
	{StatusVeryExpensive, func(v float64, today Stats, ok bool, th Thresholds) bool {
		return ok && v > th.Expensive && v >= today.Average+th.VeryExpensiveBand*(today.Max-today.Average)
	}},
	{StatusExpensive, func(v float64, _ Stats, _ bool, th Thresholds) bool {
		return v > th.Expensive
	}},
}

// Classify maps a rate to its status. When today's stats are unavailable
// (ok == false) the very_* refinements are skipped.
func Classify(value float64, today Stats, ok bool, th Thresholds) Status {
	for _, r := range rules {
		if r.match(value, today, ok, th) {
			return r.status
		}
	}
	return StatusNormal
}
