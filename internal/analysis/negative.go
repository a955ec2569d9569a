package analysis

import "agilewatch/internal/rates"

// NegativeReport lists the slots priced below zero.
type NegativeReport struct {
	HasNegative bool         `json:"has_negative"`
	Slots       []rates.Slot `json:"slots"`
}

// DetectNegative scans series for slots with Value < 0.
func DetectNegative(series rates.Series) NegativeReport {
	report := NegativeReport{Slots: []rates.Slot{}}
	for i := 0; i < series.Len(); i++ {
		if s := series.At(i); s.Value < 0 {
			report.Slots = append(report.Slots, s)
		}
	}
	report.HasNegative = len(report.Slots) > 0
	return report
}
