package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlotRow is one persisted half-hour price.
type SlotRow struct {
	Day         time.Time
	ValidFrom   time.Time
	ValidTo     time.Time
	ValueIncVAT decimal.Decimal
	FetchedAt   time.Time
}
