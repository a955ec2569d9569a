package fetcher

import (
	"context"
	"time"

	"agilewatch/internal/rates"
)

// Fetcher retrieves the rate series for one local calendar day.
// Implementations do not retry; failures are *rates.FetchError values.
type Fetcher interface {
	Fetch(ctx context.Context, day time.Time) (rates.Series, error)
}

// Func adapts a plain function to Fetcher.
type Func func(ctx context.Context, day time.Time) (rates.Series, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, day time.Time) (rates.Series, error) {
	return f(ctx, day)
}
