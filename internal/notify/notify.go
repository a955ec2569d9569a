package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agilewatch/internal/analysis"
	"agilewatch/internal/rates"
)

// Change is emitted when the stored series for a day changed content.
type Change struct {
	ID        string       `json:"id"`
	Bucket    rates.Bucket `json:"day_bucket"`
	Date      time.Time    `json:"date"`
	SlotCount int          `json:"slot_count"`
	FetchedAt time.Time    `json:"fetched_at"`
	Complete  bool         `json:"complete"`

	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// NewChange builds a change event for series fetched at fetchedAt.
func NewChange(bucket rates.Bucket, date time.Time, series rates.Series, fetchedAt time.Time, expectedSlots int) Change {
	c := Change{
		ID:        uuid.NewString(),
		Bucket:    bucket,
		Date:      date,
		SlotCount: series.Len(),
		FetchedAt: fetchedAt,
		Complete:  expectedSlots <= 0 || series.Len() >= expectedSlots,
	}
	if st, ok := analysis.Aggregate(series); ok {
		c.Min, c.Max, c.Average = st.Min, st.Max, st.Average
	}
	return c
}

// ProblemKind names a condition the operator has to act on.
type ProblemKind string

const (
	ProblemAuth ProblemKind = "auth"
)

// Problem is a one-shot report of a persistent fetch failure.
type Problem struct {
	ID      string       `json:"id"`
	Kind    ProblemKind  `json:"kind"`
	Bucket  rates.Bucket `json:"day_bucket"`
	Date    time.Time    `json:"date"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

// NewProblem builds a problem report from err.
func NewProblem(kind ProblemKind, bucket rates.Bucket, date time.Time, err error, at time.Time) Problem {
	p := Problem{ID: uuid.NewString(), Kind: kind, Bucket: bucket, Date: date, At: at}
	if err != nil {
		p.Message = err.Error()
	}
	return p
}

// Notifier delivers change events and problem reports.
type Notifier interface {
	NotifyChange(ctx context.Context, change Change) error
	NotifyProblem(ctx context.Context, problem Problem) error
}

// Multi fans out to every sink and joins their errors.
type Multi []Notifier

// NotifyChange delivers to every sink.
func (m Multi) NotifyChange(ctx context.Context, change Change) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyChange(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyProblem delivers to every sink.
func (m Multi) NotifyProblem(ctx context.Context, problem Problem) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyProblem(ctx, problem); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log sink.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify_log").Logger()}
}

// NotifyChange logs the change.
func (n *LogNotifier) NotifyChange(_ context.Context, c Change) error {
	ev := n.logger.Info()
	if !c.Complete {
		ev = n.logger.Warn()
	}
	ev.Str("id", c.ID).
		Str("bucket", string(c.Bucket)).
		Str("date", c.Date.Format(time.DateOnly)).
		Int("slots", c.SlotCount).
		Bool("complete", c.Complete).
		Time("fetched_at", c.FetchedAt).
		Msg("rates updated")
	return nil
}

// NotifyProblem logs the problem.
func (n *LogNotifier) NotifyProblem(_ context.Context, p Problem) error {
	n.logger.Error().Str("id", p.ID).
		Str("kind", string(p.Kind)).
		Str("bucket", string(p.Bucket)).
		Str("date", p.Date.Format(time.DateOnly)).
		Msg(p.Message)
	return nil
}

var (
	_ Notifier = Multi(nil)
	_ Notifier = (*LogNotifier)(nil)
)
