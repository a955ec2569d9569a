package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"agilewatch/internal/rates"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

//go:embed schema.sql
var schemaSQL string

const (
	deleteDaySQL = `DELETE FROM rate_slots WHERE day = $1;`

	insertSlotSQL = `INSERT INTO rate_slots (
        day,
        valid_from,
        valid_to,
        value_inc_vat,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	loadDaySQL = `SELECT
        day,
        valid_from,
        valid_to,
        value_inc_vat::text,
        fetched_at
    FROM rate_slots
    WHERE day = $1
    ORDER BY valid_from;`

	pruneBeforeSQL = `DELETE FROM rate_slots WHERE day < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SeriesStore persists one series per local date.
type SeriesStore interface {
	SaveSeries(ctx context.Context, day time.Time, series rates.Series, fetchedAt time.Time) error
	LoadSeries(ctx context.Context, day time.Time) (rates.Series, time.Time, error)
	PruneBefore(ctx context.Context, day time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists rate slots in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the rate_slots table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock dies with the connection if this fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// SaveSeries replaces every slot stored for day in one transaction.
func (s *Store) SaveSeries(ctx context.Context, day time.Time, series rates.Series, fetchedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	rows := SlotRows(day, series, fetchedAt)
	key := dateParam(day)

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteDaySQL, key); err != nil {
			return fmt.Errorf("clear day %s: %w", key.Format(time.DateOnly), err)
		}
		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(insertSlotSQL, key, row.ValidFrom, row.ValidTo, row.ValueIncVAT.String(), row.FetchedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert slots for %s: %w", key.Format(time.DateOnly), err)
		}
		return nil
	})
}

// LoadSeries returns the stored series for day and when it was fetched. A day
// with no rows yields an empty series and a zero time.
func (s *Store) LoadSeries(ctx context.Context, day time.Time) (rates.Series, time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return rates.Series{}, time.Time{}, err
	}

	pgRows, queryErr := pool.Query(ctx, loadDaySQL, dateParam(day))
	if queryErr != nil {
		return rates.Series{}, time.Time{}, fmt.Errorf("load series: %w", queryErr)
	}
	defer pgRows.Close()

	rows := make([]SlotRow, 0, 48)
	for pgRows.Next() {
		row, scanErr := scanSlotRow(pgRows)
		if scanErr != nil {
			return rates.Series{}, time.Time{}, scanErr
		}
		rows = append(rows, row)
	}
	if pgRows.Err() != nil {
		return rates.Series{}, time.Time{}, pgRows.Err()
	}
	return SeriesFromRows(rows)
}

// PruneBefore deletes every day older than day.
func (s *Store) PruneBefore(ctx context.Context, day time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, pruneBeforeSQL, dateParam(day))
	if execErr != nil {
		return 0, fmt.Errorf("prune before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// SlotRows converts a series into persisted rows.
func SlotRows(day time.Time, series rates.Series, fetchedAt time.Time) []SlotRow {
	rows := make([]SlotRow, 0, series.Len())
	for i := 0; i < series.Len(); i++ {
		slot := series.At(i)
		rows = append(rows, SlotRow{
			Day:         dateParam(day),
			ValidFrom:   slot.ValidFrom.UTC(),
			ValidTo:     slot.ValidTo.UTC(),
			ValueIncVAT: decimal.NewFromFloat(slot.Value),
			FetchedAt:   fetchedAt.UTC(),
		})
	}
	return rows
}

// SeriesFromRows rebuilds a series from rows ordered by ValidFrom and returns
// the latest fetch time among them.
func SeriesFromRows(rows []SlotRow) (rates.Series, time.Time, error) {
	var fetchedAt time.Time
	slots := make([]rates.Slot, 0, len(rows))
	for _, row := range rows {
		slots = append(slots, rates.Slot{
			ValidFrom: row.ValidFrom,
			ValidTo:   row.ValidTo,
			Value:     row.ValueIncVAT.InexactFloat64(),
		})
		if row.FetchedAt.After(fetchedAt) {
			fetchedAt = row.FetchedAt
		}
	}
	series, err := rates.NewSeries(slots)
	if err != nil {
		return rates.Series{}, time.Time{}, fmt.Errorf("rebuild series: %w", err)
	}
	return series, fetchedAt, nil
}

// dateParam carries the local calendar date as UTC midnight so the date
// column never shifts with the session timezone.
func dateParam(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

func scanSlotRow(rows pgx.Rows) (SlotRow, error) {
	var (
		row      SlotRow
		valueStr string
	)
	if err := rows.Scan(&row.Day, &row.ValidFrom, &row.ValidTo, &valueStr, &row.FetchedAt); err != nil {
		return SlotRow{}, err
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return SlotRow{}, fmt.Errorf("parse value_inc_vat: %w", err)
	}
	row.ValueIncVAT = value
	return row, nil
}

var (
	_ SeriesStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
