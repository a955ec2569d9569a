package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"agilewatch/internal/fetcher"
	"agilewatch/internal/notify"
	"agilewatch/internal/rates"
	"agilewatch/internal/scheduler"
	"agilewatch/internal/storage"
	"agilewatch/internal/store"
)

var (
	// ErrClosed is returned for refreshes after Close.
	ErrClosed = errors.New("service: closed")
	// ErrLockHeld means another replica owns the refresh loop.
	ErrLockHeld = errors.New("service: advisory lock held by another replica")
)

const sideEffectTimeout = 15 * time.Second

// Metrics receives refresh telemetry.
type Metrics interface {
	ObserveFetch(bucket, result string, d time.Duration)
	SetRecord(bucket string, slots, failures int, lastSuccess time.Time)
	IncChange(bucket string)
}

// Options tune refresh policy.
type Options struct {
	Location        *time.Location
	PollInterval    time.Duration
	FetchWindow     rates.FetchWindow
	RetryBase       time.Duration
	RetryMax        time.Duration
	SlotLength      time.Duration
	AdvisoryLockKey int64
	Now             func() time.Time
}

func (o *Options) setDefaults() {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Minute
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 5 * time.Minute
	}
	if o.RetryMax <= 0 {
		o.RetryMax = o.PollInterval
	}
	if o.SlotLength <= 0 {
		o.SlotLength = 30 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Service owns the single writer path into the rate store.
type Service struct {
	opts      Options
	scheduler *scheduler.Scheduler
	fetcher   fetcher.Fetcher
	store     *store.Store
	persist   storage.SeriesStore
	locker    storage.AdvisoryLocker
	notifier  notify.Notifier
	metrics   Metrics
	logger    zerolog.Logger

	group singleflight.Group

	mu           sync.Mutex
	plans        map[string]time.Time
	authReported bool
	pruned       bool

	kick   chan struct{}
	life   context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// Deps are the collaborators of a Service. Persist, Notifier and Metrics are optional.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Fetcher   fetcher.Fetcher
	Store     *store.Store
	Persist   storage.SeriesStore
	Notifier  notify.Notifier
	Metrics   Metrics
}

// New constructs the refresh service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	opts.setDefaults()

	var locker storage.AdvisoryLocker
	if l, ok := deps.Persist.(storage.AdvisoryLocker); ok {
		locker = l
	}

	life, cancel := context.WithCancel(context.Background())
	return &Service{
		opts:      opts,
		scheduler: deps.Scheduler,
		fetcher:   deps.Fetcher,
		store:     deps.Store,
		persist:   deps.Persist,
		locker:    locker,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    logger.With().Str("component", "service").Logger(),
		plans:     make(map[string]time.Time),
		kick:      make(chan struct{}, 1),
		life:      life,
		cancel:    cancel,
	}
}

// Store returns the backing rate store.
func (s *Service) Store() *store.Store { return s.store }

// Location returns the installation timezone.
func (s *Service) Location() *time.Location { return s.opts.Location }

// Run begins the aligned polling loop plus early retries between poll ticks.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	go s.retryLoop(ctx)
	return s.scheduler.Run(ctx, s.Tick)
}

// Close cancels in-flight fetches. Results arriving afterwards are discarded.
func (s *Service) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.cancel()
}

// Warm seeds today and tomorrow from persistent storage.
func (s *Service) Warm(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	now := s.opts.Now()
	s.store.Roll(now)
	for _, b := range rates.Buckets {
		date := b.Date(now, s.opts.Location)
		series, fetchedAt, err := s.persist.LoadSeries(ctx, date)
		if err != nil {
			return fmt.Errorf("load %s: %w", b, err)
		}
		if series.Empty() {
			continue
		}
		s.store.Restore(date, series, fetchedAt)
		s.logger.Info().Str("bucket", string(b)).
			Str("date", date.Format(time.DateOnly)).
			Int("slots", series.Len()).
			Msg("restored series from storage")
	}
	s.publishState(now)
	return nil
}

// Tick evaluates both buckets at now.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", now).Msg("advisory lock held elsewhere, syncing from storage")
		return s.follow(ctx, now)
	}
	if unlock != nil {
		defer unlock()
	}

	s.roll(ctx, now)
	for _, b := range rates.Buckets {
		// fetch failures are recorded and logged by apply
		outcome, _ := s.evaluate(ctx, b, now, false)
		s.logger.Debug().Str("bucket", string(b)).Str("outcome", string(outcome)).Msg("bucket evaluated")
	}
	s.publishState(now)
	return nil
}

// Refresh evaluates one bucket now. With force it bypasses freshness and
// backoff, but tomorrow is still rejected before the fetch window opens.
func (s *Service) Refresh(ctx context.Context, b rates.Bucket, force bool) (Outcome, error) {
	if s.closed.Load() {
		return OutcomeDiscarded, ErrClosed
	}
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !proceed {
		return OutcomeSkipped, ErrLockHeld
	}
	if unlock != nil {
		defer unlock()
	}

	now := s.opts.Now()
	s.roll(ctx, now)
	outcome, err := s.evaluate(ctx, b, now, force)
	s.publishState(now)
	return outcome, err
}

func (s *Service) evaluate(ctx context.Context, b rates.Bucket, now time.Time, force bool) (Outcome, error) {
	loc := s.opts.Location
	date := b.Date(now, loc)

	if b == rates.Tomorrow {
		if !s.opts.FetchWindow.Opened(now, loc) {
			return OutcomeNotEligible, rates.ErrNotYetEligible
		}
		if !force && !s.opts.FetchWindow.Contains(now, loc) {
			return OutcomeClosed, nil
		}
	}

	if !force {
		rec, _ := s.store.Snapshot().Record(date)
		if fresh(b, rec, now, s.opts.PollInterval, loc) {
			return OutcomeFresh, nil
		}
		if at, ok := s.plan(date); ok && now.Before(at) {
			return OutcomeBackoff, nil
		}
	}

	return s.fetch(ctx, date)
}

type fetchResult struct {
	outcome Outcome
}

// fetch runs one coalesced fetch for date and applies its result once.
func (s *Service) fetch(ctx context.Context, date time.Time) (Outcome, error) {
	key := date.Format(time.DateOnly)
	ch := s.group.DoChan(key, func() (any, error) {
		started := time.Now()
		series, err := s.fetcher.Fetch(s.life, date)
		outcome, err := s.apply(date, series, err, time.Since(started))
		return fetchResult{outcome: outcome}, err
	})

	select {
	case <-ctx.Done():
		return OutcomeSkipped, ctx.Err()
	case res := <-ch:
		out, _ := res.Val.(fetchResult)
		return out.outcome, res.Err
	}
}

func (s *Service) apply(date time.Time, series rates.Series, fetchErr error, took time.Duration) (Outcome, error) {
	if s.closed.Load() {
		return OutcomeDiscarded, ErrClosed
	}

	now := s.opts.Now()
	b, ok := s.bucketOf(date, now)
	if !ok {
		s.logger.Debug().Str("date", date.Format(time.DateOnly)).Msg("discarding result for rolled-over date")
		return OutcomeDiscarded, nil
	}
	log := s.logger.With().Str("bucket", string(b)).Str("date", date.Format(time.DateOnly)).Logger()

	if fetchErr != nil {
		s.observe(b, resultLabel(fetchErr), took)
		return OutcomeFailed, s.fail(log, b, date, now, fetchErr)
	}
	s.observe(b, "success", took)

	changed := s.store.RecordSuccess(date, series, now)
	s.mu.Lock()
	delete(s.plans, date.Format(time.DateOnly))
	s.authReported = false
	s.mu.Unlock()

	expected := ExpectedSlots(date, s.opts.Location, s.opts.SlotLength)
	ev := log.Info()
	if series.Len() < expected {
		ev = log.Warn().Int("expected", expected)
	}
	ev.Int("slots", series.Len()).Bool("changed", changed).Msg("rates fetched")

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if s.persist != nil {
		if err := s.persist.SaveSeries(ctx, date, series, now); err != nil {
			log.Error().Err(err).Msg("failed to persist series")
		}
	}

	if !changed {
		return OutcomeUnchanged, nil
	}
	if s.metrics != nil {
		s.metrics.IncChange(string(b))
	}
	if s.notifier != nil {
		change := notify.NewChange(b, date, series, now, expected)
		if err := s.notifier.NotifyChange(ctx, change); err != nil {
			log.Error().Err(err).Msg("failed to dispatch change notification")
		}
	}
	return OutcomeUpdated, nil
}

func (s *Service) fail(log zerolog.Logger, b rates.Bucket, date, now time.Time, fetchErr error) error {
	failures := s.store.RecordFailure(date, now, fetchErr)
	key := date.Format(time.DateOnly)

	if !rates.IsRetryable(fetchErr) {
		next := scheduler.NextBoundary(now, s.opts.PollInterval)
		s.mu.Lock()
		s.plans[key] = next
		report := !s.authReported
		s.authReported = true
		s.mu.Unlock()

		log.Error().Err(fetchErr).Int("failures", failures).Time("retry_at", next).Msg("provider rejected credentials")
		if report && s.notifier != nil {
			ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
			defer cancel()
			problem := notify.NewProblem(notify.ProblemAuth, b, date, fetchErr, now)
			if err := s.notifier.NotifyProblem(ctx, problem); err != nil {
				log.Error().Err(err).Msg("failed to dispatch problem notification")
			}
		}
		return fetchErr
	}

	next := retryAt(b, failures, now, s.opts)
	s.mu.Lock()
	s.plans[key] = next
	s.mu.Unlock()
	s.wake()

	log.Warn().Err(fetchErr).Int("failures", failures).Time("retry_at", next).Msg("fetch failed")
	return fetchErr
}

// roll advances the store to now and prunes storage once per day change.
func (s *Service) roll(ctx context.Context, now time.Time) {
	dropped := s.store.Roll(now)
	today := rates.Today.Date(now, s.opts.Location)

	s.mu.Lock()
	for key := range s.plans {
		if key < today.Format(time.DateOnly) {
			delete(s.plans, key)
		}
	}
	prune := s.persist != nil && (len(dropped) > 0 || !s.pruned)
	s.pruned = true
	s.mu.Unlock()

	if !prune {
		return
	}
	n, err := s.persist.PruneBefore(ctx, today)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to prune stored days")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("rows", n).Str("before", today.Format(time.DateOnly)).Msg("pruned stored days")
	}
}

// follow mirrors the leader's persisted series into the local store.
func (s *Service) follow(ctx context.Context, now time.Time) error {
	if s.persist == nil {
		return nil
	}
	s.store.Roll(now)
	snap := s.store.Snapshot()
	for _, b := range rates.Buckets {
		date := b.Date(now, s.opts.Location)
		series, fetchedAt, err := s.persist.LoadSeries(ctx, date)
		if err != nil {
			return fmt.Errorf("sync %s: %w", b, err)
		}
		if series.Empty() {
			continue
		}
		if rec, ok := snap.Record(date); ok && !rec.LastSuccessAt.Before(fetchedAt) {
			continue
		}
		s.store.RecordSuccess(date, series, fetchedAt)
	}
	s.publishState(now)
	return nil
}

func (s *Service) bucketOf(date, now time.Time) (rates.Bucket, bool) {
	key := date.Format(time.DateOnly)
	for _, b := range rates.Buckets {
		if b.Date(now, s.opts.Location).Format(time.DateOnly) == key {
			return b, true
		}
	}
	return "", false
}

func (s *Service) plan(date time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.plans[date.Format(time.DateOnly)]
	return at, ok
}

// NextAttempt returns the planned retry for date, if any.
func (s *Service) NextAttempt(date time.Time) (time.Time, bool) {
	return s.plan(date)
}

func (s *Service) observe(b rates.Bucket, result string, took time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveFetch(string(b), result, took)
	}
}

func (s *Service) publishState(now time.Time) {
	if s.metrics == nil {
		return
	}
	snap := s.store.Snapshot()
	for _, b := range rates.Buckets {
		rec := snap.Bucket(b, now)
		s.metrics.SetRecord(string(b), rec.Series.Len(), rec.ConsecutiveFailures, rec.LastSuccessAt)
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, rates.ErrFetchAuth):
		return "auth"
	case errors.Is(err, rates.ErrFetchEmpty):
		return "empty"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}
