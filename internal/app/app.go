package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"agilewatch/internal/api"
	"agilewatch/internal/config"
	"agilewatch/internal/fetcher"
	"agilewatch/internal/metrics"
	"agilewatch/internal/notify"
	"agilewatch/internal/rates"
	"agilewatch/internal/scheduler"
	"agilewatch/internal/service"
	"agilewatch/internal/storage"
	"agilewatch/internal/store"
	"agilewatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher(loc *time.Location) fetcher.Fetcher {
	p := a.Config.Provider
	if p.UserAgent == "" {
		p.UserAgent = version.UserAgent()
	}
	return fetcher.NewOctopus(fetcher.OctopusOptions{
		BaseURL:     p.BaseURL,
		APIKey:      p.APIKey,
		ProductCode: p.ProductCode,
		TariffCode:  p.TariffCode,
		Timeout:     p.RequestTimeout,
		UserAgent:   p.UserAgent,
		PageSize:    p.PageSize,
		Location:    loc,
	}, a.Logger)
}

// newNotifier assembles the configured sinks behind a fan-out. The structured
// log sink is always present.
func (a *App) newNotifier(loc *time.Location) (notify.Notifier, func(), error) {
	sinks := notify.Multi{notify.NewLogNotifier(a.Logger)}
	closer := func() {}

	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		sinks = append(sinks, notify.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, tg.Timeout, loc, a.Logger))
	}
	if kc := a.Config.Alerting.Kafka; kc.Enabled {
		kn, err := notify.NewKafkaNotifier(notify.KafkaOptions{
			Brokers:      kc.Brokers,
			Topic:        kc.Topic,
			RequiredAcks: kc.RequiredAcks,
			WriteTimeout: kc.WriteTimeout,
		}, a.Logger)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka notifier: %w", err)
		}
		sinks = append(sinks, kn)
		closer = func() {
			if err := kn.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close kafka writer")
			}
		}
	}
	return sinks, closer, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, error) {
	if a.Config.Database.DSN == "" {
		return nil, nil
	}
	return storage.Open(ctx, a.Config.Database, a.Config.App.Name)
}

type engineOptions struct {
	notify    bool
	metrics   service.Metrics
	scheduled bool
}

// engine is a wired refresh service plus everything it owns.
type engine struct {
	svc     *service.Service
	store   *store.Store
	windows []time.Duration
	closers []func()
}

func (e *engine) Close() {
	e.svc.Close()
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (a *App) newEngine(ctx context.Context, opts engineOptions) (*engine, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}
	window, err := a.Config.FetchWindow()
	if err != nil {
		return nil, err
	}
	windows, err := a.Config.WindowDurations()
	if err != nil {
		return nil, err
	}

	eng := &engine{store: store.New(loc, a.Config.Thresholds()), windows: windows}
	deps := service.Deps{
		Fetcher: a.newFetcher(loc),
		Store:   eng.store,
		Metrics: opts.metrics,
	}

	persist, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if persist != nil {
		deps.Persist = persist
		eng.closers = append(eng.closers, persist.Close)
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}

	if opts.notify {
		n, closeNotifier, err := a.newNotifier(loc)
		if err != nil {
			for _, c := range eng.closers {
				c()
			}
			return nil, err
		}
		deps.Notifier = n
		eng.closers = append(eng.closers, closeNotifier)
	}

	sc := a.Config.Schedule
	if opts.scheduled {
		deps.Scheduler = scheduler.New(scheduler.Options{
			Interval:     sc.PollInterval,
			AlignToStart: true,
			StartupDelay: sc.StartupDelay,
			Immediate:    true,
		}, a.Logger)
	}

	eng.svc = service.New(service.Options{
		Location:        loc,
		PollInterval:    sc.PollInterval,
		FetchWindow:     window,
		RetryBase:       sc.RetryBase,
		RetryMax:        sc.RetryMax,
		SlotLength:      a.Config.SlotLength(),
		AdvisoryLockKey: sc.AdvisoryLockKey,
	}, deps, a.Logger)

	if err := eng.svc.Warm(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("warm start from storage failed")
	}
	return eng, nil
}

// load brings both buckets up to date for one-shot commands. Failures leave
// whatever was restored from storage in place.
func (a *App) load(ctx context.Context, eng *engine) {
	for _, b := range rates.Buckets {
		outcome, err := eng.svc.Refresh(ctx, b, false)
		if err == nil && outcome == service.OutcomeClosed {
			if !eng.store.Snapshot().Bucket(b, time.Now()).HasSeries {
				outcome, err = eng.svc.Refresh(ctx, b, true)
			}
		}
		switch {
		case errors.Is(err, rates.ErrNotYetEligible):
			a.Logger.Debug().Str("bucket", string(b)).Msg("tomorrow not yet published")
		case err != nil:
			a.Logger.Warn().Err(err).Str("bucket", string(b)).Msg("refresh failed; showing stored data")
		default:
			a.Logger.Debug().Str("bucket", string(b)).Str("outcome", string(outcome)).Msg("bucket loaded")
		}
	}
}

// Run executes the long-running refresh service and query API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(reg)

	eng, err := a.newEngine(ctx, engineOptions{notify: true, metrics: rec, scheduled: true})
	if err != nil {
		return err
	}
	defer eng.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Msg("starting refresh service")
		if err := eng.svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if h := a.Config.HTTP; h.Enabled {
		handler := api.NewHandler(eng.svc, eng.store, eng.windows, nil, a.Logger)
		srv := api.NewServer(api.ServerOptions{
			Listen:          h.Listen,
			ReadTimeout:     h.ReadTimeout,
			WriteTimeout:    h.WriteTimeout,
			ShutdownTimeout: h.ShutdownTimeout,
		}, handler, reg, rec, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Slots bool
}

// CheapestOptions configure the cheapest command.
type CheapestOptions struct {
	Day         rates.Bucket
	NumSlots    int
	Consecutive bool
	Expensive   bool
	Minutes     int
}

// ExportOptions hold parameters for exporting the current day buckets.
type ExportOptions struct {
	PNGPath string
	CSVPath string
}
