package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"agilewatch/internal/analysis"
	"agilewatch/internal/rates"
	"agilewatch/internal/service"
	"agilewatch/internal/store"
)

// Engine is the refresh side the API drives.
type Engine interface {
	Refresh(ctx context.Context, b rates.Bucket, force bool) (service.Outcome, error)
	Status(now time.Time) []service.BucketStatus
}

// Handler serves queries against the current store snapshot.
type Handler struct {
	engine  Engine
	store   *store.Store
	windows []time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewHandler constructs the query handler. windows are the readout window durations.
func NewHandler(engine Engine, st *store.Store, windows []time.Duration, now func() time.Time, logger zerolog.Logger) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{
		engine:  engine,
		store:   st,
		windows: windows,
		now:     now,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes mounts the v1 API.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/rates", h.Rates)
	g.GET("/slots/cheapest", h.CheapestSlots)
	g.GET("/slots/expensive", h.ExpensiveSlots)
	g.GET("/windows/cheapest", h.CheapestWindow)
	g.GET("/readout", h.Readout)
	g.GET("/status", h.Status)
	g.GET("/thresholds", h.GetThresholds)
	g.PUT("/thresholds", h.PutThresholds)
	g.POST("/refresh", h.Refresh)
}

type ratesRequest struct {
	Day  string `query:"day" default:"today" validate:"oneof=today tomorrow"`
	From string `query:"from" validate:"omitempty,datetime=15:04"`
	To   string `query:"to" validate:"omitempty,datetime=15:04"`
}

type ratesResponse struct {
	Day   rates.Bucket    `json:"day"`
	Date  string          `json:"date"`
	Slots []rates.Slot    `json:"slots"`
	Stats *analysis.Stats `json:"stats,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Rates lists a bucket's slots, optionally restricted to a local time-of-day range.
func (h *Handler) Rates(c echo.Context) error {
	req := &ratesRequest{}
	if verrs := bindAndValidate(c, req); verrs != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request", verrs)
	}
	b, err := rates.ParseBucket(req.Day)
	if err != nil {
		return appErrorResponse(c, err)
	}
	var from, to rates.TimeOfDay
	if req.From != "" {
		if from, err = rates.ParseTimeOfDay(req.From); err != nil {
			return appErrorResponse(c, &rates.ConfigError{Field: "from", Reason: err.Error()})
		}
	}
	if req.To != "" {
		if to, err = rates.ParseTimeOfDay(req.To); err != nil {
			return appErrorResponse(c, &rates.ConfigError{Field: "to", Reason: err.Error()})
		}
	}

	now := h.now()
	rec := h.store.Snapshot().Bucket(b, now)
	resp := ratesResponse{
		Day:   b,
		Date:  rec.Date.Format(time.DateOnly),
		Slots: rec.Series.Between(from, to, h.store.Location()),
	}
	if st, ok := analysis.Aggregate(rec.Series); ok {
		resp.Stats = &st
	} else {
		resp.Error = noDataMessage(b)
	}
	return successResponse(c, resp)
}

type slotsRequest struct {
	Day         string `query:"day" default:"today" validate:"oneof=today tomorrow"`
	NumSlots    int    `query:"num_slots"`
	Consecutive bool   `query:"consecutive"`
}

type slotsResponse struct {
	Day rates.Bucket `json:"day"`
	analysis.Selection
	Error string `json:"error,omitempty"`
}

// CheapestSlots ranks the cheapest slots of a bucket.
func (h *Handler) CheapestSlots(c echo.Context) error {
	return h.rank(c, analysis.Cheapest)
}

// ExpensiveSlots ranks the most expensive slots of a bucket.
func (h *Handler) ExpensiveSlots(c echo.Context) error {
	return h.rank(c, analysis.MostExpensive)
}

func (h *Handler) rank(c echo.Context, mode analysis.Mode) error {
	req := &slotsRequest{}
	if verrs := bindAndValidate(c, req); verrs != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request", verrs)
	}
	// an explicit num_slots=0 must reach Rank and fail there
	if !c.QueryParams().Has("num_slots") {
		req.NumSlots = 1
	}
	b, err := rates.ParseBucket(req.Day)
	if err != nil {
		return appErrorResponse(c, err)
	}

	series := h.store.Snapshot().Series(b, h.now())
	sel, err := analysis.Rank(series, req.NumSlots, req.Consecutive, mode)
	if err != nil {
		return appErrorResponse(c, err)
	}
	resp := slotsResponse{Day: b, Selection: sel}
	if resp.Slots == nil {
		resp.Slots = []rates.Slot{}
	}
	switch {
	case series.Empty():
		resp.Error = noDataMessage(b)
	case !sel.Found:
		resp.Error = notEnoughSlotsMessage
	}
	return successResponse(c, resp)
}

type windowRequest struct {
	Day     string `query:"day" default:"today" validate:"oneof=today tomorrow"`
	Minutes int    `query:"minutes"`
}

type windowResponse struct {
	Day     rates.Bucket     `json:"day"`
	Minutes int              `json:"period_minutes"`
	Found   bool             `json:"data_available"`
	Window  *analysis.Window `json:"window,omitempty"`
	Active  bool             `json:"is_active"`
	Error   string           `json:"error,omitempty"`
}

// CheapestWindow finds the cheapest contiguous window of the requested length.
func (h *Handler) CheapestWindow(c echo.Context) error {
	req := &windowRequest{}
	if verrs := bindAndValidate(c, req); verrs != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request", verrs)
	}
	if !c.QueryParams().Has("minutes") {
		req.Minutes = 60
	}
	b, err := rates.ParseBucket(req.Day)
	if err != nil {
		return appErrorResponse(c, err)
	}

	now := h.now()
	series := h.store.Snapshot().Series(b, now)
	w, ok, err := analysis.FindCheapestWindow(series, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		return appErrorResponse(c, err)
	}
	resp := windowResponse{Day: b, Minutes: req.Minutes, Found: ok}
	switch {
	case ok:
		resp.Window = &w
		resp.Active = w.Active(now)
	case series.Empty():
		resp.Error = noDataMessage(b)
	default:
		resp.Error = notEnoughSlotsMessage
	}
	return successResponse(c, resp)
}

// Readout returns every derived value for the current instant.
func (h *Handler) Readout(c echo.Context) error {
	now := h.now()
	snap := h.store.Snapshot()
	out := analysis.BuildReadout(analysis.ReadoutInput{
		Now:        now,
		Today:      snap.Series(rates.Today, now),
		Tomorrow:   snap.Series(rates.Tomorrow, now),
		Thresholds: h.store.Thresholds(),
		Windows:    h.windows,
	})
	return successResponse(c, out)
}

// Status reports freshness metadata for both buckets.
func (h *Handler) Status(c echo.Context) error {
	return successResponse(c, h.engine.Status(h.now()))
}

type thresholdsBody struct {
	Cheap             float64 `json:"cheap"`
	Expensive         float64 `json:"expensive"`
	VeryCheapBand     float64 `json:"very_cheap_band"`
	VeryExpensiveBand float64 `json:"very_expensive_band"`
}

func toBody(th analysis.Thresholds) thresholdsBody {
	return thresholdsBody{
		Cheap:             th.Cheap,
		Expensive:         th.Expensive,
		VeryCheapBand:     th.VeryCheapBand,
		VeryExpensiveBand: th.VeryExpensiveBand,
	}
}

type thresholdsRequest struct {
	Cheap             *float64 `json:"cheap"`
	Expensive         *float64 `json:"expensive"`
	VeryCheapBand     *float64 `json:"very_cheap_band" validate:"omitempty,gte=0,lte=1"`
	VeryExpensiveBand *float64 `json:"very_expensive_band" validate:"omitempty,gte=0,lte=1"`
}

// GetThresholds returns the active classification thresholds.
func (h *Handler) GetThresholds(c echo.Context) error {
	return successResponse(c, toBody(h.store.Thresholds()))
}

// PutThresholds updates any subset of the thresholds at runtime.
func (h *Handler) PutThresholds(c echo.Context) error {
	req := &thresholdsRequest{}
	if verrs := bindAndValidate(c, req); verrs != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request", verrs)
	}
	th := h.store.Thresholds()
	if req.Cheap != nil {
		th.Cheap = *req.Cheap
	}
	if req.Expensive != nil {
		th.Expensive = *req.Expensive
	}
	if req.VeryCheapBand != nil {
		th.VeryCheapBand = *req.VeryCheapBand
	}
	if req.VeryExpensiveBand != nil {
		th.VeryExpensiveBand = *req.VeryExpensiveBand
	}
	if th.Cheap > th.Expensive {
		return appErrorResponse(c, &rates.ConfigError{Field: "thresholds", Reason: "cheap must not exceed expensive"})
	}
	h.store.SetThresholds(th)
	h.logger.Info().Float64("cheap", th.Cheap).Float64("expensive", th.Expensive).Msg("thresholds updated")
	return successResponse(c, toBody(th))
}

type refreshRequest struct {
	Day string `query:"day" default:"today" validate:"oneof=today tomorrow"`
}

type refreshResponse struct {
	Day     rates.Bucket    `json:"day"`
	Outcome service.Outcome `json:"outcome"`
}

// Refresh forces a fetch for one bucket.
func (h *Handler) Refresh(c echo.Context) error {
	req := &refreshRequest{}
	if verrs := bindQueryAndValidate(c, req); verrs != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request", verrs)
	}
	b, err := rates.ParseBucket(req.Day)
	if err != nil {
		return appErrorResponse(c, err)
	}
	outcome, err := h.engine.Refresh(c.Request().Context(), b, true)
	if err != nil {
		h.logger.Warn().Err(err).Str("bucket", string(b)).Msg("manual refresh failed")
		return appErrorResponse(c, err)
	}
	return successResponse(c, refreshResponse{Day: b, Outcome: outcome})
}

const notEnoughSlotsMessage = "not enough contiguous slots for the requested count"

func noDataMessage(b rates.Bucket) string {
	return "no rate data available for " + string(b)
}
