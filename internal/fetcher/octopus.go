package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"agilewatch/internal/rates"
)

const (
	defaultBaseURL  = "https://api.octopus.energy/v1"
	defaultPageSize = 1500
	maxPages        = 10
)

// OctopusOptions parameterise the Octopus Energy tariff fetcher.
type OctopusOptions struct {
	BaseURL     string
	APIKey      string
	ProductCode string
	TariffCode  string
	Timeout     time.Duration
	UserAgent   string
	PageSize    int
	Location    *time.Location
}

// Octopus fetches standard unit rates from the Octopus Energy REST API.
type Octopus struct {
	opts    OctopusOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	loc     *time.Location
}

// NewOctopus constructs an Octopus fetcher.
func NewOctopus(opts OctopusOptions, logger zerolog.Logger) *Octopus {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Octopus{
		opts:    opts,
		logger:  logger.With().Str("component", "octopus_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		loc:     loc,
	}
}

// Fetch retrieves all slots that start on the local day of day.
func (o *Octopus) Fetch(ctx context.Context, day time.Time) (rates.Series, error) {
	if o.opts.ProductCode == "" || o.opts.TariffCode == "" {
		return rates.Series{}, &rates.ConfigError{Field: "provider", Reason: "product_code and tariff_code are required"}
	}

	start := rates.StartOfDay(day, o.loc)
	end := start.AddDate(0, 0, 1)

	pageSize := o.opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	query := url.Values{}
	query.Set("period_from", start.UTC().Format(time.RFC3339))
	query.Set("period_to", end.UTC().Format(time.RFC3339))
	query.Set("page_size", fmt.Sprint(pageSize))

	next := fmt.Sprintf("%s/products/%s/electricity-tariffs/%s/standard-unit-rates/?%s",
		o.baseURL, url.PathEscape(o.opts.ProductCode), url.PathEscape(o.opts.TariffCode), query.Encode())

	var collected []rates.Slot
	for page := 0; next != "" && page < maxPages; page++ {
		resp, err := o.getPage(ctx, next)
		if err != nil {
			return rates.Series{}, err
		}
		for _, r := range resp.Results {
			slot, err := r.toSlot()
			if err != nil {
				return rates.Series{}, &rates.FetchError{Kind: rates.ErrFetchTransport, Err: err}
			}
			if slot.ValidFrom.Before(start) || !slot.ValidFrom.Before(end) {
				continue
			}
			collected = append(collected, slot)
		}
		next = resp.Next
	}

	if len(collected) == 0 {
		return rates.Series{}, &rates.FetchError{Kind: rates.ErrFetchEmpty, Err: fmt.Errorf("no slots for %s", start.Format("2006-01-02"))}
	}

	// The API lists newest first.
	sort.Slice(collected, func(i, j int) bool { return collected[i].ValidFrom.Before(collected[j].ValidFrom) })
	series, err := rates.NewSeries(collected)
	if err != nil {
		return rates.Series{}, &rates.FetchError{Kind: rates.ErrFetchTransport, Err: fmt.Errorf("inconsistent slots: %w", err)}
	}

	o.logger.Debug().Str("date", start.Format("2006-01-02")).Int("slots", series.Len()).Msg("rates fetched")
	return series, nil
}

func (o *Octopus) getPage(ctx context.Context, endpoint string) (*unitRatesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &rates.FetchError{Kind: rates.ErrFetchTransport, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(o.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if o.opts.APIKey != "" {
		req.SetBasicAuth(o.opts.APIKey, "")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &rates.FetchError{Kind: rates.ErrFetchTransport, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &rates.FetchError{Kind: rates.ErrFetchTransport, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var out unitRatesResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &rates.FetchError{Kind: rates.ErrFetchTransport, Err: fmt.Errorf("decode unit rates: %w", err)}
	}
	return &out, nil
}

type unitRatesResponse struct {
	Count   int        `json:"count"`
	Next    string     `json:"next"`
	Results []unitRate `json:"results"`
}

type unitRate struct {
	ValueIncVAT json.Number `json:"value_inc_vat"`
	ValidFrom   time.Time   `json:"valid_from"`
	ValidTo     *time.Time  `json:"valid_to"`
}

func (r unitRate) toSlot() (rates.Slot, error) {
	if r.ValidTo == nil {
		return rates.Slot{}, errors.New("open-ended rate is not a half-hour slot")
	}
	value, err := decimal.NewFromString(r.ValueIncVAT.String())
	if err != nil {
		return rates.Slot{}, fmt.Errorf("parse value_inc_vat %q: %w", r.ValueIncVAT, err)
	}
	return rates.NewSlot(r.ValidFrom, *r.ValidTo, value.InexactFloat64())
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func parseHTTPError(status int, payload []byte) error {
	kind := rates.ErrFetchTransport
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = rates.ErrFetchAuth
	}

	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Detail != "" {
		return &rates.FetchError{Kind: kind, Status: status, Err: errors.New(apiErr.Detail)}
	}
	if len(payload) > 0 {
		return &rates.FetchError{Kind: kind, Status: status, Err: errors.New(strings.TrimSpace(string(payload)))}
	}
	return &rates.FetchError{Kind: kind, Status: status}
}

var _ Fetcher = (*Octopus)(nil)
