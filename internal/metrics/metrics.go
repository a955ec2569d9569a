package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes refresh, store and HTTP metrics through Prometheus.
type Recorder struct {
	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	failures      *prometheus.GaugeVec
	slots         *prometheus.GaugeVec
	lastSuccess   *prometheus.GaugeVec
	changes       *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		fetchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agilewatch_fetch_total",
				Help: "Fetch attempts by day bucket and result",
			},
			[]string{"bucket", "result"},
		),
		fetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agilewatch_fetch_duration_seconds",
				Help:    "Duration of upstream fetches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"bucket"},
		),
		failures: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agilewatch_consecutive_failures",
				Help: "Consecutive failed fetch attempts per day bucket",
			},
			[]string{"bucket"},
		),
		slots: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agilewatch_slots",
				Help: "Slots stored per day bucket",
			},
			[]string{"bucket"},
		),
		lastSuccess: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agilewatch_last_success_timestamp_seconds",
				Help: "Unix time of the last successful fetch per day bucket",
			},
			[]string{"bucket"},
		),
		changes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agilewatch_changes_total",
				Help: "Content changes detected per day bucket",
			},
			[]string{"bucket"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agilewatch_http_requests_total",
				Help: "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agilewatch_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"route", "method"},
		),
	}
}

// ObserveFetch records one fetch attempt.
func (r *Recorder) ObserveFetch(bucket, result string, d time.Duration) {
	r.fetchTotal.WithLabelValues(bucket, result).Inc()
	r.fetchDuration.WithLabelValues(bucket).Observe(d.Seconds())
}

// SetRecord publishes the state of one day bucket.
func (r *Recorder) SetRecord(bucket string, slots, failures int, lastSuccess time.Time) {
	r.slots.WithLabelValues(bucket).Set(float64(slots))
	r.failures.WithLabelValues(bucket).Set(float64(failures))
	if !lastSuccess.IsZero() {
		r.lastSuccess.WithLabelValues(bucket).Set(float64(lastSuccess.Unix()))
	}
}

// IncChange counts a detected content change.
func (r *Recorder) IncChange(bucket string) {
	r.changes.WithLabelValues(bucket).Inc()
}

// ObserveHTTP records one served request.
func (r *Recorder) ObserveHTTP(route, method string, status int, d time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
