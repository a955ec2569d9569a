package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	chart "github.com/wcharczuk/go-chart/v2"

	"agilewatch/internal/analysis"
	"agilewatch/internal/config"
	"agilewatch/internal/rates"
	"agilewatch/internal/store"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("AGILEWATCH_SCHEDULE_TIMEZONE", "UTC")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Provider.BaseURL = baseURL
	cfg.Provider.RequestTimeout = 2 * time.Second
	return cfg
}

// providerServer serves a flat 48-slot day for whatever period is requested.
func providerServer(t *testing.T, value float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("period_from"))
		if err != nil {
			http.Error(w, "bad period_from", http.StatusBadRequest)
			return
		}
		results := make([]map[string]any, 0, 48)
		for i := 0; i < 48; i++ {
			start := from.Add(time.Duration(i) * 30 * time.Minute)
			results = append(results, map[string]any{
				"value_inc_vat": value,
				"valid_from":    start.Format(time.RFC3339),
				"valid_to":      start.Add(30 * time.Minute).Format(time.RFC3339),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"count": len(results), "results": results})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fixtureSeries(start time.Time, values ...float64) rates.Series {
	slots := make([]rates.Slot, len(values))
	for i, v := range values {
		from := start.Add(time.Duration(i) * 30 * time.Minute)
		slots[i] = rates.Slot{ValidFrom: from, ValidTo: from.Add(30 * time.Minute), Value: v}
	}
	return rates.MustSeries(slots)
}

func TestLoadFetchesTodayWithoutDatabase(t *testing.T) {
	srv := providerServer(t, 12.5)
	a := NewApp(testConfig(t, srv.URL), zerolog.Nop())

	ctx := context.Background()
	eng, err := a.newEngine(ctx, engineOptions{})
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	defer eng.Close()

	a.load(ctx, eng)

	rec := eng.store.Snapshot().Bucket(rates.Today, time.Now())
	if !rec.HasSeries || rec.Series.Len() != 48 {
		t.Fatalf("expected 48 slots for today, got %d (has=%v)", rec.Series.Len(), rec.HasSeries)
	}
	if rec.Series.At(0).Value != 12.5 {
		t.Fatalf("unexpected value %v", rec.Series.At(0).Value)
	}
}

func TestRefreshToday(t *testing.T) {
	srv := providerServer(t, 7)
	a := NewApp(testConfig(t, srv.URL), zerolog.Nop())

	if err := a.Refresh(context.Background(), rates.Today); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}

func TestRefreshSurfacesProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Authentication credentials were not provided."}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	a := NewApp(testConfig(t, srv.URL), zerolog.Nop())

	if err := a.Refresh(context.Background(), rates.Today); err == nil {
		t.Fatal("expected error from failing provider")
	}
}

func TestNewNotifierRejectsIncompleteKafka(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Alerting.Kafka.Enabled = true
	cfg.Alerting.Kafka.Brokers = nil
	a := NewApp(cfg, zerolog.Nop())

	if _, _, err := a.newNotifier(time.UTC); err == nil {
		t.Fatal("expected kafka configuration error")
	}
}

func TestExportRowsAndCSV(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fetched := day.Add(-8 * time.Hour)
	today := store.FetchRecord{Date: day, Series: fixtureSeries(day, 10, -2, 30), HasSeries: true, LastSuccessAt: fetched}
	tomorrow := store.FetchRecord{Date: day.AddDate(0, 0, 1)}

	rows := buildExportRows(analysis.DefaultThresholds(), today, tomorrow)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	var buf bytes.Buffer
	if err := writeRatesCSV(&buf, rows, time.UTC); err != nil {
		t.Fatalf("writeRatesCSV: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header plus 3 records, got %d", len(records))
	}
	if records[0][4] != "value_inc_vat" {
		t.Fatalf("unexpected header %v", records[0])
	}
	second := records[2]
	if second[0] != "today" || second[2] != "2024-06-01T00:30:00Z" || second[4] != "-2.0000" {
		t.Fatalf("unexpected record %v", second)
	}
	if second[6] != "2024-05-31T16:00:00Z" {
		t.Fatalf("unexpected fetched_at %q", second[6])
	}
}

func TestRatesChartRenders(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := store.FetchRecord{Date: day, Series: fixtureSeries(day, 10, 12, 8, 30), HasSeries: true, LastSuccessAt: day}
	rows := buildExportRows(analysis.DefaultThresholds(), rec)

	graph := ratesChart(rows, analysis.DefaultThresholds(), 640, 320)
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Fatal("expected PNG output")
	}
}

func TestWriteReadout(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	now := day.Add(10 * time.Minute)
	r := analysis.BuildReadout(analysis.ReadoutInput{
		Now:        now,
		Today:      fixtureSeries(day, 10, -2, 5, 20),
		Thresholds: analysis.DefaultThresholds(),
		Windows:    []time.Duration{time.Hour},
	})

	var buf bytes.Buffer
	writeReadout(&buf, r, time.UTC)
	out := buf.String()

	for _, want := range []string{"00:00-00:30", "10.00p", "20 min left", "Tomorrow", "no data", "Negative today", "00:30"} {
		if !strings.Contains(out, want) {
			t.Fatalf("readout missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSelection(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	sel, err := analysis.Rank(fixtureSeries(day, 10, -2, 5, 20), 2, false, analysis.Cheapest)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}

	var buf bytes.Buffer
	writeSelection(&buf, analysis.Cheapest, sel, time.UTC)
	out := buf.String()
	if !strings.Contains(out, "-2.00p") || !strings.Contains(out, "5.00p") || strings.Contains(out, "20.00p") {
		t.Fatalf("unexpected selection output:\n%s", out)
	}
	if !strings.Contains(out, "total 3.00p") {
		t.Fatalf("missing total:\n%s", out)
	}
}
