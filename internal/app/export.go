package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"agilewatch/internal/analysis"
	"agilewatch/internal/rates"
	"agilewatch/internal/storage"
	"agilewatch/internal/store"
)

// exportRow is one slot annotated with its bucket and classification.
type exportRow struct {
	Bucket rates.Bucket
	Row    storage.SlotRow
	Status analysis.Status
}

// Export renders today's and tomorrow's rates as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	eng, err := a.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	a.load(ctx, eng)

	now := time.Now()
	snap := eng.store.Snapshot()
	th := eng.store.Thresholds()
	rows := buildExportRows(th, snap.Bucket(rates.Today, now), snap.Bucket(rates.Tomorrow, now))
	if len(rows) == 0 {
		a.Logger.Info().Msg("no rates available for export")
		return nil
	}
	a.Logger.Info().Int("slots", len(rows)).Msg("exporting rates")

	if opts.CSVPath != "" {
		if err := writeRatesCSVFile(opts.CSVPath, rows, snap.Location()); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRatesPNG(opts.PNGPath, rows, th, a.Config.Export.Width, a.Config.Export.Height); err != nil {
			return err
		}
	}

	return nil
}

// buildExportRows classifies each day against its own statistics.
func buildExportRows(th analysis.Thresholds, records ...store.FetchRecord) []exportRow {
	var rows []exportRow
	for i, rec := range records {
		if !rec.HasSeries {
			continue
		}
		bucket := rates.Today
		if i > 0 {
			bucket = rates.Tomorrow
		}
		stats, ok := analysis.Aggregate(rec.Series)
		for _, row := range storage.SlotRows(rec.Date, rec.Series, rec.LastSuccessAt) {
			rows = append(rows, exportRow{
				Bucket: bucket,
				Row:    row,
				Status: analysis.Classify(row.ValueIncVAT.InexactFloat64(), stats, ok, th),
			})
		}
	}
	return rows
}

func writeRatesCSVFile(path string, rows []exportRow, loc *time.Location) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeRatesCSV(file, rows, loc)
}

func writeRatesCSV(out io.Writer, rows []exportRow, loc *time.Location) error {
	writer := csv.NewWriter(out)

	header := []string{"day", "date", "valid_from", "valid_to", "value_inc_vat", "status", "fetched_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range rows {
		record := []string{
			string(r.Bucket),
			r.Row.Day.In(loc).Format("2006-01-02"),
			r.Row.ValidFrom.In(loc).Format(time.RFC3339),
			r.Row.ValidTo.In(loc).Format(time.RFC3339),
			formatDecimal(r.Row.ValueIncVAT, 4),
			r.Status.String(),
			r.Row.FetchedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// ratesChart draws the prices as a step line with both thresholds overlaid.
func ratesChart(rows []exportRow, th analysis.Thresholds, width, height int) chart.Chart {
	x := make([]time.Time, 0, 2*len(rows))
	y := make([]float64, 0, 2*len(rows))
	for _, r := range rows {
		v := r.Row.ValueIncVAT.InexactFloat64()
		x = append(x, r.Row.ValidFrom, r.Row.ValidTo)
		y = append(y, v, v)
	}

	first, last := rows[0].Row.ValidFrom, rows[len(rows)-1].Row.ValidTo
	threshold := func(name string, v float64, style chart.Style) chart.TimeSeries {
		return chart.TimeSeries{
			Name:    name,
			XValues: []time.Time{first, last},
			YValues: []float64{v, v},
			Style:   style,
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeHourValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "p/kWh inc VAT",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Unit rate",
				XValues: x,
				YValues: y,
			},
			threshold("Cheap", th.Cheap, chart.Style{StrokeColor: drawing.ColorFromHex("2ca02c"), StrokeDashArray: []float64{5, 5}}),
			threshold("Expensive", th.Expensive, chart.Style{StrokeColor: drawing.ColorFromHex("d62728"), StrokeDashArray: []float64{5, 5}}),
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph
}

func writeRatesPNG(path string, rows []exportRow, th analysis.Thresholds, width, height int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	graph := ratesChart(rows, th, width, height)
	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
