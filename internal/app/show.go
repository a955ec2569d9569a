package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"agilewatch/internal/analysis"
	"agilewatch/internal/rates"
)

const clockLayout = "15:04"

// Show fetches (or restores) both day buckets and prints the readout.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	eng, err := a.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	a.load(ctx, eng)

	now := time.Now()
	snap := eng.store.Snapshot()
	loc := snap.Location()
	today := snap.Series(rates.Today, now)
	tomorrow := snap.Series(rates.Tomorrow, now)

	readout := analysis.BuildReadout(analysis.ReadoutInput{
		Now:        now,
		Today:      today,
		Tomorrow:   tomorrow,
		Thresholds: eng.store.Thresholds(),
		Windows:    eng.windows,
	})

	writeReadout(os.Stdout, readout, loc)
	if opts.Slots {
		fmt.Fprintln(os.Stdout)
		writeSlots(os.Stdout, today, tomorrow, loc)
	}
	return nil
}

func writeReadout(out io.Writer, r analysis.Readout, loc *time.Location) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if r.Current != nil {
		fmt.Fprintf(w, "Current\t%s\t%s\t%s, %d min left\n",
			slotSpan(r.Current.Slot, loc), price(r.Current.Slot.Value), r.Current.Status, r.Current.MinutesRemaining)
	} else {
		fmt.Fprintln(w, "Current\t-\tno data for today")
	}
	if r.Next != nil {
		fmt.Fprintf(w, "Next\t%s\t%s\tin %d min\n", slotSpan(r.Next.Slot, loc), price(r.Next.Slot.Value), r.Next.MinutesUntil)
	}

	writeStats(w, "Today", r.Today)
	writeStats(w, "Tomorrow", r.Tomorrow)

	if r.MinutesUntilCheap != nil {
		fmt.Fprintf(w, "Next cheap\tin %d min\t\t\n", *r.MinutesUntilCheap)
	}
	if r.MinutesUntilExpensive != nil {
		fmt.Fprintf(w, "Next expensive\tin %d min\t\t\n", *r.MinutesUntilExpensive)
	}

	for _, wr := range r.Windows {
		label := fmt.Sprintf("Cheapest %dm %s", wr.Minutes, wr.Bucket)
		switch {
		case wr.Error != "":
			fmt.Fprintf(w, "%s\t-\t%s\t\n", label, sanitizeInline(wr.Error))
		case !wr.Found:
			fmt.Fprintf(w, "%s\t-\tnot available\t\n", label)
		default:
			state := fmt.Sprintf("in %d min", wr.MinutesUntil)
			if wr.Active {
				state = "active"
			}
			fmt.Fprintf(w, "%s\t%s-%s\t%s avg\t%s\n",
				label, wr.Start.In(loc).Format(clockLayout), wr.End.In(loc).Format(clockLayout), price(wr.Average), state)
		}
	}

	writeNegative(w, "Negative today", r.NegativeToday, loc)
	writeNegative(w, "Negative tomorrow", r.NegativeTomorrow, loc)
}

func writeStats(w io.Writer, label string, s *analysis.Stats) {
	if s == nil {
		fmt.Fprintf(w, "%s\t-\tno data\t\n", label)
		return
	}
	fmt.Fprintf(w, "%s\tmin %s\tmax %s\tavg %s (%d slots)\n", label, price(s.Min), price(s.Max), price(s.Average), s.SlotCount)
}

func writeNegative(w io.Writer, label string, report analysis.NegativeReport, loc *time.Location) {
	if !report.HasNegative {
		return
	}
	spans := make([]string, 0, len(report.Slots))
	for _, s := range report.Slots {
		spans = append(spans, s.ValidFrom.In(loc).Format(clockLayout))
	}
	fmt.Fprintf(w, "%s\t%d slots\t%s\t\n", label, len(report.Slots), strings.Join(spans, " "))
}

func writeSlots(out io.Writer, today, tomorrow rates.Series, loc *time.Location) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	defer w.Flush()

	fmt.Fprintln(w, "Day\tFrom\tTo\tp/kWh\t")
	for _, part := range []struct {
		bucket rates.Bucket
		series rates.Series
	}{{rates.Today, today}, {rates.Tomorrow, tomorrow}} {
		for _, s := range part.series.Slots() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
				part.bucket, s.ValidFrom.In(loc).Format(clockLayout), s.ValidTo.In(loc).Format(clockLayout), price(s.Value))
		}
	}
}

func slotSpan(s rates.Slot, loc *time.Location) string {
	return s.ValidFrom.In(loc).Format(clockLayout) + "-" + s.ValidTo.In(loc).Format(clockLayout)
}

func price(v float64) string {
	return formatDecimal(decimal.NewFromFloat(v), 2) + "p"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
