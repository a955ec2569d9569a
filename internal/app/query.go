package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"agilewatch/internal/analysis"
)

// Cheapest ranks slots of one day bucket and, when Minutes is set, also prints
// the cheapest window of that length.
func (a *App) Cheapest(ctx context.Context, opts CheapestOptions) error {
	eng, err := a.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	a.load(ctx, eng)

	snap := eng.store.Snapshot()
	series := snap.Series(opts.Day, time.Now())
	if series.Empty() {
		return fmt.Errorf("no rates available for %s", opts.Day)
	}

	mode := analysis.Cheapest
	if opts.Expensive {
		mode = analysis.MostExpensive
	}
	sel, err := analysis.Rank(series, opts.NumSlots, opts.Consecutive, mode)
	if err != nil {
		return err
	}
	writeSelection(os.Stdout, mode, sel, snap.Location())

	if opts.Minutes > 0 {
		win, ok, err := analysis.FindCheapestWindow(series, time.Duration(opts.Minutes)*time.Minute)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(os.Stdout, "\nno %d minute window available for %s\n", opts.Minutes, opts.Day)
			return nil
		}
		fmt.Fprintf(os.Stdout, "\ncheapest %d minute window: %s-%s avg %s\n",
			opts.Minutes,
			win.Start.In(snap.Location()).Format(clockLayout),
			win.End.In(snap.Location()).Format(clockLayout),
			price(win.Average))
	}
	return nil
}

func writeSelection(out io.Writer, mode analysis.Mode, sel analysis.Selection, loc *time.Location) {
	if !sel.Found {
		fmt.Fprintf(out, "no run of %d consecutive slots available\n", sel.Requested)
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Rank (%s)\tFrom\tTo\tp/kWh\n", mode)
	for i, s := range sel.Slots {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, s.ValidFrom.In(loc).Format(clockLayout), s.ValidTo.In(loc).Format(clockLayout), price(s.Value))
	}
	w.Flush()

	fmt.Fprintf(out, "total %s, average %s\n", price(sel.Total), price(sel.Average))
	if sel.Partial {
		fmt.Fprintf(out, "only %d of %d requested slots available\n", len(sel.Slots), sel.Requested)
	}
}

