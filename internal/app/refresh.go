package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"agilewatch/internal/notify"
	"agilewatch/internal/rates"
	"agilewatch/internal/service"
)

// Refresh forces a fetch of one day bucket, persisting and notifying like the
// running service would.
func (a *App) Refresh(ctx context.Context, day rates.Bucket) error {
	eng, err := a.newEngine(ctx, engineOptions{notify: true})
	if err != nil {
		return err
	}
	defer eng.Close()

	outcome, err := eng.svc.Refresh(ctx, day, true)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", day, err)
	}

	rec := eng.store.Snapshot().Bucket(day, time.Now())
	expected := service.ExpectedSlots(rec.Date, eng.svc.Location(), a.Config.SlotLength())
	fmt.Fprintf(os.Stdout, "%s (%s): %s, %d/%d slots\n",
		day, rec.Date.Format("2006-01-02"), outcome, rec.Series.Len(), expected)
	return nil
}

// NotifyTest sends the current today series through every configured sink.
func (a *App) NotifyTest(ctx context.Context) error {
	eng, err := a.newEngine(ctx, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	a.load(ctx, eng)

	now := time.Now()
	rec := eng.store.Snapshot().Bucket(rates.Today, now)
	if !rec.HasSeries {
		return errors.New("no rates available for today; nothing to send")
	}

	loc := eng.svc.Location()
	notifier, closeNotifier, err := a.newNotifier(loc)
	if err != nil {
		return err
	}
	defer closeNotifier()

	change := notify.NewChange(rates.Today, rec.Date, rec.Series, rec.LastSuccessAt,
		service.ExpectedSlots(rec.Date, loc, a.Config.SlotLength()))
	if err := notifier.NotifyChange(ctx, change); err != nil {
		return fmt.Errorf("send test notification: %w", err)
	}
	a.Logger.Info().Str("id", change.ID).Msg("test notification sent")
	return nil
}
