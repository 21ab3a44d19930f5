package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/checkin/internal/store"
	"github.com/dukerupert/checkin/internal/workflow"
)

type CycleRunCmd struct {
	Contact string `required:"" help:"Contact ID."`
}

func (c *CycleRunCmd) Run(app *App) error {
	db, box, err := app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	cfg := app.Config
	engine := workflow.New(workflow.Config{
		Lease:       cfg.Lease,
		MaxAttempts: cfg.MaxAttempts,
		RetryBase:   cfg.RetryBase,
		RetryMax:    cfg.RetryMax,
	}, store.NewRunStore(db), store.NewContactStore(db), store.NewUserStore(db, box), app.calcomClient(),
		workflow.WithLogger(app.Logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := engine.RunNow(ctx, c.Contact)
	if err != nil {
		return fmt.Errorf("%s: %w", workflow.Describe(err), err)
	}

	switch out.Kind {
	case workflow.OutcomeBooked:
		fmt.Printf("Booked %s - %s\n", out.Booking.StartTime.Format(time.RFC1123), out.Booking.EndTime.Format(time.Kitchen))
	case workflow.OutcomeDeferred:
		fmt.Printf("No free slot between %s and %s\n", out.WindowStart.Format(time.DateOnly), out.WindowEnd.Format(time.DateOnly))
	}
	fmt.Printf("Next cycle at %s\n", out.NextRunAt.Format(time.RFC1123))
	return nil
}
