package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/checkin/internal/cadence"
	"github.com/dukerupert/checkin/internal/calcom"
	"github.com/dukerupert/checkin/internal/email"
	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/notify"
	"github.com/dukerupert/checkin/internal/reconcile"
	"github.com/dukerupert/checkin/internal/store"
)

// subject is the contact a run works for, re-read at every cycle.
type subject struct {
	contact *model.Contact
	user    *model.User
}

// execute drives a claimed run to done, cancelled or failed. A context
// cancelled by shutdown leaves the run leased; it is picked up again once
// the lease expires.
func (e *Engine) execute(ctx context.Context, r *model.Run, attended bool) (Outcome, error) {
	logger := e.logger.With("run_id", r.ID, "contact_id", r.ContactID)
	logger.Debug("cycle started", "step", r.Step, "attempts", r.Attempts)

	out, subj, err := e.cycle(ctx, r, logger)
	switch {
	case err == nil:
		logger.Info("cycle finished", "outcome", out.Kind, "next_run_at", out.NextRunAt)
		return out, nil
	case ctx.Err() != nil:
		logger.Warn("cycle interrupted", "step", r.Step, "error", err)
		return out, err
	case errors.Is(err, store.ErrSuperseded):
		e.abandon(ctx, r, logger)
		return out, ErrCancelled
	}

	e.fail(ctx, r, subj, err, attended, logger)
	return out, err
}

func (e *Engine) cycle(ctx context.Context, r *model.Run, logger *slog.Logger) (Outcome, *subject, error) {
	subj, err := e.load(r)
	if err != nil {
		return Outcome{}, nil, err
	}

	// Resume from checkpoints left by an earlier attempt.
	switch r.Step {
	case model.StepBooked, model.StepSaved:
		if r.Booking != nil {
			out, err := e.persist(ctx, r, subj, logger)
			return out, subj, err
		}
	case model.StepDeferred:
		if r.NextRunAt != nil {
			out := Outcome{Kind: OutcomeDeferred, NextRunAt: *r.NextRunAt}
			if r.SearchStart != nil && r.SearchEnd != nil {
				out.WindowStart, out.WindowEnd = *r.SearchStart, *r.SearchEnd
			}
			out, err := e.finish(r, out)
			return out, subj, err
		}
	}

	apiKey := subj.user.CalAPIKey
	if apiKey == "" {
		return Outcome{}, subj, ErrMissingCredential
	}

	link, err := calcom.ParseLink(subj.contact.CalLink)
	if err != nil {
		return Outcome{}, subj, err
	}

	if err := e.retry(ctx, r, "get account info", func(ctx context.Context) error {
		_, err := e.gateway.GetAccountInfo(ctx, apiKey)
		return err
	}); err != nil {
		return Outcome{}, subj, err
	}

	var et calcom.EventType
	if err := e.retry(ctx, r, "lookup event type", func(ctx context.Context) error {
		var err error
		et, err = e.gateway.LookupEventType(ctx, link.Username, link.EventSlug)
		return err
	}); err != nil {
		return Outcome{}, subj, err
	}
	if err := e.refreshEventType(subj.contact, et, logger); err != nil {
		return Outcome{}, subj, err
	}

	start, end, err := cadence.ComputeWindow(subj.contact.Cadence, e.now())
	if err != nil {
		return Outcome{}, subj, err
	}
	if err := e.runs.RecordWindow(r, start, end); err != nil {
		return Outcome{}, subj, err
	}

	var (
		av    calcom.Availability
		slots map[string][]time.Time
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.retry(gctx, r, "list availability", func(ctx context.Context) error {
			var err error
			av, err = e.gateway.ListAvailability(ctx, apiKey, link.Username, start, end)
			return err
		})
	})
	g.Go(func() error {
		return e.retry(gctx, r, "list slots", func(ctx context.Context) error {
			var err error
			slots, err = e.gateway.ListSlots(ctx, apiKey, et.ID, start, end)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return Outcome{}, subj, err
	}

	ranges := make([]reconcile.Range, 0, len(av.Ranges))
	for _, ar := range av.Ranges {
		ranges = append(ranges, reconcile.Range{Start: ar.Start, End: ar.End, TimeZone: ar.TimeZone})
	}

	slot, ok := e.reconciler.Reconcile(slots, ranges, et.DurationMinutes)
	if !ok {
		out, err := e.deferCycle(r, subj, start, end, logger)
		return out, subj, err
	}

	// Last check before the side effect.
	if current, err := e.runs.Current(r); err != nil {
		return Outcome{}, subj, err
	} else if !current {
		return Outcome{}, subj, store.ErrSuperseded
	}

	// A booking may exist remotely after a timeout or 5xx, so only failures
	// Cal.com never acted on are retried. Anything else fails the cycle.
	var booking calcom.Booking
	if err := e.retryWhen(ctx, r, "create booking", calcom.IsRetrySafe, func(ctx context.Context) error {
		var err error
		booking, err = e.gateway.CreateBooking(ctx, apiKey, calcom.BookingRequest{
			EventTypeID:   et.ID,
			Start:         slot,
			AttendeeName:  subj.user.DisplayName(),
			AttendeeEmail: subj.user.Email,
		})
		return err
	}); err != nil {
		return Outcome{}, subj, err
	}

	r.Booking = &model.Booking{
		ContactID: r.ContactID,
		UserID:    subj.user.ID,
		CalID:     booking.ID,
		CalUID:    booking.UID,
		StartTime: booking.StartTime,
		EndTime:   booking.EndTime,
	}
	r.Step = model.StepBooked
	if err := e.runs.RecordBooking(r, r.Booking); err != nil {
		return Outcome{}, subj, err
	}
	logger.Info("booking created", "cal_id", booking.ID, "start", booking.StartTime)

	out, err := e.persist(ctx, r, subj, logger)
	return out, subj, err
}

// load re-reads the contact and its owner, failing with ErrSuperseded when
// the run is no longer current.
func (e *Engine) load(r *model.Run) (*subject, error) {
	current, err := e.runs.Current(r)
	if err != nil {
		return nil, err
	}
	if !current {
		return nil, store.ErrSuperseded
	}

	c, err := e.contacts.GetByID(r.ContactID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, store.ErrSuperseded
	}
	u, err := e.users.GetByID(c.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, store.ErrSuperseded
	}
	return &subject{contact: c, user: u}, nil
}

func (e *Engine) refreshEventType(c *model.Contact, et calcom.EventType, logger *slog.Logger) error {
	if et.ID == c.EventTypeID && et.OwnerID == c.CalOwnerID &&
		et.OwnerName == c.CalOwnerName && et.OwnerAvatarURL == c.CalAvatarURL {
		return nil
	}
	logger.Info("event type changed", "old_event_type_id", c.EventTypeID, "event_type_id", et.ID)
	if err := e.contacts.UpdateEventType(c.ID, et.ID, et.OwnerID, et.OwnerName, et.OwnerAvatarURL); err != nil {
		return err
	}
	c.EventTypeID = et.ID
	c.CalOwnerID = et.OwnerID
	c.CalOwnerName = et.OwnerName
	c.CalAvatarURL = et.OwnerAvatarURL
	return nil
}

// deferCycle records that the window had no usable slot and chains the next
// cycle a few days after the window closes.
func (e *Engine) deferCycle(r *model.Run, subj *subject, start, end time.Time, logger *slog.Logger) (Outcome, error) {
	next := end.AddDate(0, 0, e.jitterDays())
	if err := e.runs.RecordDeferred(r, next); err != nil {
		return Outcome{}, err
	}
	r.Step = model.StepDeferred

	logger.Warn("no slot found", "window_start", start, "window_end", end, "next_run_at", next)
	e.notifier.Notify(subj.user.ID, notify.Event{
		Entity:    notify.EntityCycle,
		Action:    notify.ActionDeferred,
		ContactID: r.ContactID,
		Extra: map[string]any{
			"window_start": start.UTC().Format(time.RFC3339),
			"window_end":   end.UTC().Format(time.RFC3339),
			"next_run_at":  next.UTC().Format(time.RFC3339),
		},
	})

	return e.finish(r, Outcome{Kind: OutcomeDeferred, WindowStart: start, WindowEnd: end, NextRunAt: next})
}

// persist saves the checkpointed booking and chains the next cycle.
func (e *Engine) persist(ctx context.Context, r *model.Run, subj *subject, logger *slog.Logger) (Outcome, error) {
	next := r.Booking.EndTime.AddDate(0, 0, e.jitterDays())
	if r.Step == model.StepSaved && r.NextRunAt != nil {
		next = *r.NextRunAt
	}

	saved, err := e.runs.SaveBooking(r, subj.user.ID, next)
	if err != nil {
		return Outcome{}, err
	}
	r.Step = model.StepSaved

	e.notifier.Notify(subj.user.ID, notify.Event{
		Entity:    notify.EntityBooking,
		Action:    notify.ActionCreated,
		ContactID: r.ContactID,
		Extra: map[string]any{
			"cal_id":      saved.CalID,
			"start_time":  saved.StartTime.UTC().Format(time.RFC3339),
			"end_time":    saved.EndTime.UTC().Format(time.RFC3339),
			"next_run_at": next.UTC().Format(time.RFC3339),
		},
	})

	return e.finish(r, Outcome{Kind: OutcomeBooked, Booking: saved, NextRunAt: next})
}

func (e *Engine) finish(r *model.Run, out Outcome) (Outcome, error) {
	next, err := e.runs.Finish(r, out.NextRunAt)
	if err != nil {
		return out, err
	}
	r.State = model.RunDone
	r.Step = model.StepEmitted
	out.NextRun = next
	return out, nil
}

// abandon stops a superseded run. A booking created but never saved is
// cancelled remotely since nothing else knows about it.
func (e *Engine) abandon(ctx context.Context, r *model.Run, logger *slog.Logger) {
	if err := e.runs.MarkCancelled(r); err != nil {
		logger.Error("mark run cancelled", "error", err)
	}
	logger.Info("cycle cancelled", "step", r.Step)

	if r.Step != model.StepBooked || r.Booking == nil {
		return
	}
	err := e.gateway.CancelBooking(ctx, r.Booking.CalUID)
	if err != nil && !errors.Is(err, calcom.ErrBookingGone) {
		logger.Error("cancel orphaned booking", "cal_uid", r.Booking.CalUID, "error", err)
		return
	}
	logger.Info("orphaned booking cancelled", "cal_uid", r.Booking.CalUID)
}

// fail marks the run failed. Unattended failures are reported to the user
// since scheduling with the contact has now stopped.
func (e *Engine) fail(ctx context.Context, r *model.Run, subj *subject, cause error, attended bool, logger *slog.Logger) {
	logger.Error("cycle failed", "step", r.Step, "transient", calcom.IsTransient(cause), "error", cause)
	if err := e.runs.Fail(r, cause.Error()); err != nil {
		logger.Error("mark run failed", "error", err)
	}
	if subj == nil || attended {
		return
	}

	e.notifier.Notify(subj.user.ID, notify.Event{
		Entity:    notify.EntityCycle,
		Action:    notify.ActionFailed,
		ContactID: r.ContactID,
		Extra:     map[string]any{"error": Describe(cause)},
	})

	if e.mailer == nil {
		return
	}
	err := e.mailer.SendCycleStopped(ctx, email.CycleStopped{
		To:          subj.user.Email,
		UserName:    subj.user.Name,
		ContactID:   subj.contact.ID,
		ContactName: subj.contact.Name,
		Reason:      Describe(cause),
	})
	if err != nil {
		logger.Warn("send failure email", "error", err)
	}
}

// retry runs fn, retrying transient Cal.com errors with capped exponential
// backoff. Each retry is recorded on the run and extends its lease.
func (e *Engine) retry(ctx context.Context, r *model.Run, step string, fn func(ctx context.Context) error) error {
	return e.retryWhen(ctx, r, step, calcom.IsTransient, fn)
}

func (e *Engine) retryWhen(ctx context.Context, r *model.Run, step string, retryable func(error) bool, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(e.cfg.RetryBase)
	b = retry.WithCappedDuration(e.cfg.RetryMax, b)
	b = retry.WithMaxRetries(uint64(e.cfg.MaxAttempts-1), b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		e.logger.Warn("step failed, retrying", "run_id", r.ID, "step", step, "error", err)
		if rerr := e.runs.RecordAttemptError(r, fmt.Sprintf("%s: %v", step, err)); rerr != nil {
			e.logger.Error("record attempt", "run_id", r.ID, "error", rerr)
		}
		if herr := e.runs.Heartbeat(r, e.now().Add(e.cfg.Lease)); herr != nil {
			e.logger.Error("extend lease", "run_id", r.ID, "error", herr)
		}
		return retry.RetryableError(err)
	})
}

// Describe turns a cycle error into a message fit for the user.
func Describe(err error) string {
	switch {
	case errors.Is(err, store.ErrContactNotFound):
		return "The contact no longer exists."
	case errors.Is(err, ErrMissingCredential):
		return "No Cal.com API key is set."
	case errors.Is(err, calcom.ErrAuthenticationFailed):
		return "Cal.com rejected the API key."
	case errors.Is(err, calcom.ErrEventTypeNotFound):
		return "The contact's Cal.com event type no longer exists."
	case errors.Is(err, calcom.ErrMalformedLink):
		return "The contact's Cal.com link is not valid."
	case errors.Is(err, cadence.ErrInvalidCadence):
		return "The contact's cadence is not valid."
	case errors.Is(err, calcom.ErrUnavailable):
		return "Cal.com could not be reached."
	case errors.Is(err, calcom.ErrContractViolation):
		return "Cal.com sent an unexpected response."
	}
	return "An unexpected error occurred."
}
