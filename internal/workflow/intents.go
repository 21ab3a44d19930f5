package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/checkin/internal/model"
)

// Schedule makes sure the contact has a cycle due at runAt.
func (e *Engine) Schedule(ctx context.Context, contactID string, runAt time.Time) (*model.Run, error) {
	r, err := e.runs.Enqueue(contactID, runAt)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", contactID, err)
	}
	e.logger.Info("cycle scheduled", "contact_id", contactID, "run_id", r.ID, "run_at", r.RunAt)
	return r, nil
}

// Cancel pre-empts every pending or running cycle of the contact. Running
// cycles stop at their next step.
func (e *Engine) Cancel(ctx context.Context, contactID string) error {
	gen, err := e.runs.Cancel(contactID)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", contactID, err)
	}
	e.logger.Info("cycles cancelled", "contact_id", contactID, "generation", gen)
	return nil
}

// RunNow runs one cycle for the contact synchronously, ignoring any wake
// time. Failures are returned to the caller rather than mailed.
func (e *Engine) RunNow(ctx context.Context, contactID string) (Outcome, error) {
	now := e.now()
	r, err := e.Schedule(ctx, contactID, now)
	if err != nil {
		return Outcome{}, err
	}
	claimed, err := e.runs.Claim(r.ID, now, e.cfg.Lease)
	if err != nil {
		return Outcome{}, err
	}
	if claimed == nil {
		return Outcome{}, ErrBusy
	}
	return e.execute(ctx, claimed, true)
}

// Dispatch routes a wire event to Schedule or Cancel. A schedule event
// without a run time is due immediately.
func (e *Engine) Dispatch(ctx context.Context, ev model.Event) error {
	if ev.Data.ContactID == "" {
		return fmt.Errorf("%s: missing contactId", ev.Name)
	}
	switch ev.Name {
	case model.EventScheduleMeeting:
		runAt := e.now()
		if ev.Data.RunTime != nil {
			runAt = *ev.Data.RunTime
		}
		_, err := e.Schedule(ctx, ev.Data.ContactID, runAt)
		return err
	case model.EventCancelScheduleMeeting:
		return e.Cancel(ctx, ev.Data.ContactID)
	}
	return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Name)
}
