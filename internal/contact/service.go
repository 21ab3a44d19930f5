// Package contact coordinates contact changes with the booking workflow.
package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/dukerupert/checkin/internal/cadence"
	"github.com/dukerupert/checkin/internal/calcom"
	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/notify"
	"github.com/dukerupert/checkin/internal/store"
	"github.com/dukerupert/checkin/internal/workflow"
)

var (
	// ErrNotFound is returned when the contact does not exist or belongs to another user.
	ErrNotFound = errors.New("contact not found")
	// ErrInvalidName is returned for an empty display name.
	ErrInvalidName = errors.New("name is required")
)

// Scheduler is the part of the workflow engine the service drives.
type Scheduler interface {
	Schedule(ctx context.Context, contactID string, runAt time.Time) (*model.Run, error)
	Cancel(ctx context.Context, contactID string) error
	RunNow(ctx context.Context, contactID string) (workflow.Outcome, error)
}

// Gateway is the part of the Cal.com client the service needs.
type Gateway interface {
	LookupEventType(ctx context.Context, username, eventSlug string) (calcom.EventType, error)
	CancelBooking(ctx context.Context, uid string) error
}

type Service struct {
	contacts  *store.ContactStore
	bookings  *store.BookingStore
	users     *store.UserStore
	scheduler Scheduler
	gateway   Gateway
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(contacts *store.ContactStore, bookings *store.BookingStore, users *store.UserStore,
	scheduler Scheduler, gw Gateway, notifier notify.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		contacts:  contacts,
		bookings:  bookings,
		users:     users,
		scheduler: scheduler,
		gateway:   gw,
		notifier:  notifier,
		logger:    logger.With("component", "contact"),
		now:       time.Now,
	}
}

type CreateInput struct {
	Name    string
	CalLink string
	Cadence cadence.Cadence
}

type UpdateInput struct {
	Name    string
	Cadence cadence.Cadence
}

// Create registers a contact and books the first check-in right away. If the
// first cycle fails the contact is removed again and the error returned.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (*model.Contact, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if !in.Cadence.Valid() {
		return nil, fmt.Errorf("%w: %q", cadence.ErrInvalidCadence, in.Cadence)
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.HasAPIKey() {
		return nil, workflow.ErrMissingCredential
	}

	link, err := calcom.ParseLink(in.CalLink)
	if err != nil {
		return nil, err
	}
	et, err := s.gateway.LookupEventType(ctx, link.Username, link.EventSlug)
	if err != nil {
		return nil, err
	}

	c, err := s.contacts.Create(&model.Contact{
		UserID:       userID,
		Name:         name,
		CalLink:      link.String(),
		Cadence:      in.Cadence,
		EventTypeID:  et.ID,
		CalOwnerID:   et.OwnerID,
		CalOwnerName: et.OwnerName,
		CalAvatarURL: et.OwnerAvatarURL,
	})
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("contact_id", c.ID, "user_id", userID)

	out, err := s.scheduler.RunNow(ctx, c.ID)
	if err != nil {
		if derr := s.contacts.Delete(c.ID); derr != nil {
			logger.Error("remove contact after failed first cycle", "error", derr)
		}
		logger.Warn("contact rejected", "error", err)
		return nil, fmt.Errorf("schedule first check-in: %w", err)
	}
	logger.Info("contact created", "outcome", out.Kind)

	return s.withBookings(c)
}

// Update saves name and cadence. A cadence change cancels the current cycle
// and any upcoming booking, then schedules a fresh cycle to run right away.
func (s *Service) Update(ctx context.Context, userID int64, contactID string, in UpdateInput) (*model.Contact, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if !in.Cadence.Valid() {
		return nil, fmt.Errorf("%w: %q", cadence.ErrInvalidCadence, in.Cadence)
	}

	c, err := s.contacts.GetForUser(userID, contactID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}

	updated, err := s.contacts.UpdateSettings(c.ID, name, in.Cadence)
	if err != nil {
		return nil, err
	}
	if in.Cadence == c.Cadence {
		return s.withBookings(updated)
	}

	logger := s.logger.With("contact_id", c.ID, "user_id", userID)
	logger.Info("cadence changed", "from", c.Cadence, "to", in.Cadence)

	if err := s.scheduler.Cancel(ctx, c.ID); err != nil {
		return nil, err
	}
	cancelErr := s.cancelUpcoming(ctx, updated, logger)
	if _, err := s.scheduler.Schedule(ctx, c.ID, s.now()); err != nil {
		return nil, multierr.Append(cancelErr, err)
	}
	if cancelErr != nil {
		return nil, cancelErr
	}

	return s.withBookings(updated)
}

// Delete stops scheduling, cancels upcoming bookings and removes the contact.
// Bookings that cannot be cancelled remotely are logged, not fatal.
func (s *Service) Delete(ctx context.Context, userID int64, contactID string) error {
	c, err := s.contacts.GetForUser(userID, contactID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	logger := s.logger.With("contact_id", c.ID, "user_id", userID)

	if err := s.scheduler.Cancel(ctx, c.ID); err != nil {
		return err
	}
	if err := s.cancelUpcoming(ctx, c, logger); err != nil {
		logger.Warn("upcoming bookings left in place", "count", len(multierr.Errors(err)), "error", err)
	}
	if err := s.contacts.Delete(c.ID); err != nil {
		return err
	}
	logger.Info("contact deleted")
	return nil
}

// Get returns the user's contact with its bookings.
func (s *Service) Get(ctx context.Context, userID int64, contactID string) (*model.Contact, error) {
	c, err := s.contacts.GetForUser(userID, contactID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return s.withBookings(c)
}

// List returns the user's contacts with their bookings.
func (s *Service) List(ctx context.Context, userID int64) ([]model.Contact, error) {
	contacts, err := s.contacts.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		b, err := s.bookings.ListByContact(contacts[i].ID)
		if err != nil {
			return nil, err
		}
		contacts[i].Bookings = b
	}
	return contacts, nil
}

func (s *Service) withBookings(c *model.Contact) (*model.Contact, error) {
	b, err := s.bookings.ListByContact(c.ID)
	if err != nil {
		return nil, err
	}
	c.Bookings = b
	return c, nil
}

// cancelUpcoming cancels every upcoming booking of c remotely and drops its
// row. A booking already gone remotely counts as cancelled; other failures
// keep the row and are combined into the returned error.
func (s *Service) cancelUpcoming(ctx context.Context, c *model.Contact, logger *slog.Logger) error {
	upcoming, err := s.bookings.ListUpcoming(c.ID, s.now())
	if err != nil {
		return err
	}

	var errs error
	for _, b := range upcoming {
		err := s.gateway.CancelBooking(ctx, b.CalUID)
		if err != nil && !errors.Is(err, calcom.ErrBookingGone) {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := s.bookings.Delete(b.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		logger.Info("booking cancelled", "cal_uid", b.CalUID, "start", b.StartTime)
		s.notifier.Notify(c.UserID, notify.Event{
			Entity:    notify.EntityBooking,
			Action:    notify.ActionCancelled,
			ContactID: c.ID,
			Extra:     map[string]any{"cal_id": b.CalID},
		})
	}
	return errs
}
