package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/notify"
	"github.com/dukerupert/checkin/internal/store"
)

// Sender delivers a payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

// Notifier turns booking and failure events into push messages for every
// device the user subscribed. Deferrals are not pushed.
type Notifier struct {
	sender   Sender
	subs     *store.PushStore
	contacts *store.ContactStore
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewNotifier(sender Sender, subs *store.PushStore, contacts *store.ContactStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		subs:     subs,
		contacts: contacts,
		logger:   logger.With("component", "push"),
		timeout:  30 * time.Second,
	}
}

// Notify sends in the background so the engine never waits on push services.
func (n *Notifier) Notify(userID int64, e notify.Event) {
	if !pushable(e) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		n.deliver(ctx, userID, e)
	}()
}

// Wait blocks until every pending delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func pushable(e notify.Event) bool {
	switch e.Type() {
	case "booking_created", "booking_cancelled", "cycle_failed":
		return true
	}
	return false
}

func (n *Notifier) deliver(ctx context.Context, userID int64, e notify.Event) {
	logger := n.logger.With("user_id", userID, "contact_id", e.ContactID, "event", e.Type())

	subs, err := n.subs.ListByUser(userID)
	if err != nil {
		logger.Error("list subscriptions", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	name := "your contact"
	if c, err := n.contacts.GetByID(e.ContactID); err != nil {
		logger.Warn("look up contact", "error", err)
	} else if c != nil {
		name = c.Name
	}
	payload := buildPayload(name, e)

	for i := range subs {
		sub := &subs[i]
		err := n.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			logger.Debug("push sent", "subscription_id", sub.ID)
		case errors.Is(err, ErrExpired):
			logger.Info("removing expired subscription", "subscription_id", sub.ID)
			if err := n.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
				logger.Error("delete expired subscription", "error", err)
			}
		default:
			logger.Warn("push failed", "subscription_id", sub.ID, "error", err)
		}
	}
}

func buildPayload(name string, e notify.Event) Payload {
	p := Payload{
		URL: "/contacts/" + e.ContactID,
		Tag: "contact-" + e.ContactID,
	}
	switch e.Type() {
	case "booking_created":
		p.Title = "Check-in booked"
		p.Body = "Check-in with " + name
		if s, ok := e.Extra["start_time"].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				p.Body += " on " + t.Format("Mon Jan 2, 15:04 MST")
			}
		}
	case "booking_cancelled":
		p.Title = "Check-in cancelled"
		p.Body = "The upcoming check-in with " + name + " was cancelled"
	case "cycle_failed":
		p.Title = "Check-in not scheduled"
		p.Body = fmt.Sprintf("Could not book a check-in with %s", name)
		if msg, ok := e.Extra["error"].(string); ok && msg != "" {
			p.Body += ": " + msg
		}
	}
	return p
}
