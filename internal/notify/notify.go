// Package notify carries scheduling observations from the engine to whoever
// is listening for a user.
package notify

// Event entities and actions.
const (
	EntityBooking = "booking"
	EntityCycle   = "cycle"

	ActionCreated   = "created"
	ActionCancelled = "cancelled"
	ActionDeferred  = "deferred"
	ActionFailed    = "failed"
)

// Event is one observation about a contact's scheduling.
type Event struct {
	Entity    string
	Action    string
	ContactID string
	Extra     map[string]any
}

// Type is the wire name, e.g. "booking_created".
func (e Event) Type() string {
	return e.Entity + "_" + e.Action
}

// Notifier delivers events to a user.
type Notifier interface {
	Notify(userID int64, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(int64, Event) {}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(userID int64, e Event) {
	for _, n := range m {
		n.Notify(userID, e)
	}
}
