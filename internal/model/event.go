package model

import "time"

// Wire names of scheduling intents.
const (
	EventScheduleMeeting       = "schedule-meeting"
	EventCancelScheduleMeeting = "cancel-schedule-meeting"
)

// Event is a scheduling intent as exchanged with an event bus.
type Event struct {
	Name string    `json:"name"`
	Data EventData `json:"data"`
}

type EventData struct {
	ContactID string     `json:"contactId"`
	RunTime   *time.Time `json:"runTime,omitempty"`
}
