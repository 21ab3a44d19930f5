package model

import "time"

// Run states. pending is a cycle waiting for RunAt.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunDone      = "done"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// Run steps, in order. A run resumes from its recorded step after a crash.
const (
	StepWait     = "wait"
	StepBooked   = "booked"
	StepDeferred = "deferred"
	StepSaved    = "saved"
	StepEmitted  = "emitted"
)

// Run outcomes.
const (
	OutcomeBooked   = "booked"
	OutcomeDeferred = "deferred"
)

// Run is one durable scheduling cycle for a contact.
type Run struct {
	ID          int64      `json:"id"`
	ContactID   string     `json:"contact_id"`
	ParentID    *int64     `json:"parent_id,omitempty"`
	RunAt       time.Time  `json:"run_at"`
	Generation  int64      `json:"generation"`
	State       string     `json:"state"`
	Step        string     `json:"step"`
	Attempts    int        `json:"attempts"`
	LeaseUntil  *time.Time `json:"lease_until,omitempty"`
	LeaseToken  string     `json:"-"`
	Outcome     string     `json:"outcome,omitempty"`
	Booking     *Booking   `json:"booking,omitempty"`
	SearchStart *time.Time `json:"search_start,omitempty"`
	SearchEnd   *time.Time `json:"search_end,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Live reports whether the run can still do work.
func (r *Run) Live() bool {
	return r.State == RunPending || r.State == RunRunning
}
