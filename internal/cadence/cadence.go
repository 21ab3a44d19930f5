// Package cadence maps a check-in frequency to the future window in which
// the next meeting is searched for.
package cadence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCadence is returned for values outside the known set.
var ErrInvalidCadence = errors.New("invalid cadence")

// Cadence is a named check-in frequency.
type Cadence string

const (
	Weekly    Cadence = "weekly"
	Biweekly  Cadence = "biweekly"
	Monthly   Cadence = "monthly"
	Quarterly Cadence = "quarterly"
	Biyearly  Cadence = "biyearly"
	Yearly    Cadence = "yearly"
)

type offsets struct {
	minDays int
	maxDays int
	label   string
}

var table = map[Cadence]offsets{
	Weekly:    {6, 10, "Weekly-ish"},
	Biweekly:  {12, 18, "Bi-weekly-ish"},
	Monthly:   {28, 34, "Monthly-ish"},
	Quarterly: {80, 100, "Quarterly-ish"},
	Biyearly:  {160, 200, "Twice a year-ish"},
	Yearly:    {340, 390, "Yearly-ish"},
}

// All returns every cadence, shortest first.
func All() []Cadence {
	return []Cadence{Weekly, Biweekly, Monthly, Quarterly, Biyearly, Yearly}
}

// Parse accepts the lower-case names and their upper-case forms (WEEKLY).
func Parse(s string) (Cadence, error) {
	c := Cadence(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCadence, s)
	}
	return c, nil
}

// Valid reports whether c is one of the known cadences.
func (c Cadence) Valid() bool {
	_, ok := table[c]
	return ok
}

// Label returns the human-readable name shown to users.
func (c Cadence) Label() string {
	if o, ok := table[c]; ok {
		return o.label
	}
	return string(c)
}

// Days returns the (minDays, maxDays) offsets for c.
func (c Cadence) Days() (int, int, error) {
	o, ok := table[c]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCadence, string(c))
	}
	return o.minDays, o.maxDays, nil
}

// ComputeWindow returns the search window [now+minDays, now+maxDays].
func ComputeWindow(c Cadence, now time.Time) (start, end time.Time, err error) {
	minDays, maxDays, err := c.Days()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return now.AddDate(0, 0, minDays), now.AddDate(0, 0, maxDays), nil
}
