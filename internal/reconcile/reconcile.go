// Package reconcile picks a single bookable start time from the slots a
// calendar reports as free and the ranges its owner declared as available.
package reconcile

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"
)

// Range is an interval during which the contact is available.
type Range struct {
	Start    time.Time
	End      time.Time
	TimeZone string
}

// Reconciler selects a slot. Ranges are tried in shuffled order so repeated
// bookings spread across availability blocks; slots keep provider order.
type Reconciler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Reconciler whose shuffle is fully determined by seed.
func New(seed uint64) *Reconciler {
	return &Reconciler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandom returns a Reconciler seeded from crypto/rand.
func NewRandom() *Reconciler {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return New(uint64(time.Now().UnixNano()))
	}
	return New(binary.LittleEndian.Uint64(b[:]))
}

// Reconcile returns the first slot s, scanning ranges in shuffled order, for
// which range.Start <= s and s+duration <= range.End. The second return
// value is false when there are no ranges, no slots, or no match.
func (r *Reconciler) Reconcile(slotsByDay map[string][]time.Time, ranges []Range, durationMinutes int) (time.Time, bool) {
	if len(ranges) == 0 {
		return time.Time{}, false
	}
	candidates := Flatten(slotsByDay)
	if len(candidates) == 0 {
		return time.Time{}, false
	}

	shuffled := slices.Clone(ranges)
	r.mu.Lock()
	r.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	r.mu.Unlock()

	duration := time.Duration(durationMinutes) * time.Minute
	for _, rg := range shuffled {
		for _, s := range candidates {
			if !rg.Start.After(s) && !rg.End.Before(s.Add(duration)) {
				return s, true
			}
		}
	}
	return time.Time{}, false
}

// Flatten joins the per-day slot lists into one sequence. Day keys are
// visited in sorted order so the result does not depend on map iteration.
func Flatten(slotsByDay map[string][]time.Time) []time.Time {
	days := make([]string, 0, len(slotsByDay))
	n := 0
	for day, slots := range slotsByDay {
		days = append(days, day)
		n += len(slots)
	}
	sort.Strings(days)

	out := make([]time.Time, 0, n)
	for _, day := range days {
		out = append(out, slotsByDay[day]...)
	}
	return out
}
