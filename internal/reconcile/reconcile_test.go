package reconcile

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestReconcileScenario(t *testing.T) {
	slots := map[string][]time.Time{
		"2024-01-07": {
			mustTime(t, "2024-01-07T09:00:00Z"),
			mustTime(t, "2024-01-07T09:30:00Z"),
			mustTime(t, "2024-01-07T14:00:00Z"),
		},
	}
	ranges := []Range{{
		Start: mustTime(t, "2024-01-07T09:00:00Z"),
		End:   mustTime(t, "2024-01-07T17:00:00Z"),
	}}

	for seed := uint64(0); seed < 20; seed++ {
		got, ok := New(seed).Reconcile(slots, ranges, 30)
		if !ok {
			t.Fatalf("seed %d: expected a slot", seed)
		}
		// Single range: the first slot in provider order always wins.
		if want := mustTime(t, "2024-01-07T09:00:00Z"); !got.Equal(want) {
			t.Errorf("seed %d: got %v, want %v", seed, got, want)
		}
	}
}

func TestReconcileDeterministic(t *testing.T) {
	slots := map[string][]time.Time{
		"2024-01-07": {mustTime(t, "2024-01-07T09:00:00Z"), mustTime(t, "2024-01-07T15:00:00Z")},
		"2024-01-08": {mustTime(t, "2024-01-08T10:00:00Z")},
		"2024-01-09": {mustTime(t, "2024-01-09T11:00:00Z")},
	}
	ranges := []Range{
		{Start: mustTime(t, "2024-01-07T08:00:00Z"), End: mustTime(t, "2024-01-07T12:00:00Z")},
		{Start: mustTime(t, "2024-01-07T14:00:00Z"), End: mustTime(t, "2024-01-07T18:00:00Z")},
		{Start: mustTime(t, "2024-01-08T09:00:00Z"), End: mustTime(t, "2024-01-08T12:00:00Z")},
		{Start: mustTime(t, "2024-01-09T09:00:00Z"), End: mustTime(t, "2024-01-09T12:00:00Z")},
	}

	for seed := uint64(0); seed < 10; seed++ {
		a, aok := New(seed).Reconcile(slots, ranges, 30)
		b, bok := New(seed).Reconcile(slots, ranges, 30)
		if aok != bok || !a.Equal(b) {
			t.Errorf("seed %d: got (%v, %v) and (%v, %v)", seed, a, aok, b, bok)
		}
	}
}

func TestReconcileSpreadsAcrossRanges(t *testing.T) {
	slots := map[string][]time.Time{
		"2024-01-07": {mustTime(t, "2024-01-07T09:00:00Z")},
		"2024-01-08": {mustTime(t, "2024-01-08T09:00:00Z")},
	}
	ranges := []Range{
		{Start: mustTime(t, "2024-01-07T08:00:00Z"), End: mustTime(t, "2024-01-07T12:00:00Z")},
		{Start: mustTime(t, "2024-01-08T08:00:00Z"), End: mustTime(t, "2024-01-08T12:00:00Z")},
	}

	seen := map[time.Time]bool{}
	for seed := uint64(0); seed < 64; seed++ {
		got, ok := New(seed).Reconcile(slots, ranges, 30)
		if !ok {
			t.Fatalf("seed %d: expected a slot", seed)
		}
		seen[got] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected both ranges to be chosen across seeds, got %v", seen)
	}
}

func TestReconcileResultInsideSomeRange(t *testing.T) {
	slots := map[string][]time.Time{
		"2024-01-07": {
			mustTime(t, "2024-01-07T07:00:00Z"),
			mustTime(t, "2024-01-07T11:45:00Z"),
			mustTime(t, "2024-01-07T16:40:00Z"),
			mustTime(t, "2024-01-07T16:30:00Z"),
		},
	}
	ranges := []Range{
		{Start: mustTime(t, "2024-01-07T09:00:00Z"), End: mustTime(t, "2024-01-07T12:00:00Z")},
		{Start: mustTime(t, "2024-01-07T13:00:00Z"), End: mustTime(t, "2024-01-07T17:00:00Z")},
	}
	duration := 30

	for seed := uint64(0); seed < 50; seed++ {
		got, ok := New(seed).Reconcile(slots, ranges, duration)
		if !ok {
			t.Fatalf("seed %d: expected a slot", seed)
		}
		inside := false
		for _, rg := range ranges {
			end := got.Add(time.Duration(duration) * time.Minute)
			if !rg.Start.After(got) && !rg.End.Before(end) {
				inside = true
			}
		}
		if !inside {
			t.Errorf("seed %d: slot %v fits no range", seed, got)
		}
	}
}

func TestReconcileEmpty(t *testing.T) {
	slot := mustTime(t, "2024-01-07T09:00:00Z")
	rg := Range{Start: mustTime(t, "2024-01-07T08:00:00Z"), End: mustTime(t, "2024-01-07T10:00:00Z")}

	tests := []struct {
		name   string
		slots  map[string][]time.Time
		ranges []Range
	}{
		{"no slots", map[string][]time.Time{}, []Range{rg}},
		{"nil slots", nil, []Range{rg}},
		{"empty day", map[string][]time.Time{"2024-01-07": {}}, []Range{rg}},
		{"no ranges", map[string][]time.Time{"2024-01-07": {slot}}, nil},
		{"no overlap", map[string][]time.Time{"2024-01-07": {slot}}, []Range{{
			Start: mustTime(t, "2024-01-08T08:00:00Z"),
			End:   mustTime(t, "2024-01-08T10:00:00Z"),
		}}},
		{"slot overruns range end", map[string][]time.Time{"2024-01-07": {mustTime(t, "2024-01-07T09:45:00Z")}}, []Range{rg}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := New(1).Reconcile(tt.slots, tt.ranges, 30); ok {
				t.Errorf("expected no slot, got %v", got)
			}
		})
	}
}

func TestFlattenOrder(t *testing.T) {
	slots := map[string][]time.Time{
		"2024-01-09": {mustTime(t, "2024-01-09T10:00:00Z")},
		"2024-01-07": {mustTime(t, "2024-01-07T14:00:00Z"), mustTime(t, "2024-01-07T09:00:00Z")},
	}

	got := Flatten(slots)
	want := []time.Time{
		mustTime(t, "2024-01-07T14:00:00Z"),
		mustTime(t, "2024-01-07T09:00:00Z"),
		mustTime(t, "2024-01-09T10:00:00Z"),
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
