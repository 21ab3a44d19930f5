package store

import (
	"testing"
	"time"

	"github.com/dukerupert/checkin/internal/model"
)

func TestBookingUpsertIdempotent(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db)
	c := createTestContact(t, db, u.ID)
	bs := NewBookingStore(db)

	b := &model.Booking{
		ContactID: c.ID,
		UserID:    u.ID,
		CalID:     99,
		CalUID:    "abc",
		StartTime: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC),
	}
	first, err := bs.Upsert(b)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := bs.Upsert(b)
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %d vs %d", first.ID, second.ID)
	}

	all, err := bs.ListByContact(c.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	if !all[0].StartTime.Equal(b.StartTime) {
		t.Errorf("start = %v, want %v", all[0].StartTime, b.StartTime)
	}
}

func TestBookingListUpcoming(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db)
	c := createTestContact(t, db, u.ID)
	bs := NewBookingStore(db)

	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	for i, start := range []time.Time{now.AddDate(0, 0, -3), now.AddDate(0, 0, 4)} {
		_, err := bs.Upsert(&model.Booking{
			ContactID: c.ID, UserID: u.ID, CalID: int64(i + 1), CalUID: "u",
			StartTime: start, EndTime: start.Add(30 * time.Minute),
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	upcoming, err := bs.ListUpcoming(c.ID, now)
	if err != nil {
		t.Fatalf("list upcoming: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].CalID != 2 {
		t.Fatalf("upcoming = %+v", upcoming)
	}

	if err := bs.Delete(upcoming[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := bs.GetByCalID(2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("booking should be deleted")
	}
}
