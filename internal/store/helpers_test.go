package store

import (
	"database/sql"
	"testing"

	"github.com/dukerupert/checkin/internal/cadence"
	"github.com/dukerupert/checkin/internal/database"
	"github.com/dukerupert/checkin/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB) *model.User {
	t.Helper()
	u, err := NewUserStore(db, nil).Create("alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createTestContact(t *testing.T, db *sql.DB, userID int64) *model.Contact {
	t.Helper()
	c, err := NewContactStore(db).Create(&model.Contact{
		UserID:       userID,
		Name:         "Bob",
		CalLink:      "https://cal.com/bob/30min",
		Cadence:      cadence.Weekly,
		EventTypeID:  42,
		CalOwnerID:   7,
		CalOwnerName: "Bob",
	})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	return c
}
