package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/checkin/internal/cadence"
	"github.com/dukerupert/checkin/internal/model"
)

type ContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *ContactStore {
	return &ContactStore{db: db}
}

const contactCols = `id, user_id, name, cal_link, cadence, event_type_id, cal_owner_id,
	cal_owner_name, cal_avatar_url, generation, created_at, updated_at`

func scanContact(scanner interface{ Scan(...any) error }) (*model.Contact, error) {
	var c model.Contact
	var cad string
	err := scanner.Scan(&c.ID, &c.UserID, &c.Name, &c.CalLink, &cad, &c.EventTypeID, &c.CalOwnerID,
		&c.CalOwnerName, &c.CalAvatarURL, &c.Generation, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Cadence = cadence.Cadence(cad)
	return &c, nil
}

// Create inserts c with a fresh UUID and returns the stored row.
func (s *ContactStore) Create(c *model.Contact) (*model.Contact, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO contacts (id, user_id, name, cal_link, cadence, event_type_id, cal_owner_id,
			cal_owner_name, cal_avatar_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.UserID, c.Name, c.CalLink, string(c.Cadence), c.EventTypeID, c.CalOwnerID,
		c.CalOwnerName, c.CalAvatarURL, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	return s.GetByID(id)
}

func (s *ContactStore) GetByID(id string) (*model.Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactCols+` FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// GetForUser returns the contact only if userID owns it.
func (s *ContactStore) GetForUser(userID int64, id string) (*model.Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactCols+` FROM contacts WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (s *ContactStore) ListByUser(userID int64) ([]model.Contact, error) {
	rows, err := s.db.Query(
		`SELECT `+contactCols+` FROM contacts WHERE user_id = ? ORDER BY name COLLATE NOCASE, created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// UpdateSettings changes the user-editable fields. The link is immutable.
func (s *ContactStore) UpdateSettings(id, name string, c cadence.Cadence) (*model.Contact, error) {
	_, err := s.db.Exec(
		`UPDATE contacts SET name = ?, cadence = ?, updated_at = ? WHERE id = ?`,
		name, string(c), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	return s.GetByID(id)
}

// UpdateEventType refreshes the resolved event-type metadata.
func (s *ContactStore) UpdateEventType(id string, eventTypeID, ownerID int64, ownerName, avatarURL string) error {
	_, err := s.db.Exec(
		`UPDATE contacts SET event_type_id = ?, cal_owner_id = ?, cal_owner_name = ?, cal_avatar_url = ?, updated_at = ?
		 WHERE id = ?`,
		eventTypeID, ownerID, ownerName, avatarURL, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update contact event type: %w", err)
	}
	return nil
}

func (s *ContactStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}
