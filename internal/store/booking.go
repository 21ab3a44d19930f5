package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/checkin/internal/model"
)

type BookingStore struct {
	db *sql.DB
}

func NewBookingStore(db *sql.DB) *BookingStore {
	return &BookingStore{db: db}
}

const bookingCols = `id, contact_id, user_id, cal_id, cal_uid, start_time, end_time, created_at`

func scanBooking(scanner interface{ Scan(...any) error }) (*model.Booking, error) {
	var b model.Booking
	err := scanner.Scan(&b.ID, &b.ContactID, &b.UserID, &b.CalID, &b.CalUID, &b.StartTime, &b.EndTime, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Upsert saves b keyed by its remote id, so replaying a saved step is harmless.
func (s *BookingStore) Upsert(b *model.Booking) (*model.Booking, error) {
	return upsertBooking(s.db, b)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func upsertBooking(q execer, b *model.Booking) (*model.Booking, error) {
	_, err := q.Exec(
		`INSERT INTO bookings (contact_id, user_id, cal_id, cal_uid, start_time, end_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cal_id) DO UPDATE SET cal_uid = excluded.cal_uid,
			start_time = excluded.start_time, end_time = excluded.end_time`,
		b.ContactID, b.UserID, b.CalID, b.CalUID, b.StartTime.UTC(), b.EndTime.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert booking: %w", err)
	}
	row := q.QueryRow(`SELECT `+bookingCols+` FROM bookings WHERE cal_id = ?`, b.CalID)
	saved, err := scanBooking(row)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return saved, nil
}

func (s *BookingStore) GetByCalID(calID int64) (*model.Booking, error) {
	row := s.db.QueryRow(`SELECT `+bookingCols+` FROM bookings WHERE cal_id = ?`, calID)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *BookingStore) ListByContact(contactID string) ([]model.Booking, error) {
	return s.list(`SELECT `+bookingCols+` FROM bookings WHERE contact_id = ? ORDER BY start_time`, contactID)
}

// ListUpcoming returns bookings of a contact starting at or after now.
func (s *BookingStore) ListUpcoming(contactID string, now time.Time) ([]model.Booking, error) {
	return s.list(
		`SELECT `+bookingCols+` FROM bookings WHERE contact_id = ? AND start_time >= ? ORDER BY start_time`,
		contactID, now.UTC(),
	)
}

func (s *BookingStore) list(query string, args ...any) ([]model.Booking, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (s *BookingStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	return nil
}
