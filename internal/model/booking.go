package model

import "time"

type Booking struct {
	ID        int64     `json:"id"`
	ContactID string    `json:"contact_id"`
	UserID    int64     `json:"user_id"`
	CalID     int64     `json:"cal_id"`
	CalUID    string    `json:"cal_uid"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
}

// Upcoming reports whether the booking starts at or after now.
func (b *Booking) Upcoming(now time.Time) bool {
	return !b.StartTime.Before(now)
}
