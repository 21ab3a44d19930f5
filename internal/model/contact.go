package model

import (
	"time"

	"github.com/dukerupert/checkin/internal/cadence"
)

type Contact struct {
	ID           string          `json:"id"`
	UserID       int64           `json:"user_id"`
	Name         string          `json:"name"`
	CalLink      string          `json:"cal_link"`
	Cadence      cadence.Cadence `json:"cadence"`
	EventTypeID  int64           `json:"event_type_id"`
	CalOwnerID   int64           `json:"cal_owner_id"`
	CalOwnerName string          `json:"cal_owner_name"`
	CalAvatarURL string          `json:"cal_avatar_url"`
	Generation   int64           `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Bookings     []Booking       `json:"bookings,omitempty"`
}
