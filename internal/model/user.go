package model

import "time"

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CalAPIKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAPIKey reports whether a Cal.com API key is set.
func (u *User) HasAPIKey() bool {
	return u.CalAPIKey != ""
}

// DisplayName is the attendee name used on bookings.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
