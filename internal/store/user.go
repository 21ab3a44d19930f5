package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/secret"
)

// UserStore persists users. Cal.com API keys pass through box on the way in
// and out; a nil box stores them as given.
type UserStore struct {
	db  *sql.DB
	box *secret.Box
}

func NewUserStore(db *sql.DB, box *secret.Box) *UserStore {
	return &UserStore{db: db, box: box}
}

const userCols = `id, email, name, cal_api_key, created_at, updated_at`

func (s *UserStore) scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var key sql.NullString
	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &key, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if key.Valid {
		plain, err := s.box.Open(key.String)
		if err != nil {
			return nil, fmt.Errorf("open api key for user %d: %w", u.ID, err)
		}
		u.CalAPIKey = plain
	}
	return &u, nil
}

func (s *UserStore) Create(email, name string) (*model.User, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO users (email, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		email, name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := s.scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := s.scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// GetByTokenHash finds the user owning an access token.
func (s *UserStore) GetByTokenHash(hash string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE token_hash = ?`, hash)
	u, err := s.scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by token: %w", err)
	}
	return u, nil
}

func (s *UserStore) Update(id int64, email, name string) (*model.User, error) {
	_, err := s.db.Exec(
		`UPDATE users SET email = ?, name = ?, updated_at = ? WHERE id = ?`,
		email, name, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByID(id)
}

// SetAPIKey stores the Cal.com API key. An empty key clears it.
func (s *UserStore) SetAPIKey(id int64, apiKey string) error {
	var value any
	if apiKey != "" {
		sealed, err := s.box.Seal(apiKey)
		if err != nil {
			return fmt.Errorf("seal api key: %w", err)
		}
		value = sealed
	}
	_, err := s.db.Exec(
		`UPDATE users SET cal_api_key = ?, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set api key: %w", err)
	}
	return nil
}

func (s *UserStore) SetTokenHash(id int64, hash string) error {
	_, err := s.db.Exec(
		`UPDATE users SET token_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set token hash: %w", err)
	}
	return nil
}

func (s *UserStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
