package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/checkin/internal/auth"
	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/store"
)

type UserCreateCmd struct {
	Email string `required:"" help:"Email address, used as the attendee email on bookings."`
	Name  string `help:"Display name, used as the attendee name on bookings."`
}

func (c *UserCreateCmd) Run(app *App) error {
	db, box, err := app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	users := store.NewUserStore(db, box)

	email := strings.ToLower(strings.TrimSpace(c.Email))
	existing, err := users.GetByEmail(email)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("user %s already exists", email)
	}

	u, err := users.Create(email, strings.TrimSpace(c.Name))
	if err != nil {
		return err
	}
	token, err := issueToken(users, u)
	if err != nil {
		return err
	}
	app.Logger.Info("user created", "user_id", u.ID, "email", u.Email)
	fmt.Printf("Created user %d (%s)\nAccess token: %s\n", u.ID, u.Email, token)
	return nil
}

type UserTokenCmd struct {
	Email string `required:"" help:"Email of the user."`
}

func (c *UserTokenCmd) Run(app *App) error {
	db, box, err := app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	users := store.NewUserStore(db, box)

	u, err := lookupUser(users, c.Email)
	if err != nil {
		return err
	}
	token, err := issueToken(users, u)
	if err != nil {
		return err
	}
	app.Logger.Info("access token rotated", "user_id", u.ID)
	fmt.Printf("Access token: %s\n", token)
	return nil
}

type UserSetKeyCmd struct {
	Email    string `required:"" help:"Email of the user."`
	Key      string `required:"" help:"Cal.com API key." env:"CHECKIN_CAL_API_KEY"`
	NoVerify bool   `help:"Store the key without checking it against Cal.com."`
}

func (c *UserSetKeyCmd) Run(app *App) error {
	db, box, err := app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	users := store.NewUserStore(db, box)

	u, err := lookupUser(users, c.Email)
	if err != nil {
		return err
	}

	key := strings.TrimSpace(c.Key)
	if !c.NoVerify {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		acct, err := app.calcomClient().GetAccountInfo(ctx, key)
		if err != nil {
			return fmt.Errorf("verify api key: %w", err)
		}
		fmt.Printf("Key belongs to Cal.com user %s\n", acct.Username)
	}

	if err := users.SetAPIKey(u.ID, key); err != nil {
		return err
	}
	app.Logger.Info("cal.com api key set", "user_id", u.ID, "sealed", box.Enabled())
	return nil
}

func lookupUser(users *store.UserStore, email string) (*model.User, error) {
	u, err := users.GetByEmail(strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	return u, nil
}

func issueToken(users *store.UserStore, u *model.User) (string, error) {
	token, hash, err := auth.NewToken()
	if err != nil {
		return "", err
	}
	if err := users.SetTokenHash(u.ID, hash); err != nil {
		return "", err
	}
	return token, nil
}
