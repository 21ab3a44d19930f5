package main

import (
	"fmt"

	"github.com/dukerupert/checkin/internal/push"
)

type PushKeysCmd struct{}

func (c *PushKeysCmd) Run(app *App) error {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Printf("CHECKIN_VAPID_PUBLIC_KEY=%s\n", pub)
	fmt.Printf("CHECKIN_VAPID_PRIVATE_KEY=%s\n", priv)
	return nil
}
