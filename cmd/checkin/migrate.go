package main

import (
	"fmt"

	"github.com/dukerupert/checkin/internal/database"
)

type MigrateCmd struct{}

func (c *MigrateCmd) Run(app *App) error {
	db, err := database.Open(app.Config.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	v, err := database.Version(db)
	if err != nil {
		return err
	}
	app.Logger.Info("database migrated", "path", app.Config.DBPath, "version", v)
	fmt.Printf("%s is at schema version %d\n", app.Config.DBPath, v)
	return nil
}
