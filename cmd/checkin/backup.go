package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"
)

type BackupRunCmd struct {
	Prune bool `help:"Delete backups older than the retention period afterwards."`
}

func (c *BackupRunCmd) Run(app *App) error {
	db, _, err := app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m := app.backupManager(db)
	b, err := m.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Backup %d uploaded to %s (%d bytes)\n", b.ID, b.ObjectKey, b.SizeBytes)

	if c.Prune {
		n, err := m.Prune(ctx, app.Config.BackupRetention)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d old backups\n", n)
	}
	return nil
}

type BackupListCmd struct {
	Limit int `help:"Number of backups to show." default:"20"`
}

func (c *BackupListCmd) Run(app *App) error {
	db, _, err := app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	backups, err := app.backupManager(db).List(c.Limit)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("No backups yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tSIZE\tKEY")
	for _, b := range backups {
		status := string(b.Status)
		if b.ErrorMessage != "" {
			status += ": " + b.ErrorMessage
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", b.ID, b.StartedAt.Local().Format(time.DateTime), status, b.SizeBytes, b.ObjectKey)
	}
	return w.Flush()
}

type BackupRestoreCmd struct {
	ID int64  `arg:"" help:"Backup id from 'backup list'."`
	To string `help:"Path of the database file to create." required:"" type:"path"`
}

func (c *BackupRestoreCmd) Run(app *App) error {
	db, _, err := app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.backupManager(db).Restore(ctx, c.ID, c.To); err != nil {
		return err
	}
	fmt.Printf("Restored backup %d to %s\n", c.ID, c.To)
	fmt.Println("Stop the server and point db_path at this file to use it.")
	return nil
}
