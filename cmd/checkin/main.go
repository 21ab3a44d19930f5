package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/dukerupert/checkin/internal/backup"
	"github.com/dukerupert/checkin/internal/calcom"
	"github.com/dukerupert/checkin/internal/config"
	"github.com/dukerupert/checkin/internal/database"
	"github.com/dukerupert/checkin/internal/logging"
	"github.com/dukerupert/checkin/internal/secret"
	"github.com/dukerupert/checkin/internal/store"
)

var CLI struct {
	Version kong.VersionFlag
	Config  string `help:"Config file (yaml, toml, json or env)." type:"path" env:"CHECKIN_CONFIG"`

	Serve   ServeCmd   `cmd:"" help:"Run the API server and the scheduler." default:"1"`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations."`
	User    struct {
		Create UserCreateCmd `cmd:"" help:"Create a user and print an access token."`
		Token  UserTokenCmd  `cmd:"" help:"Issue a new access token for a user."`
		SetKey UserSetKeyCmd `cmd:"" help:"Set a user's Cal.com API key."`
	} `cmd:"" help:"Manage users."`
	Cycle struct {
		Run CycleRunCmd `cmd:"" help:"Run one booking cycle for a contact now."`
	} `cmd:"" help:"Operate booking cycles."`
	Backup struct {
		Run     BackupRunCmd     `cmd:"" help:"Take an encrypted backup now."`
		List    BackupListCmd    `cmd:"" help:"List recent backups."`
		Restore BackupRestoreCmd `cmd:"" help:"Download and decrypt a backup into a new database file."`
	} `cmd:"" help:"Manage database backups."`
	Push struct {
		Keys PushKeysCmd `cmd:"" help:"Generate a VAPID key pair for web push."`
	} `cmd:"" help:"Web push utilities."`
}

// App is shared by every command.
type App struct {
	Config config.Config
	Logger *slog.Logger
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("checkin"),
		kong.Description("Books recurring check-in meetings with your contacts on Cal.com"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: setup logging: %v\n", err)
		os.Exit(1)
	}

	if err := ctx.Run(&App{Config: cfg, Logger: logger}); err != nil {
		logger.Error("command failed", "command", ctx.Command(), "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openDB opens the database and the credential box.
func (a *App) openDB() (*sql.DB, *secret.Box, error) {
	db, err := database.Open(a.Config.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	salt, err := secret.LoadOrCreateSalt(store.NewSettingsStore(db))
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load secret salt: %w", err)
	}
	box, err := secret.NewBox(a.Config.SecretPassphrase, salt)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create secret box: %w", err)
	}
	if !box.Enabled() {
		a.Logger.Warn("no secret passphrase configured, Cal.com API keys are stored unencrypted")
	}
	return db, box, nil
}

func (a *App) calcomClient() *calcom.Client {
	return calcom.NewClient(calcom.Config{
		APIURL:    a.Config.CalAPIURL,
		WebURL:    a.Config.CalWebURL,
		CancelURL: a.Config.CalCancelURL,
		Timeout:   a.Config.CalTimeout,
		TimeZone:  a.Config.CalTimeZone,
		Notes:     "Scheduled with checkin",
	})
}

func (a *App) backupManager(db *sql.DB) *backup.Manager {
	c := a.Config
	return backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  c.S3Endpoint,
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		},
		Passphrase: c.BackupPassphrase,
		Prefix:     c.S3Prefix,
	}, db, store.NewBackupStore(db), a.Logger)
}
