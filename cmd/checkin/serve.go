package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/checkin/internal/email"
	"github.com/dukerupert/checkin/internal/housekeeping"
	"github.com/dukerupert/checkin/internal/notify"
	"github.com/dukerupert/checkin/internal/push"
	"github.com/dukerupert/checkin/internal/server"
	"github.com/dukerupert/checkin/internal/store"
	ws "github.com/dukerupert/checkin/internal/websocket"
	"github.com/dukerupert/checkin/internal/workflow"
)

type ServeCmd struct {
	Addr string `help:"Listen address, overrides config."`
}

func (c *ServeCmd) Run(app *App) error {
	cfg := app.Config
	logger := app.Logger
	if c.Addr != "" {
		cfg.Addr = c.Addr
	}

	db, box, err := app.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	gw := app.calcomClient()
	hub := ws.NewHub(logger.With("component", "websocket"))

	users := store.NewUserStore(db, box)
	runs := store.NewRunStore(db)

	notifier := notify.Multi{hub}
	var srvOpts []server.Option
	var pusher *push.Notifier
	if cfg.PushEnabled() {
		subscriber := cfg.EmailFrom
		if subscriber == "" {
			subscriber = cfg.BaseURL
		}
		svc := push.NewService(push.Config{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      subscriber,
		})
		pusher = push.NewNotifier(svc, store.NewPushStore(db), store.NewContactStore(db), logger)
		notifier = append(notifier, pusher)
		srvOpts = append(srvOpts, server.WithPush(svc))
	} else {
		logger.Info("vapid keys not configured, web push disabled")
	}
	srvOpts = append(srvOpts, server.WithNotifier(notifier))

	opts := []workflow.Option{
		workflow.WithNotifier(notifier),
		workflow.WithLogger(logger),
	}
	if cfg.EmailEnabled() {
		opts = append(opts, workflow.WithMailer(email.NewClient(cfg.PostmarkToken, cfg.EmailFrom, cfg.BaseURL)))
	} else {
		logger.Info("postmark not configured, failure emails disabled")
	}
	engineCfg := workflow.Config{
		PollInterval: cfg.PollInterval,
		Workers:      cfg.Workers,
		Lease:        cfg.Lease,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBase:    cfg.RetryBase,
		RetryMax:     cfg.RetryMax,
	}
	engine := workflow.New(engineCfg, runs, store.NewContactStore(db), users, gw, opts...)

	srv := server.New(db, server.Config{
		CalWebURL:       cfg.CalWebURL,
		RateLimit:       cfg.RateLimit,
		RateLimitWindow: cfg.RateLimitWindow,
	}, box, gw, engine, hub, logger, srvOpts...)

	hk, err := housekeeping.New(housekeeping.Config{
		Schedule:  cfg.HousekeepingSchedule,
		Retention: cfg.RunRetention,
	}, runs, logger, srv.RateLimiter())
	if err != nil {
		return err
	}
	if bm := app.backupManager(db); bm.Enabled() {
		if err := hk.AddJob("backup", cfg.BackupSchedule, bm.RunAndPrune(cfg.BackupRetention)); err != nil {
			return err
		}
		logger.Info("scheduled backups enabled", "schedule", cfg.BackupSchedule)
	} else {
		logger.Info("s3 storage or backup passphrase not configured, backups disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine.Start(ctx)
	hk.Start()

	// Creating a contact books its first check-in inside the request.
	writeTimeout := max(60*time.Second, engineCfg.CycleBudget(cfg.CalTimeout)+10*time.Second)
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("checkin running", "addr", cfg.Addr, "write_timeout", writeTimeout)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	engine.Stop()
	hk.Stop(shutdownCtx)
	if pusher != nil {
		pusher.Wait()
	}

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}
