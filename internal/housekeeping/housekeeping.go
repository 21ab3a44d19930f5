// Package housekeeping runs periodic cleanup of finished workflow runs and
// expired rate limiter entries, plus any extra jobs such as backups.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes finished workflow runs older than a cutoff.
type Pruner interface {
	PruneFinished(cutoff time.Time) (int64, error)
}

// Cleaner drops expired in-memory state.
type Cleaner interface {
	Cleanup()
}

type Config struct {
	// Schedule is a cron spec or descriptor such as "@daily".
	Schedule  string
	Retention time.Duration
}

// Runner executes housekeeping on a cron schedule.
type Runner struct {
	cfg      Config
	runs     Pruner
	cleaners []Cleaner
	logger   *slog.Logger
	now      func() time.Time

	// jobCtx is handed to added jobs and cancelled by Stop.
	jobCtx    context.Context
	cancelJob context.CancelFunc

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New validates the schedule and prepares a runner. Call Start to begin.
func New(cfg Config, runs Pruner, logger *slog.Logger, cleaners ...Cleaner) (*Runner, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	logger = logger.With("component", "housekeeping")

	r := &Runner{
		cfg:      cfg,
		runs:     runs,
		cleaners: cleaners,
		logger:   logger,
		now:      time.Now,
	}
	r.jobCtx, r.cancelJob = context.WithCancel(context.Background())
	r.cron = cron.New(
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	if _, err := r.cron.AddFunc(cfg.Schedule, r.RunOnce); err != nil {
		return nil, fmt.Errorf("parse housekeeping schedule %q: %w", cfg.Schedule, err)
	}
	return r, nil
}

// AddJob schedules fn under its own cron spec. A failing job is logged and
// retried at its next tick.
func (r *Runner) AddJob(name, spec string, fn func(ctx context.Context) error) error {
	logger := r.logger.With("job", name)
	_, err := r.cron.AddFunc(spec, func() {
		start := r.now()
		if err := fn(r.jobCtx); err != nil {
			logger.Error("job failed", "error", err)
			return
		}
		logger.Info("job finished", "duration", r.now().Sub(start))
	})
	if err != nil {
		return fmt.Errorf("parse %s schedule %q: %w", name, spec, err)
	}
	return nil
}

// Start begins the schedule in the background.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.cron.Start()
	r.running = true
	r.logger.Info("housekeeping started", "schedule", r.cfg.Schedule, "retention", r.cfg.Retention)
}

// Stop halts the schedule and waits for a running job, or until ctx is done.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()
	r.cancelJob()

	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		r.logger.Warn("housekeeping stop timed out")
	}
}

// RunOnce prunes old runs and cleans every registered cleaner.
func (r *Runner) RunOnce() {
	cutoff := r.now().Add(-r.cfg.Retention)
	n, err := r.runs.PruneFinished(cutoff)
	if err != nil {
		r.logger.Error("prune runs", "error", err)
	} else if n > 0 {
		r.logger.Info("pruned finished runs", "count", n, "cutoff", cutoff)
	}

	for _, c := range r.cleaners {
		c.Cleanup()
	}
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
