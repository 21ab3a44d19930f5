// Package workflow runs the recurring booking cycle for each contact as a
// chain of durable runs stored in the database.
//
// A run sleeps as a pending row until its run_at, is leased by the poller,
// and moves through checkpointed steps. Cancelling a contact bumps its
// generation; a run whose generation no longer matches stops at its next
// step without side effects.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dukerupert/checkin/internal/calcom"
	"github.com/dukerupert/checkin/internal/email"
	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/notify"
	"github.com/dukerupert/checkin/internal/reconcile"
	"github.com/dukerupert/checkin/internal/store"
)

var (
	// ErrMissingCredential is returned when the contact's owner has no Cal.com API key.
	ErrMissingCredential = errors.New("no Cal.com API key configured")
	// ErrCancelled is returned by RunNow when the cycle was cancelled while running.
	ErrCancelled = errors.New("cycle cancelled")
	// ErrBusy is returned by RunNow when the contact's cycle is already running.
	ErrBusy = errors.New("cycle already running")
	// ErrUnknownEvent is returned by Dispatch for unrecognised event names.
	ErrUnknownEvent = errors.New("unknown event")
)

// Outcomes of a completed cycle.
const (
	OutcomeBooked   = model.OutcomeBooked
	OutcomeDeferred = model.OutcomeDeferred
)

// Gateway is the part of the Cal.com client the engine needs.
type Gateway interface {
	GetAccountInfo(ctx context.Context, apiKey string) (calcom.Account, error)
	LookupEventType(ctx context.Context, username, eventSlug string) (calcom.EventType, error)
	ListAvailability(ctx context.Context, apiKey, username string, start, end time.Time) (calcom.Availability, error)
	ListSlots(ctx context.Context, apiKey string, eventTypeID int64, start, end time.Time) (map[string][]time.Time, error)
	CreateBooking(ctx context.Context, apiKey string, br calcom.BookingRequest) (calcom.Booking, error)
	CancelBooking(ctx context.Context, uid string) error
}

// Mailer tells a user that scheduling with a contact stopped.
type Mailer interface {
	SendCycleStopped(ctx context.Context, m email.CycleStopped) error
}

// Outcome is the result of one completed cycle.
type Outcome struct {
	Kind        string
	Booking     *model.Booking
	WindowStart time.Time
	WindowEnd   time.Time
	NextRunAt   time.Time
	NextRun     *model.Run
}

// Config tunes the poller and step retries.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
	Lease        time.Duration
	MaxAttempts  int
	RetryBase    time.Duration
	RetryMax     time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = time.Minute
	}
}

// CycleBudget bounds how long one cycle can take when every Cal.com call
// runs into callTimeout and every retry waits the full backoff cap. A cycle
// makes four gateway steps in sequence, each retried up to MaxAttempts.
func (c Config) CycleBudget(callTimeout time.Duration) time.Duration {
	c.setDefaults()
	attempts := time.Duration(c.MaxAttempts)
	step := attempts*callTimeout + (attempts-1)*c.RetryMax
	return 4 * step
}

// Engine schedules, runs and cancels booking cycles.
type Engine struct {
	cfg        Config
	runs       *store.RunStore
	contacts   *store.ContactStore
	users      *store.UserStore
	gateway    Gateway
	reconciler *reconcile.Reconciler
	notifier   notify.Notifier
	mailer     Mailer
	logger     *slog.Logger
	now        func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

func WithReconciler(r *reconcile.Reconciler) Option {
	return func(e *Engine) { e.reconciler = r }
}

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMailer enables failure emails for unattended cycles.
func WithMailer(m Mailer) Option {
	return func(e *Engine) { e.mailer = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand sets the source of the 1-3 day jitter between cycles.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// New creates an engine. Call Start to begin polling for due runs.
func New(cfg Config, runs *store.RunStore, contacts *store.ContactStore, users *store.UserStore, gw Gateway, opts ...Option) *Engine {
	cfg.setDefaults()
	e := &Engine{
		cfg:      cfg,
		runs:     runs,
		contacts: contacts,
		users:    users,
		gateway:  gw,
		notifier: notify.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reconciler == nil {
		e.reconciler = reconcile.NewRandom()
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	e.logger = e.logger.With("component", "workflow")
	return e
}

// jitterDays returns a whole number of days in [1, 3].
func (e *Engine) jitterDays() int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return 1 + e.rng.IntN(3)
}
