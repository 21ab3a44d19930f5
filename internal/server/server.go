package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/checkin/internal/calcom"
	"github.com/dukerupert/checkin/internal/contact"
	"github.com/dukerupert/checkin/internal/handler"
	"github.com/dukerupert/checkin/internal/middleware"
	"github.com/dukerupert/checkin/internal/notify"
	"github.com/dukerupert/checkin/internal/secret"
	"github.com/dukerupert/checkin/internal/store"
	ws "github.com/dukerupert/checkin/internal/websocket"
	"github.com/dukerupert/checkin/internal/workflow"
)

// Config holds HTTP-facing settings.
type Config struct {
	CalWebURL       string
	RateLimit       int
	RateLimitWindow time.Duration
}

type Server struct {
	db          *sql.DB
	cfg         Config
	hub         *ws.Hub
	userStore   *store.UserStore
	contactH    *handler.ContactHandler
	calendarH   *handler.CalendarHandler
	userH       *handler.UserHandler
	eventH      *handler.EventHandler
	pushH       *handler.PushHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

type options struct {
	notifier notify.Notifier
	push     handler.PushService
}

// Option customizes a Server.
type Option func(*options)

// WithNotifier replaces the hub as the receiver of contact events.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithPush enables the web push subscription routes.
func WithPush(svc handler.PushService) Option {
	return func(o *options) { o.push = svc }
}

func New(db *sql.DB, cfg Config, box *secret.Box, gw *calcom.Client, engine *workflow.Engine, hub *ws.Hub, logger *slog.Logger, opts ...Option) *Server {
	o := options{notifier: hub}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	userStore := store.NewUserStore(db, box)
	contactStore := store.NewContactStore(db)
	bookingStore := store.NewBookingStore(db)

	contactSvc := contact.NewService(contactStore, bookingStore, userStore, engine, gw, o.notifier, logger)

	var pushH *handler.PushHandler
	if o.push != nil {
		pushH = handler.NewPushHandler(store.NewPushStore(db), o.push, logger.With("component", "push_handler"))
	}

	return &Server{
		db:          db,
		cfg:         cfg,
		hub:         hub,
		userStore:   userStore,
		contactH:    handler.NewContactHandler(contactSvc, logger.With("component", "contact_handler")),
		calendarH:   handler.NewCalendarHandler(contactSvc, cfg.CalWebURL, logger.With("component", "calendar")),
		userH:       handler.NewUserHandler(userStore, gw, logger.With("component", "user")),
		eventH:      handler.NewEventHandler(contactStore, engine, logger.With("component", "events")),
		pushH:       pushH,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, wrapped with RequireToken middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireToken(s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "ws_clients": s.hub.ClientCount()}
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.UserKey, s.cfg.RateLimit, s.cfg.RateLimitWindow)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Account
	mux.HandleFunc("GET /api/me", s.userH.Me)
	mux.HandleFunc("GET /api/me/cal-account", s.userH.CalAccount)
	mux.HandleFunc("PUT /api/me/cal-api-key", s.rateLimitedHandler(s.userH.SetCalAPIKey))

	// Contacts
	mux.HandleFunc("GET /api/contacts", s.contactH.List)
	mux.HandleFunc("POST /api/contacts", s.rateLimitedHandler(s.contactH.Create))
	mux.HandleFunc("GET /api/contacts/{id}", s.contactH.Get)
	mux.HandleFunc("PUT /api/contacts/{id}", s.rateLimitedHandler(s.contactH.Update))
	mux.HandleFunc("DELETE /api/contacts/{id}", s.contactH.Delete)
	mux.HandleFunc("GET /api/contacts/{id}/bookings.ics", s.calendarH.Bookings)

	// Workflow intents
	mux.HandleFunc("POST /api/events", s.eventH.Post)

	// Web push
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.List)
		mux.HandleFunc("POST /api/push/subscriptions", s.rateLimitedHandler(s.pushH.Subscribe))
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("POST /api/push/test", s.rateLimitedHandler(s.pushH.Test))
	}

	// Live updates
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}
