package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/dukerupert/checkin/internal/auth"
	"github.com/dukerupert/checkin/internal/calcom"
	"github.com/dukerupert/checkin/internal/contact"
	"github.com/dukerupert/checkin/internal/database"
	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/reconcile"
	"github.com/dukerupert/checkin/internal/store"
	"github.com/dukerupert/checkin/internal/workflow"
)

var testNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu      sync.Mutex
	creates int
	badKey  string
}

func (g *fakeGateway) GetAccountInfo(ctx context.Context, apiKey string) (calcom.Account, error) {
	if apiKey == g.badKey {
		return calcom.Account{}, fmt.Errorf("get account info: %w", &calcom.StatusError{StatusCode: http.StatusUnauthorized})
	}
	return calcom.Account{ID: 1, Username: "alice", TimeZone: "UTC"}, nil
}

func (g *fakeGateway) LookupEventType(ctx context.Context, username, slug string) (calcom.EventType, error) {
	if slug == "missing" {
		return calcom.EventType{}, fmt.Errorf("%w: %s/%s", calcom.ErrEventTypeNotFound, username, slug)
	}
	return calcom.EventType{ID: 42, OwnerID: 7, OwnerName: "Bob", DurationMinutes: 30}, nil
}

func (g *fakeGateway) ListAvailability(ctx context.Context, apiKey, username string, start, end time.Time) (calcom.Availability, error) {
	day := start.Truncate(24 * time.Hour)
	return calcom.Availability{
		TimeZone: "UTC",
		Ranges:   []calcom.AvailabilityRange{{Start: day.Add(9 * time.Hour), End: day.Add(17 * time.Hour)}},
	}, nil
}

func (g *fakeGateway) ListSlots(ctx context.Context, apiKey string, eventTypeID int64, start, end time.Time) (map[string][]time.Time, error) {
	day := start.Truncate(24 * time.Hour)
	return map[string][]time.Time{day.Format("2006-01-02"): {day.Add(10 * time.Hour)}}, nil
}

func (g *fakeGateway) CreateBooking(ctx context.Context, apiKey string, br calcom.BookingRequest) (calcom.Booking, error) {
	g.mu.Lock()
	g.creates++
	n := g.creates
	g.mu.Unlock()
	return calcom.Booking{ID: int64(n), UID: fmt.Sprintf("uid-%d", n), StartTime: br.Start, EndTime: br.Start.Add(30 * time.Minute)}, nil
}

func (g *fakeGateway) CancelBooking(ctx context.Context, uid string) error {
	return nil
}

type testEnv struct {
	db       *sql.DB
	users    *store.UserStore
	contacts *store.ContactStore
	runs     *store.RunStore
	gw       *fakeGateway
	svc      *contact.Service
	engine   *workflow.Engine
	user     *model.User
}

func setupHandlerEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:       db,
		users:    store.NewUserStore(db, nil),
		contacts: store.NewContactStore(db),
		runs:     store.NewRunStore(db),
		gw:       &fakeGateway{badKey: "bad"},
	}
	bookings := store.NewBookingStore(db)

	u, err := env.users.Create("alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	env.user = u

	env.engine = workflow.New(
		workflow.Config{MaxAttempts: 1},
		env.runs, env.contacts, env.users, env.gw,
		workflow.WithClock(func() time.Time { return testNow }),
		workflow.WithReconciler(reconcile.New(1)),
	)
	env.svc = contact.NewService(env.contacts, bookings, env.users, env.engine, env.gw, nil, slog.Default())
	return env
}

func (env *testEnv) request(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	ctx := auth.WithAuth(req.Context(), auth.AuthContext{UserID: env.user.ID, Email: env.user.Email})
	return req.WithContext(ctx)
}

func (env *testEnv) mux() *http.ServeMux {
	ch := NewContactHandler(env.svc, slog.Default())
	uh := NewUserHandler(env.users, env.gw, slog.Default())
	cal := NewCalendarHandler(env.svc, "https://app.cal.com", slog.Default())
	eh := NewEventHandler(env.contacts, env.engine, slog.Default())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/me", uh.Me)
	mux.HandleFunc("GET /api/me/cal-account", uh.CalAccount)
	mux.HandleFunc("PUT /api/me/cal-api-key", uh.SetCalAPIKey)
	mux.HandleFunc("GET /api/contacts", ch.List)
	mux.HandleFunc("POST /api/contacts", ch.Create)
	mux.HandleFunc("GET /api/contacts/{id}", ch.Get)
	mux.HandleFunc("PUT /api/contacts/{id}", ch.Update)
	mux.HandleFunc("DELETE /api/contacts/{id}", ch.Delete)
	mux.HandleFunc("GET /api/contacts/{id}/bookings.ics", cal.Bookings)
	mux.HandleFunc("POST /api/events", eh.Post)
	return mux
}

func (env *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.mux().ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createContact(t *testing.T) model.Contact {
	t.Helper()
	env.users.SetAPIKey(env.user.ID, "good")
	rec := env.serve(env.request("POST", "/api/contacts", map[string]string{
		"name":     "Bob",
		"cal_link": "https://cal.com/bob/30min",
		"cadence":  "weekly",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var c model.Contact
	if err := json.NewDecoder(rec.Body).Decode(&c); err != nil {
		t.Fatalf("decode contact: %v", err)
	}
	return c
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestCreateContact(t *testing.T) {
	env := setupHandlerEnv(t)
	c := env.createContact(t)

	if c.ID == "" || c.EventTypeID != 42 || c.Cadence != "weekly" {
		t.Errorf("contact = %+v", c)
	}
	if len(c.Bookings) != 1 {
		t.Fatalf("bookings = %d, want 1", len(c.Bookings))
	}
	if want := testNow.AddDate(0, 0, 6).Add(10 * time.Hour); !c.Bookings[0].StartTime.Equal(want) {
		t.Errorf("booking start = %v, want %v", c.Bookings[0].StartTime, want)
	}
}

func TestCreateContactRejected(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		body   map[string]string
		status int
		errMsg string
	}{
		{"no api key", "", map[string]string{"name": "Bob", "cal_link": "cal.com/bob/30min", "cadence": "weekly"}, http.StatusBadRequest, "set a Cal.com API key first"},
		{"malformed link", "good", map[string]string{"name": "Bob", "cal_link": "cal.com/bob", "cadence": "weekly"}, http.StatusBadRequest, calcom.ErrMalformedLink.Error()},
		{"bad cadence", "good", map[string]string{"name": "Bob", "cal_link": "cal.com/bob/30min", "cadence": "daily"}, http.StatusBadRequest, ""},
		{"empty name", "good", map[string]string{"name": " ", "cal_link": "cal.com/bob/30min", "cadence": "weekly"}, http.StatusBadRequest, "name is required"},
		{"missing link", "good", map[string]string{"name": "Bob", "cadence": "weekly"}, http.StatusBadRequest, "cal_link is required"},
		{"unknown event type", "good", map[string]string{"name": "Bob", "cal_link": "cal.com/bob/missing", "cadence": "weekly"}, http.StatusNotFound, "Cal.com event type not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupHandlerEnv(t)
			if tt.apiKey != "" {
				env.users.SetAPIKey(env.user.ID, tt.apiKey)
			}
			rec := env.serve(env.request("POST", "/api/contacts", tt.body))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if msg := errorBody(t, rec); tt.errMsg != "" && msg != tt.errMsg {
				t.Errorf("error = %q, want %q", msg, tt.errMsg)
			}
			contacts, _ := env.contacts.ListByUser(env.user.ID)
			if len(contacts) != 0 {
				t.Errorf("contacts = %d, want none", len(contacts))
			}
		})
	}
}

func TestCreateContactInvalidJSON(t *testing.T) {
	env := setupHandlerEnv(t)
	req := env.request("POST", "/api/contacts", nil)
	req.Body = http.NoBody
	rec := env.serve(req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestListContacts(t *testing.T) {
	env := setupHandlerEnv(t)

	rec := env.serve(env.request("GET", "/api/contacts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty list body = %q, want []", body)
	}

	env.createContact(t)
	rec = env.serve(env.request("GET", "/api/contacts", nil))
	var contacts []model.Contact
	json.NewDecoder(rec.Body).Decode(&contacts)
	if len(contacts) != 1 || len(contacts[0].Bookings) != 1 {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestGetContactNotFound(t *testing.T) {
	env := setupHandlerEnv(t)
	rec := env.serve(env.request("GET", "/api/contacts/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestUpdateContact(t *testing.T) {
	env := setupHandlerEnv(t)
	c := env.createContact(t)

	rec := env.serve(env.request("PUT", "/api/contacts/"+c.ID, map[string]string{
		"name":    "Robert",
		"cadence": "monthly",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var updated model.Contact
	json.NewDecoder(rec.Body).Decode(&updated)
	if updated.Name != "Robert" || updated.Cadence != "monthly" {
		t.Errorf("updated = %+v", updated)
	}

	r, err := env.runs.Live(c.ID)
	if err != nil || r == nil {
		t.Fatalf("live run = %v, %v", r, err)
	}
	if r.State != model.RunPending {
		t.Errorf("fresh cycle state = %q, want %q", r.State, model.RunPending)
	}
}

func TestDeleteContact(t *testing.T) {
	env := setupHandlerEnv(t)
	c := env.createContact(t)

	rec := env.serve(env.request("DELETE", "/api/contacts/"+c.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = env.serve(env.request("DELETE", "/api/contacts/"+c.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestBookingsFeed(t *testing.T) {
	env := setupHandlerEnv(t)
	c := env.createContact(t)

	rec := env.serve(env.request("GET", "/api/contacts/"+c.ID+"/bookings.ics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}

	cal, err := ics.ParseCalendar(strings.NewReader(rec.Body.String()))
	if err != nil {
		t.Fatalf("parse calendar: %v", err)
	}
	events := cal.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if s := events[0].GetProperty(ics.ComponentPropertySummary); s == nil || s.Value != "Check-in with Bob" {
		t.Errorf("summary = %v", s)
	}
	if u := events[0].GetProperty(ics.ComponentPropertyUrl); u == nil || u.Value != "https://app.cal.com/booking/uid-1" {
		t.Errorf("url = %v", u)
	}
}

func TestMe(t *testing.T) {
	env := setupHandlerEnv(t)
	rec := env.serve(env.request("GET", "/api/me", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var me meResponse
	json.NewDecoder(rec.Body).Decode(&me)
	if me.Email != "alice@example.com" || me.HasAPIKey {
		t.Errorf("me = %+v", me)
	}
	if strings.Contains(rec.Body.String(), "cal_api_key") {
		t.Error("api key must not be serialized")
	}
}

func TestSetCalAPIKey(t *testing.T) {
	env := setupHandlerEnv(t)

	rec := env.serve(env.request("PUT", "/api/me/cal-api-key", map[string]string{"api_key": "bad"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad key status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if msg := errorBody(t, rec); msg != "Cal.com API key rejected" {
		t.Errorf("error = %q", msg)
	}
	u, _ := env.users.GetByID(env.user.ID)
	if u.HasAPIKey() {
		t.Fatal("rejected key must not be stored")
	}

	rec = env.serve(env.request("PUT", "/api/me/cal-api-key", map[string]string{"api_key": " good "}))
	if rec.Code != http.StatusOK {
		t.Fatalf("good key status = %d", rec.Code)
	}
	u, _ = env.users.GetByID(env.user.ID)
	if u.CalAPIKey != "good" {
		t.Errorf("stored key = %q", u.CalAPIKey)
	}

	rec = env.serve(env.request("GET", "/api/me/cal-account", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"username":"alice"`) {
		t.Errorf("cal account = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.serve(env.request("PUT", "/api/me/cal-api-key", map[string]string{"api_key": ""}))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}
	u, _ = env.users.GetByID(env.user.ID)
	if u.HasAPIKey() {
		t.Error("key should be cleared")
	}
}

func TestPostEvent(t *testing.T) {
	env := setupHandlerEnv(t)
	c := env.createContact(t)

	rec := env.serve(env.request("POST", "/api/events", map[string]any{
		"name": model.EventCancelScheduleMeeting,
		"data": map[string]string{"contactId": c.ID},
	}))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if r, _ := env.runs.Live(c.ID); r != nil {
		t.Errorf("live run after cancel = %+v", r)
	}

	runAt := testNow.Add(48 * time.Hour)
	rec = env.serve(env.request("POST", "/api/events", map[string]any{
		"name": model.EventScheduleMeeting,
		"data": map[string]any{"contactId": c.ID, "runTime": runAt},
	}))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("schedule status = %d", rec.Code)
	}
	r, _ := env.runs.Live(c.ID)
	if r == nil || !r.RunAt.Equal(runAt) {
		t.Errorf("live run = %+v, want run_at %v", r, runAt)
	}
}

func TestPostEventRejected(t *testing.T) {
	env := setupHandlerEnv(t)
	c := env.createContact(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"unknown name", map[string]any{"name": "reschedule", "data": map[string]string{"contactId": c.ID}}, http.StatusBadRequest},
		{"missing contact id", map[string]any{"name": model.EventScheduleMeeting, "data": map[string]string{}}, http.StatusBadRequest},
		{"foreign contact", map[string]any{"name": model.EventScheduleMeeting, "data": map[string]string{"contactId": "other"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.serve(env.request("POST", "/api/events", tt.body))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"unavailable", fmt.Errorf("create booking: %w", calcom.ErrUnavailable), http.StatusBadGateway, "Cal.com could not be reached"},
		{"unexpected shape", fmt.Errorf("decode: %w", calcom.ErrContractViolation), http.StatusBadGateway, "unexpected response from Cal.com"},
		{"busy", workflow.ErrBusy, http.StatusConflict, "a check-in cycle is already running for this contact"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := errorStatus(tt.err)
			if status != tt.status || msg != tt.msg {
				t.Errorf("errorStatus = %d %q, want %d %q", status, msg, tt.status, tt.msg)
			}
		})
	}
}
