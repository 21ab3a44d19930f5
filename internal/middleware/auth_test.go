package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/checkin/internal/auth"
	"github.com/dukerupert/checkin/internal/database"
	"github.com/dukerupert/checkin/internal/store"
)

func setupAuthMiddlewareDB(t *testing.T) *store.UserStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewUserStore(db, nil)
}

func TestRequireTokenMissing(t *testing.T) {
	us := setupAuthMiddlewareDB(t)

	handler := RequireToken(us)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/api/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}
}

func TestRequireTokenInvalid(t *testing.T) {
	us := setupAuthMiddlewareDB(t)

	handler := RequireToken(us)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireTokenValid(t *testing.T) {
	us := setupAuthMiddlewareDB(t)

	u, err := us.Create("alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, hash, err := auth.NewToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if err := us.SetTokenHash(u.ID, hash); err != nil {
		t.Fatalf("set token hash: %v", err)
	}

	var gotAC auth.AuthContext
	handler := RequireToken(us)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected AuthContext in request context")
		}
		gotAC = ac
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotAC.UserID != u.ID {
		t.Errorf("UserID = %d, want %d", gotAC.UserID, u.ID)
	}
	if gotAC.Email != "alice@example.com" {
		t.Errorf("Email = %q", gotAC.Email)
	}
}

func TestRequireTokenWebSocketQuery(t *testing.T) {
	us := setupAuthMiddlewareDB(t)
	u, _ := us.Create("bob@example.com", "Bob")
	token, hash, _ := auth.NewToken()
	us.SetTokenHash(u.ID, hash)

	handler := RequireToken(us)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/ws?token="+token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/ws status = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest("GET", "/api/me?token="+token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("/api/me status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestUserKey(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := UserKey(req); got != "ip:10.0.0.1" {
		t.Errorf("anonymous key = %q", got)
	}

	ctx := auth.WithAuth(context.Background(), auth.AuthContext{UserID: 7})
	if got := UserKey(req.WithContext(ctx)); got != "user:7" {
		t.Errorf("user key = %q", got)
	}
}
