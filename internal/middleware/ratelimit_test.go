package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter()
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiterWindow(t *testing.T) {
	rl, clock := newTestLimiter()

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow("user:1", 3, time.Minute); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	clock.advance(20 * time.Second)
	ok, retry := rl.Allow("user:1", 3, time.Minute)
	if ok {
		t.Fatal("4th request should be denied")
	}
	if retry != 40*time.Second {
		t.Errorf("retry after = %v, want 40s", retry)
	}
	if ok, _ := rl.Allow("user:2", 3, time.Minute); !ok {
		t.Error("other keys have their own window")
	}

	clock.advance(40 * time.Second)
	if ok, _ := rl.Allow("user:1", 3, time.Minute); !ok {
		t.Error("should be allowed once the window resets")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, clock := newTestLimiter()

	rl.Allow("expired", 5, time.Second)
	clock.advance(2 * time.Second)
	rl.Allow("active", 5, time.Minute)
	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.windows["expired"]; ok {
		t.Error("expired window should have been dropped")
	}
	if _, ok := rl.windows["active"]; !ok {
		t.Error("active window should still exist")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, _ := newTestLimiter()
	handler := RateLimit(rl, func(*http.Request) string { return "user:1" }, 2, time.Minute)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/contacts", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/contacts", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.0.0.5:4321", "10.0.0.5"},
		{"x-real-ip", map[string]string{"X-Real-IP": "203.0.113.7"}, "10.0.0.5:4321", "203.0.113.7"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "10.0.0.5:4321", "198.51.100.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := RealIP(r); got != tt.want {
				t.Errorf("RealIP = %q, want %q", got, tt.want)
			}
		})
	}
}
