package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/checkin/internal/auth"
	"github.com/dukerupert/checkin/internal/store"
)

// RequireToken validates the bearer access token and populates AuthContext.
func RequireToken(users *store.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			u, err := users.GetByTokenHash(auth.HashToken(token))
			if err != nil || u == nil {
				unauthorized(w)
				return
			}

			ac := auth.AuthContext{
				UserID: u.ID,
				Email:  u.Email,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserKey keys rate limits by the authenticated user, falling back to the
// client IP for anonymous requests.
func UserKey(r *http.Request) string {
	if ac, ok := auth.FromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(ac.UserID, 10)
	}
	return "ip:" + RealIP(r)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	// Browsers cannot set headers on websocket upgrades.
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token")
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="checkin"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
