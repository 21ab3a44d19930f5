package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/checkin/internal/auth"
	"github.com/dukerupert/checkin/internal/calcom"
	"github.com/dukerupert/checkin/internal/store"
)

// AccountChecker validates a Cal.com API key.
type AccountChecker interface {
	GetAccountInfo(ctx context.Context, apiKey string) (calcom.Account, error)
}

type UserHandler struct {
	users   *store.UserStore
	checker AccountChecker
	logger  *slog.Logger
}

func NewUserHandler(users *store.UserStore, checker AccountChecker, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, checker: checker, logger: logger}
}

type meResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	HasAPIKey bool   `json:"has_api_key"`
}

type accountResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	TimeZone string `json:"time_zone"`
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		HasAPIKey: u.HasAPIKey(),
	})
}

// CalAccount reports the Cal.com account behind the stored API key.
func (h *UserHandler) CalAccount(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if u == nil || !u.HasAPIKey() {
		writeError(w, http.StatusNotFound, "no Cal.com API key set")
		return
	}

	acct, err := h.checker.GetAccountInfo(r.Context(), u.CalAPIKey)
	if err != nil {
		status, msg := errorStatus(err)
		h.logger.Warn("get cal.com account", "user_id", u.ID, "status", status, "error", err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{ID: acct.ID, Username: acct.Username, TimeZone: acct.TimeZone})
}

// SetCalAPIKey checks the key against Cal.com before storing it. An empty key
// clears the stored one.
func (h *UserHandler) SetCalAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	userID := auth.UserID(r.Context())
	key := strings.TrimSpace(req.APIKey)

	if key == "" {
		if err := h.users.SetAPIKey(userID, ""); err != nil {
			h.logger.Error("clear api key", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save API key")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	acct, err := h.checker.GetAccountInfo(r.Context(), key)
	if err != nil {
		status, msg := errorStatus(err)
		h.logger.Warn("validate api key", "user_id", userID, "status", status, "error", err)
		writeError(w, status, msg)
		return
	}

	if err := h.users.SetAPIKey(userID, key); err != nil {
		h.logger.Error("save api key", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save API key")
		return
	}
	h.logger.Info("cal.com api key updated", "user_id", userID, "cal_username", acct.Username)

	writeJSON(w, http.StatusOK, accountResponse{ID: acct.ID, Username: acct.Username, TimeZone: acct.TimeZone})
}
