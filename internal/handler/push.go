package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/checkin/internal/auth"
	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/push"
	"github.com/dukerupert/checkin/internal/store"
)

// PushService sends web push messages and exposes the VAPID public key.
type PushService interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload push.Payload) error
	VAPIDPublicKey() string
}

type PushHandler struct {
	subs    *store.PushStore
	service PushService
	logger  *slog.Logger
}

func NewPushHandler(subs *store.PushStore, svc PushService, logger *slog.Logger) *PushHandler {
	return &PushHandler{subs: subs, service: svc, logger: logger}
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}

// Subscribe handles POST /api/push/subscriptions
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, p256dh and auth are required")
		return
	}

	sub, err := h.subs.Subscribe(userID, req.Endpoint, req.P256dh, req.Auth, req.DeviceName)
	if err != nil {
		h.logger.Error("create push subscription", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// List handles GET /api/push/subscriptions
func (h *PushHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	ok, err := h.subs.Delete(auth.UserID(r.Context()), id)
	if err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/push/test
func (h *PushHandler) Test(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	payload := push.Payload{
		Title: "Test notification",
		Body:  "Check-in notifications are working",
		Tag:   "test",
	}
	sent := 0
	for i := range subs {
		if err := h.service.Send(r.Context(), &subs[i], payload); err != nil {
			h.logger.Warn("test push", "subscription_id", subs[i].ID, "error", err)
			continue
		}
		sent++
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
