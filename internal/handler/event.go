package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/checkin/internal/auth"
	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/store"
)

// Dispatcher accepts workflow intents.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) error
}

// EventHandler accepts schedule-meeting and cancel-schedule-meeting events
// for the caller's own contacts.
type EventHandler struct {
	contacts   *store.ContactStore
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewEventHandler(contacts *store.ContactStore, d Dispatcher, logger *slog.Logger) *EventHandler {
	return &EventHandler{contacts: contacts, dispatcher: d, logger: logger}
}

func (h *EventHandler) Post(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if ev.Data.ContactID == "" {
		writeError(w, http.StatusBadRequest, "data.contactId is required")
		return
	}

	userID := auth.UserID(r.Context())
	c, err := h.contacts.GetForUser(userID, ev.Data.ContactID)
	if err != nil {
		h.logger.Error("get contact", "contact_id", ev.Data.ContactID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), ev); err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("dispatch event", "event", ev.Name, "contact_id", c.ID, "error", err)
		}
		writeError(w, status, msg)
		return
	}
	h.logger.Info("event accepted", "event", ev.Name, "contact_id", c.ID, "user_id", userID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
