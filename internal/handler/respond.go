package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukerupert/checkin/internal/cadence"
	"github.com/dukerupert/checkin/internal/calcom"
	"github.com/dukerupert/checkin/internal/contact"
	"github.com/dukerupert/checkin/internal/store"
	"github.com/dukerupert/checkin/internal/workflow"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps a domain error to an HTTP status and a message safe to
// show the caller.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, contact.ErrNotFound), errors.Is(err, store.ErrContactNotFound):
		return http.StatusNotFound, "contact not found"
	case errors.Is(err, contact.ErrInvalidName):
		return http.StatusBadRequest, "name is required"
	case errors.Is(err, calcom.ErrMalformedLink):
		return http.StatusBadRequest, calcom.ErrMalformedLink.Error()
	case errors.Is(err, cadence.ErrInvalidCadence):
		return http.StatusBadRequest, "cadence must be one of weekly, biweekly, monthly, quarterly, biyearly, yearly"
	case errors.Is(err, workflow.ErrMissingCredential):
		return http.StatusBadRequest, "set a Cal.com API key first"
	case errors.Is(err, workflow.ErrUnknownEvent):
		return http.StatusBadRequest, "unknown event"
	case errors.Is(err, calcom.ErrEventTypeNotFound):
		return http.StatusNotFound, "Cal.com event type not found"
	case errors.Is(err, calcom.ErrAuthenticationFailed):
		return http.StatusBadRequest, "Cal.com API key rejected"
	case errors.Is(err, workflow.ErrBusy):
		return http.StatusConflict, "a check-in cycle is already running for this contact"
	case errors.Is(err, calcom.ErrUnavailable):
		return http.StatusBadGateway, "Cal.com could not be reached"
	case errors.Is(err, calcom.ErrContractViolation):
		return http.StatusBadGateway, "unexpected response from Cal.com"
	}
	return http.StatusInternalServerError, "internal error"
}
