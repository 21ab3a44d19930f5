package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/checkin/internal/auth"
	"github.com/dukerupert/checkin/internal/cadence"
	"github.com/dukerupert/checkin/internal/contact"
	"github.com/dukerupert/checkin/internal/model"
)

type ContactHandler struct {
	svc    *contact.Service
	logger *slog.Logger
}

func NewContactHandler(svc *contact.Service, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{svc: svc, logger: logger}
}

type contactRequest struct {
	Name    string `json:"name"`
	CalLink string `json:"cal_link"`
	Cadence string `json:"cadence"`
}

func (h *ContactHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, "user_id", auth.UserID(r.Context()), "error", err)
	} else {
		h.logger.Warn(op, "user_id", auth.UserID(r.Context()), "status", status, "error", err)
	}
	writeError(w, status, msg)
}

func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.svc.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, "list contacts", err)
		return
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CalLink == "" {
		writeError(w, http.StatusBadRequest, "cal_link is required")
		return
	}
	c, err := cadence.Parse(req.Cadence)
	if err != nil {
		h.fail(w, r, "create contact", err)
		return
	}

	created, err := h.svc.Create(r.Context(), auth.UserID(r.Context()), contact.CreateInput{
		Name:    req.Name,
		CalLink: req.CalLink,
		Cadence: c,
	})
	if err != nil {
		h.fail(w, r, "create contact", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get contact", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c, err := cadence.Parse(req.Cadence)
	if err != nil {
		h.fail(w, r, "update contact", err)
		return
	}

	updated, err := h.svc.Update(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), contact.UpdateInput{
		Name:    req.Name,
		Cadence: c,
	})
	if err != nil {
		h.fail(w, r, "update contact", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), auth.UserID(r.Context()), r.PathValue("id")); err != nil {
		h.fail(w, r, "delete contact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
