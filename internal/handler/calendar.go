package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/dukerupert/checkin/internal/auth"
	"github.com/dukerupert/checkin/internal/contact"
)

// CalendarHandler exports a contact's check-ins as an iCalendar feed.
type CalendarHandler struct {
	svc    *contact.Service
	webURL string
	logger *slog.Logger
}

func NewCalendarHandler(svc *contact.Service, webURL string, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{svc: svc, webURL: webURL, logger: logger}
}

func (h *CalendarHandler) Bookings(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("export bookings", "contact_id", r.PathValue("id"), "error", err)
		}
		writeError(w, status, msg)
		return
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//checkin//bookings//EN")
	cal.SetXWRCalName("Check-ins with " + c.Name)

	stamp := time.Now().UTC()
	for _, b := range c.Bookings {
		ev := cal.AddEvent(fmt.Sprintf("%s@cal.com", b.CalUID))
		ev.SetDtStampTime(stamp)
		ev.SetCreatedTime(b.CreatedAt)
		ev.SetStartAt(b.StartTime)
		ev.SetEndAt(b.EndTime)
		ev.SetSummary("Check-in with " + c.Name)
		ev.SetStatus(ics.ObjectStatusConfirmed)
		if h.webURL != "" {
			ev.SetURL(h.webURL + "/booking/" + b.CalUID)
		}
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="checkins-%s.ics"`, c.ID))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(cal.Serialize()))
}
