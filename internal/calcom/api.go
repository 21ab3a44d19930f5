package calcom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// EventType is the metadata of a public booking page.
type EventType struct {
	ID              int64
	OwnerID         int64
	OwnerName       string
	OwnerAvatarURL  string
	DurationMinutes int
}

// Account is the owner of an API key.
type Account struct {
	ID       int64
	Username string
	TimeZone string
}

// AvailabilityRange is a window in which the calendar owner is available.
type AvailabilityRange struct {
	Start    time.Time
	End      time.Time
	TimeZone string
}

// Availability is the owner's declared availability and account time zone.
type Availability struct {
	TimeZone string
	Ranges   []AvailabilityRange
}

// BookingRequest describes a booking to create.
type BookingRequest struct {
	EventTypeID   int64
	Start         time.Time
	AttendeeName  string
	AttendeeEmail string
}

// Booking is a booking created on Cal.com.
type Booking struct {
	ID        int64
	UID       string
	StartTime time.Time
	EndTime   time.Time
}

type eventLookupInput struct {
	Username    string  `json:"username"`
	EventSlug   string  `json:"eventSlug"`
	IsTeamEvent bool    `json:"isTeamEvent"`
	Org         *string `json:"org"`
}

type eventLookupResponse []struct {
	Result *struct {
		Data struct {
			JSON *struct {
				ID     *int64 `json:"id"`
				Length *int   `json:"length"`
				Owner  *struct {
					ID        *int64  `json:"id"`
					AvatarURL *string `json:"avatarUrl"`
					Name      string  `json:"name"`
				} `json:"owner"`
			} `json:"json"`
		} `json:"data"`
	} `json:"result"`
	Error json.RawMessage `json:"error"`
}

// LookupEventType resolves a username and event slug to event-type metadata
// via the public tRPC endpoint that backs booking pages.
func (c *Client) LookupEventType(ctx context.Context, username, eventSlug string) (EventType, error) {
	input, err := json.Marshal(map[string]any{
		"0": map[string]any{"json": eventLookupInput{Username: username, EventSlug: eventSlug}},
	})
	if err != nil {
		return EventType{}, fmt.Errorf("marshal lookup input: %w", err)
	}

	params := url.Values{}
	params.Set("batch", "1")
	params.Set("input", string(input))

	var resp eventLookupResponse
	err = c.get(ctx, c.cfg.WebURL+"/api/trpc/public/event", params, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return EventType{}, fmt.Errorf("%w: %s/%s", ErrEventTypeNotFound, username, eventSlug)
	}
	if err != nil {
		return EventType{}, fmt.Errorf("lookup event type: %w", err)
	}

	if len(resp) == 0 || (resp[0].Result == nil && len(resp[0].Error) > 0) {
		return EventType{}, fmt.Errorf("%w: %s/%s", ErrEventTypeNotFound, username, eventSlug)
	}
	data := resp[0].Result
	if data == nil || data.Data.JSON == nil {
		return EventType{}, fmt.Errorf("%w: event lookup missing result", ErrContractViolation)
	}
	ev := data.Data.JSON
	if ev.ID == nil || ev.Owner == nil || ev.Owner.ID == nil {
		return EventType{}, fmt.Errorf("%w: event lookup missing id or owner", ErrContractViolation)
	}
	if ev.Length == nil || *ev.Length <= 0 {
		return EventType{}, fmt.Errorf("%w: event lookup missing length", ErrContractViolation)
	}

	et := EventType{
		ID:              *ev.ID,
		OwnerID:         *ev.Owner.ID,
		OwnerName:       ev.Owner.Name,
		DurationMinutes: *ev.Length,
	}
	if ev.Owner.AvatarURL != nil {
		et.OwnerAvatarURL = *ev.Owner.AvatarURL
	}
	return et, nil
}

type slotsResponse struct {
	Slots map[string][]struct {
		Time string `json:"time"`
	} `json:"slots"`
}

// ListSlots returns bookable start times keyed by day. An empty map means
// nothing is free in the window.
func (c *Client) ListSlots(ctx context.Context, apiKey string, eventTypeID int64, start, end time.Time) (map[string][]time.Time, error) {
	params := url.Values{}
	params.Set("apiKey", apiKey)
	params.Set("startTime", start.UTC().Format(time.RFC3339))
	params.Set("endTime", end.UTC().Format(time.RFC3339))
	params.Set("eventTypeId", strconv.FormatInt(eventTypeID, 10))

	var resp slotsResponse
	if err := c.get(ctx, c.cfg.APIURL+"/slots", params, &resp); err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	if resp.Slots == nil {
		return nil, fmt.Errorf("%w: slots missing", ErrContractViolation)
	}

	out := make(map[string][]time.Time, len(resp.Slots))
	for day, slots := range resp.Slots {
		times := make([]time.Time, 0, len(slots))
		for _, s := range slots {
			ts, err := time.Parse(time.RFC3339, s.Time)
			if err != nil {
				return nil, fmt.Errorf("%w: slot time %q", ErrContractViolation, s.Time)
			}
			times = append(times, ts)
		}
		out[day] = times
	}
	return out, nil
}

type availabilityResponse struct {
	TimeZone   *string `json:"timeZone"`
	DateRanges []struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"dateRanges"`
}

// ListAvailability returns the declared availability of username between
// start and end.
func (c *Client) ListAvailability(ctx context.Context, apiKey, username string, start, end time.Time) (Availability, error) {
	params := url.Values{}
	params.Set("apiKey", apiKey)
	params.Set("username", username)
	params.Set("dateFrom", start.UTC().Format(time.RFC3339))
	params.Set("dateTo", end.UTC().Format(time.RFC3339))

	var resp availabilityResponse
	if err := c.get(ctx, c.cfg.APIURL+"/availability", params, &resp); err != nil {
		return Availability{}, fmt.Errorf("list availability: %w", err)
	}
	if resp.TimeZone == nil {
		return Availability{}, fmt.Errorf("%w: availability missing timeZone", ErrContractViolation)
	}

	av := Availability{TimeZone: *resp.TimeZone}
	for _, r := range resp.DateRanges {
		s, err := time.Parse(time.RFC3339, r.Start)
		if err != nil {
			return Availability{}, fmt.Errorf("%w: range start %q", ErrContractViolation, r.Start)
		}
		e, err := time.Parse(time.RFC3339, r.End)
		if err != nil {
			return Availability{}, fmt.Errorf("%w: range end %q", ErrContractViolation, r.End)
		}
		av.Ranges = append(av.Ranges, AvailabilityRange{Start: s, End: e, TimeZone: av.TimeZone})
	}
	return av, nil
}

type meResponse struct {
	User *struct {
		ID       *int64 `json:"id"`
		Username string `json:"username"`
		TimeZone string `json:"timeZone"`
	} `json:"user"`
}

// GetAccountInfo returns the account that owns apiKey.
func (c *Client) GetAccountInfo(ctx context.Context, apiKey string) (Account, error) {
	params := url.Values{}
	params.Set("apiKey", apiKey)

	var resp meResponse
	if err := c.get(ctx, c.cfg.APIURL+"/me", params, &resp); err != nil {
		return Account{}, fmt.Errorf("get account info: %w", err)
	}
	if resp.User == nil || resp.User.ID == nil {
		return Account{}, fmt.Errorf("%w: me missing user", ErrContractViolation)
	}
	return Account{
		ID:       *resp.User.ID,
		Username: resp.User.Username,
		TimeZone: resp.User.TimeZone,
	}, nil
}

type bookingResponses struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Location string `json:"location"`
	Notes    string `json:"notes"`
}

type createBookingRequest struct {
	EventTypeID int64             `json:"eventTypeId"`
	Start       string            `json:"start"`
	TimeZone    string            `json:"timeZone"`
	Language    string            `json:"language"`
	Responses   bookingResponses  `json:"responses"`
	Metadata    map[string]string `json:"metadata"`
}

type bookingResponse struct {
	ID        *int64 `json:"id"`
	UID       string `json:"uid"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// CreateBooking books a meeting. It has a real side effect on the remote
// calendar and is not idempotent.
func (c *Client) CreateBooking(ctx context.Context, apiKey string, br BookingRequest) (Booking, error) {
	params := url.Values{}
	params.Set("apiKey", apiKey)

	body := createBookingRequest{
		EventTypeID: br.EventTypeID,
		Start:       br.Start.UTC().Format(time.RFC3339),
		TimeZone:    c.cfg.TimeZone,
		Language:    "en",
		Responses: bookingResponses{
			Name:  br.AttendeeName,
			Email: br.AttendeeEmail,
			Notes: c.cfg.Notes,
		},
		Metadata: map[string]string{"checkin": "true"},
	}

	var resp bookingResponse
	if err := c.postJSON(ctx, c.cfg.APIURL+"/bookings", params, body, &resp); err != nil {
		return Booking{}, fmt.Errorf("create booking: %w", err)
	}
	if resp.ID == nil || resp.UID == "" {
		return Booking{}, fmt.Errorf("%w: booking missing id or uid", ErrContractViolation)
	}
	start, err := time.Parse(time.RFC3339, resp.StartTime)
	if err != nil {
		return Booking{}, fmt.Errorf("%w: booking startTime %q", ErrContractViolation, resp.StartTime)
	}
	end, err := time.Parse(time.RFC3339, resp.EndTime)
	if err != nil {
		return Booking{}, fmt.Errorf("%w: booking endTime %q", ErrContractViolation, resp.EndTime)
	}

	return Booking{ID: *resp.ID, UID: resp.UID, StartTime: start, EndTime: end}, nil
}

type cancelRequest struct {
	UID                  string `json:"uid"`
	AllRemainingBookings bool   `json:"allRemainingBookings"`
	CancellationReason   string `json:"cancellationReason"`
}

// CancelBooking cancels the booking with the given uid. A booking that is
// already gone yields ErrBookingGone.
func (c *Client) CancelBooking(ctx context.Context, uid string) error {
	err := c.postJSON(ctx, c.cfg.CancelURL, nil, cancelRequest{UID: uid}, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone) {
		return fmt.Errorf("cancel booking %s: %w", uid, ErrBookingGone)
	}
	if err != nil {
		return fmt.Errorf("cancel booking %s: %w", uid, err)
	}
	return nil
}
