// Package calcom is a typed client for the Cal.com v1 REST API and the
// public event-type lookup used by booking pages.
package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrEventTypeNotFound is returned when no event type matches a username and slug.
	ErrEventTypeNotFound = errors.New("event type not found")
	// ErrAuthenticationFailed is returned when Cal.com rejects the API key.
	ErrAuthenticationFailed = errors.New("cal.com authentication failed")
	// ErrContractViolation is returned when a response does not have the expected shape.
	ErrContractViolation = errors.New("unexpected cal.com response")
	// ErrUnavailable wraps transport failures, rate limiting and 5xx responses.
	ErrUnavailable = errors.New("cal.com unavailable")
	// ErrNotProcessed marks failures where Cal.com provably did not act on
	// the request: the connection was never made or it was rate limited.
	ErrNotProcessed = errors.New("request not processed")
	// ErrBookingGone is returned when cancelling a booking that no longer exists.
	ErrBookingGone = errors.New("booking already cancelled")
)

const (
	defaultAPIURL    = "https://api.cal.com/v1"
	defaultWebURL    = "https://cal.com"
	defaultCancelURL = "https://app.cal.com/api/cancel"
	defaultTimeZone  = "Europe/Berlin"
)

// Config holds Cal.com endpoint configuration.
type Config struct {
	APIURL    string
	WebURL    string
	CancelURL string
	Timeout   time.Duration
	// TimeZone is sent with bookings. Slot times are absolute, so it only
	// affects how Cal.com renders the confirmation.
	TimeZone string
	// Notes is attached to every booking created by the scheduler.
	Notes string
}

// Client talks to Cal.com.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a Cal.com client, filling in defaults for unset fields.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.WebURL == "" {
		cfg.WebURL = defaultWebURL
	}
	if cfg.CancelURL == "" {
		cfg.CancelURL = defaultCancelURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = defaultTimeZone
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.WebURL = strings.TrimRight(cfg.WebURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx response from Cal.com.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("cal.com returned %d", e.StatusCode)
	}
	return fmt.Sprintf("cal.com returned %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Unwrap classifies the status so callers can use errors.Is.
func (e *StatusError) Unwrap() []error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return []error{ErrAuthenticationFailed}
	case e.StatusCode == http.StatusTooManyRequests:
		return []error{ErrUnavailable, ErrNotProcessed}
	case e.StatusCode >= 500:
		return []error{ErrUnavailable}
	}
	return nil
}

// IsTransient reports whether err is worth retrying for a read-only call.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRetrySafe reports whether a failed call can be repeated without risking
// a second side effect. Timeouts and 5xx responses are ambiguous: the
// request may have been applied.
func IsRetrySafe(err error) bool {
	return errors.Is(err, ErrUnavailable) && errors.Is(err, ErrNotProcessed)
}

// do sends req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w: %w: %v", ErrUnavailable, ErrNotProcessed, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrContractViolation, req.URL.Path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string, params url.Values, out any) error {
	u := rawURL
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, params url.Values, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	u := rawURL
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
