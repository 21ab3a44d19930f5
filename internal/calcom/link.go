package calcom

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedLink is returned for booking links that do not name a user and event type.
var ErrMalformedLink = errors.New("malformed cal.com link: event type needs to be included in URL")

// Link is a normalized booking page link: https://<host>/<username>/<eventSlug>.
type Link struct {
	Host      string
	Username  string
	EventSlug string
}

// String returns the normalized link without query string or fragment.
func (l Link) String() string {
	return "https://" + l.Host + "/" + l.Username + "/" + l.EventSlug
}

// ParseLink validates and normalizes a booking link. The scheme is optional,
// the query string and fragment are dropped, and the path must have exactly
// two segments.
func ParseLink(raw string) (Link, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Link{}, ErrMalformedLink
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return Link{}, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedLink, u.Scheme)
	}
	if u.Hostname() == "" {
		return Link{}, fmt.Errorf("%w: missing host", ErrMalformedLink)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return Link{}, ErrMalformedLink
	}

	return Link{
		Host:      strings.ToLower(u.Host),
		Username:  segments[0],
		EventSlug: segments[1],
	}, nil
}
