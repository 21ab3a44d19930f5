package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

// ErrNotConfigured is returned when sending without a server token.
var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a Postmark client. baseURL is the public address of the
// app, used for links in messages.
func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// CycleStopped describes a contact whose automatic scheduling has stopped.
type CycleStopped struct {
	To          string
	UserName    string
	ContactID   string
	ContactName string
	Reason      string
}

// SendCycleStopped tells the user that check-ins with a contact are no
// longer being booked and why.
func (c *Client) SendCycleStopped(ctx context.Context, m CycleStopped) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	greeting := "Hi"
	if m.UserName != "" {
		greeting = "Hi " + m.UserName
	}
	link := fmt.Sprintf("%s/contacts/%s", c.baseURL, m.ContactID)
	subject := fmt.Sprintf("Check-ins with %s are paused", m.ContactName)

	textBody := fmt.Sprintf(
		"%s,\n\nWe could not schedule your next check-in with %s:\n\n  %s\n\nFix the problem and save the contact again to resume:\n%s\n",
		greeting, m.ContactName, m.Reason, link,
	)
	htmlBody := fmt.Sprintf(
		`<p>%s,</p><p>We could not schedule your next check-in with %s:</p><blockquote>%s</blockquote><p><a href="%s">Fix the problem and save the contact again</a> to resume.</p>`,
		html.EscapeString(greeting), html.EscapeString(m.ContactName), html.EscapeString(m.Reason), link,
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       m.To,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	return nil
}
