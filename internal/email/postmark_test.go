package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, token string, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	client := NewClient(token, "noreply@example.com", "https://checkin.test")
	client.httpClient = &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: server.URL}}
	return client
}

func TestSendCycleStopped(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	client := newTestClient(t, "test-token", func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	})

	err := client.SendCycleStopped(context.Background(), CycleStopped{
		To:          "alice@example.com",
		UserName:    "Alice",
		ContactID:   "c-1",
		ContactName: "Bob <script>",
		Reason:      "Cal.com API key rejected",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" || received.From != "noreply@example.com" {
		t.Errorf("to/from = %q/%q", received.To, received.From)
	}
	if received.Subject != "Check-ins with Bob <script> are paused" {
		t.Errorf("Subject = %q", received.Subject)
	}
	if !strings.Contains(received.TextBody, "https://checkin.test/contacts/c-1") {
		t.Errorf("text body missing link: %q", received.TextBody)
	}
	if strings.Contains(received.HtmlBody, "<script>") {
		t.Error("html body must escape contact name")
	}
}

func TestSendNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com", "https://checkin.test")

	err := client.SendCycleStopped(context.Background(), CycleStopped{To: "alice@example.com"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSendAPIError(t *testing.T) {
	client := newTestClient(t, "test-token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	err := client.SendCycleStopped(context.Background(), CycleStopped{To: "alice@example.com"})
	if err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestConfigured(t *testing.T) {
	if !NewClient("token", "from@test.com", "https://test.com").Configured() {
		t.Error("expected Configured() = true")
	}
	if NewClient("", "from@test.com", "https://test.com").Configured() {
		t.Error("expected Configured() = false")
	}
}

// rewriteTransport redirects all requests to a test server URL.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target[len("http://"):]
	return t.base.RoundTrip(req)
}
