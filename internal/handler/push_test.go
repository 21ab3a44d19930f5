package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/push"
	"github.com/dukerupert/checkin/internal/store"
)

type fakePush struct {
	sent []string
}

func (f *fakePush) Send(ctx context.Context, sub *model.PushSubscription, p push.Payload) error {
	if sub.DeviceName == "broken" {
		return errors.New("push service returned 500")
	}
	f.sent = append(f.sent, sub.Endpoint)
	return nil
}

func (f *fakePush) VAPIDPublicKey() string { return "BPub" }

func pushMux(env *testEnv, svc PushService) (*http.ServeMux, *store.PushStore) {
	subs := store.NewPushStore(env.db)
	ph := NewPushHandler(subs, svc, slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/push/vapid-key", ph.VAPIDKey)
	mux.HandleFunc("GET /api/push/subscriptions", ph.List)
	mux.HandleFunc("POST /api/push/subscriptions", ph.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", ph.Unsubscribe)
	mux.HandleFunc("POST /api/push/test", ph.Test)
	return mux, subs
}

func TestPushSubscribeAndList(t *testing.T) {
	env := setupHandlerEnv(t)
	mux, _ := pushMux(env, &fakePush{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, env.request("POST", "/api/push/subscriptions", subscribeRequest{
		Endpoint: "https://push.example/1", P256dh: "p", Auth: "a", DeviceName: "laptop",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	json.NewDecoder(rec.Body).Decode(&created)
	if _, leaked := created["auth_key"]; leaked {
		t.Error("auth key exposed in response")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, env.request("GET", "/api/push/subscriptions", nil))
	var subs []model.PushSubscription
	json.NewDecoder(rec.Body).Decode(&subs)
	if len(subs) != 1 || subs[0].DeviceName != "laptop" {
		t.Errorf("subscriptions = %+v", subs)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, env.request("POST", "/api/push/subscriptions", subscribeRequest{Endpoint: "https://push.example/2"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing keys status = %d", rec.Code)
	}
}

func TestPushUnsubscribe(t *testing.T) {
	env := setupHandlerEnv(t)
	mux, subs := pushMux(env, &fakePush{})
	sub, err := subs.Subscribe(env.user.ID, "https://push.example/1", "p", "a", "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tests := []struct {
		path string
		want int
	}{
		{fmt.Sprintf("/api/push/subscriptions/%d", sub.ID), http.StatusNoContent},
		{fmt.Sprintf("/api/push/subscriptions/%d", sub.ID), http.StatusNotFound},
		{"/api/push/subscriptions/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, env.request("DELETE", tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("DELETE %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestPushTestAndVAPIDKey(t *testing.T) {
	env := setupHandlerEnv(t)
	fp := &fakePush{}
	mux, subs := pushMux(env, fp)
	subs.Subscribe(env.user.ID, "https://push.example/ok", "p", "a", "phone")
	subs.Subscribe(env.user.ID, "https://push.example/bad", "p", "a", "broken")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, env.request("POST", "/api/push/test", nil))
	var got map[string]int
	json.NewDecoder(rec.Body).Decode(&got)
	if got["sent"] != 1 || len(fp.sent) != 1 {
		t.Errorf("sent = %v, deliveries = %v", got, fp.sent)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, env.request("GET", "/api/push/vapid-key", nil))
	var key map[string]string
	json.NewDecoder(rec.Body).Decode(&key)
	if key["public_key"] != "BPub" {
		t.Errorf("key = %v", key)
	}
}
