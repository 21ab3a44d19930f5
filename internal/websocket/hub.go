package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/checkin/internal/notify"
)

// Message is a live update pushed to a user's connected clients.
type Message struct {
	Type      string         `json:"type"`
	Entity    string         `json:"entity"`
	Action    string         `json:"action"`
	ContactID string         `json:"contact_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action, contactID string, extra map[string]any) Message {
	return Message{
		Type:      fmt.Sprintf("%s_%s", entity, action),
		Entity:    entity,
		Action:    action,
		ContactID: contactID,
		Extra:     extra,
	}
}

// Hub tracks connected clients per user.
type Hub struct {
	mu     sync.RWMutex
	byUser map[int64]map[*Client]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		byUser: make(map[int64]map[*Client]struct{}),
		logger: logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byUser[c.userID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a client and closes its send channel. Calling it twice is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.byUser[c.userID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.byUser, c.userID)
	}
}

// SendToUser delivers msg to every client of userID. Slow clients miss
// messages instead of blocking the caller.
func (h *Hub) SendToUser(userID int64, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.byUser[userID]
	if len(set) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}
	for c := range set {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("client buffer full, message dropped", "user_id", userID, "type", msg.Type)
		}
	}
}

// Notify implements notify.Notifier.
func (h *Hub) Notify(userID int64, e notify.Event) {
	h.SendToUser(userID, NewMessage(e.Entity, e.Action, e.ContactID, e.Extra))
}

// ClientCount returns the number of open connections across all users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.byUser {
		n += len(set)
	}
	return n
}
