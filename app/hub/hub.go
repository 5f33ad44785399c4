package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

// Conn is one live push channel to a user. The concrete transport is a
// websocket; the hub only needs write-with-context and close.
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Hub maps each user id to at most one live connection and pushes
// schema-validated events over it. Delivery is best-effort: offline users
// miss events, and a connection that fails a write is dropped.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]Conn
	schemas map[string]reflect.Type
}

type envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

func New() *Hub {
	h := &Hub{
		conns:   make(map[string]Conn),
		schemas: make(map[string]reflect.Type),
	}

	for name, payload := range map[string]interface{}{
		EventFeedParsed:       FeedParsedPayload{},
		EventArticleParsed:    ArticleParsedPayload{},
		EventFeedAdded:        FeedAddedPayload{},
		EventFeedAddAmbiguous: FeedAddAmbiguousPayload{},
		EventFeedAddFailed:    FeedAddFailedPayload{},
	} {
		h.schemas[name] = reflect.TypeOf(payload)
	}

	return h
}

// RegisterEvent declares an additional event name and its payload struct.
// Reserved transport control names are rejected.
func (h *Hub) RegisterEvent(name string, payload interface{}) error {
	if reservedEventNames[name] {
		return fmt.Errorf("event name '%s' is reserved", name)
	}

	t := reflect.TypeOf(payload)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("event '%s' payload must be a struct, got %T", name, payload)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.schemas[name]; exists {
		return fmt.Errorf("event '%s' is already registered", name)
	}
	h.schemas[name] = t

	return nil
}

// AddConnection registers a user's live connection. A previous connection
// for the same user is superseded and closed.
func (h *Hub) AddConnection(userID string, conn Conn) {
	h.mu.Lock()
	previous := h.conns[userID]
	h.conns[userID] = conn
	h.mu.Unlock()

	if previous != nil {
		previous.Close()
		slog.Debug("Superseded existing connection", "user_id", userID)
	}
}

// RemoveConnection unregisters conn if it is still the user's current
// connection. A connection superseded in the meantime is left alone, so a
// late disconnect of the old connection cannot evict the new one.
func (h *Hub) RemoveConnection(userID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.conns[userID]; ok && current == conn {
		delete(h.conns, userID)
	}
}

// NotifyUser pushes one event to userID. Returns false when the payload
// fails validation, the user has no live connection, or the write fails.
// A failed write drops the dead connection. Never panics.
func (h *Hub) NotifyUser(ctx context.Context, userID, event string, payload interface{}) bool {
	data, err := h.encode(event, payload)
	if err != nil {
		slog.Error("Invalid notification payload", "event", event, "error", err)
		return false
	}

	h.mu.RLock()
	conn, ok := h.conns[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if err := conn.Write(ctx, data); err != nil {
		slog.Warn("Failed to push notification, dropping connection", "user_id", userID, "event", event, "error", err)
		h.RemoveConnection(userID, conn)
		conn.Close()
		return false
	}

	return true
}

// Broadcast pushes one event to every live connection and returns the
// number delivered. Connections that fail the write are dropped.
func (h *Hub) Broadcast(ctx context.Context, event string, payload interface{}) int {
	data, err := h.encode(event, payload)
	if err != nil {
		slog.Error("Invalid notification payload", "event", event, "error", err)
		return 0
	}

	h.mu.RLock()
	conns := make(map[string]Conn, len(h.conns))
	for userID, conn := range h.conns {
		conns[userID] = conn
	}
	h.mu.RUnlock()

	delivered := 0
	for userID, conn := range conns {
		if err := conn.Write(ctx, data); err != nil {
			slog.Warn("Failed to push broadcast, dropping connection", "user_id", userID, "event", event, "error", err)
			h.RemoveConnection(userID, conn)
			conn.Close()
			continue
		}
		delivered++
	}

	return delivered
}

// ConnectionCount reports the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close drops and closes every live connection
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Conn)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (h *Hub) encode(event string, payload interface{}) ([]byte, error) {
	h.mu.RLock()
	expected, ok := h.schemas[event]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown event '%s'", event)
	}

	actual := reflect.TypeOf(payload)
	for actual != nil && actual.Kind() == reflect.Ptr {
		actual = actual.Elem()
	}
	if actual != expected {
		return nil, fmt.Errorf("event '%s' expects payload %s, got %T", event, expected.Name(), payload)
	}

	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event '%s': %w", event, err)
	}

	return data, nil
}
