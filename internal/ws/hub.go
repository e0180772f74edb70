package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nexchat-service/internal/observability"
	"nexchat-service/internal/telemetry"
)

// Hub tracks live websocket connections per room. A chat room is a thread
// key and a home room is a user id.
type Hub struct {
	rooms     map[string]map[*websocket.Conn]ConnInfo
	mu        sync.RWMutex
	publisher telemetry.Publisher
	log       zerolog.Logger
}

// EventEnvelope is the lifecycle event published for every connection
// transition.
type EventEnvelope struct {
	EventType  string         `json:"event_type"`
	EventName  string         `json:"event_name"`
	OccurredAt string         `json:"occurred_at"`
	RequestID  string         `json:"request_id,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// NewHub creates an empty hub. publisher may be nil.
func NewHub(publisher telemetry.Publisher, log zerolog.Logger) *Hub {
	return &Hub{
		rooms:     make(map[string]map[*websocket.Conn]ConnInfo),
		publisher: publisher,
		log:       log.With().Str("component", "ws_hub").Logger(),
	}
}

func roomKey(kind, room string) string {
	return kind + ":" + room
}

// Add registers a connection.
func (h *Hub) Add(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := roomKey(info.Kind, info.Room)
	if _, ok := h.rooms[key]; !ok {
		h.rooms[key] = make(map[*websocket.Conn]ConnInfo)
	}
	h.rooms[key][conn] = info
}

// Remove unregisters a connection and reports whether it was present.
func (h *Hub) Remove(conn *websocket.Conn, info ConnInfo) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := roomKey(info.Kind, info.Room)
	conns, ok := h.rooms[key]
	if !ok {
		return false
	}
	if _, ok := conns[conn]; !ok {
		return false
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.rooms, key)
	}
	return true
}

// Count returns the number of connections in a room.
func (h *Hub) Count(kind, room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey(kind, room)])
}

// CloseAll sends a going-away close frame to every connection. Each
// connection's own read loop performs the cleanup.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var conns []*websocket.Conn
	for _, room := range h.rooms {
		for conn := range room {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		if conn == nil {
			continue
		}
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
}

// publishEvent reports a connection transition. reason is empty on connect.
func (h *Hub) publishEvent(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(info.Kind, event)
	if h.publisher == nil {
		return
	}
	envelope := EventEnvelope{
		EventType:  "ws_events",
		EventName:  event,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:  info.RequestID,
		TraceID:    info.TraceID,
		Payload: map[string]any{
			"ws": map[string]any{
				"kind":        info.Kind,
				"room":        info.Room,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]any{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}
	if err := h.publisher.Publish(ctx, wsRoutingKey(info.Kind), envelope); err != nil {
		h.log.Warn().Err(err).Str("event", event).Str("conn_id", info.ConnID).Msg("ws event publish failed")
	}
}
