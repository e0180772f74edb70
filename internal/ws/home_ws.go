package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"nexchat-service/internal/friends"
	"nexchat-service/internal/middleware"
	"nexchat-service/internal/observability"
)

// HomeWebSocketHandler streams friend request popups to a signed-in user.
type HomeWebSocketHandler struct {
	hub      *Hub
	popups   *friends.PopupWatcher
	verifier middleware.Verifier
	log      zerolog.Logger
}

func NewHomeWebSocketHandler(hub *Hub, popups *friends.PopupWatcher, verifier middleware.Verifier, log zerolog.Logger) *HomeWebSocketHandler {
	return &HomeWebSocketHandler{hub: hub, popups: popups, verifier: verifier, log: log.With().Str("component", "ws_home").Logger()}
}

// Handle upgrades GET /ws/home.
func (h *HomeWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("nexchat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := authenticate(c, h.verifier)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageSize)

	info := ConnInfo{
		ConnID:      newConnID(),
		Kind:        KindHome,
		Room:        userID,
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	popups, err := h.popups.Watch(connCtx, userID)
	if err != nil {
		cancel()
		h.log.Error().Err(err).Str("user_id", userID).Msg("watch friend requests failed")
		_ = writeFrame(conn, serverFrame{Type: FrameError, Error: "friend requests unavailable"})
		conn.Close()
		return
	}

	h.hub.Add(conn, info)
	observability.IncWSActive(KindHome)
	h.hub.publishEvent(connCtx, info, "ws_connect", "")

	written := make(chan struct{})
	go homeWriteLoop(connCtx, conn, popups, written)
	go func() {
		var closeReason string
		defer func() {
			cancel()
			<-written
			h.hub.Remove(conn, info)
			observability.DecWSActive(KindHome)
			h.hub.publishEvent(context.WithoutCancel(connCtx), info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		// Clients send nothing; reading detects the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if isAbnormalClose(err) {
					h.hub.publishEvent(context.WithoutCancel(connCtx), info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}

func homeWriteLoop(ctx context.Context, conn *websocket.Conn, popups <-chan friends.Popup, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-popups:
			if !ok {
				return
			}
			if err := writeFrame(conn, serverFrame{Type: FrameFriendRequest, Popup: &p}); err != nil {
				conn.Close()
				return
			}
			p.Shown(context.WithoutCancel(ctx))
		}
	}
}
