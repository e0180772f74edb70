package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"nexchat-service/internal/identity"
	"nexchat-service/internal/middleware"
	"nexchat-service/internal/observability"
	"nexchat-service/internal/presence"
	"nexchat-service/internal/session"
)

// IdentityRecorder remembers which user last connected from a device.
type IdentityRecorder interface {
	SetLastIdentity(ctx context.Context, deviceID, userID string) error
}

// ChatWebSocketHandler runs one chat session per connection and relays
// client commands and state updates over it.
type ChatWebSocketHandler struct {
	hub        *Hub
	deps       session.Deps
	verifier   middleware.Verifier
	identities IdentityRecorder
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler. identities may
// be nil.
func NewChatWebSocketHandler(hub *Hub, deps session.Deps, verifier middleware.Verifier, identities IdentityRecorder) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{hub: hub, deps: deps, verifier: verifier, identities: identities}
}

// Handle upgrades GET /ws/chats/:peer_id.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	peerID := c.Param("peer_id")
	if identity.Validate(peerID) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}

	ctx, span := otel.Tracer("nexchat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := authenticate(c, h.verifier)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if userID == peerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageSize)

	info := ConnInfo{
		ConnID:      newConnID(),
		Kind:        KindChat,
		Room:        identity.ThreadKey(userID, peerID),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	// The request context ends when this handler returns.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess, err := session.Open(connCtx, h.deps, userID, peerID)
	if err != nil {
		cancel()
		h.deps.Log.Error().Err(err).Str("conn_id", info.ConnID).Msg("open chat session failed")
		_ = writeFrame(conn, serverFrame{Type: FrameError, Error: "session unavailable"})
		conn.Close()
		return
	}
	if h.identities != nil && info.DeviceID != "" {
		if err := h.identities.SetLastIdentity(connCtx, info.DeviceID, userID); err != nil {
			h.deps.Log.Warn().Err(err).Str("device_id", info.DeviceID).Msg("record device identity failed")
		}
	}

	h.hub.Add(conn, info)
	observability.IncWSActive(KindChat)
	h.hub.publishEvent(connCtx, info, "ws_connect", "")

	go h.serve(connCtx, cancel, conn, sess, info)
}

func (h *ChatWebSocketHandler) serve(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session, info ConnInfo) {
	out := make(chan serverFrame, 16)
	written := make(chan struct{})
	go chatWriteLoop(ctx, conn, sess.Updates(), out, written)

	var closeReason string
	defer func() {
		cancel()
		sess.Close()
		<-written
		h.hub.Remove(conn, info)
		observability.DecWSActive(KindChat)
		h.hub.publishEvent(context.WithoutCancel(ctx), info, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if isAbnormalClose(err) {
				h.hub.publishEvent(context.WithoutCancel(ctx), info, "ws_error", closeReason)
			}
			return
		}
		var frame clientFrame
		reply := &serverFrame{Type: FrameError, Error: "malformed frame"}
		if json.Unmarshal(data, &frame) == nil {
			reply = h.apply(ctx, sess, frame)
		}
		if reply == nil {
			continue
		}
		select {
		case out <- *reply:
		case <-written:
			return
		}
	}
}

// apply runs one client command and returns the frame to send back, if any.
func (h *ChatWebSocketHandler) apply(ctx context.Context, sess *session.Session, f clientFrame) *serverFrame {
	var err error
	switch f.Type {
	case FrameInput:
		err = sess.InputChanged(ctx, f.Text)
	case FrameSend:
		msg, sendErr := sess.SendMessage(ctx, f.Text)
		if sendErr == nil {
			return &serverFrame{Type: FrameSent, Message: &msg}
		}
		err = sendErr
	case FrameLifecycle:
		err = sess.Lifecycle(ctx, presence.Lifecycle(f.Event))
	case FrameVisible:
		if f.Visible == nil {
			err = errors.New("visible is required")
			break
		}
		err = sess.SetVisible(ctx, *f.Visible)
	case FrameOpenNex:
		err = sess.OpenNex(ctx, f.NexID)
	default:
		err = errors.New("unknown frame type")
	}
	if err != nil {
		return &serverFrame{Type: FrameError, Error: err.Error()}
	}
	return nil
}

func chatWriteLoop(ctx context.Context, conn *websocket.Conn, updates <-chan session.ChatState, out <-chan serverFrame, done chan<- struct{}) {
	defer close(done)
	for {
		var frame serverFrame
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			frame = serverFrame{Type: FrameState, State: &st}
		case frame = <-out:
		}
		if err := writeFrame(conn, frame); err != nil {
			// Unblocks the read loop.
			conn.Close()
			return
		}
	}
}
