package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"nexchat-service/internal/friends"
	"nexchat-service/internal/models"
	"nexchat-service/internal/session"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// Client frame types.
const (
	FrameInput     = "input"
	FrameSend      = "send"
	FrameLifecycle = "lifecycle"
	FrameVisible   = "visible"
	FrameOpenNex   = "open_nex"
)

// Server frame types.
const (
	FrameState         = "state"
	FrameSent          = "sent"
	FrameError         = "error"
	FrameFriendRequest = "friend_request"
)

type clientFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Event   string `json:"event,omitempty"`
	Visible *bool  `json:"visible,omitempty"`
	NexID   string `json:"nexID,omitempty"`
}

type serverFrame struct {
	Type    string             `json:"type"`
	State   *session.ChatState `json:"state,omitempty"`
	Message *models.Message    `json:"message,omitempty"`
	Popup   *friends.Popup     `json:"popup,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func writeFrame(conn *websocket.Conn, f serverFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}
