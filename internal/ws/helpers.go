package ws

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"nexchat-service/internal/middleware"
)

const (
	KindChat = "chat"
	KindHome = "home"
)

var errMissingToken = errors.New("missing token")

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// authenticate accepts the token from the Authorization header or the
// token query parameter, since browsers cannot set headers on upgrades.
func authenticate(c *gin.Context, v middleware.Verifier) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := middleware.BearerToken(header)
		if !ok {
			return "", middleware.ErrInvalidToken
		}
		return v.Verify(token)
	}
	if token := c.Query("token"); token != "" {
		return v.Verify(token)
	}
	return "", errMissingToken
}

func wsRoutingKey(kind string) string {
	if kind == KindHome {
		return "ws_events.home"
	}
	return "ws_events.chats"
}

func isAbnormalClose(err error) bool {
	return !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}
