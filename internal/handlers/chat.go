package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"nexchat-service/internal/identity"
	"nexchat-service/internal/ledger"
	"nexchat-service/internal/middleware"
	"nexchat-service/internal/models"
	"nexchat-service/internal/nex"
	"nexchat-service/internal/presence"
	"nexchat-service/internal/telemetry"
	"nexchat-service/internal/users"
)

// ChatHandler manages 1:1 conversation endpoints.
type ChatHandler struct {
	users    *users.Directory
	ledger   *ledger.Ledger
	presence *presence.Tracker
	nexes    *nex.Service
	audit    *telemetry.AuditEmitter
	log      zerolog.Logger
}

// NewChatHandler builds a ChatHandler. audit may be nil.
func NewChatHandler(dir *users.Directory, l *ledger.Ledger, tracker *presence.Tracker, nexes *nex.Service, audit *telemetry.AuditEmitter, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		users:    dir,
		ledger:   l,
		presence: tracker,
		nexes:    nexes,
		audit:    audit,
		log:      log.With().Str("component", "chat_handler").Logger(),
	}
}

// peerParam reads :peer_id and rejects invalid ids and self-chats.
func peerParam(c *gin.Context) (me, peer string, ok bool) {
	me = middleware.UserID(c)
	peer = c.Param("peer_id")
	if identity.Validate(peer) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return "", "", false
	}
	if peer == me {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return "", "", false
	}
	return me, peer, true
}

// ListChats returns a summary of the thread with every friend.
func (h *ChatHandler) ListChats(c *gin.Context) {
	me := middleware.UserID(c)
	friends, err := h.users.Friends(c.Request.Context(), me)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load friends"})
		return
	}

	summaries, err := h.ledger.Summaries(c.Request.Context(), me, friends)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	if summaries == nil {
		summaries = []ledger.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"chats": summaries})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	me, peer, ok := peerParam(c)
	if !ok {
		return
	}
	msgs, err := h.ledger.List(c.Request.Context(), identity.ThreadKey(me, peer))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *ChatHandler) PostMessage(c *gin.Context) {
	me, peer, ok := peerParam(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	thread := identity.ThreadKey(me, peer)
	msg, err := h.ledger.Send(c.Request.Context(), thread, me, peer, req.Content)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ledger.ErrEmptyContent) {
			status = http.StatusBadRequest
		}
		emitAudit(c, h.audit, "message_send", "error", thread)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	emitAudit(c, h.audit, "message_send", "ok", thread)
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkRead marks every unread message addressed to the caller as read and
// clears the thread's notification badge.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	me, peer, ok := peerParam(c)
	if !ok {
		return
	}
	thread := identity.ThreadKey(me, peer)
	marked, err := h.ledger.MarkRead(c.Request.Context(), thread, me)
	if err != nil {
		h.log.Warn().Err(err).Str("thread", thread).Int("marked", marked).Msg("mark read incomplete")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read", "marked": marked})
		return
	}
	if err := h.ledger.MarkViewed(c.Request.Context(), thread); err != nil {
		h.log.Warn().Err(err).Str("thread", thread).Msg("mark viewed failed")
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// PutPresence accepts either an explicit inChat flag or a lifecycle event.
func (h *ChatHandler) PutPresence(c *gin.Context) {
	me, peer, ok := peerParam(c)
	if !ok {
		return
	}
	var req struct {
		InChat *bool  `json:"inChat"`
		Event  string `json:"event"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	thread := identity.ThreadKey(me, peer)
	var err error
	switch {
	case req.InChat != nil:
		err = h.presence.SetInChat(c.Request.Context(), thread, me, *req.InChat)
	case req.Event != "":
		if _, known := presence.Lifecycle(req.Event).InChat(); !known {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown lifecycle event"})
			return
		}
		err = h.presence.Apply(c.Request.Context(), thread, me, presence.Lifecycle(req.Event))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "inChat or event is required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update presence"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) GetNexes(c *gin.Context) {
	me, peer, ok := peerParam(c)
	if !ok {
		return
	}
	nexes, err := h.nexes.List(c.Request.Context(), me, peer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load nexes"})
		return
	}
	if nexes == nil {
		nexes = []models.Nex{}
	}
	c.JSON(http.StatusOK, gin.H{"nexes": nexes})
}

// PostNex stores a nex for both participants. A nex that reached only one
// side is still reported as created.
func (h *ChatHandler) PostNex(c *gin.Context) {
	me, peer, ok := peerParam(c)
	if !ok {
		return
	}
	var req struct {
		FrontImageURL string `json:"frontImageURL" binding:"required"`
		BackImageURL  string `json:"backImageURL" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.nexes.Send(c.Request.Context(), me, peer, req.FrontImageURL, req.BackImageURL)
	if err != nil && created.ID == "" {
		emitAudit(c, h.audit, "nex_send", "error", peer)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send nex"})
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Str("nex_id", created.ID).Msg("nex stored on one side only")
	}
	emitAudit(c, h.audit, "nex_send", "ok", created.ID)
	c.JSON(http.StatusCreated, gin.H{"nex": created})
}

func (h *ChatHandler) OpenNex(c *gin.Context) {
	me := middleware.UserID(c)
	var req struct {
		PeerID string `json:"peerID" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if identity.Validate(req.PeerID) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}

	if err := h.nexes.MarkOpened(c.Request.Context(), me, req.PeerID, c.Param("nex_id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, nex.ErrNexNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
