package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nexchat-service/internal/friends"
	"nexchat-service/internal/identity"
	"nexchat-service/internal/middleware"
	"nexchat-service/internal/models"
	"nexchat-service/internal/telemetry"
	"nexchat-service/internal/users"
)

// FriendHandler exposes the friend request workflow.
type FriendHandler struct {
	workflow *friends.Workflow
	audit    *telemetry.AuditEmitter
}

func NewFriendHandler(workflow *friends.Workflow, audit *telemetry.AuditEmitter) *FriendHandler {
	return &FriendHandler{workflow: workflow, audit: audit}
}

func friendErrorStatus(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidUserID), errors.Is(err, friends.ErrSelfRequest):
		return http.StatusBadRequest
	case errors.Is(err, friends.ErrNotRecipient):
		return http.StatusForbidden
	case errors.Is(err, users.ErrUserNotFound), errors.Is(err, friends.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, friends.ErrAlreadyFriends), errors.Is(err, friends.ErrRequestExists), errors.Is(err, friends.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ListIncoming returns pending requests addressed to the caller.
func (h *FriendHandler) ListIncoming(c *gin.Context) {
	requests, err := h.workflow.Incoming(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load friend requests"})
		return
	}
	if requests == nil {
		requests = []models.FriendRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (h *FriendHandler) Send(c *gin.Context) {
	var req struct {
		ToUserID string `json:"toUserID" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.workflow.Send(c.Request.Context(), middleware.UserID(c), req.ToUserID)
	if err != nil {
		emitAudit(c, h.audit, "friend_request_send", "error", req.ToUserID)
		c.JSON(friendErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	emitAudit(c, h.audit, "friend_request_send", "ok", created.ID)
	c.JSON(http.StatusCreated, gin.H{"request": created})
}

func (h *FriendHandler) Accept(c *gin.Context) {
	h.answer(c, "friend_request_accept", h.workflow.Accept)
}

func (h *FriendHandler) Reject(c *gin.Context) {
	h.answer(c, "friend_request_reject", h.workflow.Reject)
}

type answerFunc func(ctx context.Context, requestID, actingUserID string) (models.FriendRequest, error)

func (h *FriendHandler) answer(c *gin.Context, action string, fn answerFunc) {
	requestID := c.Param("request_id")
	answered, err := fn(c.Request.Context(), requestID, middleware.UserID(c))
	if err != nil {
		emitAudit(c, h.audit, action, "error", requestID)
		c.JSON(friendErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	emitAudit(c, h.audit, action, "ok", requestID)
	c.JSON(http.StatusOK, gin.H{"request": answered})
}

// Relation reports how the caller stands with :user_id.
func (h *FriendHandler) Relation(c *gin.Context) {
	other := c.Param("user_id")
	if identity.Validate(other) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	rel, err := h.workflow.Relation(c.Request.Context(), middleware.UserID(c), other)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load relation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"relation": rel})
}
