package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nexchat-service/internal/middleware"
	"nexchat-service/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) string {
	if userID := middleware.UserID(c); userID != "" {
		return userID
	}
	return c.GetHeader("X-User-ID")
}

func emitAudit(c *gin.Context, emitter *telemetry.AuditEmitter, action, outcome, subject string) {
	level := "info"
	if outcome != "ok" {
		level = "warn"
	}
	emitter.Emit(c.Request.Context(), telemetry.AuditRecord{
		Level:     level,
		Text:      action + " " + outcome,
		Action:    action,
		Outcome:   outcome,
		Subject:   subject,
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
	})
}
