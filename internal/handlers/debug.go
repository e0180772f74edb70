package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nexchat-service/internal/repositories"
	"nexchat-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, identities repositories.LocalStateRepository, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitAudit(c, emitter, "audit_test", "ok", "")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/devices/:device_id/identity", func(c *gin.Context) {
		ident, err := identities.LastIdentity(c.Request.Context(), c.Param("device_id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrIdentityNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": "identity not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"identity": ident})
	})
}

// RegisterHealthRoutes wires the liveness endpoint.
func RegisterHealthRoutes(router *gin.Engine, mode, amqpMode string) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode, "amqp": amqpMode})
	})
}
