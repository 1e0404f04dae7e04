package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"staff-chat/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		ctx := telemetry.WithRequestID(c.Request.Context(), requestIDFromContext(c))
		emitter.Emit(ctx, telemetry.AuditEntry{
			Action:        "debug.audit_test",
			Text:          "audit test",
			ParticipantID: participantIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
