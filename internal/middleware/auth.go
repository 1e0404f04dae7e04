package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/auth"
)

// ParticipantIDKey is the gin context key holding the authenticated participant.
const ParticipantIDKey = "participantID"

// AuthMiddleware validates the bearer token in the Authorization header.
func AuthMiddleware(verifier auth.SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		participantID, err := verifier.Verify(c.Request.Context(), parts[1])
		if err != nil {
			if apperrors.IsTransient(err) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ParticipantIDKey, participantID)
		c.Next()
	}
}
