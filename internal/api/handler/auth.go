package handler

import (
	"net/http"
	"strings"

	"relaychat/backend/internal/auth"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// bearerToken reads the credential from the Authorization header, falling
// back to the token query parameter for socket upgrades from browsers.
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's identity on the context.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.VerifyWithTimeout(c.Request.Context(), h.Auth, bearerToken(c), h.authTimeout())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityFrom(c *gin.Context) *auth.Identity {
	id, _ := c.MustGet(identityKey).(*auth.Identity)
	return id
}
