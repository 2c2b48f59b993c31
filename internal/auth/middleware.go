package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// TokenFromRequest extracts a bearer credential from the Authorization header
// or, for websocket clients that cannot set headers, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// RequireAccessToken verifies an access token and injects identity into request context.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := TokenFromRequest(c.Request)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Username)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)

		c.Next()
	}
}
