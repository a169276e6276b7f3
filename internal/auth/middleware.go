package auth

import (
	"net/http"
	"strings"
	"time"

	"medical-ai-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	// queryToken lets <audio src> requests authenticate; GET only.
	queryToken = "access_token"
)

// RequireAccessToken verifies an access token and stores the caller's
// Identity in the request context. Role checks live in internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "code": "unauthorized"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "unauthorized"})
			return
		}

		id := claims.Identity()
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Set("identity", id)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	if raw == "" && c.Request.Method == http.MethodGet {
		return c.Query(queryToken)
	}
	return ""
}
