package rbac

import (
	"context"
	"net/http"

	"medical-ai-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireStudio enforces the multi-tenant invariant: studio_id must exist in context.
// This does not validate membership; that belongs to the identity provider.
func RequireStudio() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := auth.StudioID(c.Request.Context())
		if err != nil || sid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "studio_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - support is a hidden role, and will be denied unless explicitly allowed
// - studio isolation is enforced via RequireStudio (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CanAccessStudio reports whether the caller may read or write data of studioID.
func CanAccessStudio(ctx context.Context, studioID string) bool {
	if role, _ := auth.Role(ctx); IsSuperAdmin(role) {
		return true
	}
	sid, err := auth.StudioID(ctx)
	return err == nil && sid != "" && sid == studioID
}
