package rbac

import (
	"net/http"

	"campaign-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAccount enforces the tenancy invariant: account_id must exist in context.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.AccountID(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - hidden roles are denied unless explicitly listed
// - account isolation is enforced via RequireAccount (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
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

// Chain bundles the account check with a role gate.
func Chain(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{RequireAccount(), RequireAnyRole(roles...)}
}
