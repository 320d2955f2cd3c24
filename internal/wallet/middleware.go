package wallet

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/rbac"
)

// SufficiencyChecker is the minimal wallet interface needed by middleware.
type SufficiencyChecker interface {
	CheckSufficient(ctx context.Context, accountID string) (bool, error)
}

// ActionBody is the JSON shape inspected by RequireSufficientBalance.
type ActionBody struct {
	Action string `json:"action"`
}

// RequireSufficientBalance rejects requests whose JSON "action" is one of actions
// with 402 when the caller's account cannot pay for another minute. Other actions
// pass untouched so an unfunded account can still pause or cancel.
//
// The body is cached with ShouldBindBodyWith; downstream handlers must bind the
// same way. super_admin bypasses the check.
func RequireSufficientBalance(svc SufficiencyChecker, actions ...string) gin.HandlerFunc {
	guarded := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		guarded[a] = struct{}{}
	}
	return func(c *gin.Context) {
		id, err := auth.IdentityFrom(c.Request.Context())
		if err != nil || id.AccountID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
			return
		}
		if rbac.IsSuperAdmin(id.Role) {
			c.Next()
			return
		}

		var body ActionBody
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		if _, ok := guarded[strings.ToLower(strings.TrimSpace(body.Action))]; !ok {
			c.Next()
			return
		}

		ok, err := svc.CheckSufficient(c.Request.Context(), id.AccountID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance"})
			return
		}
		c.Next()
	}
}
