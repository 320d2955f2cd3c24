package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/rbac"
)

type fakeChecker struct {
	ok    bool
	err   error
	calls int
}

func (f *fakeChecker) CheckSufficient(ctx context.Context, accountID string) (bool, error) {
	f.calls++
	return f.ok, f.err
}

func newRouter(svc SufficiencyChecker, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: "u", AccountID: "acct", Role: role})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireSufficientBalance(svc, "start", "resume"), func(c *gin.Context) {
		var body ActionBody
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.String(http.StatusOK, body.Action)
	})
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRequireSufficientBalance_BlocksGuardedActions(t *testing.T) {
	svc := &fakeChecker{ok: false}
	r := newRouter(svc, rbac.RoleOwner)

	if w := post(r, `{"action":"start"}`); w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
	w := post(r, `{"action":"pause"}`)
	if w.Code != http.StatusOK || w.Body.String() != "pause" {
		t.Fatalf("expected pause to pass through with body intact, got %d %q", w.Code, w.Body.String())
	}
	if svc.calls != 1 {
		t.Fatalf("expected one balance check, got %d", svc.calls)
	}
}

func TestRequireSufficientBalance_AllowsFundedAccount(t *testing.T) {
	r := newRouter(&fakeChecker{ok: true}, rbac.RoleOperator)
	w := post(r, `{"action":"resume"}`)
	if w.Code != http.StatusOK || w.Body.String() != "resume" {
		t.Fatalf("expected 200 resume, got %d %q", w.Code, w.Body.String())
	}
}

func TestRequireSufficientBalance_AllowsAdminOverride(t *testing.T) {
	svc := &fakeChecker{ok: false}
	r := newRouter(svc, rbac.RoleSuperAdmin)
	if w := post(r, `{"action":"start"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("expected no balance check for super_admin")
	}
}
