package httpapi

import (
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/rbac"
	"campaign-dialer/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Mount registers the authenticated /v1 routes on v1. The caller installs
// the bearer-token middleware on the group. balance gates start and resume
// with 402 when the account cannot pay for another minute; nil disables it.
func (h Handlers) Mount(v1 *gin.RouterGroup, balance wallet.SufficiencyChecker) {
	readers := rbac.Chain(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAnalyst)
	writers := rbac.Chain(rbac.RoleOwner, rbac.RoleOperator)

	cg := v1.Group("/campaigns")
	{
		cg.GET("", with(readers, h.ListCampaigns)...)
		cg.POST("", with(writers, h.CreateCampaign)...)
		cg.GET("/:id", with(readers, h.GetCampaign)...)
		cg.PATCH("/:id", with(writers, h.UpdateCampaign)...)
		cg.DELETE("/:id", with(writers, h.DeleteCampaign)...)
		cg.PUT("/:id/contacts", with(writers, h.SetCampaignContacts)...)
		cg.GET("/:id/queue", with(readers, h.ListQueue)...)
		cg.GET("/:id/summary", with(readers, h.CampaignSummary)...)

		control := append([]gin.HandlerFunc{}, writers...)
		if balance != nil {
			control = append(control, wallet.RequireSufficientBalance(balance, string(campaigns.ActionStart), string(campaigns.ActionResume)))
		}
		cg.POST("/:id/control", with(control, h.ControlCampaign)...)
	}

	wg := v1.Group("/wallets")
	wg.Use(rbac.Chain(rbac.RoleOwner, rbac.RoleFinance, rbac.RoleOperator, rbac.RoleAnalyst)...)
	{
		wg.GET("/:wallet_id/balance", h.GetWalletBalance)
		wg.POST("/:wallet_id/credit", with(rbac.Chain(rbac.RoleOwner, rbac.RoleFinance), h.CreditWallet)...)
	}

	rg := v1.Group("/reports")
	rg.Use(rbac.Chain(rbac.RoleOwner, rbac.RoleFinance, rbac.RoleAnalyst)...)
	{
		rg.GET("/spend", h.SpendReport)
	}

	// Only owner/super_admin can access admin endpoints.
	admin := v1.Group("/admin")
	admin.Use(rbac.Chain(rbac.RoleOwner)...)
	{
		admin.POST("/wallets/manual-credit", h.AdminManualCredit)
	}
}

func with(chain []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	return append(chain[:len(chain):len(chain)], h)
}
