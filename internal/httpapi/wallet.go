package httpapi

import (
	"net/http"
	"time"

	"campaign-dialer/internal/reporting"
	"campaign-dialer/internal/wallet"
	"campaign-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// --- Wallet ---

type adminManualCreditRequest struct {
	WalletID string `json:"wallet_id"`

	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

func (h Handlers) GetWalletBalance(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	walletID := c.Param("wallet_id")
	if walletID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "wallet_id required"})
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), id.AccountID, walletID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// CreditWallet tops up a wallet. A campaign paused for balance stays paused
// until an operator resumes it.
// RBAC: owner or finance.
func (h Handlers) CreditWallet(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	walletID := c.Param("wallet_id")

	var req wallet.CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	entry, bal, err := h.Wallet.Credit(c.Request.Context(), id.AccountID, walletID, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger.FromGin(c).Info("wallet top-up", "account_id", id.AccountID, "wallet_id", walletID,
		"amount_minor", req.AmountMinor, "ledger_id", entry.ID)
	c.JSON(http.StatusOK, bal)
}

// AdminManualCredit performs an admin-only wallet credit.
// RBAC: owner or super_admin.
func (h Handlers) AdminManualCredit(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}

	var req adminManualCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.WalletID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "wallet_id required"})
		return
	}

	action, _, bal, err := h.Wallet.AdminManualCredit(c.Request.Context(), id.AccountID, req.WalletID, id.UserID, id.Role, wallet.AdminCreditRequest{
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger.FromGin(c).Info("admin wallet credit", "account_id", id.AccountID, "wallet_id", req.WalletID,
		"amount_minor", req.AmountMinor, "admin_action_id", action.ID)
	c.JSON(http.StatusOK, bal)
}

// --- Reports ---

// SpendReport sums ledger movements between from and to (RFC 3339).
// The range defaults to the last 30 days.
func (h Handlers) SpendReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	to := h.now().UTC()
	from := to.Add(-30 * 24 * time.Hour)
	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}

	sum, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		AccountID: id.AccountID,
		Range:     reporting.TimeRange{From: from, To: to},
		WalletID:  c.Query("wallet_id"),
		Currency:  c.Query("currency"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
