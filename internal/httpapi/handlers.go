package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/reporting"
	"campaign-dialer/internal/wallet"
	"campaign-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Campaigns CampaignService
	Queue     QueueReader
	Wallet    WalletService
	Reports   Reports

	// AllowLogin enables the unauthenticated token endpoint (local/dev only).
	AllowLogin bool
	Now        func() time.Time
}

// CampaignService is satisfied by *campaigns.Service.
type CampaignService interface {
	Create(ctx context.Context, accountID string, st campaigns.Settings) (campaigns.Campaign, error)
	Get(ctx context.Context, accountID, id string) (campaigns.Campaign, error)
	List(ctx context.Context, accountID string, status campaigns.Status) ([]campaigns.Campaign, error)
	UpdateSettings(ctx context.Context, accountID, id string, st campaigns.Settings) (campaigns.Campaign, error)
	SetContacts(ctx context.Context, accountID, id string, contactIDs []string) (int, error)
	Delete(ctx context.Context, accountID, id string) error
	Control(ctx context.Context, accountID, id string, action campaigns.Action, actor campaigns.Actor) (campaigns.Campaign, error)
}

type QueueReader interface {
	Counts(ctx context.Context, campaignID string) (dialqueue.Counts, error)
	List(ctx context.Context, campaignID string, status dialqueue.Status, limit, offset int) ([]dialqueue.Entry, error)
}

// WalletService is satisfied by *wallet.Service.
type WalletService interface {
	GetBalance(ctx context.Context, accountID, walletID string) (wallet.Balance, error)
	Credit(ctx context.Context, accountID, walletID string, req wallet.CreditRequest) (wallet.WalletLedger, wallet.Balance, error)
	AdminManualCredit(ctx context.Context, accountID, walletID, adminUserID, adminRole string, req wallet.AdminCreditRequest) (wallet.AdminWalletAction, wallet.WalletLedger, wallet.Balance, error)
}

// Reports is satisfied by *reporting.Service.
type Reports interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
	SpendSummary(ctx context.Context, req reporting.SpendSummaryRequest) (reporting.SpendSummary, error)
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

type loginRequest struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// Login issues a JWT token pair for the given identity.
//
// NOTE: No credential check. Mounted only when AllowLogin is set (local/dev).
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.AllowLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.AccountID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, account_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), auth.Identity{UserID: req.UserID, AccountID: req.AccountID, Role: req.Role})
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil || id.AccountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return auth.Identity{}, false
	}
	return id, true
}

// abortWithError maps domain errors to status codes. Unknown errors are logged
// and returned as 500 without detail.
func abortWithError(c *gin.Context, err error) {
	var invalid *campaigns.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":     "invalid_transition",
			"current":   invalid.Current,
			"requested": invalid.Requested,
		})
	case errors.Is(err, campaigns.ErrNotEditable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "not_editable", "message": err.Error()})
	case errors.Is(err, campaigns.ErrStatusConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, campaigns.ErrEmptyContactSet):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "empty_contact_set"})
	case errors.Is(err, campaigns.ErrNotFound), errors.Is(err, wallet.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, campaigns.ErrInvalidSettings), errors.Is(err, campaigns.ErrScheduleInThePast),
		errors.Is(err, wallet.ErrInvalidArgument), errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		logger.FromGin(c).Error("request failed", "path", c.FullPath(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
