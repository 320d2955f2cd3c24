package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/reporting"
	"campaign-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

type createCampaignRequest struct {
	campaigns.Settings
	// ContactIDs optionally attaches the contact set in the same request.
	ContactIDs []string `json:"contact_ids,omitempty"`
}

type setContactsRequest struct {
	ContactIDs []string `json:"contact_ids"`
}

type controlRequest struct {
	Action string `json:"action"`
}

// campaignSummary is a campaign with its queue progress and call results.
type campaignSummary struct {
	Campaign campaigns.Campaign     `json:"campaign"`
	Queue    dialqueue.Counts       `json:"queue"`
	Calls    reporting.CallsSummary `json:"calls"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	camp, err := h.Campaigns.Create(c.Request.Context(), id.AccountID, req.Settings)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if len(req.ContactIDs) > 0 {
		if _, err := h.Campaigns.SetContacts(c.Request.Context(), id.AccountID, camp.ID, req.ContactIDs); err != nil {
			abortWithError(c, err)
			return
		}
	}
	logger.FromGin(c).Info("campaign created", "campaign_id", camp.ID, "account_id", id.AccountID)
	c.JSON(http.StatusCreated, camp)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var status campaigns.Status
	if raw := c.Query("status"); raw != "" {
		s, err := campaigns.ParseStatus(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = s
	}
	list, err := h.Campaigns.List(c.Request.Context(), id.AccountID, status)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if list == nil {
		list = []campaigns.Campaign{}
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": list})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	camp, err := h.Campaigns.Get(c.Request.Context(), id.AccountID, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

// UpdateCampaign merges the JSON body over the current settings. Draft only.
func (h Handlers) UpdateCampaign(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	camp, err := h.Campaigns.Get(ctx, id.AccountID, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if camp.Status != campaigns.StatusDraft {
		abortWithError(c, campaigns.ErrNotEditable)
		return
	}
	st := camp.Settings
	if err := c.ShouldBindJSON(&st); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	updated, err := h.Campaigns.UpdateSettings(ctx, id.AccountID, camp.ID, st)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h Handlers) SetCampaignContacts(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req setContactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	n, err := h.Campaigns.SetContacts(c.Request.Context(), id.AccountID, c.Param("id"), req.ContactIDs)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_contacts": n})
}

func (h Handlers) DeleteCampaign(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if err := h.Campaigns.Delete(c.Request.Context(), id.AccountID, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ControlCampaign applies start, pause, resume or cancel and returns the
// campaign in its new status.
//
// The body is read with ShouldBindBodyWith because the balance gate in front
// of this handler has already consumed it.
func (h Handlers) ControlCampaign(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req controlRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	action, err := campaigns.ParseAction(req.Action)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	camp, err := h.Campaigns.Control(c.Request.Context(), id.AccountID, c.Param("id"), action, campaigns.Actor{
		UserID: id.UserID,
		Role:   id.Role,
		IP:     c.ClientIP(),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger.FromGin(c).Info("campaign control", "campaign_id", camp.ID, "action", action, "status", camp.Status)
	c.JSON(http.StatusOK, camp)
}

// ListQueue pages through a campaign's dial queue in claim order.
func (h Handlers) ListQueue(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	camp, err := h.Campaigns.Get(ctx, id.AccountID, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	var status dialqueue.Status
	if raw := c.Query("status"); raw != "" {
		s, err := dialqueue.ParseStatus(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = s
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil || limit < 1 || limit > 1000 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "offset must be >= 0"})
		return
	}

	entries, err := h.Queue.List(ctx, camp.ID, status, limit, offset)
	if err != nil {
		abortWithError(c, err)
		return
	}
	counts, err := h.Queue.Counts(ctx, camp.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if entries == nil {
		entries = []dialqueue.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "counts": counts})
}

func (h Handlers) CampaignSummary(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	camp, err := h.Campaigns.Get(ctx, id.AccountID, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	counts, err := h.Queue.Counts(ctx, camp.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := campaignSummary{Campaign: camp, Queue: counts}
	if h.Reports != nil {
		calls, err := h.Reports.CallsSummary(ctx, reporting.CallsSummaryRequest{
			AccountID:  id.AccountID,
			CampaignID: camp.ID,
			Range:      reporting.TimeRange{From: camp.CreatedAt, To: h.now().UTC().Add(time.Second)},
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		out.Calls = calls
	}
	c.JSON(http.StatusOK, out)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
