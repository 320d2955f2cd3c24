package main

import (
	"database/sql"
	"net/http"
	"time"

	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/httpapi"
	"campaign-dialer/internal/telephony"
	"campaign-dialer/pkg/logger"
	"campaign-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
)

// router wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func (a *app) router(db *sql.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(a.log))

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	// Provider webhooks (public, signature-checked when enabled).
	status := telephony.StatusWebhookHandler{
		Sink:          a.manager,
		PublicBaseURL: a.cfg.App.PublicBaseURL,
	}
	if a.cfg.Twilio.ValidateSignatures {
		status.AuthToken = a.cfg.Twilio.AuthToken
	}
	r.POST("/webhooks/twilio/status", status.HandleStatus)

	h := httpapi.Handlers{
		Auth:       a.authManager,
		Campaigns:  a.campaigns,
		Queue:      a.queue,
		Wallet:     a.wallet,
		Reports:    a.reports,
		AllowLogin: a.cfg.IsLocal(),
	}
	if h.AllowLogin {
		// NOTE: no credential check; local/dev only.
		r.POST("/v1/auth/login", h.Login)
	}

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.authManager))
	h.Mount(v1, a.wallet)
	return r
}
