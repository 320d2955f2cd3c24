package telephony

import (
	"errors"
	"net/http"
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusWebhookHandler converts Twilio status callbacks to Outcomes and hands
// terminal ones to the Sink.
//
// No business logic here.
type StatusWebhookHandler struct {
	Sink OutcomeSink

	// AuthToken enables X-Twilio-Signature validation when non-empty.
	AuthToken string
	// PublicBaseURL is the externally visible origin Twilio signed against.
	PublicBaseURL string

	Now func() time.Time
}

func (h StatusWebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "outcome sink not configured"})
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if h.AuthToken != "" {
		fullURL := h.PublicBaseURL + c.Request.URL.RequestURI()
		if !ValidTwilioSignature(h.AuthToken, fullURL, c.Request.PostForm, c.GetHeader("X-Twilio-Signature")) {
			log.Warn("twilio signature rejected", "call_sid", form.CallSid)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	outcome, terminal, err := form.ToOutcome(h.Now())
	if err != nil {
		log.Warn("twilio status unmapped", "call_sid", form.CallSid, "status", form.CallStatus, "err", err)
		c.Status(http.StatusNoContent)
		return
	}
	if !terminal {
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.Sink.DeliverOutcome(c.Request.Context(), outcome); err != nil {
		if errors.Is(err, calls.ErrAlreadyFinalized) || errors.Is(err, calls.ErrNotFound) {
			log.Info("twilio outcome ignored", "call_sid", form.CallSid, "err", err)
			c.Status(http.StatusNoContent)
			return
		}
		log.Error("twilio outcome delivery failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "delivery failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
