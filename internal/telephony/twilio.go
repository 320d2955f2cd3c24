package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campaign-dialer/internal/config"
)

const ProviderNameTwilio = "twilio"

// TwilioProvider places calls through the Twilio REST API with inline TwiML.
type TwilioProvider struct {
	AccountSID     string
	AuthToken      string
	BaseURL        string
	MediaStreamURL string

	HTTP *http.Client
	Now  func() time.Time
}

func NewTwilioProvider(cfg config.TwilioConfig) *TwilioProvider {
	return &TwilioProvider{
		AccountSID:     cfg.AccountSID,
		AuthToken:      cfg.AuthToken,
		BaseURL:        strings.TrimRight(cfg.APIBaseURL, "/"),
		MediaStreamURL: cfg.MediaStreamURL,
		HTTP:           &http.Client{Timeout: 10 * time.Second},
		Now:            time.Now,
	}
}

func (p *TwilioProvider) Name() string { return ProviderNameTwilio }

type twilioCallResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) SubmitCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if err := req.validate(); err != nil {
		return OutboundCallResult{}, p.submissionErr(0, "", err)
	}
	if req.From == "" {
		return OutboundCallResult{}, p.submissionErr(0, "from is required", nil)
	}

	twiml, err := RenderOutboundTwiML(OutboundScript{
		OpeningMessage: req.OpeningMessage,
		Voice:          req.Voice,
		Language:       req.Language,
		MediaStreamURL: p.MediaStreamURL,
		AgentID:        req.AgentID,
		CallID:         req.CallID,
	})
	if err != nil {
		return OutboundCallResult{}, p.submissionErr(0, "", err)
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Twiml", twiml)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", withCallID(req.StatusCallbackURL, req.CallID))
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", p.BaseURL, url.PathEscape(p.AccountSID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return OutboundCallResult{}, p.submissionErr(0, "", err)
	}
	httpReq.SetBasicAuth(p.AccountSID, p.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return OutboundCallResult{}, p.submissionErr(0, "", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return OutboundCallResult{}, p.submissionErr(resp.StatusCode, "", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e twilioErrorResponse
		_ = json.Unmarshal(body, &e)
		reason := e.Message
		if e.Code != 0 {
			reason = fmt.Sprintf("%d %s", e.Code, e.Message)
		}
		return OutboundCallResult{}, p.submissionErr(resp.StatusCode, reason, nil)
	}

	var out twilioCallResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return OutboundCallResult{}, p.submissionErr(resp.StatusCode, "decode response", err)
	}
	if out.Sid == "" {
		return OutboundCallResult{}, p.submissionErr(resp.StatusCode, "response missing sid", nil)
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return OutboundCallResult{Provider: ProviderNameTwilio, ProviderCallID: out.Sid, AcceptedAt: now().UTC()}, nil
}

func (p *TwilioProvider) submissionErr(status int, reason string, err error) error {
	return &SubmissionError{Provider: ProviderNameTwilio, StatusCode: status, Reason: reason, Err: err}
}

// withCallID tags the callback URL so status updates carry our call id.
func withCallID(callback, callID string) string {
	u, err := url.Parse(callback)
	if err != nil {
		return callback
	}
	q := u.Query()
	q.Set("call_id", callID)
	u.RawQuery = q.Encode()
	return u.String()
}
