package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"campaign-dialer/internal/calls"

	"github.com/gin-gonic/gin"
)

func TestParseTwilioStatusCallback(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&CallStatus=no-answer&CallDuration=0&ErrorCode=")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status?call_id=call-1", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" || form.CallID != "call-1" {
		t.Fatalf("unexpected ids: %q %q", form.CallSid, form.CallID)
	}

	o, terminal, err := form.ToOutcome(time.Unix(1700000000, 0))
	if err != nil || !terminal {
		t.Fatalf("expected terminal outcome, got terminal=%v err=%v", terminal, err)
	}
	if o.Status != calls.CallStatusNoAnswer {
		t.Fatalf("expected no_answer, got %q", o.Status)
	}
	if o.EndTime == nil || o.StartTime != nil {
		t.Fatalf("expected end time only for a zero-duration call")
	}
}

func TestToOutcomeProgressIsNotTerminal(t *testing.T) {
	for _, s := range []string{"queued", "initiated", "ringing", "in-progress"} {
		_, terminal, err := TwilioStatusForm{CallSid: "CA1", CallStatus: s}.ToOutcome(time.Now())
		if err != nil || terminal {
			t.Fatalf("%s: expected non-terminal, got terminal=%v err=%v", s, terminal, err)
		}
	}
	if _, _, err := (TwilioStatusForm{CallSid: "CA1", CallStatus: "exploded"}).ToOutcome(time.Now()); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestToOutcomeCompletedDuration(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	o, terminal, err := TwilioStatusForm{CallSid: "CA1", CallStatus: "completed", CallDuration: "95"}.ToOutcome(now)
	if err != nil || !terminal {
		t.Fatalf("expected terminal outcome, got %v", err)
	}
	if o.DurationSeconds != 95 {
		t.Fatalf("expected 95s, got %d", o.DurationSeconds)
	}
	if o.StartTime == nil || !o.StartTime.Equal(now.Add(-95*time.Second)) {
		t.Fatalf("unexpected start time %v", o.StartTime)
	}
}

func TestTwilioSignatureCoversURLAndParams(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA1234567890ABCDE")
	form.Set("CallStatus", "completed")
	const u = "https://dialer.example.com/webhooks/twilio/status?call_id=c1"

	sig := TwilioSignature("12345", u, form)
	if !ValidTwilioSignature("12345", u, form, sig) {
		t.Fatalf("expected signature to validate")
	}
	if ValidTwilioSignature("other", u, form, sig) {
		t.Fatalf("expected wrong token to fail")
	}
	if ValidTwilioSignature("12345", u+"x", form, sig) {
		t.Fatalf("expected changed url to fail")
	}
	tampered := url.Values{"CallSid": {"CA1234567890ABCDE"}, "CallStatus": {"failed"}}
	if ValidTwilioSignature("12345", u, tampered, sig) {
		t.Fatalf("expected changed params to fail")
	}
	if ValidTwilioSignature("12345", u, form, "") {
		t.Fatalf("expected empty signature to fail")
	}
}

type recordingSink struct {
	got []Outcome
	err error
}

func (s *recordingSink) DeliverOutcome(_ context.Context, o Outcome) error {
	s.got = append(s.got, o)
	return s.err
}

func newStatusRouter(h StatusWebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/status", h.HandleStatus)
	return r
}

func postStatus(r http.Handler, target string, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusWebhookDeliversTerminalOutcome(t *testing.T) {
	sink := &recordingSink{}
	h := StatusWebhookHandler{Sink: sink, AuthToken: "secret", PublicBaseURL: "https://dialer.example.com"}
	r := newStatusRouter(h)

	form := url.Values{"CallSid": {"CA9"}, "CallStatus": {"busy"}}
	target := "/webhooks/twilio/status?call_id=call-9"
	sig := TwilioSignature("secret", "https://dialer.example.com"+target, form)

	w := postStatus(r, target, form, sig)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(sink.got) != 1 || sink.got[0].CallID != "call-9" || sink.got[0].Status != calls.CallStatusBusy {
		t.Fatalf("unexpected outcomes %+v", sink.got)
	}
}

func TestStatusWebhookRejectsBadSignature(t *testing.T) {
	sink := &recordingSink{}
	r := newStatusRouter(StatusWebhookHandler{Sink: sink, AuthToken: "secret", PublicBaseURL: "https://dialer.example.com"})

	w := postStatus(r, "/webhooks/twilio/status", url.Values{"CallSid": {"CA9"}, "CallStatus": {"completed"}}, "bogus")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(sink.got) != 0 {
		t.Fatalf("expected no delivery")
	}
}

func TestStatusWebhookIgnoresProgressAndDuplicates(t *testing.T) {
	sink := &recordingSink{}
	r := newStatusRouter(StatusWebhookHandler{Sink: sink})

	w := postStatus(r, "/webhooks/twilio/status", url.Values{"CallSid": {"CA9"}, "CallStatus": {"ringing"}}, "")
	if w.Code != http.StatusNoContent || len(sink.got) != 0 {
		t.Fatalf("expected progress update to be acknowledged and dropped, code=%d", w.Code)
	}

	sink.err = calls.ErrAlreadyFinalized
	w = postStatus(r, "/webhooks/twilio/status", url.Values{"CallSid": {"CA9"}, "CallStatus": {"completed"}}, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected duplicate to be acknowledged, got %d", w.Code)
	}
}
