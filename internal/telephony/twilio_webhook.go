package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"campaign-dialer/internal/calls"
)

// TwilioStatusForm captures the subset of status callback fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
type TwilioStatusForm struct {
	CallSid      string
	AccountSid   string
	CallStatus   string
	CallDuration string
	Timestamp    string
	RecordingURL string
	ErrorCode    string
	SipResponse  string

	// CallID is the call_id query parameter we put on the callback URL.
	CallID string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	f := TwilioStatusForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   r.PostFormValue("AccountSid"),
		CallStatus:   r.PostFormValue("CallStatus"),
		CallDuration: r.PostFormValue("CallDuration"),
		Timestamp:    r.PostFormValue("Timestamp"),
		RecordingURL: r.PostFormValue("RecordingUrl"),
		ErrorCode:    r.PostFormValue("ErrorCode"),
		SipResponse:  r.PostFormValue("SipResponseCode"),
		CallID:       strings.TrimSpace(r.URL.Query().Get("call_id")),
	}
	if f.CallSid == "" {
		return TwilioStatusForm{}, fmt.Errorf("telephony: CallSid missing")
	}
	return f, nil
}

// ToOutcome maps the callback to a terminal Outcome. ok is false for progress updates.
func (f TwilioStatusForm) ToOutcome(receivedAt time.Time) (o Outcome, ok bool, err error) {
	status, terminal, err := twilioStatus(f.CallStatus)
	if err != nil || !terminal {
		return Outcome{}, false, err
	}
	o = Outcome{
		Provider:       ProviderNameTwilio,
		ProviderCallID: f.CallSid,
		CallID:         f.CallID,
		Status:         status,
		RecordingURL:   f.RecordingURL,
	}
	if d, convErr := strconv.Atoi(strings.TrimSpace(f.CallDuration)); convErr == nil && d > 0 {
		o.DurationSeconds = d
	}
	end := receivedAt.UTC()
	if ts, tsErr := time.Parse(time.RFC1123Z, f.Timestamp); tsErr == nil {
		end = ts.UTC()
	}
	o.EndTime = &end
	if o.DurationSeconds > 0 {
		start := end.Add(-time.Duration(o.DurationSeconds) * time.Second)
		o.StartTime = &start
	}
	if status != calls.CallStatusCompleted && f.ErrorCode != "" {
		o.FailureReason = "twilio error " + f.ErrorCode
	}
	return o, true, nil
}

// twilioStatus maps a Twilio CallStatus to ours. terminal is false for progress updates.
func twilioStatus(s string) (status calls.CallStatus, terminal bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "initiated":
		return calls.CallStatusQueued, false, nil
	case "ringing":
		return calls.CallStatusRinging, false, nil
	case "in-progress", "answered":
		return calls.CallStatusInProgress, false, nil
	case "completed":
		return calls.CallStatusCompleted, true, nil
	case "busy":
		return calls.CallStatusBusy, true, nil
	case "no-answer":
		return calls.CallStatusNoAnswer, true, nil
	case "failed":
		return calls.CallStatusFailed, true, nil
	case "canceled":
		return calls.CallStatusCanceled, true, nil
	}
	return "", false, fmt.Errorf("telephony: unknown twilio call status %q", s)
}

// TwilioSignature computes X-Twilio-Signature for a POST to fullURL with the given form.
// Ref: https://www.twilio.com/docs/usage/security#validating-requests
func TwilioSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidTwilioSignature compares in constant time.
func ValidTwilioSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	want := TwilioSignature(authToken, fullURL, form)
	return hmac.Equal([]byte(want), []byte(signature))
}
