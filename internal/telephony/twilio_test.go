package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTwilioProviderSubmitCall(t *testing.T) {
	var gotPath, gotUser, gotTwiml, gotCallback string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotTwiml = r.PostForm.Get("Twiml")
		gotCallback = r.PostForm.Get("StatusCallback")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA42","status":"queued"}`))
	}))
	defer srv.Close()

	p := &TwilioProvider{AccountSID: "AC1", AuthToken: "tok", BaseURL: srv.URL, HTTP: srv.Client()}
	res, err := p.SubmitCall(context.Background(), OutboundCallRequest{
		AccountID:         "a1",
		CallID:            "call-1",
		From:              "+15550001",
		To:                "+15550002",
		AgentID:           "agent-1",
		OpeningMessage:    "Hello there",
		StatusCallbackURL: "https://dialer.example.com/webhooks/twilio/status",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ProviderCallID != "CA42" || res.Provider != ProviderNameTwilio {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "AC1" {
		t.Fatalf("expected basic auth with account sid, got %q", gotUser)
	}
	if !strings.Contains(gotTwiml, "<Say>Hello there</Say>") {
		t.Fatalf("unexpected twiml %q", gotTwiml)
	}
	if gotCallback != "https://dialer.example.com/webhooks/twilio/status?call_id=call-1" {
		t.Fatalf("unexpected callback %q", gotCallback)
	}
}

func TestTwilioProviderRejectionIsSubmissionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	}))
	defer srv.Close()

	p := &TwilioProvider{AccountSID: "AC1", AuthToken: "tok", BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := p.SubmitCall(context.Background(), OutboundCallRequest{
		AccountID: "a1", CallID: "c", From: "+1", To: "nope", AgentID: "ag", OpeningMessage: "hi",
	})
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	var se *SubmissionError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest || !strings.Contains(se.Reason, "21211") {
		t.Fatalf("unexpected submission error %#v", err)
	}
}

func TestTwilioProviderRequiresFrom(t *testing.T) {
	p := &TwilioProvider{AccountSID: "AC1", BaseURL: "http://127.0.0.1:0"}
	_, err := p.SubmitCall(context.Background(), OutboundCallRequest{AccountID: "a", CallID: "c", To: "+1", AgentID: "ag"})
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
}
