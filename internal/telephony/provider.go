package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campaign-dialer/internal/calls"
)

// VoiceProvider places outbound calls on behalf of the dialer.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Every request is account-scoped (AccountID required).
// - SubmitCall returns once the provider has accepted the call; the terminal
//   result arrives later through an OutcomeSink.
type VoiceProvider interface {
	Name() string
	SubmitCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
}

// OutboundCallRequest is one call the dialer wants placed.
type OutboundCallRequest struct {
	AccountID  string `json:"account_id"`
	CampaignID string `json:"campaign_id,omitempty"`

	// CallID is our call attempt id; providers echo it back on status callbacks.
	CallID string `json:"call_id"`

	// From and To are E.164.
	From string `json:"from"`
	To   string `json:"to"`

	ContactName    string `json:"contact_name,omitempty"`
	AgentID        string `json:"agent_id"`
	OpeningMessage string `json:"opening_message,omitempty"`
	Voice          string `json:"voice,omitempty"`
	Language       string `json:"language,omitempty"`

	// StatusCallbackURL receives call status updates; empty disables callbacks.
	StatusCallbackURL string `json:"status_callback_url,omitempty"`
}

func (r OutboundCallRequest) validate() error {
	switch {
	case r.AccountID == "":
		return errors.New("account_id is required")
	case r.CallID == "":
		return errors.New("call_id is required")
	case r.To == "":
		return errors.New("to is required")
	case r.AgentID == "":
		return errors.New("agent_id is required")
	}
	return nil
}

// OutboundCallResult is what the provider returned when it accepted the call.
type OutboundCallResult struct {
	Provider       string    `json:"provider"`
	ProviderCallID string    `json:"provider_call_id"`
	AcceptedAt     time.Time `json:"accepted_at"`
}

// ErrSubmissionFailed matches every SubmissionError.
var ErrSubmissionFailed = errors.New("telephony: call submission failed")

// SubmissionError is a provider refusing or failing to accept a call.
// The dialer treats it as an immediate failed outcome for the contact.
type SubmissionError struct {
	Provider string
	// StatusCode is the provider HTTP status, 0 when the request never got a response.
	StatusCode int
	Reason     string
	Err        error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("telephony: %s submission failed", e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmissionFailed }

// Outcome is a terminal call result reported by a provider.
// CallID may be empty when the provider only knows its own id.
type Outcome struct {
	Provider       string `json:"provider"`
	ProviderCallID string `json:"provider_call_id"`
	CallID         string `json:"call_id,omitempty"`

	Status              calls.CallStatus `json:"status"`
	DurationSeconds     int              `json:"duration_seconds"`
	StartTime           *time.Time       `json:"start_time,omitempty"`
	EndTime             *time.Time       `json:"end_time,omitempty"`
	RecordingURL        string           `json:"recording_url,omitempty"`
	TranscriptAvailable bool             `json:"transcript_available,omitempty"`
	FailureReason       string           `json:"failure_reason,omitempty"`
}

// CallOutcome converts to the call record's terminal result.
func (o Outcome) CallOutcome() calls.Outcome {
	return calls.Outcome{
		Status:              o.Status,
		DurationSeconds:     o.DurationSeconds,
		StartTime:           o.StartTime,
		EndTime:             o.EndTime,
		RecordingURL:        o.RecordingURL,
		TranscriptAvailable: o.TranscriptAvailable,
		FailureReason:       o.FailureReason,
	}
}

// OutcomeSink accepts terminal outcomes from providers and webhooks.
type OutcomeSink interface {
	DeliverOutcome(ctx context.Context, o Outcome) error
}

// OutcomeSinkFunc adapts a function to OutcomeSink.
type OutcomeSinkFunc func(ctx context.Context, o Outcome) error

func (f OutcomeSinkFunc) DeliverOutcome(ctx context.Context, o Outcome) error { return f(ctx, o) }
