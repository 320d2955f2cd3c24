package calls

import (
	"errors"
	"time"
)

// Call is one outbound call attempt placed for a campaign contact, or an ad-hoc call.
//
// Invariants:
// - AccountID is required on every row.
// - Status moves from queued/ringing/in_progress to exactly one terminal status, once.
// - Usage charges reference CallID in the wallet ledger; money is never stored here.
type Call struct {
	CallID    string `json:"call_id" db:"call_id"`
	AccountID string `json:"account_id" db:"account_id"`
	// CampaignID is empty for ad-hoc calls.
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID  string `json:"contact_id,omitempty" db:"contact_id"`
	AgentID    string `json:"agent_id" db:"agent_id"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Provider       string `json:"provider" db:"provider"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Status          CallStatus `json:"status" db:"status"`
	DurationSeconds int        `json:"duration" db:"duration_seconds"`
	StartTime       *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"`

	RecordingURL        string `json:"recording_url,omitempty" db:"recording_url"`
	TranscriptAvailable bool   `json:"transcript_available" db:"transcript_available"`
	// FailureReason is set when the provider rejected the submission.
	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether no further status change is expected.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		return true
	}
	return false
}

// Outcome is the terminal result reported for a call.
type Outcome struct {
	Status              CallStatus
	DurationSeconds     int
	StartTime           *time.Time
	EndTime             *time.Time
	RecordingURL        string
	TranscriptAvailable bool
	FailureReason       string
}

var (
	ErrNotFound = errors.New("calls: call not found")
	// ErrAlreadyFinalized marks a duplicate outcome delivery.
	ErrAlreadyFinalized = errors.New("calls: call already finalized")
	ErrNotTerminal      = errors.New("calls: outcome status is not terminal")
)
