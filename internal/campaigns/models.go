package campaigns

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"campaign-dialer/internal/gate"
)

// Campaign is a bulk outbound-calling job against an ordered contact set using one agent.
//
// Invariants:
// - Status changes only through the state machine (CompareAndSetStatus).
// - CompletedCalls <= TotalContacts, and CompletedCalls never decreases.
// - Settings are mutable only while Status == draft.
// - Soft-deleted only from draft, completed or cancelled.
type Campaign struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	Settings

	Status        Status      `json:"status" db:"status"`
	PauseReason   PauseReason `json:"pause_reason,omitempty" db:"pause_reason"`
	CooldownUntil *time.Time  `json:"cooldown_until,omitempty" db:"cooldown_until"`

	TotalContacts            int `json:"total_contacts" db:"total_contacts"`
	CompletedCalls           int `json:"completed_calls" db:"completed_calls"`
	DispatchedSinceLastPause int `json:"dispatched_since_last_pause" db:"dispatched_since_last_pause"`

	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DeletedAt   *time.Time `json:"-" db:"deleted_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Settings is the operator-editable configuration of a campaign.
type Settings struct {
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`

	AgentID string `json:"agent_id" db:"agent_id"`
	// OpeningMessage overrides the agent's default greeting when set.
	OpeningMessage string `json:"opening_message,omitempty" db:"opening_message"`

	MaxConcurrentCalls int `json:"max_concurrent_calls" db:"max_concurrent_calls"`

	// DailyStartTime/DailyEndTime are "HH:MM" in Timezone; both empty means no window.
	DailyStartTime string `json:"daily_start_time,omitempty" db:"daily_start_time"`
	DailyEndTime   string `json:"daily_end_time,omitempty" db:"daily_end_time"`
	Timezone       string `json:"timezone" db:"timezone"`

	// CallsBetweenPause of 0 disables forced pauses.
	CallsBetweenPause    int `json:"calls_between_pause" db:"calls_between_pause"`
	PauseDurationMinutes int `json:"pause_duration_minutes" db:"pause_duration_minutes"`

	// ScheduledStartTime absent means manual start.
	ScheduledStartTime *time.Time `json:"scheduled_start_time,omitempty" db:"scheduled_start_time"`
}

const (
	MinConcurrentCalls = 1
	MaxConcurrentCalls = 20
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in-progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.TrimSpace(s)); st {
	case StatusDraft, StatusScheduled, StatusInProgress, StatusPaused, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("campaigns: unknown status %q", s)
	}
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// Deletable reports whether a campaign in this status may be soft-deleted.
func (s Status) Deletable() bool { return s == StatusDraft || s.Terminal() }

type PauseReason string

const (
	PauseNone                PauseReason = ""
	PauseManual              PauseReason = "manual"
	PauseWindowClosed        PauseReason = "window-closed"
	PausePacingCooldown      PauseReason = "pacing-cooldown"
	PauseInsufficientBalance PauseReason = "insufficient-balance"
	PauseAgentDisabled       PauseReason = "agent-disabled"
)

// AutoClears reports whether the scheduler may resume a campaign paused for this reason.
func (r PauseReason) AutoClears() bool {
	return r == PauseWindowClosed || r == PausePacingCooldown
}

// PauseReasonFor maps a closed gate verdict to the matching pause reason.
func PauseReasonFor(r gate.Reason) PauseReason {
	if r == gate.ReasonWindowClosed {
		return PauseWindowClosed
	}
	return PausePacingCooldown
}

var ErrInvalidSettings = errors.New("campaigns: invalid settings")

// Validate checks settings and returns an error wrapping ErrInvalidSettings.
func (s Settings) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(s.AgentID) == "" {
		problems = append(problems, "agent_id is required")
	}
	if s.MaxConcurrentCalls < MinConcurrentCalls || s.MaxConcurrentCalls > MaxConcurrentCalls {
		problems = append(problems, fmt.Sprintf("max_concurrent_calls must be between %d and %d", MinConcurrentCalls, MaxConcurrentCalls))
	}
	if s.CallsBetweenPause < 0 {
		problems = append(problems, "calls_between_pause must be >= 0")
	}
	if s.PauseDurationMinutes < 0 {
		problems = append(problems, "pause_duration_minutes must be >= 0")
	}
	if s.CallsBetweenPause > 0 && s.PauseDurationMinutes < 1 {
		problems = append(problems, "pause_duration_minutes must be >= 1 when calls_between_pause is set")
	}
	if _, err := gate.NewWindow(s.DailyStartTime, s.DailyEndTime, s.Timezone); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil || s.Timezone == "" {
		problems = append(problems, fmt.Sprintf("timezone %q is not a valid IANA zone", s.Timezone))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}

// Policy is the gate configuration derived from the campaign settings.
func (c Campaign) Policy() (gate.Policy, error) {
	w, err := gate.NewWindow(c.DailyStartTime, c.DailyEndTime, c.Timezone)
	if err != nil {
		return gate.Policy{}, err
	}
	return gate.Policy{
		Window:            w,
		CallsBetweenPause: c.CallsBetweenPause,
		PauseDuration:     time.Duration(c.PauseDurationMinutes) * time.Minute,
	}, nil
}

// GateState is the pacing state the gate evaluates.
func (c Campaign) GateState() gate.State {
	st := gate.State{DispatchedSinceLastPause: c.DispatchedSinceLastPause}
	if c.CooldownUntil != nil {
		st.CooldownUntil = *c.CooldownUntil
	}
	return st
}

// Actor identifies who requested a transition. System transitions use SystemActor.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

var SystemActor = Actor{UserID: "system", Role: "system"}
