package campaigns

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action is an operator control request.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionCancel Action = "cancel"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionPause, ActionResume, ActionCancel:
		return a, nil
	default:
		return "", fmt.Errorf("campaigns: unknown action %q", s)
	}
}

var ErrInvalidTransition = errors.New("campaigns: invalid transition")

// InvalidTransitionError names the current status and the rejected request.
type InvalidTransitionError struct {
	Current   Status
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("campaigns: cannot %s a campaign that is %s", e.Requested, e.Current)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// edges is the complete status graph. paused->paused is a reason change.
var edges = map[Status][]Status{
	StatusDraft:      {StatusScheduled, StatusInProgress},
	StatusScheduled:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:     {StatusPaused, StatusInProgress, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// planControl resolves an operator action against the current campaign.
// noop is true for idempotent repeats that need no write.
func planControl(c Campaign, a Action, now time.Time) (t Transition, noop bool, err error) {
	t = Transition{From: c.Status, At: now}
	invalid := &InvalidTransitionError{Current: c.Status, Requested: string(a)}

	switch a {
	case ActionStart:
		switch c.Status {
		case StatusDraft:
			t.To = StatusInProgress
			if c.ScheduledStartTime != nil && c.ScheduledStartTime.After(now) {
				t.To = StatusScheduled
			}
		case StatusScheduled:
			t.To = StatusInProgress
		default:
			return t, false, invalid
		}
	case ActionPause:
		switch {
		case c.Status == StatusInProgress:
			t.To, t.PauseReason = StatusPaused, PauseManual
		case c.Status == StatusPaused && c.PauseReason.AutoClears():
			// A manual pause pins an auto pause so the scheduler leaves it alone.
			t.To, t.PauseReason = StatusPaused, PauseManual
		case c.Status == StatusPaused:
			return t, true, nil
		default:
			return t, false, invalid
		}
	case ActionResume:
		switch c.Status {
		case StatusPaused:
			t.To = StatusInProgress
		case StatusInProgress:
			return t, true, nil
		default:
			return t, false, invalid
		}
	case ActionCancel:
		switch c.Status {
		case StatusScheduled, StatusInProgress, StatusPaused:
			t.To = StatusCancelled
		default:
			return t, false, invalid
		}
	default:
		return t, false, fmt.Errorf("campaigns: unknown action %q", a)
	}
	return t, false, nil
}
