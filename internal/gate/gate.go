// Package gate decides whether a campaign may dispatch a new call right now.
//
// Two checks combine with AND: the daily time-of-day window in the account's
// timezone, and the pacing cooldown inserted after every N dispatches.
// Both are pure functions of configuration, counters and the current instant.
package gate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Reason string

const (
	ReasonWindowClosed   Reason = "window-closed"
	ReasonPacingCooldown Reason = "pacing-cooldown"
)

// TimeOfDay is minutes after local midnight. 24:00 is accepted as an end bound.
type TimeOfDay int

const endOfDay TimeOfDay = 24 * 60

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("gate: time of day must be HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("gate: bad hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("gate: bad minute in %q", s)
	}
	if h == 24 && m == 0 {
		return endOfDay, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("gate: time of day out of range: %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Window is a daily [Start, End) interval in Location.
// Start > End wraps past midnight. A zero Window (Enabled=false) never closes.
type Window struct {
	Enabled  bool
	Start    TimeOfDay
	End      TimeOfDay
	Location *time.Location
}

// NewWindow builds a Window from "HH:MM" bounds and an IANA zone.
// Both bounds empty disables the window.
func NewWindow(start, end, tz string) (Window, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return Window{}, nil
	}
	if start == "" || end == "" {
		return Window{}, fmt.Errorf("gate: daily window needs both start and end")
	}
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Window{}, err
	}
	if s == endOfDay {
		return Window{}, fmt.Errorf("gate: window cannot start at 24:00")
	}
	if s == e {
		return Window{}, fmt.Errorf("gate: window start and end must differ")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Window{}, fmt.Errorf("gate: unknown timezone %q", tz)
	}
	return Window{Enabled: true, Start: s, End: e, Location: loc}, nil
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// Contains reports whether now falls inside the window.
func (w Window) Contains(now time.Time) bool {
	if !w.Enabled {
		return true
	}
	local := now.In(w.loc())
	m := TimeOfDay(local.Hour()*60 + local.Minute())
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// NextOpen returns the first instant at or after now inside the window.
func (w Window) NextOpen(now time.Time) time.Time {
	if w.Contains(now) {
		return now
	}
	local := now.In(w.loc())
	h, m := int(w.Start)/60, int(w.Start)%60
	candidate := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, w.loc())
	if !candidate.After(local) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+1, h, m, 0, 0, w.loc())
	}
	return candidate
}

type Policy struct {
	Window            Window
	CallsBetweenPause int
	PauseDuration     time.Duration
}

type State struct {
	DispatchedSinceLastPause int
	CooldownUntil            time.Time
}

type Verdict struct {
	Open     bool
	Reason   Reason
	ReopenAt time.Time
}

// Evaluate applies the window first, then pacing. When both would close the
// gate the verdict reports the window.
func Evaluate(p Policy, s State, now time.Time) Verdict {
	if !p.Window.Contains(now) {
		return Verdict{Reason: ReasonWindowClosed, ReopenAt: p.Window.NextOpen(now)}
	}
	if now.Before(s.CooldownUntil) {
		return Verdict{Reason: ReasonPacingCooldown, ReopenAt: s.CooldownUntil}
	}
	if p.CallsBetweenPause > 0 && s.DispatchedSinceLastPause >= p.CallsBetweenPause {
		return Verdict{Reason: ReasonPacingCooldown, ReopenAt: now.Add(p.PauseDuration)}
	}
	return Verdict{Open: true}
}
