package campaigns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"campaign-dialer/internal/audit"
)

// Queue is the part of the dial queue the campaign lifecycle drives.
type Queue interface {
	// Materialize creates one pending entry per contact and returns the entry count.
	// Calling it again for the same campaign does not add duplicates.
	Materialize(ctx context.Context, campaignID string, contactIDs []string) (int, error)
	// SkipPending marks every pending entry skipped and returns how many changed.
	SkipPending(ctx context.Context, campaignID string) (int, error)
}

// Activator starts dispatch for a campaign that just entered in-progress.
type Activator interface {
	Activate(ctx context.Context, campaignID string) error
}

type TransitionObserver interface {
	ObserveTransition(from, to string)
}

const maxCASAttempts = 3

// Service owns the campaign lifecycle. Every status change goes through
// a compare-and-set, so concurrent operator and system requests serialize.
type Service struct {
	repo  Repository
	queue Queue
	clock func() time.Time

	// DefaultTimezone fills Settings.Timezone when a campaign is created without one.
	DefaultTimezone string

	Audit   *audit.Service
	Metrics TransitionObserver
	Log     *slog.Logger

	activator Activator
}

func NewService(repo Repository, queue Queue) *Service {
	return &Service{repo: repo, queue: queue, clock: time.Now, DefaultTimezone: "UTC", Log: slog.Default()}
}

// SetActivator wires the dialer after construction; the dialer itself depends on Service.
func (s *Service) SetActivator(a Activator) { s.activator = a }

func (s *Service) Create(ctx context.Context, accountID string, st Settings) (Campaign, error) {
	if strings.TrimSpace(accountID) == "" {
		return Campaign{}, errors.New("campaigns: account id is required")
	}
	if st.Timezone == "" {
		st.Timezone = s.DefaultTimezone
	}
	now := s.clock().UTC()
	if err := s.validate(st, now); err != nil {
		return Campaign{}, err
	}
	c := Campaign{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Settings:  st,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, accountID, id string) (Campaign, error) {
	return s.repo.Get(ctx, accountID, id)
}

func (s *Service) GetByID(ctx context.Context, id string) (Campaign, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, accountID string, status Status) ([]Campaign, error) {
	return s.repo.List(ctx, accountID, status)
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Campaign, error) {
	return s.repo.ListByStatus(ctx, status)
}

func (s *Service) UpdateSettings(ctx context.Context, accountID, id string, st Settings) (Campaign, error) {
	if st.Timezone == "" {
		st.Timezone = s.DefaultTimezone
	}
	now := s.clock().UTC()
	if err := s.validate(st, now); err != nil {
		return Campaign{}, err
	}
	return s.repo.UpdateSettings(ctx, accountID, id, st, now)
}

func (s *Service) validate(st Settings, now time.Time) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if st.ScheduledStartTime != nil && !st.ScheduledStartTime.After(now) {
		return ErrScheduleInThePast
	}
	return nil
}

// SetContacts replaces the draft contact set and returns the de-duplicated size.
func (s *Service) SetContacts(ctx context.Context, accountID, id string, contactIDs []string) (int, error) {
	ids := dedupeContacts(contactIDs)
	if err := s.repo.SetContacts(ctx, accountID, id, ids, s.clock().UTC()); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Service) ContactIDs(ctx context.Context, accountID, id string) ([]string, error) {
	if _, err := s.repo.Get(ctx, accountID, id); err != nil {
		return nil, err
	}
	return s.repo.ContactIDs(ctx, id)
}

func (s *Service) Delete(ctx context.Context, accountID, id string) error {
	return s.repo.SoftDelete(ctx, accountID, id, s.clock().UTC())
}

// Control applies an operator action. Invalid requests return an error
// matching ErrInvalidTransition; idempotent repeats return the campaign unchanged.
func (s *Service) Control(ctx context.Context, accountID, id string, action Action, actor Actor) (Campaign, error) {
	load := func() (Campaign, error) { return s.repo.Get(ctx, accountID, id) }
	plan := func(c Campaign, now time.Time) (Transition, bool, error) { return planControl(c, action, now) }
	before, after, changed, err := s.apply(ctx, string(action), load, plan)
	if err != nil {
		return after, err
	}
	if changed && s.Audit != nil {
		if aerr := s.Audit.LogCampaignControl(ctx, accountID, actor.UserID, actor.Role, actor.IP, id,
			string(action), string(before.Status), string(after.Status)); aerr != nil {
			s.Log.Warn("audit campaign control failed", "campaign_id", id, "err", aerr)
		}
	}
	return after, nil
}

// Promote moves a due scheduled campaign to in-progress.
func (s *Service) Promote(ctx context.Context, id string) (Campaign, error) {
	return s.system(ctx, id, "start", "scheduled start reached", func(c Campaign, now time.Time) (Transition, bool, error) {
		if c.Status != StatusScheduled || (c.ScheduledStartTime != nil && c.ScheduledStartTime.After(now)) {
			return Transition{}, true, nil
		}
		return Transition{From: c.Status, To: StatusInProgress, At: now}, false, nil
	})
}

// PauseFor pauses an in-progress campaign for a system reason. A campaign already
// paused for an auto-clearing reason is re-pinned when reason does not auto-clear.
// cooldownUntil is only stored for pacing pauses.
func (s *Service) PauseFor(ctx context.Context, id string, reason PauseReason, cooldownUntil time.Time) (Campaign, error) {
	return s.system(ctx, id, "pause", string(reason), func(c Campaign, now time.Time) (Transition, bool, error) {
		switch {
		case c.Status == StatusInProgress:
		case c.Status == StatusPaused && c.PauseReason.AutoClears() && !reason.AutoClears():
		default:
			return Transition{}, true, nil
		}
		t := Transition{From: c.Status, To: StatusPaused, PauseReason: reason, At: now}
		if reason == PausePacingCooldown {
			cu := cooldownUntil.UTC()
			t.CooldownUntil = &cu
			t.ResetDispatched = true
		}
		return t, false, nil
	})
}

// AutoResume resumes a campaign paused for an auto-clearing reason.
func (s *Service) AutoResume(ctx context.Context, id string) (Campaign, error) {
	return s.system(ctx, id, "resume", "gate reopened", func(c Campaign, now time.Time) (Transition, bool, error) {
		if c.Status != StatusPaused || !c.PauseReason.AutoClears() {
			return Transition{}, true, nil
		}
		return Transition{From: c.Status, To: StatusInProgress, At: now}, false, nil
	})
}

// Complete finishes an in-progress campaign whose queue is exhausted.
func (s *Service) Complete(ctx context.Context, id string) (Campaign, error) {
	return s.system(ctx, id, "complete", "queue exhausted", func(c Campaign, now time.Time) (Transition, bool, error) {
		if c.Status != StatusInProgress {
			return Transition{}, true, nil
		}
		return Transition{From: c.Status, To: StatusCompleted, At: now}, false, nil
	})
}

// RecordDispatch bumps the pacing counter after a call is handed to the provider.
func (s *Service) RecordDispatch(ctx context.Context, id string) (int, error) {
	return s.repo.RecordDispatch(ctx, id)
}

// RecordCompletion counts one reconciled call, completed or failed.
func (s *Service) RecordCompletion(ctx context.Context, id string) (int, error) {
	return s.repo.IncrementCompleted(ctx, id)
}

type planFunc func(c Campaign, now time.Time) (Transition, bool, error)

func (s *Service) system(ctx context.Context, id, action, reason string, plan planFunc) (Campaign, error) {
	load := func() (Campaign, error) { return s.repo.GetByID(ctx, id) }
	before, after, changed, err := s.apply(ctx, action, load, plan)
	if err != nil {
		return after, err
	}
	if changed && s.Audit != nil {
		if aerr := s.Audit.LogTransition(ctx, after.AccountID, id, string(before.Status), string(after.Status), reason); aerr != nil {
			s.Log.Warn("audit transition failed", "campaign_id", id, "err", aerr)
		}
	}
	return after, nil
}

// apply loads, plans and CAS-writes a transition, retrying when the status
// moved underneath. Side effects of the new status run after the write.
// action names the request in InvalidTransitionError.
func (s *Service) apply(ctx context.Context, action string, load func() (Campaign, error), plan planFunc) (before, after Campaign, changed bool, err error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		before, err = load()
		if err != nil {
			return before, before, false, err
		}
		now := s.clock().UTC()
		t, noop, err := plan(before, now)
		if err != nil {
			return before, before, false, err
		}
		if noop {
			return before, before, false, nil
		}
		if !CanTransition(t.From, t.To) {
			return before, before, false, &InvalidTransitionError{Current: before.Status, Requested: action}
		}
		if t.From == StatusDraft {
			n, err := s.materialize(ctx, before.ID)
			if err != nil {
				return before, before, false, err
			}
			t.TotalContacts = &n
		}

		after, err = s.repo.CompareAndSetStatus(ctx, before.ID, t)
		if errors.Is(err, ErrStatusConflict) {
			continue
		}
		if err != nil {
			return before, before, false, err
		}
		s.afterTransition(ctx, before, after)
		return before, after, true, nil
	}
	return before, before, false, fmt.Errorf("%w after %d attempts", ErrStatusConflict, maxCASAttempts)
}

func (s *Service) materialize(ctx context.Context, id string) (int, error) {
	ids, err := s.repo.ContactIDs(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrEmptyContactSet
	}
	return s.queue.Materialize(ctx, id, ids)
}

func (s *Service) afterTransition(ctx context.Context, before, after Campaign) {
	log := s.Log.With("campaign_id", after.ID, "account_id", after.AccountID)
	log.Info("campaign transition", "from", before.Status, "to", after.Status, "pause_reason", after.PauseReason)
	if s.Metrics != nil {
		s.Metrics.ObserveTransition(string(before.Status), string(after.Status))
	}

	switch after.Status {
	case StatusCancelled:
		n, err := s.queue.SkipPending(ctx, after.ID)
		if err != nil {
			log.Error("skip pending entries failed", "err", err)
		} else {
			log.Info("pending entries skipped", "count", n)
		}
	case StatusInProgress:
		if s.activator != nil {
			if err := s.activator.Activate(ctx, after.ID); err != nil {
				log.Error("activate dispatch failed", "err", err)
			}
		}
	}
}
