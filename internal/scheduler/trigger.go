// Package scheduler runs the periodic sweep that moves campaigns the dialer
// cannot move by itself: scheduled starts, auto-clearing pauses whose gate has
// reopened, and runs lost to a restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/gate"
)

type Campaigns interface {
	ListByStatus(ctx context.Context, status campaigns.Status) ([]campaigns.Campaign, error)
	Promote(ctx context.Context, id string) (campaigns.Campaign, error)
	AutoResume(ctx context.Context, id string) (campaigns.Campaign, error)
}

type Dialer interface {
	Activate(ctx context.Context, campaignID string) error
	EnsureReconciler(ctx context.Context, campaignID string) error
	Dispatching(campaignID string) bool
}

type Queue interface {
	CampaignsWithOpenEntries(ctx context.Context) ([]string, error)
}

// Report counts what one sweep changed.
type Report struct {
	Promoted    int
	Resumed     int
	Activated   int
	Reconciling int
}

type Trigger struct {
	Campaigns Campaigns
	Dialer    Dialer
	Queue     Queue
	Interval  time.Duration
	Log       *slog.Logger
	Now       func() time.Time
}

func New(c Campaigns, d Dialer, q Queue, interval time.Duration, log *slog.Logger) *Trigger {
	if log == nil {
		log = slog.Default()
	}
	return &Trigger{Campaigns: c, Dialer: d, Queue: q, Interval: interval, Log: log.With("component", "scheduler"), Now: time.Now}
}

// Run sweeps once immediately and then every Interval until ctx ends.
func (t *Trigger) Run(ctx context.Context) error {
	interval := t.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t.sweepAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.sweepAndLog(ctx)
		}
	}
}

func (t *Trigger) sweepAndLog(ctx context.Context) {
	rep, err := t.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		t.Log.Error("scheduler sweep failed", "err", err)
	}
	if rep != (Report{}) {
		t.Log.Info("scheduler sweep", "promoted", rep.Promoted, "resumed", rep.Resumed,
			"activated", rep.Activated, "reconciling", rep.Reconciling)
	}
}

// Sweep runs every step once. A failing campaign does not stop the others;
// their errors are joined.
func (t *Trigger) Sweep(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	now := t.now()

	scheduled, err := t.Campaigns.ListByStatus(ctx, campaigns.StatusScheduled)
	if err != nil {
		errs = append(errs, fmt.Errorf("list scheduled: %w", err))
	}
	for _, c := range scheduled {
		if c.ScheduledStartTime != nil && c.ScheduledStartTime.After(now) {
			continue
		}
		after, err := t.Campaigns.Promote(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("promote %s: %w", c.ID, err))
			continue
		}
		if after.Status == campaigns.StatusInProgress {
			rep.Promoted++
		}
	}

	paused, err := t.Campaigns.ListByStatus(ctx, campaigns.StatusPaused)
	if err != nil {
		errs = append(errs, fmt.Errorf("list paused: %w", err))
	}
	for _, c := range paused {
		if !c.PauseReason.AutoClears() {
			continue
		}
		policy, err := c.Policy()
		if err != nil {
			errs = append(errs, fmt.Errorf("gate policy %s: %w", c.ID, err))
			continue
		}
		if v := gate.Evaluate(policy, c.GateState(), now); !v.Open {
			continue
		}
		after, err := t.Campaigns.AutoResume(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("auto-resume %s: %w", c.ID, err))
			continue
		}
		if after.Status == campaigns.StatusInProgress {
			rep.Resumed++
		}
	}

	active, err := t.Campaigns.ListByStatus(ctx, campaigns.StatusInProgress)
	if err != nil {
		errs = append(errs, fmt.Errorf("list in-progress: %w", err))
	}
	activated := make(map[string]bool, len(active))
	for _, c := range active {
		if t.Dialer.Dispatching(c.ID) {
			continue
		}
		activated[c.ID] = true
		if err := t.Dialer.Activate(ctx, c.ID); err != nil {
			errs = append(errs, fmt.Errorf("activate %s: %w", c.ID, err))
			continue
		}
		rep.Activated++
	}

	open, err := t.Queue.CampaignsWithOpenEntries(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list open entries: %w", err))
	}
	// A busy run still gets EnsureReconciler so outcomes it parked are retried.
	for _, id := range open {
		if activated[id] {
			continue
		}
		if err := t.Dialer.EnsureReconciler(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", id, err))
			continue
		}
		rep.Reconciling++
	}

	return rep, errors.Join(errs...)
}

func (t *Trigger) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
