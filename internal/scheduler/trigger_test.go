package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"campaign-dialer/internal/campaigns"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeCampaigns struct {
	mu        sync.Mutex
	byID      map[string]campaigns.Campaign
	promoted  []string
	resumed   []string
	listErr   map[campaigns.Status]error
	promoteFn func(id string) error
}

func newFakeCampaigns(cs ...campaigns.Campaign) *fakeCampaigns {
	f := &fakeCampaigns{byID: map[string]campaigns.Campaign{}, listErr: map[campaigns.Status]error{}}
	for _, c := range cs {
		if c.Timezone == "" {
			c.Timezone = "UTC"
		}
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeCampaigns) ListByStatus(ctx context.Context, status campaigns.Status) ([]campaigns.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[status]; err != nil {
		return nil, err
	}
	var out []campaigns.Campaign
	for _, c := range f.byID {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCampaigns) Promote(ctx context.Context, id string) (campaigns.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promoteFn != nil {
		if err := f.promoteFn(id); err != nil {
			return campaigns.Campaign{}, err
		}
	}
	c := f.byID[id]
	c.Status = campaigns.StatusInProgress
	f.byID[id] = c
	f.promoted = append(f.promoted, id)
	return c, nil
}

func (f *fakeCampaigns) AutoResume(ctx context.Context, id string) (campaigns.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byID[id]
	c.Status = campaigns.StatusInProgress
	c.PauseReason = campaigns.PauseNone
	f.byID[id] = c
	f.resumed = append(f.resumed, id)
	return c, nil
}

type fakeDialer struct {
	mu          sync.Mutex
	dispatching map[string]bool
	activated   []string
	reconciling []string
}

func (d *fakeDialer) Activate(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activated = append(d.activated, id)
	return nil
}

func (d *fakeDialer) EnsureReconciler(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reconciling = append(d.reconciling, id)
	return nil
}

func (d *fakeDialer) Dispatching(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatching[id]
}

func (d *fakeDialer) activations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.activated)
}

type fakeQueue struct{ open []string }

func (q fakeQueue) CampaignsWithOpenEntries(ctx context.Context) ([]string, error) {
	return q.open, nil
}

func newTrigger(c *fakeCampaigns, d *fakeDialer, q fakeQueue) *Trigger {
	tr := New(c, d, q, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr.Now = func() time.Time { return fixedNow }
	return tr
}

func at(t time.Time) *time.Time { return &t }

func TestSweepPromotesDueScheduledCampaigns(t *testing.T) {
	c := newFakeCampaigns(
		campaigns.Campaign{ID: "due", Status: campaigns.StatusScheduled, Settings: campaigns.Settings{ScheduledStartTime: at(fixedNow.Add(-time.Minute))}},
		campaigns.Campaign{ID: "exact", Status: campaigns.StatusScheduled, Settings: campaigns.Settings{ScheduledStartTime: at(fixedNow)}},
		campaigns.Campaign{ID: "later", Status: campaigns.StatusScheduled, Settings: campaigns.Settings{ScheduledStartTime: at(fixedNow.Add(time.Hour))}},
	)
	d := &fakeDialer{dispatching: map[string]bool{}}

	rep, err := newTrigger(c, d, fakeQueue{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Promoted)
	assert.ElementsMatch(t, []string{"due", "exact"}, c.promoted)
	assert.Equal(t, campaigns.StatusScheduled, c.byID["later"].Status)
	// Promoted campaigns are in progress by the activation step.
	assert.ElementsMatch(t, []string{"due", "exact"}, d.activated)
}

func TestSweepResumesOnlyAutoClearingPausesWithOpenGate(t *testing.T) {
	open := campaigns.Settings{DailyStartTime: "09:00", DailyEndTime: "17:00", Timezone: "UTC"}
	closed := campaigns.Settings{DailyStartTime: "18:00", DailyEndTime: "20:00", Timezone: "UTC"}
	c := newFakeCampaigns(
		campaigns.Campaign{ID: "window-open", Status: campaigns.StatusPaused, PauseReason: campaigns.PauseWindowClosed, Settings: open},
		campaigns.Campaign{ID: "window-shut", Status: campaigns.StatusPaused, PauseReason: campaigns.PauseWindowClosed, Settings: closed},
		campaigns.Campaign{ID: "cooldown-over", Status: campaigns.StatusPaused, PauseReason: campaigns.PausePacingCooldown, CooldownUntil: at(fixedNow.Add(-time.Second))},
		campaigns.Campaign{ID: "cooldown-running", Status: campaigns.StatusPaused, PauseReason: campaigns.PausePacingCooldown, CooldownUntil: at(fixedNow.Add(time.Minute))},
		campaigns.Campaign{ID: "manual", Status: campaigns.StatusPaused, PauseReason: campaigns.PauseManual},
		campaigns.Campaign{ID: "broke", Status: campaigns.StatusPaused, PauseReason: campaigns.PauseInsufficientBalance},
		campaigns.Campaign{ID: "no-agent", Status: campaigns.StatusPaused, PauseReason: campaigns.PauseAgentDisabled},
	)
	d := &fakeDialer{dispatching: map[string]bool{}}

	rep, err := newTrigger(c, d, fakeQueue{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Resumed)
	assert.ElementsMatch(t, []string{"window-open", "cooldown-over"}, c.resumed)
	for _, id := range []string{"window-shut", "cooldown-running", "manual", "broke", "no-agent"} {
		assert.Equal(t, campaigns.StatusPaused, c.byID[id].Status, id)
	}
}

func TestSweepActivatesIdleRunsAndReconcilesOpenEntries(t *testing.T) {
	c := newFakeCampaigns(
		campaigns.Campaign{ID: "running", Status: campaigns.StatusInProgress},
		campaigns.Campaign{ID: "orphaned", Status: campaigns.StatusInProgress},
		campaigns.Campaign{ID: "paused", Status: campaigns.StatusPaused, PauseReason: campaigns.PauseManual},
	)
	d := &fakeDialer{dispatching: map[string]bool{"running": true}}
	q := fakeQueue{open: []string{"orphaned", "paused", "cancelled"}}

	rep, err := newTrigger(c, d, q).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Activated: 1, Reconciling: 2}, rep)
	assert.Equal(t, []string{"orphaned"}, d.activated)
	assert.Equal(t, []string{"paused", "cancelled"}, d.reconciling)
}

func TestSweepReconcilesBusyRunsWithOpenEntries(t *testing.T) {
	c := newFakeCampaigns(
		campaigns.Campaign{ID: "busy", Status: campaigns.StatusInProgress},
	)
	d := &fakeDialer{dispatching: map[string]bool{"busy": true}}

	rep, err := newTrigger(c, d, fakeQueue{open: []string{"busy"}}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Reconciling: 1}, rep)
	assert.Empty(t, d.activated)
	assert.Equal(t, []string{"busy"}, d.reconciling)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	c := newFakeCampaigns(
		campaigns.Campaign{ID: "a", Status: campaigns.StatusScheduled},
		campaigns.Campaign{ID: "b", Status: campaigns.StatusScheduled},
	)
	c.promoteFn = func(id string) error {
		if id == "a" {
			return boom
		}
		return nil
	}
	c.listErr[campaigns.StatusPaused] = boom
	d := &fakeDialer{dispatching: map[string]bool{}}

	rep, err := newTrigger(c, d, fakeQueue{}).Sweep(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "promote a")
	assert.Contains(t, err.Error(), "list paused")
	assert.Equal(t, 1, rep.Promoted)
	assert.Equal(t, []string{"b"}, d.activated)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	c := newFakeCampaigns(campaigns.Campaign{ID: "idle", Status: campaigns.StatusInProgress})
	d := &fakeDialer{dispatching: map[string]bool{}}
	tr := newTrigger(c, d, fakeQueue{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool { return d.activations() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
