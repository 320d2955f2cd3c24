package dialer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/scheduler"
)

var errStoreDown = errors.New("store unavailable")

// flakyQueue fails the next n Get calls.
type flakyQueue struct {
	*dialqueue.MemoryStore

	mu       sync.Mutex
	failGets int
}

func (q *flakyQueue) failNextGets(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failGets = n
}

func (q *flakyQueue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failGets
}

func (q *flakyQueue) Get(ctx context.Context, campaignID, contactID string) (dialqueue.Entry, error) {
	q.mu.Lock()
	if q.failGets > 0 {
		q.failGets--
		q.mu.Unlock()
		return dialqueue.Entry{}, errStoreDown
	}
	q.mu.Unlock()
	return q.MemoryStore.Get(ctx, campaignID, contactID)
}

// claimHookQueue runs afterClaim once, right after the first successful claim.
type claimHookQueue struct {
	*dialqueue.MemoryStore

	once       sync.Once
	afterClaim func()
}

func (q *claimHookQueue) ClaimNext(ctx context.Context, campaignID string, at time.Time) (dialqueue.Entry, bool, error) {
	e, found, err := q.MemoryStore.ClaimNext(ctx, campaignID, at)
	if err == nil && found {
		q.once.Do(q.afterClaim)
	}
	return e, found, err
}

// flakyCompletions fails the next n RecordCompletion calls.
type flakyCompletions struct {
	*campaigns.Service

	mu       sync.Mutex
	failures int
}

func (f *flakyCompletions) RecordCompletion(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return 0, errStoreDown
	}
	f.mu.Unlock()
	return f.Service.RecordCompletion(ctx, id)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func parkedOutcomes(m *Manager, campaignID string) int {
	m.mu.Lock()
	r := m.runs[campaignID]
	m.mu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parked)
}

// startParked runs a two contact campaign at concurrency 1 and leaves the
// first outcome parked behind a failing queue store.
func startParked(t *testing.T, h *harness) (*Manager, *flakyQueue, campaigns.Campaign, string) {
	t.Helper()
	q := &flakyQueue{MemoryStore: h.queue}
	m := h.newManagerWith(t, func(d *Deps) { d.Queue = q }, Options{})
	h.svc.SetActivator(m)

	c := h.campaign(t, 2, func(s *campaigns.Settings) { s.MaxConcurrentCalls = 1 })
	h.control(t, c.ID, campaigns.ActionStart)
	reqs := h.waitSubmitted(t, 1)

	q.failNextGets(5)
	h.deliver(t, m, reqs[0].CallID, calls.CallStatusCompleted, 30)
	require.Eventually(t, func() bool {
		return q.remaining() == 0 && parkedOutcomes(m, c.ID) == 1
	}, 2*time.Second, 5*time.Millisecond)

	call, err := h.calls.Get(context.Background(), reqs[0].CallID)
	require.NoError(t, err)
	assert.Equal(t, calls.CallStatusCompleted, call.Status)
	assert.Equal(t, 1, h.counts(t, c.ID).InFlight)
	assert.Equal(t, 1, h.provider.count())
	return m, q, c, reqs[0].CallID
}

func TestParkedOutcomeAppliedOnRedelivery(t *testing.T) {
	h := newHarness(t)
	m, _, c, first := startParked(t, h)

	// The provider retries the webhook once the store is back.
	h.deliver(t, m, first, calls.CallStatusCompleted, 30)

	reqs := h.waitSubmitted(t, 2)
	h.deliver(t, m, reqs[1].CallID, calls.CallStatusCompleted, 30)
	done := h.waitStatus(t, c.ID, campaigns.StatusCompleted)
	assert.Equal(t, 2, done.CompletedCalls)
	assert.Equal(t, 2, h.counts(t, c.ID).Completed)

	err := m.DeliverOutcome(context.Background(), outcomeFromCall(calls.Call{CallID: first, Status: calls.CallStatusCompleted}))
	assert.ErrorIs(t, err, calls.ErrAlreadyFinalized)
}

func TestParkedOutcomeRetriedBySweep(t *testing.T) {
	h := newHarness(t)
	m, q, c, _ := startParked(t, h)

	tr := scheduler.New(h.svc, m, q, time.Hour, quietLog)
	_, err := tr.Sweep(context.Background())
	require.NoError(t, err)

	reqs := h.waitSubmitted(t, 2)
	assert.Zero(t, parkedOutcomes(m, c.ID))
	h.deliver(t, m, reqs[1].CallID, calls.CallStatusCompleted, 30)
	done := h.waitStatus(t, c.ID, campaigns.StatusCompleted)
	assert.Equal(t, 2, done.CompletedCalls)
}

func TestPacingCooldownResumesThroughSweep(t *testing.T) {
	h := newHarness(t)
	clock := &testClock{now: time.Now().UTC()}
	m := h.newManagerWith(t, nil, Options{Now: clock.Now})
	h.svc.SetActivator(m)

	c := h.campaign(t, 5, func(s *campaigns.Settings) {
		s.MaxConcurrentCalls = 5
		s.CallsBetweenPause = 3
		s.PauseDurationMinutes = 10
	})
	h.control(t, c.ID, campaigns.ActionStart)

	paused := h.waitStatus(t, c.ID, campaigns.StatusPaused)
	require.Equal(t, campaigns.PausePacingCooldown, paused.PauseReason)
	require.NotNil(t, paused.CooldownUntil)
	assert.True(t, paused.CooldownUntil.Equal(clock.Now().Add(10*time.Minute)))
	assert.Equal(t, 3, h.provider.count())

	tr := scheduler.New(h.svc, m, h.queue, time.Hour, quietLog)
	tr.Now = clock.Now
	rep, err := tr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Resumed, "cooldown still running")
	assert.Equal(t, campaigns.StatusPaused, h.get(t, c.ID).Status)

	clock.Advance(11 * time.Minute)
	rep, err = tr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Resumed)

	reqs := h.waitSubmitted(t, 5)
	require.Len(t, reqs, 5)
	require.Eventually(t, func() bool { return h.get(t, c.ID).DispatchedSinceLastPause == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, campaigns.StatusInProgress, h.get(t, c.ID).Status)

	for _, r := range reqs {
		h.deliver(t, m, r.CallID, calls.CallStatusCompleted, 20)
	}
	done := h.waitStatus(t, c.ID, campaigns.StatusCompleted)
	assert.Equal(t, 5, done.CompletedCalls)
}

func TestCancelDuringClaimPlacesNoCall(t *testing.T) {
	h := newHarness(t)
	var c campaigns.Campaign
	q := &claimHookQueue{MemoryStore: h.queue}
	q.afterClaim = func() {
		_, err := h.svc.Control(context.Background(), testAccount, c.ID, campaigns.ActionCancel, campaigns.Actor{UserID: "u1", Role: "operator"})
		assert.NoError(t, err)
	}
	m := h.newManagerWith(t, func(d *Deps) { d.Queue = q }, Options{})
	h.svc.SetActivator(m)

	c = h.campaign(t, 3, func(s *campaigns.Settings) { s.MaxConcurrentCalls = 1 })
	h.control(t, c.ID, campaigns.ActionStart)

	require.Eventually(t, func() bool { return len(m.Running()) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, campaigns.StatusCancelled, h.get(t, c.ID).Status)
	assert.Equal(t, dialqueue.Counts{Skipped: 3}, h.counts(t, c.ID))
	assert.Zero(t, h.provider.count())
}

func TestCompletionCounterRetriedAfterStoreError(t *testing.T) {
	h := newHarness(t)
	fc := &flakyCompletions{Service: h.svc, failures: 3}
	m := h.newManagerWith(t, func(d *Deps) { d.Campaigns = fc }, Options{})
	h.svc.SetActivator(m)

	c := h.campaign(t, 2, nil)
	h.control(t, c.ID, campaigns.ActionStart)
	reqs := h.waitSubmitted(t, 2)
	for _, r := range reqs {
		h.deliver(t, m, r.CallID, calls.CallStatusCompleted, 30)
	}

	done := h.waitStatus(t, c.ID, campaigns.StatusCompleted)
	assert.Equal(t, 2, done.CompletedCalls)
}
