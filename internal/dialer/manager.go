package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/telephony"
)

var (
	ErrClosed = errors.New("dialer: manager closed")
	// ErrNoRun means an outcome arrived for a campaign no process is reconciling.
	ErrNoRun = errors.New("dialer: no run accepts outcomes for this campaign")

	errLeaseHeld = errors.New("dialer: run lease held by another process")
)

// Manager owns this process's campaign runs. Each run has at most one dispatch
// loop and exactly one reconcile loop, so outcomes for a campaign are applied
// by a single goroutine.
type Manager struct {
	deps Deps
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
}

func NewManager(deps Deps, opts Options) (*Manager, error) {
	var missing []string
	if deps.Campaigns == nil {
		missing = append(missing, "campaigns")
	}
	if deps.Queue == nil {
		missing = append(missing, "queue")
	}
	if deps.Contacts == nil {
		missing = append(missing, "contacts")
	}
	if deps.Calls == nil {
		missing = append(missing, "calls")
	}
	if deps.Wallet == nil {
		missing = append(missing, "wallet")
	}
	if deps.Rater == nil {
		missing = append(missing, "rater")
	}
	if deps.Provider == nil {
		missing = append(missing, "provider")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("dialer: missing dependencies: %v", missing)
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxReconcileAttempts <= 0 {
		opts.MaxReconcileAttempts = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:   deps,
		opts:   opts,
		log:    deps.Log.With("component", "dialer"),
		ctx:    ctx,
		cancel: cancel,
		runs:   map[string]*run{},
	}, nil
}

// Start consumes the outcome bus, if one is configured. Call once.
func (m *Manager) Start() {
	if m.deps.Bus == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			err := m.deps.Bus.Consume(m.ctx, m.onBusEnvelope)
			if m.ctx.Err() != nil {
				return
			}
			m.log.Error("outcome bus consumer stopped", "err", err)
			if !sleepCtx(m.ctx, m.opts.RetryDelay) {
				return
			}
		}
	}()
}

// Activate makes sure this process dispatches the campaign. It returns nil
// when another process holds the campaign's run lease.
func (m *Manager) Activate(ctx context.Context, campaignID string) error {
	return m.ensure(ctx, campaignID, true)
}

// EnsureReconciler makes sure outcomes for the campaign are being applied
// without starting dispatch.
func (m *Manager) EnsureReconciler(ctx context.Context, campaignID string) error {
	return m.ensure(ctx, campaignID, false)
}

func (m *Manager) ensure(ctx context.Context, campaignID string, dispatch bool) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		r, ok := m.runs[campaignID]
		if !ok {
			r = newRun(m, campaignID)
			m.runs[campaignID] = r
			m.mu.Unlock()

			err := r.start(ctx)
			if errors.Is(err, errLeaseHeld) {
				m.log.Debug("campaign run owned elsewhere", "campaign_id", campaignID)
				return nil
			}
			if err != nil {
				return err
			}
			if dispatch {
				r.startDispatch()
			}
			r.maybeFinish()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-r.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.err == nil && !r.isFinishing() && (!dispatch || r.startDispatch()) {
			r.retryParked(ctx)
			return nil
		}
		// The run is shutting down; wait for it to go and start a fresh one.
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DeliverOutcome implements telephony.OutcomeSink. The outcome is applied by
// the campaign's reconcile loop, on this process or, through the bus, another.
func (m *Manager) DeliverOutcome(ctx context.Context, o telephony.Outcome) error {
	if !o.Status.Terminal() {
		return calls.ErrNotTerminal
	}
	call, err := m.lookupCall(ctx, o)
	if err != nil {
		return err
	}
	if call.Status.Terminal() {
		open, err := m.entryUnresolved(ctx, call)
		if err != nil {
			return err
		}
		if !open {
			return calls.ErrAlreadyFinalized
		}
		// Finalized but never reconciled: replay what was stored.
		o = outcomeFromCall(call)
	}
	o.CallID = call.CallID

	if call.CampaignID == "" {
		_, err := m.deps.Calls.Finalize(ctx, call.CallID, o.CallOutcome(), m.opts.Now().UTC())
		return err
	}

	if err := m.EnsureReconciler(ctx, call.CampaignID); err != nil {
		return err
	}
	if m.deliverLocal(ctx, call.CampaignID, outcomeMsg{outcome: o}) {
		return nil
	}
	if m.deps.Bus != nil {
		return m.deps.Bus.Publish(ctx, Envelope{CampaignID: call.CampaignID, Outcome: o})
	}
	return ErrNoRun
}

// entryUnresolved reports whether call's queue entry is still open and bound to it.
func (m *Manager) entryUnresolved(ctx context.Context, call calls.Call) (bool, error) {
	if call.CampaignID == "" {
		return false, nil
	}
	e, err := m.deps.Queue.Get(ctx, call.CampaignID, call.ContactID)
	if errors.Is(err, dialqueue.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !e.Status.Final() && e.CallID == call.CallID, nil
}

func (m *Manager) lookupCall(ctx context.Context, o telephony.Outcome) (calls.Call, error) {
	if o.CallID != "" {
		return m.deps.Calls.Get(ctx, o.CallID)
	}
	if o.ProviderCallID == "" {
		return calls.Call{}, calls.ErrNotFound
	}
	return m.deps.Calls.GetByProviderCallID(ctx, o.Provider, o.ProviderCallID)
}

func (m *Manager) deliverLocal(ctx context.Context, campaignID string, msg outcomeMsg) bool {
	m.mu.Lock()
	r := m.runs[campaignID]
	m.mu.Unlock()
	if r == nil {
		return false
	}
	select {
	case <-r.ready:
	default:
		return false
	}
	if r.err != nil {
		return false
	}
	return r.enqueue(ctx, msg)
}

func (m *Manager) onBusEnvelope(env Envelope) {
	if !m.deliverLocal(m.ctx, env.CampaignID, outcomeMsg{outcome: env.Outcome}) {
		m.log.Debug("bus outcome for campaign not run here", "campaign_id", env.CampaignID, "call_id", env.Outcome.CallID)
	}
}

// Running lists campaigns with a live run on this process.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.runs))
	for id := range m.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Dispatching reports whether this process runs the campaign's dispatch loop.
func (m *Manager) Dispatching(campaignID string) bool {
	m.mu.Lock()
	r := m.runs[campaignID]
	m.mu.Unlock()
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dispatching
}

func (m *Manager) forget(r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[r.campaignID] == r {
		delete(m.runs, r.campaignID)
	}
}

// Close stops every run and waits for their goroutines. Calls already placed
// keep their queue entries in flight; the next run to start adopts them.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
