package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/telephony"
	"campaign-dialer/pkg/logger"
)

type outcomeMsg struct {
	outcome  telephony.Outcome
	attempts int
}

// run is one campaign's dispatch and reconcile state on this process.
//
// Every claimed entry holds one capacity token until its outcome is
// reconciled, so claimed-but-unresolved entries never exceed the campaign's
// MaxConcurrentCalls.
type run struct {
	m          *Manager
	campaignID string
	accountID  string
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	tokens   *semaphore.Weighted
	outcomes chan outcomeMsg

	// ready is closed once start finished; err is set before that when start failed.
	ready chan struct{}
	done  chan struct{}
	err   error

	// wg tracks the dispatch loop and delayed reconcile retries.
	wg sync.WaitGroup

	mu   sync.Mutex
	held int
	// overflow counts adopted calls beyond the token pool; they release nothing.
	overflow    int
	dispatching bool
	rearm       bool
	finishing   bool
	// parked holds outcomes that ran out of reconcile attempts. Their entries
	// keep their tokens until a later ensure or redelivery applies them.
	parked []outcomeMsg
}

func newRun(m *Manager, campaignID string) *run {
	ctx, cancel := context.WithCancel(m.ctx)
	return &run{
		m:          m,
		campaignID: campaignID,
		log:        m.log.With("campaign_id", campaignID),
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (r *run) start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			r.err = err
			r.cancel()
			r.m.forget(r)
			close(r.ready)
			close(r.done)
		}
	}()

	d := r.m.deps
	c, err := d.Campaigns.GetByID(ctx, r.campaignID)
	if err != nil {
		return fmt.Errorf("dialer: load campaign: %w", err)
	}
	r.accountID = c.AccountID
	r.log = logger.ForCampaign(r.m.log, c.AccountID, c.ID)

	if d.Lease != nil {
		ok, err := d.Lease.Acquire(ctx, leaseKey(r.campaignID))
		if err != nil {
			return fmt.Errorf("dialer: acquire run lease: %w", err)
		}
		if !ok {
			return errLeaseHeld
		}
	}

	adopted, replays, err := r.recoverEntries(ctx)
	if err != nil {
		r.releaseLease()
		return err
	}
	if c.Status == campaigns.StatusCancelled {
		// Recovery may have requeued entries after the cancel skipped the rest.
		if _, err := d.Queue.SkipPending(ctx, r.campaignID); err != nil {
			r.log.Warn("skip requeued entries failed", "err", err)
		}
	}

	size := max(c.MaxConcurrentCalls, 1)
	r.tokens = semaphore.NewWeighted(int64(size))
	if pre := min(adopted, size); pre > 0 {
		r.tokens.TryAcquire(int64(pre))
		r.overflow = adopted - pre
	}
	r.held = adopted
	r.outcomes = make(chan outcomeMsg, max(64, 4*size))

	r.m.mu.Lock()
	if r.m.closed {
		r.m.mu.Unlock()
		r.releaseLease()
		return ErrClosed
	}
	r.m.wg.Add(1)
	r.m.mu.Unlock()

	d.Metrics.RunStarted()
	for i := 0; i < adopted; i++ {
		d.Metrics.CallStarted()
	}
	go r.reconcileLoop()
	close(r.ready)
	r.log.Info("campaign run started", "max_concurrent_calls", size, "adopted_calls", adopted)

	for _, msg := range replays {
		r.enqueue(r.ctx, msg)
	}
	if d.Bus != nil {
		err := d.Bus.Replay(ctx, r.campaignID, func(env Envelope) {
			r.enqueue(r.ctx, outcomeMsg{outcome: env.Outcome})
		})
		if err != nil {
			r.log.Warn("outcome bus replay failed", "err", err)
		}
	}
	return nil
}

// recoverEntries adopts entries a previous run left open. Queued entries that
// never got a call are requeued; ones whose call was never accepted by the
// provider fail. Every adopted entry will hold a capacity token.
func (r *run) recoverEntries(ctx context.Context) (adopted int, replays []outcomeMsg, err error) {
	d := r.m.deps
	now := r.m.opts.Now().UTC()

	queued, err := d.Queue.List(ctx, r.campaignID, dialqueue.StatusQueued, 0, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("dialer: list queued entries: %w", err)
	}
	requeued := 0
	for _, e := range queued {
		var call calls.Call
		if e.CallID != "" {
			call, err = d.Calls.Get(ctx, e.CallID)
			if err != nil && !errors.Is(err, calls.ErrNotFound) {
				return 0, nil, err
			}
		}
		if e.CallID == "" || errors.Is(err, calls.ErrNotFound) {
			if err := d.Queue.Requeue(ctx, r.campaignID, e.ContactID, now); err != nil && !errors.Is(err, dialqueue.ErrWrongState) {
				return 0, nil, fmt.Errorf("dialer: requeue entry: %w", err)
			}
			requeued++
			continue
		}

		adopted++
		switch {
		case call.Status.Terminal():
			replays = append(replays, outcomeMsg{outcome: outcomeFromCall(call)})
		case call.ProviderCallID == "":
			replays = append(replays, outcomeMsg{outcome: failedOutcome(call, "submission interrupted", now)})
		default:
			if err := d.Queue.MarkInFlight(ctx, r.campaignID, e.ContactID, now); err != nil && !errors.Is(err, dialqueue.ErrWrongState) {
				return 0, nil, fmt.Errorf("dialer: mark adopted entry in flight: %w", err)
			}
		}
	}

	inFlight, err := d.Queue.List(ctx, r.campaignID, dialqueue.StatusInFlight, 0, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("dialer: list in-flight entries: %w", err)
	}
	for _, e := range inFlight {
		adopted++
		if e.CallID == "" {
			continue
		}
		call, err := d.Calls.Get(ctx, e.CallID)
		if err == nil && call.Status.Terminal() {
			replays = append(replays, outcomeMsg{outcome: outcomeFromCall(call)})
		}
	}

	if requeued > 0 || len(replays) > 0 {
		r.log.Info("recovered open queue entries", "requeued", requeued, "adopted", adopted, "replayed", len(replays))
	}
	return adopted, replays, nil
}

// startDispatch starts the dispatch loop, or asks a running one to go round
// again before exiting. It returns false once the run is shutting down.
func (r *run) startDispatch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishing {
		return false
	}
	if r.dispatching {
		r.rearm = true
		return true
	}
	r.dispatching = true
	r.wg.Add(1)
	go r.dispatchLoop()
	return true
}

func (r *run) isFinishing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishing
}

// maybeFinish stops the run once nothing dispatches and no call is outstanding.
func (r *run) maybeFinish() {
	r.mu.Lock()
	if r.finishing || r.dispatching || r.held > 0 {
		r.mu.Unlock()
		return
	}
	r.finishing = true
	r.mu.Unlock()
	r.cancel()
}

func (r *run) acquire(ctx context.Context) error {
	if err := r.tokens.Acquire(ctx, 1); err != nil {
		return err
	}
	r.mu.Lock()
	r.held++
	r.mu.Unlock()
	return nil
}

func (r *run) releaseToken() {
	r.mu.Lock()
	if r.held == 0 {
		r.mu.Unlock()
		return
	}
	r.held--
	if r.overflow > 0 {
		r.overflow--
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.tokens.Release(1)
}

func (r *run) enqueue(ctx context.Context, msg outcomeMsg) bool {
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.outcomes <- msg:
		return true
	case <-r.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// retryParked hands parked outcomes back to the reconcile loop.
func (r *run) retryParked(ctx context.Context) {
	r.mu.Lock()
	msgs := r.parked
	r.parked = nil
	r.mu.Unlock()
	for i, msg := range msgs {
		if !r.enqueue(ctx, msg) {
			r.mu.Lock()
			r.parked = append(r.parked, msgs[i:]...)
			r.mu.Unlock()
			return
		}
	}
	if len(msgs) > 0 {
		r.log.Info("retrying parked outcomes", "count", len(msgs))
	}
}

func (r *run) reconcileLoop() {
	defer r.m.wg.Done()
	defer r.shutdown()

	var renew <-chan time.Time
	if l := r.m.deps.Lease; l != nil {
		t := time.NewTicker(max(l.TTL()/3, 10*time.Millisecond))
		defer t.Stop()
		renew = t.C
	}
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-r.outcomes:
			r.reconcile(msg)
			r.maybeFinish()
		case <-renew:
			if !r.renewLease() {
				return
			}
		}
	}
}

func (r *run) shutdown() {
	r.mu.Lock()
	r.finishing = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()

	r.releaseLease()
	r.m.forget(r)

	r.mu.Lock()
	outstanding := r.held
	r.mu.Unlock()
	for i := 0; i < outstanding; i++ {
		r.m.deps.Metrics.CallEnded(-1)
	}
	r.m.deps.Metrics.RunStopped()
	r.log.Info("campaign run stopped", "outstanding_calls", outstanding)
	close(r.done)
}

func (r *run) renewLease() bool {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	ok, err := r.m.deps.Lease.Renew(ctx, leaseKey(r.campaignID))
	if err != nil {
		// The TTL leaves room for a couple of failed renewals.
		r.log.Warn("run lease renewal failed", "err", err)
		return true
	}
	if !ok {
		r.log.Error("run lease lost; stopping run")
		return false
	}
	return true
}

func (r *run) releaseLease() {
	if r.m.deps.Lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.m.deps.Lease.Release(ctx, leaseKey(r.campaignID)); err != nil {
		r.log.Warn("run lease release failed", "err", err)
	}
}

func outcomeFromCall(c calls.Call) telephony.Outcome {
	return telephony.Outcome{
		Provider:            c.Provider,
		ProviderCallID:      c.ProviderCallID,
		CallID:              c.CallID,
		Status:              c.Status,
		DurationSeconds:     c.DurationSeconds,
		StartTime:           c.StartTime,
		EndTime:             c.EndTime,
		RecordingURL:        c.RecordingURL,
		TranscriptAvailable: c.TranscriptAvailable,
		FailureReason:       c.FailureReason,
	}
}

func failedOutcome(c calls.Call, reason string, at time.Time) telephony.Outcome {
	end := at
	return telephony.Outcome{
		Provider:       c.Provider,
		ProviderCallID: c.ProviderCallID,
		CallID:         c.CallID,
		Status:         calls.CallStatusFailed,
		EndTime:        &end,
		FailureReason:  reason,
	}
}
