package dialer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/contacts"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/gate"
	"campaign-dialer/internal/metrics"
	"campaign-dialer/internal/telephony"
)

func (r *run) dispatchLoop() {
	defer r.wg.Done()
	for {
		for !r.dispatchOne(r.ctx) {
		}

		r.mu.Lock()
		if r.rearm && r.ctx.Err() == nil {
			r.rearm = false
			r.mu.Unlock()
			continue
		}
		r.dispatching = false
		r.rearm = false
		r.mu.Unlock()

		r.log.Debug("dispatch loop stopped")
		r.maybeFinish()
		return
	}
}

// dispatchOne places at most one call and reports whether the loop should stop.
// The campaign is re-read after a capacity token is held, so pause and cancel
// are observed before every claim and the gate is checked at submission time.
func (r *run) dispatchOne(ctx context.Context) (stop bool) {
	if err := r.acquire(ctx); err != nil {
		return true
	}
	claimed := false
	defer func() {
		if !claimed {
			r.releaseToken()
		}
	}()

	d := r.m.deps
	c, err := d.Campaigns.GetByID(ctx, r.campaignID)
	if err != nil {
		r.log.Error("load campaign failed", "err", err)
		return !sleepCtx(ctx, r.m.opts.RetryDelay)
	}
	if c.Status != campaigns.StatusInProgress {
		return true
	}

	policy, err := c.Policy()
	if err != nil {
		r.log.Error("campaign gate policy invalid", "err", err)
		return true
	}
	now := r.m.opts.Now()
	if v := gate.Evaluate(policy, c.GateState(), now); !v.Open {
		r.pause(ctx, campaigns.PauseReasonFor(v.Reason), v.ReopenAt)
		return true
	}

	ok, err := d.Wallet.CheckSufficient(ctx, c.AccountID)
	if err != nil {
		r.log.Error("wallet sufficiency check failed", "err", err)
		return !sleepCtx(ctx, r.m.opts.RetryDelay)
	}
	if !ok {
		r.pause(ctx, campaigns.PauseInsufficientBalance, time.Time{})
		return true
	}

	agent, err := d.Contacts.GetAgent(ctx, c.AgentID)
	if errors.Is(err, contacts.ErrAgentNotFound) || (err == nil && agent.Disabled) {
		r.pause(ctx, campaigns.PauseAgentDisabled, time.Time{})
		return true
	}
	if err != nil {
		r.log.Error("load agent failed", "agent_id", c.AgentID, "err", err)
		return !sleepCtx(ctx, r.m.opts.RetryDelay)
	}

	entry, found, err := d.Queue.ClaimNext(ctx, r.campaignID, now.UTC())
	if err != nil {
		r.log.Error("claim next entry failed", "err", err)
		return !sleepCtx(ctx, r.m.opts.RetryDelay)
	}
	if !found {
		r.completeIfExhausted(ctx)
		return true
	}

	// A pause or cancel that landed during the claim wins over it.
	current, err := d.Campaigns.GetByID(ctx, r.campaignID)
	if err != nil || current.Status != campaigns.StatusInProgress {
		r.unclaim(ctx, entry.ContactID, current.Status == campaigns.StatusCancelled)
		if err != nil {
			r.log.Error("reload campaign failed", "err", err)
			return !sleepCtx(ctx, r.m.opts.RetryDelay)
		}
		return true
	}

	claimed = true
	d.Metrics.CallStarted()
	return r.submit(ctx, current, agent, entry)
}

// submit places the call for a claimed entry. Failures before the provider
// accepted the call become a failed outcome for that contact.
func (r *run) submit(ctx context.Context, c campaigns.Campaign, agent contacts.Agent, entry dialqueue.Entry) (stop bool) {
	d := r.m.deps
	now := r.m.opts.Now().UTC()

	contact, contactErr := d.Contacts.GetContact(ctx, entry.ContactID)
	call := calls.Call{
		CallID:     uuid.NewString(),
		AccountID:  c.AccountID,
		CampaignID: c.ID,
		ContactID:  entry.ContactID,
		AgentID:    c.AgentID,
		To:         contact.PhoneNumber,
		Provider:   d.Provider.Name(),
		Status:     calls.CallStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if d.CallerIDs != nil {
		call.From = d.CallerIDs.Pick()
	}
	if err := d.Calls.Create(ctx, call); err != nil {
		r.log.Error("create call record failed", "contact_id", entry.ContactID, "err", err)
		if err := d.Queue.Requeue(ctx, r.campaignID, entry.ContactID, now); err != nil {
			r.log.Error("requeue entry failed", "contact_id", entry.ContactID, "err", err)
		}
		d.Metrics.CallEnded(-1)
		r.releaseToken()
		return !sleepCtx(ctx, r.m.opts.RetryDelay)
	}
	if err := d.Queue.AttachCall(ctx, r.campaignID, entry.ContactID, call.CallID, now); err != nil {
		// The entry never pointed at this call, so reconcile could not resolve it.
		if _, ferr := d.Calls.Finalize(ctx, call.CallID, failedOutcome(call, "queue update failed", now).CallOutcome(), now); ferr != nil {
			r.log.Warn("fail unattached call failed", "call_id", call.CallID, "err", ferr)
		}
		d.Metrics.CallEnded(-1)
		r.releaseToken()
		if errors.Is(err, dialqueue.ErrWrongState) {
			// Skipped by a cancel; the next iteration sees the new status.
			return false
		}
		r.log.Error("attach call to entry failed", "contact_id", entry.ContactID, "call_id", call.CallID, "err", err)
		r.unclaim(ctx, entry.ContactID, false)
		return !sleepCtx(ctx, r.m.opts.RetryDelay)
	}
	if contactErr != nil {
		r.log.Warn("contact unavailable", "contact_id", entry.ContactID, "err", contactErr)
		r.failSubmission(ctx, call, "contact unavailable")
		return false
	}

	msg := c.OpeningMessage
	if msg == "" {
		msg = agent.DefaultMessage
	}
	res, err := d.Provider.SubmitCall(ctx, telephony.OutboundCallRequest{
		AccountID:         c.AccountID,
		CampaignID:        c.ID,
		CallID:            call.CallID,
		From:              call.From,
		To:                call.To,
		ContactName:       contact.Name,
		AgentID:           agent.ID,
		OpeningMessage:    msg,
		Voice:             agent.Voice,
		Language:          agent.Language,
		StatusCallbackURL: r.m.opts.StatusCallbackURL,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; the next run fails or adopts this entry.
			return true
		}
		r.log.Warn("call submission failed", "contact_id", entry.ContactID, "call_id", call.CallID, "err", err)
		d.Metrics.Dispatched(metrics.ResultFailed)
		r.failSubmission(ctx, call, err.Error())
		return false
	}

	if err := d.Calls.SetProviderCallID(ctx, call.CallID, res.ProviderCallID, now); err != nil {
		r.log.Error("store provider call id failed", "call_id", call.CallID, "err", err)
	}
	// A fast outcome may already have resolved the entry.
	if err := d.Queue.MarkInFlight(ctx, r.campaignID, entry.ContactID, now); err != nil && !errors.Is(err, dialqueue.ErrWrongState) {
		r.log.Error("mark entry in flight failed", "contact_id", entry.ContactID, "err", err)
	}
	d.Metrics.Dispatched(metrics.ResultSubmitted)
	r.log.Debug("call dispatched", "contact_id", entry.ContactID, "call_id", call.CallID, "provider_call_id", res.ProviderCallID)

	n, err := d.Campaigns.RecordDispatch(ctx, r.campaignID)
	if err != nil {
		r.log.Error("record dispatch failed", "err", err)
		return false
	}
	if c.CallsBetweenPause > 0 && n >= c.CallsBetweenPause {
		cooldown := time.Duration(c.PauseDurationMinutes) * time.Minute
		r.pause(ctx, campaigns.PausePacingCooldown, r.m.opts.Now().Add(cooldown))
		return true
	}
	return false
}

// unclaim returns a claimed entry without a call to pending, or skips it
// when the campaign was cancelled.
func (r *run) unclaim(ctx context.Context, contactID string, cancelled bool) {
	d := r.m.deps
	if err := d.Queue.Requeue(ctx, r.campaignID, contactID, r.m.opts.Now().UTC()); err != nil && !errors.Is(err, dialqueue.ErrWrongState) {
		r.log.Error("requeue entry failed", "contact_id", contactID, "err", err)
	}
	if !cancelled {
		return
	}
	if _, err := d.Queue.SkipPending(ctx, r.campaignID); err != nil {
		r.log.Error("skip pending entries failed", "err", err)
	}
}

// failSubmission hands a failed outcome to the reconcile loop, which owns the
// entry and counter updates.
func (r *run) failSubmission(ctx context.Context, call calls.Call, reason string) {
	r.enqueue(ctx, outcomeMsg{outcome: failedOutcome(call, reason, r.m.opts.Now().UTC())})
}

func (r *run) pause(ctx context.Context, reason campaigns.PauseReason, until time.Time) {
	c, err := r.m.deps.Campaigns.PauseFor(ctx, r.campaignID, reason, until)
	if err != nil {
		r.log.Error("pause campaign failed", "reason", reason, "err", err)
		return
	}
	attrs := []any{"reason", reason, "status", c.Status}
	if !until.IsZero() {
		attrs = append(attrs, "reopen_at", until.UTC())
	}
	r.log.Info("campaign paused by dialer", attrs...)
}

func (r *run) completeIfExhausted(ctx context.Context) {
	counts, err := r.m.deps.Queue.Counts(ctx, r.campaignID)
	if err != nil {
		r.log.Error("queue counts failed", "err", err)
		return
	}
	if !counts.Exhausted() {
		return
	}
	c, err := r.m.deps.Campaigns.Complete(ctx, r.campaignID)
	if err != nil {
		r.log.Error("complete campaign failed", "err", err)
		return
	}
	if c.Status == campaigns.StatusCompleted {
		r.log.Info("campaign completed", "completed_calls", c.CompletedCalls, "skipped", counts.Skipped)
	}
}
