package dialer

import (
	"errors"
	"log/slog"
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/wallet"
)

// reconcile applies one terminal outcome: finalize the call, resolve its
// entry, count it, commit usage, release the token, then complete the campaign
// when the queue is exhausted. A call finalized by an interrupted earlier
// attempt picks up where that attempt stopped.
func (r *run) reconcile(msg outcomeMsg) {
	ctx := r.ctx
	d := r.m.deps
	o := msg.outcome
	now := r.m.opts.Now().UTC()
	log := r.log.With("call_id", o.CallID)

	call, err := d.Calls.Finalize(ctx, o.CallID, o.CallOutcome(), now)
	if errors.Is(err, calls.ErrAlreadyFinalized) {
		call, err = d.Calls.Get(ctx, o.CallID)
	}
	if errors.Is(err, calls.ErrNotFound) || errors.Is(err, calls.ErrNotTerminal) {
		log.Warn("outcome dropped", "err", err)
		return
	}
	if err != nil {
		log.Error("finalize call failed", "err", err, "attempt", msg.attempts+1)
		r.retryLater(msg)
		return
	}
	if call.CampaignID != r.campaignID {
		log.Warn("outcome for another campaign dropped", "call_campaign_id", call.CampaignID)
		return
	}

	entry, err := d.Queue.Get(ctx, r.campaignID, call.ContactID)
	if err != nil {
		log.Error("load queue entry failed", "contact_id", call.ContactID, "err", err)
		r.retryLater(msg)
		return
	}
	if entry.Status.Final() || entry.CallID != call.CallID {
		log.Debug("duplicate outcome ignored", "entry_status", entry.Status)
		return
	}

	status := dialqueue.StatusFailed
	if call.Status == calls.CallStatusCompleted {
		status = dialqueue.StatusCompleted
	}
	if err := d.Queue.Resolve(ctx, r.campaignID, call.ContactID, status, now); err != nil {
		if errors.Is(err, dialqueue.ErrEntryResolved) {
			return
		}
		log.Error("resolve queue entry failed", "contact_id", call.ContactID, "err", err)
		r.retryLater(msg)
		return
	}
	d.Metrics.Outcome(string(call.Status))
	d.Metrics.CallEnded(now.Sub(call.CreatedAt).Seconds())
	if status == dialqueue.StatusFailed {
		log.Warn("call failed", "contact_id", call.ContactID, "status", call.Status, "reason", call.FailureReason)
	}

	r.recordCompletion(log)

	// Billing settles before the token frees, so a failed commit pauses the
	// campaign ahead of the next claim.
	r.commitUsage(call, now)
	r.releaseToken()
	r.completeIfExhausted(ctx)
}

// recordCompletion bumps completedCalls. The entry is already resolved, so a
// redelivered outcome would be ignored; the counter is retried in place.
func (r *run) recordCompletion(log *slog.Logger) {
	for attempt := 1; ; attempt++ {
		_, err := r.m.deps.Campaigns.RecordCompletion(r.ctx, r.campaignID)
		switch {
		case err == nil:
			return
		case errors.Is(err, campaigns.ErrCounterSaturated):
			log.Warn("completed calls counter saturated")
			return
		case attempt >= r.m.opts.MaxReconcileAttempts:
			log.Error("record completion failed", "err", err, "attempts", attempt)
			return
		}
		log.Warn("record completion failed; retrying", "err", err, "attempt", attempt)
		if !sleepCtx(r.ctx, r.m.opts.RetryDelay) {
			return
		}
	}
}

// commitUsage charges the call's billable minutes. Insufficient funds pause
// the campaign; the call itself stays recorded.
func (r *run) commitUsage(call calls.Call, now time.Time) {
	if call.DurationSeconds <= 0 {
		return
	}
	ctx := r.ctx
	d := r.m.deps
	log := r.log.With("call_id", call.CallID)

	at := now
	if call.EndTime != nil {
		at = *call.EndTime
	}
	minutes, err := d.Rater.BillableMinutes(ctx, r.accountID, call.DurationSeconds, at)
	if err != nil {
		log.Error("billable minutes failed", "duration_seconds", call.DurationSeconds, "err", err)
		r.usageFailed(call, 0, err)
		return
	}
	if minutes == 0 {
		return
	}

	commit, err := d.Wallet.CommitUsage(ctx, wallet.UsageRequest{AccountID: r.accountID, CallID: call.CallID, Minutes: minutes})
	if err == nil {
		log.Debug("usage committed", "minutes", minutes, "plan_minutes", commit.PlanMinutes, "overage_minutes", commit.OverageMinutes)
		return
	}
	log.Warn("usage commit failed", "minutes", minutes, "err", err)
	r.usageFailed(call, minutes, err)

	if errors.Is(err, wallet.ErrInsufficientFunds) || errors.Is(err, wallet.ErrNoPlan) {
		r.pause(ctx, campaigns.PauseInsufficientBalance, time.Time{})
	}
}

func (r *run) usageFailed(call calls.Call, minutes int64, cause error) {
	r.m.deps.Metrics.UsageCommitFailed()
	if r.m.deps.Audit == nil {
		return
	}
	if err := r.m.deps.Audit.LogUsageCommitFailed(r.ctx, r.accountID, r.campaignID, call.CallID, minutes, cause); err != nil {
		r.log.Warn("audit usage commit failure failed", "call_id", call.CallID, "err", err)
	}
}

// retryLater re-delivers msg after RetryDelay. The entry keeps its token
// meanwhile. Once attempts run out the outcome is parked for retryParked.
func (r *run) retryLater(msg outcomeMsg) {
	msg.attempts++
	if msg.attempts >= r.m.opts.MaxReconcileAttempts {
		r.log.Error("outcome parked after retries", "call_id", msg.outcome.CallID, "attempts", msg.attempts)
		msg.attempts = 0
		r.mu.Lock()
		r.parked = append(r.parked, msg)
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if sleepCtx(r.ctx, r.m.opts.RetryDelay) {
			r.enqueue(r.ctx, msg)
		}
	}()
}
