package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process ledger with the same usage semantics as Service.
// It backs tests and local runs without Postgres.
type MemoryLedger struct {
	mu       sync.Mutex
	plans    map[string]Plan
	balances map[string]Balance // key: wallet id
	entries  []WalletLedger
	commits  map[string]UsageCommit // key: account|call
	clock    func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		plans:    map[string]Plan{},
		balances: map[string]Balance{},
		commits:  map[string]UsageCommit{},
		clock:    time.Now,
	}
}

// SetPlan creates or replaces an account plan and its wallet.
func (l *MemoryLedger) SetPlan(p Plan) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plans[p.AccountID] = p
	if _, ok := l.balances[p.WalletID]; !ok {
		l.balances[p.WalletID] = Balance{AccountID: p.AccountID, WalletID: p.WalletID, Currency: p.Currency}
	}
}

func (l *MemoryLedger) Plan(accountID string) (Plan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plans[accountID]
	if !ok {
		return Plan{}, ErrNoPlan
	}
	return p, nil
}

func (l *MemoryLedger) GetBalance(ctx context.Context, accountID, walletID string) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[walletID]
	if !ok || b.AccountID != accountID {
		return Balance{}, ErrNotFound
	}
	return b, nil
}

func (l *MemoryLedger) Credit(ctx context.Context, accountID, walletID string, req CreditRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(accountID, walletID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil || req.AmountMinor <= 0 {
		return WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.postLocked(accountID, walletID, LedgerEntryTypeCredit, req, l.clock().UTC())
}

func (l *MemoryLedger) ListLedger(ctx context.Context, accountID string, from, to time.Time, walletID string) ([]WalletLedger, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]WalletLedger, 0)
	for _, e := range l.entries {
		if e.AccountID != accountID || e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		if walletID != "" && e.WalletID != walletID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *MemoryLedger) CheckSufficient(ctx context.Context, accountID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plans[accountID]
	if !ok {
		return false, nil
	}
	if p.RemainingMinutes() > 0 || p.ExtraMinuteRateMinor == 0 {
		return true, nil
	}
	return l.balances[p.WalletID].BalanceMinor >= p.ExtraMinuteRateMinor, nil
}

func (l *MemoryLedger) CommitUsage(ctx context.Context, req UsageRequest) (UsageCommit, error) {
	if req.AccountID == "" || req.CallID == "" || req.Minutes < 0 {
		return UsageCommit{}, ErrInvalidArgument
	}
	if req.Minutes == 0 {
		return UsageCommit{AccountID: req.AccountID, CallID: req.CallID}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.plans[req.AccountID]
	if !ok {
		return UsageCommit{}, ErrNoPlan
	}
	key := req.AccountID + "|" + req.CallID
	if existing, ok := l.commits[key]; ok {
		return existing, nil
	}

	now := l.clock().UTC()
	fromPlan, overage := p.split(req.Minutes)
	u := UsageCommit{
		AccountID:      req.AccountID,
		CallID:         req.CallID,
		Minutes:        req.Minutes,
		PlanMinutes:    fromPlan,
		OverageMinutes: overage,
		DebitMinor:     overage * p.ExtraMinuteRateMinor,
		CreatedAt:      now,
	}
	if u.DebitMinor > 0 {
		entry, _, err := l.postLocked(req.AccountID, p.WalletID, LedgerEntryTypeDebit, DebitRequest{
			AmountMinor:    u.DebitMinor,
			Currency:       p.Currency,
			ExternalRef:    req.CallID,
			IdempotencyKey: UsageIdempotencyKey(req.CallID),
		}, now)
		if err != nil {
			return UsageCommit{}, err
		}
		u.LedgerID = entry.ID
	}
	p.MinutesUsed += fromPlan
	p.UpdatedAt = now
	l.plans[req.AccountID] = p
	l.commits[key] = u
	return u, nil
}

func (l *MemoryLedger) postLocked(accountID, walletID string, typ LedgerEntryType, req CreditRequest, now time.Time) (WalletLedger, Balance, error) {
	b, ok := l.balances[walletID]
	if !ok || b.AccountID != accountID {
		return WalletLedger{}, Balance{}, ErrNotFound
	}
	if b.Currency != req.Currency {
		return WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	for _, e := range l.entries {
		if e.WalletID == walletID && e.IdempotencyKey == req.IdempotencyKey {
			return e, b, nil
		}
	}
	delta := req.AmountMinor
	if typ == LedgerEntryTypeDebit {
		if b.BalanceMinor < req.AmountMinor {
			return WalletLedger{}, Balance{}, ErrInsufficientFunds
		}
		delta = -req.AmountMinor
	}
	e := WalletLedger{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		WalletID:       walletID,
		Type:           typ,
		AmountMinor:    delta,
		Currency:       req.Currency,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		CreatedAt:      now,
	}
	l.entries = append(l.entries, e)
	b.BalanceMinor += delta
	b.UpdatedAt = now
	l.balances[walletID] = b
	return e, b, nil
}
