package pricing

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory RuleRepository for tests and local runs.
type MemoryRepo struct {
	mu    sync.RWMutex
	Rules []BillingRule
}

func (r *MemoryRepo) Add(rule BillingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rules = append(r.Rules, rule)
}

func (r *MemoryRepo) FindBillingRule(ctx context.Context, accountID string, direction CallDirection, at time.Time) (BillingRule, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best BillingRule
	found := false
	for _, p := range r.Rules {
		if p.AccountID != accountID || p.Direction != direction || !p.inEffect(at) {
			continue
		}
		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}
	return best, found, nil
}
