package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{calls: map[string]Call{}} }

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.CallID] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, callID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, provider, providerCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.Provider == provider && c.ProviderCallID == providerCallID && providerCallID != "" {
			return c, nil
		}
	}
	return Call{}, ErrNotFound
}

func (r *MemoryRepo) SetProviderCallID(ctx context.Context, callID, providerCallID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.ProviderCallID = providerCallID
	if c.Status == CallStatusQueued {
		c.Status = CallStatusRinging
	}
	c.UpdatedAt = at
	r.calls[callID] = c
	return nil
}

func (r *MemoryRepo) Finalize(ctx context.Context, callID string, o Outcome, at time.Time) (Call, error) {
	if !o.Status.Terminal() {
		return Call{}, ErrNotTerminal
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	if c.Status.Terminal() {
		return c, ErrAlreadyFinalized
	}
	c.Status = o.Status
	c.DurationSeconds = o.DurationSeconds
	c.StartTime = o.StartTime
	c.EndTime = o.EndTime
	c.RecordingURL = o.RecordingURL
	c.TranscriptAvailable = o.TranscriptAvailable
	c.FailureReason = o.FailureReason
	c.UpdatedAt = at
	r.calls[callID] = c
	return c, nil
}

func (r *MemoryRepo) List(ctx context.Context, accountID string, from, to time.Time, campaignID string) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.AccountID != accountID {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		if campaignID != "" && c.CampaignID != campaignID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
