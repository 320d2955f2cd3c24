package campaigns

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a mutex-guarded Repository for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	contacts  map[string][]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: map[string]Campaign{}, contacts: map[string][]string{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, accountID, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live(id)
	if !ok || c.AccountID != accountID {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live(id)
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) List(ctx context.Context, accountID string, status Status) ([]Campaign, error) {
	return r.filter(func(c Campaign) bool {
		return c.AccountID == accountID && (status == "" || c.Status == status)
	}), nil
}

func (r *MemoryRepo) ListByStatus(ctx context.Context, status Status) ([]Campaign, error) {
	return r.filter(func(c Campaign) bool { return c.Status == status }), nil
}

func (r *MemoryRepo) UpdateSettings(ctx context.Context, accountID, id string, s Settings, at time.Time) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live(id)
	if !ok || c.AccountID != accountID {
		return Campaign{}, ErrNotFound
	}
	if c.Status != StatusDraft {
		return Campaign{}, ErrNotEditable
	}
	c.Settings = s
	c.UpdatedAt = at
	r.campaigns[id] = c
	return c, nil
}

func (r *MemoryRepo) SetContacts(ctx context.Context, accountID, id string, contactIDs []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live(id)
	if !ok || c.AccountID != accountID {
		return ErrNotFound
	}
	if c.Status != StatusDraft {
		return ErrNotEditable
	}
	r.contacts[id] = dedupeContacts(contactIDs)
	c.UpdatedAt = at
	r.campaigns[id] = c
	return nil
}

func (r *MemoryRepo) ContactIDs(ctx context.Context, id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[id]; !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), r.contacts[id]...), nil
}

func (r *MemoryRepo) SoftDelete(ctx context.Context, accountID, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live(id)
	if !ok || c.AccountID != accountID {
		return ErrNotFound
	}
	if !c.Status.Deletable() {
		return ErrNotEditable
	}
	c.DeletedAt = &at
	c.UpdatedAt = at
	r.campaigns[id] = c
	return nil
}

func (r *MemoryRepo) CompareAndSetStatus(ctx context.Context, id string, t Transition) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live(id)
	if !ok {
		return Campaign{}, ErrNotFound
	}
	if c.Status != t.From {
		return Campaign{}, ErrStatusConflict
	}

	c.Status = t.To
	c.PauseReason = t.PauseReason
	if t.CooldownUntil != nil {
		cu := *t.CooldownUntil
		c.CooldownUntil = &cu
	}
	if t.ResetDispatched {
		c.DispatchedSinceLastPause = 0
	}
	if t.TotalContacts != nil {
		c.TotalContacts = *t.TotalContacts
	}
	at := t.At
	if t.To == StatusInProgress && c.StartedAt == nil {
		c.StartedAt = &at
	}
	if t.To.Terminal() {
		c.CompletedAt = &at
	}
	c.UpdatedAt = at
	r.campaigns[id] = c
	return c, nil
}

func (r *MemoryRepo) RecordDispatch(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return 0, ErrNotFound
	}
	c.DispatchedSinceLastPause++
	r.campaigns[id] = c
	return c.DispatchedSinceLastPause, nil
}

func (r *MemoryRepo) IncrementCompleted(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return 0, ErrNotFound
	}
	if c.CompletedCalls >= c.TotalContacts {
		return c.CompletedCalls, ErrCounterSaturated
	}
	c.CompletedCalls++
	r.campaigns[id] = c
	return c.CompletedCalls, nil
}

func (r *MemoryRepo) live(id string) (Campaign, bool) {
	c, ok := r.campaigns[id]
	if !ok || c.DeletedAt != nil {
		return Campaign{}, false
	}
	return c, true
}

func (r *MemoryRepo) filter(keep func(Campaign) bool) []Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Campaign, 0)
	for _, c := range r.campaigns {
		if c.DeletedAt == nil && keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
