package dialqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]*Entry
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string][]*Entry{}, clock: time.Now}
}

func (s *MemoryStore) Materialize(ctx context.Context, campaignID string, contactIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[campaignID]
	have := make(map[string]struct{}, len(list))
	for _, e := range list {
		have[e.ContactID] = struct{}{}
	}
	now := s.clock().UTC()
	for _, id := range contactIDs {
		if _, ok := have[id]; ok || id == "" {
			continue
		}
		have[id] = struct{}{}
		list = append(list, &Entry{CampaignID: campaignID, ContactID: id, Position: len(list), Status: StatusPending, UpdatedAt: now})
	}
	s.entries[campaignID] = list
	return len(list), nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context, campaignID string, at time.Time) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries[campaignID] {
		if e.Status != StatusPending {
			continue
		}
		t := at
		e.Status = StatusQueued
		e.Attempts++
		e.LastAttemptAt = &t
		e.CallID = ""
		e.UpdatedAt = at
		return *e, true, nil
	}
	return Entry{}, false, nil
}

func (s *MemoryStore) AttachCall(ctx context.Context, campaignID, contactID, callID string, at time.Time) error {
	return s.update(campaignID, contactID, func(e *Entry) error {
		if e.Status != StatusQueued {
			return ErrWrongState
		}
		e.CallID = callID
		e.UpdatedAt = at
		return nil
	})
}

func (s *MemoryStore) MarkInFlight(ctx context.Context, campaignID, contactID string, at time.Time) error {
	return s.update(campaignID, contactID, func(e *Entry) error {
		if e.Status != StatusQueued {
			return ErrWrongState
		}
		e.Status = StatusInFlight
		e.UpdatedAt = at
		return nil
	})
}

func (s *MemoryStore) Resolve(ctx context.Context, campaignID, contactID string, status Status, at time.Time) error {
	if err := validResolution(status); err != nil {
		return err
	}
	return s.update(campaignID, contactID, func(e *Entry) error {
		if e.Status != StatusQueued && e.Status != StatusInFlight {
			return ErrEntryResolved
		}
		e.Status = status
		e.UpdatedAt = at
		return nil
	})
}

func (s *MemoryStore) Requeue(ctx context.Context, campaignID, contactID string, at time.Time) error {
	return s.update(campaignID, contactID, func(e *Entry) error {
		if e.Status != StatusQueued {
			return ErrWrongState
		}
		e.Status = StatusPending
		e.CallID = ""
		e.UpdatedAt = at
		return nil
	})
}

func (s *MemoryStore) SkipPending(ctx context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	n := 0
	for _, e := range s.entries[campaignID] {
		if e.Status == StatusPending || (e.Status == StatusQueued && e.CallID == "") {
			e.Status = StatusSkipped
			e.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Get(ctx context.Context, campaignID, contactID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(campaignID, contactID)
	if e == nil {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

func (s *MemoryStore) Counts(ctx context.Context, campaignID string) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, e := range s.entries[campaignID] {
		c.add(e.Status, 1)
	}
	return c, nil
}

func (s *MemoryStore) List(ctx context.Context, campaignID string, status Status, limit, offset int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0)
	skipped := 0
	for _, e := range s.entries[campaignID] {
		if status != "" && e.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *MemoryStore) CampaignsWithOpenEntries(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, list := range s.entries {
		for _, e := range list {
			if e.Status == StatusQueued || e.Status == StatusInFlight {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) update(campaignID, contactID string, fn func(*Entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(campaignID, contactID)
	if e == nil {
		return ErrNotFound
	}
	return fn(e)
}

func (s *MemoryStore) find(campaignID, contactID string) *Entry {
	for _, e := range s.entries[campaignID] {
		if e.ContactID == contactID {
			return e
		}
	}
	return nil
}
