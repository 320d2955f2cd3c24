package contacts

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.RWMutex
	contacts map[string]Contact
	agents   map[string]Agent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contacts: map[string]Contact{}, agents: map[string]Agent{}}
}

func (s *MemoryStore) GetContact(ctx context.Context, id string) (Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, ErrContactNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	return a, nil
}

func (s *MemoryStore) UpsertContact(ctx context.Context, c Contact) error {
	phone, err := NormalizePhone(c.PhoneNumber)
	if err != nil {
		return err
	}
	c.PhoneNumber = phone
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.contacts[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.contacts[c.ID] = c
	return nil
}

func (s *MemoryStore) UpsertAgent(ctx context.Context, a Agent) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.agents[a.ID]; ok {
		a.CreatedAt = prev.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.agents[a.ID] = a
	return nil
}
