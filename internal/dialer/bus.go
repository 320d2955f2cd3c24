package dialer

import (
	"context"
	"sync"

	"campaign-dialer/internal/telephony"
)

// Envelope is an outcome addressed to the process running its campaign.
type Envelope struct {
	CampaignID string            `json:"campaign_id"`
	Outcome    telephony.Outcome `json:"outcome"`
}

// OutcomeBus carries outcomes between replicas, so a webhook can land on any of them.
type OutcomeBus interface {
	Publish(ctx context.Context, env Envelope) error
	// Consume calls fn for every envelope published after it started, until ctx ends.
	Consume(ctx context.Context, fn func(Envelope)) error
	// Replay calls fn for retained envelopes of one campaign, oldest first.
	Replay(ctx context.Context, campaignID string, fn func(Envelope)) error
}

// MemoryBus is an in-process OutcomeBus; it connects Managers that share a process.
type MemoryBus struct {
	mu      sync.Mutex
	subs    map[int]func(Envelope)
	nextID  int
	history []Envelope
	retain  int
}

func NewMemoryBus(retain int) *MemoryBus {
	if retain <= 0 {
		retain = 10000
	}
	return &MemoryBus{subs: map[int]func(Envelope){}, retain: retain}
}

func (b *MemoryBus) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	b.history = append(b.history, env)
	if len(b.history) > b.retain {
		b.history = b.history[len(b.history)-b.retain:]
	}
	subs := make([]func(Envelope), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(env)
	}
	return nil
}

func (b *MemoryBus) Consume(ctx context.Context, fn func(Envelope)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) Replay(_ context.Context, campaignID string, fn func(Envelope)) error {
	b.mu.Lock()
	var matched []Envelope
	for _, env := range b.history {
		if env.CampaignID == campaignID {
			matched = append(matched, env)
		}
	}
	b.mu.Unlock()

	for _, env := range matched {
		fn(env)
	}
	return nil
}
