package telephony

import (
	"context"
	"sync"
	"time"

	"campaign-dialer/internal/calls"

	"github.com/google/uuid"
)

const ProviderNameLoopback = "loopback"

// LoopbackProvider accepts every call and reports it completed after CallDuration.
// For local/dev runs only; it never touches a network.
type LoopbackProvider struct {
	Sink         OutcomeSink
	CallDuration time.Duration
	Now          func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewLoopbackProvider(sink OutcomeSink, callDuration time.Duration) *LoopbackProvider {
	return &LoopbackProvider{Sink: sink, CallDuration: callDuration, Now: time.Now, timers: map[string]*time.Timer{}}
}

func (p *LoopbackProvider) Name() string { return ProviderNameLoopback }

func (p *LoopbackProvider) SubmitCall(_ context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if err := req.validate(); err != nil {
		return OutboundCallResult{}, &SubmissionError{Provider: ProviderNameLoopback, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return OutboundCallResult{}, &SubmissionError{Provider: ProviderNameLoopback, Reason: "provider closed"}
	}
	if p.timers == nil {
		p.timers = map[string]*time.Timer{}
	}

	accepted := p.now()
	providerCallID := "LB" + uuid.NewString()
	p.timers[providerCallID] = time.AfterFunc(p.CallDuration, func() {
		p.complete(req.CallID, providerCallID, accepted)
	})
	return OutboundCallResult{Provider: ProviderNameLoopback, ProviderCallID: providerCallID, AcceptedAt: accepted}, nil
}

func (p *LoopbackProvider) complete(callID, providerCallID string, accepted time.Time) {
	p.mu.Lock()
	delete(p.timers, providerCallID)
	closed := p.closed
	p.mu.Unlock()
	if closed || p.Sink == nil {
		return
	}

	end := p.now()
	o := Outcome{
		Provider:        ProviderNameLoopback,
		ProviderCallID:  providerCallID,
		CallID:          callID,
		Status:          calls.CallStatusCompleted,
		DurationSeconds: int(p.CallDuration / time.Second),
		StartTime:       &accepted,
		EndTime:         &end,
	}
	_ = p.Sink.DeliverOutcome(context.Background(), o)
}

// Pending is the number of calls still waiting for their outcome.
func (p *LoopbackProvider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Close drops every pending outcome.
func (p *LoopbackProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}

func (p *LoopbackProvider) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
