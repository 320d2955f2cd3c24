package dialer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"campaign-dialer/internal/audit"
	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/contacts"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/metrics"
	"campaign-dialer/internal/pricing"
	"campaign-dialer/internal/telephony"
	"campaign-dialer/internal/wallet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testAccount = "acct-1"

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeProvider accepts calls, except to numbers in failTo, and records the
// largest number of open queue entries seen at submission time.
type fakeProvider struct {
	queue dialqueue.Store

	mu        sync.Mutex
	submitted []telephony.OutboundCallRequest
	failTo    map[string]bool
	maxOpen   int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) SubmitCall(ctx context.Context, req telephony.OutboundCallRequest) (telephony.OutboundCallResult, error) {
	counts, err := p.queue.Counts(ctx, req.CampaignID)
	if err != nil {
		return telephony.OutboundCallResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, req)
	if counts.Open() > p.maxOpen {
		p.maxOpen = counts.Open()
	}
	if p.failTo[req.To] {
		return telephony.OutboundCallResult{}, &telephony.SubmissionError{Provider: "fake", StatusCode: 400, Reason: "invalid number"}
	}
	return telephony.OutboundCallResult{Provider: "fake", ProviderCallID: "P-" + req.CallID, AcceptedAt: time.Now()}, nil
}

func (p *fakeProvider) requests() []telephony.OutboundCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]telephony.OutboundCallRequest(nil), p.submitted...)
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submitted)
}

func (p *fakeProvider) peakOpen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxOpen
}

// leaseTable and memLease mimic utils.RedisLease (SET NX semantics) in memory.
type leaseTable struct {
	mu     sync.Mutex
	owners map[string]string
}

type memLease struct {
	table *leaseTable
	owner string
}

func (l *memLease) TTL() time.Duration { return time.Second }

func (l *memLease) Acquire(_ context.Context, key string) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if _, ok := l.table.owners[key]; ok {
		return false, nil
	}
	l.table.owners[key] = l.owner
	return true, nil
}

func (l *memLease) Renew(_ context.Context, key string) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	return l.table.owners[key] == l.owner, nil
}

func (l *memLease) Release(_ context.Context, key string) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.table.owners[key] == l.owner {
		delete(l.table.owners, key)
	}
	return nil
}

type harness struct {
	svc      *campaigns.Service
	queue    *dialqueue.MemoryStore
	contacts *contacts.MemoryStore
	calls    *calls.MemoryRepo
	ledger   *wallet.MemoryLedger
	audit    *audit.MemoryRepo
	provider *fakeProvider
	metrics  *metrics.Dialer
	manager  *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		queue:    dialqueue.NewMemoryStore(),
		contacts: contacts.NewMemoryStore(),
		calls:    calls.NewMemoryRepo(),
		ledger:   wallet.NewMemoryLedger(),
		audit:    audit.NewMemoryRepo(),
		metrics:  metrics.New(),
	}
	h.svc = campaigns.NewService(campaigns.NewMemoryRepo(), h.queue)
	h.svc.Log = quietLog
	h.svc.Audit = audit.NewService(h.audit)
	h.provider = &fakeProvider{queue: h.queue, failTo: map[string]bool{}}

	h.ledger.SetPlan(wallet.Plan{AccountID: testAccount, WalletID: "wallet-1", Currency: "USD", MinutesIncluded: 1000, ExtraMinuteRateMinor: 10})
	require.NoError(t, h.contacts.UpsertAgent(context.Background(), contacts.Agent{
		ID: "agent-1", AccountID: testAccount, Name: "Ava", DefaultMessage: "Hi, this is Ava.",
	}))

	h.manager = h.newManager(t, nil, nil)
	h.svc.SetActivator(h.manager)
	return h
}

// newManager builds another Manager over the same stores.
func (h *harness) newManager(t *testing.T, lease Lease, bus OutcomeBus) *Manager {
	t.Helper()
	return h.newManagerWith(t, func(d *Deps) {
		d.Lease = lease
		d.Bus = bus
	}, Options{})
}

// newManagerWith lets a test swap collaborators or options. RetryDelay
// defaults to 10ms.
func (h *harness) newManagerWith(t *testing.T, tweak func(*Deps), opts Options) *Manager {
	t.Helper()
	deps := Deps{
		Campaigns: h.svc,
		Queue:     h.queue,
		Contacts:  h.contacts,
		Calls:     h.calls,
		Wallet:    h.ledger,
		Rater:     pricing.NewService(&pricing.MemoryRepo{}),
		Provider:  h.provider,
		Audit:     audit.NewService(h.audit),
		Metrics:   h.metrics,
		Log:       quietLog,
	}
	if tweak != nil {
		tweak(&deps)
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 10 * time.Millisecond
	}
	m, err := NewManager(deps, opts)
	require.NoError(t, err)
	m.Start()
	t.Cleanup(m.Close)
	return m
}

func (h *harness) campaign(t *testing.T, n int, mutate func(*campaigns.Settings)) campaigns.Campaign {
	t.Helper()
	ctx := context.Background()
	st := campaigns.Settings{
		Name:               "Renewals",
		AgentID:            "agent-1",
		MaxConcurrentCalls: 2,
		Timezone:           "UTC",
	}
	if mutate != nil {
		mutate(&st)
	}
	c, err := h.svc.Create(ctx, testAccount, st)
	require.NoError(t, err)

	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-contact-%d", c.ID[:8], i)
		require.NoError(t, h.contacts.UpsertContact(ctx, contacts.Contact{
			ID: ids[i], AccountID: testAccount, Name: fmt.Sprintf("Contact %d", i), PhoneNumber: fmt.Sprintf("+1555%07d", i),
		}))
	}
	_, err = h.svc.SetContacts(ctx, testAccount, c.ID, ids)
	require.NoError(t, err)
	return c
}

func (h *harness) control(t *testing.T, id string, a campaigns.Action) campaigns.Campaign {
	t.Helper()
	c, err := h.svc.Control(context.Background(), testAccount, id, a, campaigns.Actor{UserID: "u1", Role: "operator"})
	require.NoError(t, err)
	return c
}

func (h *harness) get(t *testing.T, id string) campaigns.Campaign {
	t.Helper()
	c, err := h.svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (h *harness) counts(t *testing.T, id string) dialqueue.Counts {
	t.Helper()
	c, err := h.queue.Counts(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (h *harness) waitSubmitted(t *testing.T, n int) []telephony.OutboundCallRequest {
	t.Helper()
	require.Eventually(t, func() bool { return h.provider.count() >= n }, 2*time.Second, 5*time.Millisecond,
		"expected %d submissions", n)
	return h.provider.requests()
}

func (h *harness) waitStatus(t *testing.T, id string, want campaigns.Status) campaigns.Campaign {
	t.Helper()
	require.Eventually(t, func() bool {
		c, err := h.svc.GetByID(context.Background(), id)
		return err == nil && c.Status == want
	}, 2*time.Second, 5*time.Millisecond,
		"expected status %s", want)
	return h.get(t, id)
}

func (h *harness) deliver(t *testing.T, m *Manager, callID string, status calls.CallStatus, seconds int) {
	t.Helper()
	require.NoError(t, m.DeliverOutcome(context.Background(), telephony.Outcome{
		Provider: "fake", CallID: callID, Status: status, DurationSeconds: seconds,
	}))
}
