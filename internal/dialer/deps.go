package dialer

import (
	"context"
	"log/slog"
	"time"

	"campaign-dialer/internal/audit"
	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/contacts"
	"campaign-dialer/internal/dialqueue"
	"campaign-dialer/internal/metrics"
	"campaign-dialer/internal/telephony"
	"campaign-dialer/internal/wallet"
)

// Campaigns is the lifecycle surface the dialer drives. *campaigns.Service satisfies it.
type Campaigns interface {
	GetByID(ctx context.Context, id string) (campaigns.Campaign, error)
	PauseFor(ctx context.Context, id string, reason campaigns.PauseReason, cooldownUntil time.Time) (campaigns.Campaign, error)
	Complete(ctx context.Context, id string) (campaigns.Campaign, error)
	RecordDispatch(ctx context.Context, id string) (int, error)
	RecordCompletion(ctx context.Context, id string) (int, error)
}

// Wallet is satisfied by *wallet.Service and *wallet.MemoryLedger.
type Wallet interface {
	CheckSufficient(ctx context.Context, accountID string) (bool, error)
	CommitUsage(ctx context.Context, req wallet.UsageRequest) (wallet.UsageCommit, error)
}

// Rater converts a call duration to billable minutes. *pricing.Service satisfies it.
type Rater interface {
	BillableMinutes(ctx context.Context, accountID string, durationSeconds int, at time.Time) (int64, error)
}

type CallerIDs interface {
	Pick() string
}

// Lease grants one process exclusive ownership of a campaign run.
// *utils.RedisLease satisfies it.
type Lease interface {
	TTL() time.Duration
	Acquire(ctx context.Context, key string) (bool, error)
	Renew(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Deps are the collaborators a Manager needs. Lease, Bus, CallerIDs, Audit
// and Metrics are optional.
type Deps struct {
	Campaigns Campaigns
	Queue     dialqueue.Store
	Contacts  contacts.Store
	Calls     calls.Repository
	Wallet    Wallet
	Rater     Rater
	Provider  telephony.VoiceProvider

	CallerIDs CallerIDs
	Audit     *audit.Service
	Metrics   *metrics.Dialer
	Lease     Lease
	Bus       OutcomeBus
	Log       *slog.Logger
}

type Options struct {
	// StatusCallbackURL is passed to the provider on every call.
	StatusCallbackURL string
	// RetryDelay spaces retries after store errors. Default 1s.
	RetryDelay time.Duration
	// MaxReconcileAttempts bounds retries of one outcome. Default 5.
	MaxReconcileAttempts int

	Now func() time.Time
}

func leaseKey(campaignID string) string { return "dialer:run:" + campaignID }
