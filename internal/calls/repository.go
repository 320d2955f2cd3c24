package calls

import (
	"context"
	"time"
)

// Repository persists call attempts.
//
// Finalize MUST be atomic: of two concurrent deliveries for the same call,
// exactly one succeeds and the other gets ErrAlreadyFinalized.
type Repository interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, callID string) (Call, error)
	GetByProviderCallID(ctx context.Context, provider, providerCallID string) (Call, error)
	SetProviderCallID(ctx context.Context, callID, providerCallID string, at time.Time) error
	Finalize(ctx context.Context, callID string, o Outcome, at time.Time) (Call, error)
	// List filters by account, creation time in [from, to), and optionally campaign.
	List(ctx context.Context, accountID string, from, to time.Time, campaignID string) ([]Call, error)
}
