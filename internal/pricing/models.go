package pricing

import "time"

// BillingRule sets how call seconds round to billable minutes for an account.
// Rules are account-scoped; the newest active rule in effect wins.
type BillingRule struct {
	ID        string        `json:"id" db:"id"`
	AccountID string        `json:"account_id" db:"account_id"`
	Direction CallDirection `json:"direction" db:"direction"`

	// BillingIncrementSeconds (60 for per-minute, 1 for per-second billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds" db:"billing_increment_seconds"`
	// MinimumBillableSeconds applies to answered calls only.
	MinimumBillableSeconds int `json:"minimum_billable_seconds" db:"minimum_billable_seconds"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status PricingStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// inEffect reports whether the rule applies at the given instant.
func (r BillingRule) inEffect(at time.Time) bool {
	if r.Status != PricingStatusActive || at.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || at.Before(*r.EffectiveTo)
}

type PricingStatus string

const (
	PricingStatusActive   PricingStatus = "active"
	PricingStatusInactive PricingStatus = "inactive"
)

type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// DefaultRule is used when an account has no rule: per-started-minute billing.
var DefaultRule = BillingRule{Direction: CallDirectionOutbound, BillingIncrementSeconds: 60, Status: PricingStatusActive}
