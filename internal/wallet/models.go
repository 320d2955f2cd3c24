package wallet

import "time"

// Wallet represents an account-scoped wallet.
// Invariant: available balance must be derived from immutable ledger entries.
// No code should ever mutate a "balance" without writing a corresponding ledger entry.
type Wallet struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	Currency  string `json:"currency" db:"currency"`

	// Optional operational flags (do not encode money state here).
	Status WalletStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusDisabled WalletStatus = "disabled"
)

// WalletLedger is an immutable append-only entry.
// Each row represents a credit/debit posted to the wallet.
//
// Money invariant: any balance change MUST have a corresponding ledger entry.
type WalletLedger struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	WalletID  string `json:"wallet_id" db:"wallet_id"`

	Type LedgerEntryType `json:"type" db:"type"`

	// AmountMinor is the signed amount in minor units (e.g., cents).
	// Credits are positive, debits are negative.
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	// ExternalRef is optional: call_id, invoice_id, provider_event_id, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for safe retries of money-posting operations.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit" // top-up, adjustment
	LedgerEntryTypeDebit  LedgerEntryType = "debit"  // usage overage
)

// ExternalRefAdminCredit marks ledger rows created by AdminManualCredit.
const ExternalRefAdminCredit = "admin_manual_credit"

// AdminWalletAction tracks privileged/manual actions performed by admins.
//
// Note: This is not the ledger itself. Any admin mutation of money must also create
// a WalletLedger entry to preserve money invariants.
type AdminWalletAction struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	WalletID  string `json:"wallet_id" db:"wallet_id"`

	AdminUserID string `json:"admin_user_id" db:"admin_user_id"`
	// AdminRole records the role at the time of action (may include hidden roles).
	AdminRole string `json:"admin_role" db:"admin_role"`

	Action AdminWalletActionType `json:"action" db:"action"`
	Reason string                `json:"reason,omitempty" db:"reason"`

	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	RelatedLedgerID string `json:"related_ledger_id,omitempty" db:"related_ledger_id"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AdminWalletActionType string

const (
	AdminWalletActionTypeAdjustBalance AdminWalletActionType = "adjust_balance"
)

// Plan is an account's calling allowance. Included minutes are consumed first;
// overage is debited from WalletID at ExtraMinuteRateMinor per minute.
type Plan struct {
	AccountID            string    `json:"account_id" db:"account_id"`
	WalletID             string    `json:"wallet_id" db:"wallet_id"`
	Currency             string    `json:"currency" db:"currency"`
	MinutesIncluded      int64     `json:"minutes_included" db:"minutes_included"`
	MinutesUsed          int64     `json:"minutes_used" db:"minutes_used"`
	ExtraMinuteRateMinor int64     `json:"extra_minute_rate_minor" db:"extra_minute_rate_minor"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

func (p Plan) RemainingMinutes() int64 {
	if r := p.MinutesIncluded - p.MinutesUsed; r > 0 {
		return r
	}
	return 0
}

// split divides minutes between the plan allowance and paid overage.
func (p Plan) split(minutes int64) (fromPlan, overage int64) {
	fromPlan = minutes
	if r := p.RemainingMinutes(); fromPlan > r {
		fromPlan = r
	}
	return fromPlan, minutes - fromPlan
}

// UsageRequest charges one finished call.
type UsageRequest struct {
	AccountID string
	CallID    string
	Minutes   int64
}

// UsageCommit is the recorded charge for a call. One per (account, call).
type UsageCommit struct {
	AccountID      string    `json:"account_id" db:"account_id"`
	CallID         string    `json:"call_id" db:"call_id"`
	Minutes        int64     `json:"minutes" db:"minutes"`
	PlanMinutes    int64     `json:"plan_minutes" db:"plan_minutes"`
	OverageMinutes int64     `json:"overage_minutes" db:"overage_minutes"`
	DebitMinor     int64     `json:"debit_minor" db:"debit_minor"`
	LedgerID       string    `json:"ledger_id,omitempty" db:"ledger_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
