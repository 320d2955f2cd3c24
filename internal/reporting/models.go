package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// CallsSummaryRequest requests aggregated call metrics. AccountID is required.
type CallsSummaryRequest struct {
	AccountID  string    `json:"account_id"`
	Range      TimeRange `json:"range"`
	CampaignID string    `json:"campaign_id,omitempty"`
}

type CallsSummary struct {
	AccountID  string `json:"account_id"`
	CampaignID string `json:"campaign_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls   int `json:"recorded_calls"`
	TranscriptCalls int `json:"transcript_calls"`

	// ConnectionRate is completed / finished calls.
	ConnectionRate float64 `json:"connection_rate"`
}

// SpendSummaryRequest requests aggregated spend from immutable wallet ledger entries.
type SpendSummaryRequest struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`
	WalletID  string    `json:"wallet_id,omitempty"`
	Currency  string    `json:"currency,omitempty"`
}

type SpendSummary struct {
	AccountID string `json:"account_id"`
	WalletID  string `json:"wallet_id,omitempty"`
	Currency  string `json:"currency"`

	TotalDebitMinor  int64 `json:"total_debit_minor"`
	TotalCreditMinor int64 `json:"total_credit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	UsageDebitMinor  int64 `json:"usage_debit_minor"`
	AdminAdjustMinor int64 `json:"admin_adjust_minor"`
}
