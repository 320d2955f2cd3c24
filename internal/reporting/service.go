package reporting

import (
	"context"
	"errors"
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallLister and LedgerLister must enforce account filtering.
type CallLister interface {
	List(ctx context.Context, accountID string, from, to time.Time, campaignID string) ([]calls.Call, error)
}

type LedgerLister interface {
	ListLedger(ctx context.Context, accountID string, from, to time.Time, walletID string) ([]wallet.WalletLedger, error)
}

type Service struct {
	calls  CallLister
	ledger LedgerLister
}

func NewService(calls CallLister, ledger LedgerLister) *Service {
	return &Service{calls: calls, ledger: ledger}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.AccountID == "" || !req.Range.valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return CallsSummary{}, errors.New("reporting: calls repository not configured")
	}

	rows, err := s.calls.List(ctx, req.AccountID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{AccountID: req.AccountID, CampaignID: req.CampaignID}
	finished := 0
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.TranscriptAvailable {
			out.TranscriptCalls++
		}
		if c.Status.Terminal() {
			finished++
		}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		case calls.CallStatusInProgress, calls.CallStatusRinging, calls.CallStatusQueued:
			out.InProgressCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	if finished > 0 {
		out.ConnectionRate = float64(out.CompletedCalls) / float64(finished)
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.AccountID == "" || !req.Range.valid() {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.ledger == nil {
		return SpendSummary{}, errors.New("reporting: ledger repository not configured")
	}

	ledgers, err := s.ledger.ListLedger(ctx, req.AccountID, req.Range.From, req.Range.To, req.WalletID)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{AccountID: req.AccountID, WalletID: req.WalletID, Currency: req.Currency}
	for _, l := range ledgers {
		// With no requested currency the first row decides it.
		if out.Currency == "" {
			out.Currency = l.Currency
		}
		if l.Currency != out.Currency {
			continue
		}

		if l.AmountMinor > 0 {
			out.TotalCreditMinor += l.AmountMinor
		} else {
			out.TotalDebitMinor += -l.AmountMinor
		}

		switch {
		case l.ExternalRef == wallet.ExternalRefAdminCredit:
			out.AdminAdjustMinor += l.AmountMinor
		case l.Type == wallet.LedgerEntryTypeDebit:
			out.UsageDebitMinor += -l.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}
