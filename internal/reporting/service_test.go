package reporting

import (
	"context"
	"testing"
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/wallet"
)

type ledgerRows []wallet.WalletLedger

func (r ledgerRows) ListLedger(ctx context.Context, accountID string, from, to time.Time, walletID string) ([]wallet.WalletLedger, error) {
	var out []wallet.WalletLedger
	for _, l := range r {
		if l.AccountID == accountID && (walletID == "" || l.WalletID == walletID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestReporting_AccountIsolation(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	ctx := context.Background()
	_ = repo.Create(ctx, calls.Call{CallID: "c1", AccountID: "a1", CampaignID: "camp", Status: calls.CallStatusCompleted, DurationSeconds: 30, CreatedAt: now})
	_ = repo.Create(ctx, calls.Call{CallID: "c2", AccountID: "a2", CampaignID: "camp", Status: calls.CallStatusCompleted, DurationSeconds: 50, CreatedAt: now})
	svc := NewService(repo, nil)

	out, err := svc.CallsSummary(ctx, CallsSummaryRequest{AccountID: "a1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 {
		t.Fatalf("expected 1 call, got %d", out.TotalCalls)
	}
}

func TestReporting_CallsSummaryForCampaign(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	ctx := context.Background()
	_ = repo.Create(ctx, calls.Call{CallID: "1", AccountID: "a", CampaignID: "camp", Status: calls.CallStatusCompleted, DurationSeconds: 90, TranscriptAvailable: true, CreatedAt: now})
	_ = repo.Create(ctx, calls.Call{CallID: "2", AccountID: "a", CampaignID: "camp", Status: calls.CallStatusNoAnswer, CreatedAt: now})
	_ = repo.Create(ctx, calls.Call{CallID: "3", AccountID: "a", CampaignID: "camp", Status: calls.CallStatusRinging, CreatedAt: now})
	_ = repo.Create(ctx, calls.Call{CallID: "4", AccountID: "a", CampaignID: "other", Status: calls.CallStatusBusy, CreatedAt: now})
	svc := NewService(repo, nil)

	out, err := svc.CallsSummary(ctx, CallsSummaryRequest{AccountID: "a", CampaignID: "camp", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 3 || out.CompletedCalls != 1 || out.NoAnswerCalls != 1 || out.InProgressCalls != 1 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	if out.TranscriptCalls != 1 || out.AverageDurationSeconds != 30 {
		t.Fatalf("unexpected derived fields: %+v", out)
	}
	if out.ConnectionRate != 0.5 {
		t.Fatalf("expected connection rate 0.5, got %v", out.ConnectionRate)
	}
}

func TestReporting_RejectsBadRange(t *testing.T) {
	svc := NewService(calls.NewMemoryRepo(), ledgerRows{})
	now := time.Now()
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{AccountID: "a", Range: TimeRange{From: now, To: now}}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{Range: TimeRange{From: now, To: now.Add(time.Hour)}}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestReporting_SpendSummaryAggregates(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	rows := ledgerRows{
		{ID: "l1", AccountID: "a", WalletID: "wa", Type: wallet.LedgerEntryTypeCredit, Currency: "USD", AmountMinor: 1000, CreatedAt: now},
		{ID: "l2", AccountID: "a", WalletID: "wa", Type: wallet.LedgerEntryTypeDebit, Currency: "USD", AmountMinor: -200, ExternalRef: "c1", CreatedAt: now},
		{ID: "l3", AccountID: "a", WalletID: "wa", Type: wallet.LedgerEntryTypeDebit, Currency: "USD", AmountMinor: -50, ExternalRef: "c2", CreatedAt: now},
		{ID: "l4", AccountID: "a", WalletID: "wa", Type: wallet.LedgerEntryTypeCredit, Currency: "USD", AmountMinor: 25, ExternalRef: wallet.ExternalRefAdminCredit, CreatedAt: now},
		{ID: "l5", AccountID: "a", WalletID: "wa", Type: wallet.LedgerEntryTypeCredit, Currency: "EUR", AmountMinor: 999, CreatedAt: now},
	}
	svc := NewService(nil, rows)

	out, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{AccountID: "a", WalletID: "wa", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, Currency: "USD"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalDebitMinor != 250 {
		t.Fatalf("expected total debit 250, got %d", out.TotalDebitMinor)
	}
	if out.TotalCreditMinor != 1025 {
		t.Fatalf("expected total credit 1025, got %d", out.TotalCreditMinor)
	}
	if out.NetDeltaMinor != 775 || out.UsageDebitMinor != 250 || out.AdminAdjustMinor != 25 {
		t.Fatalf("unexpected summary: %+v", out)
	}
}

func TestReporting_SpendFromMemoryLedger(t *testing.T) {
	l := wallet.NewMemoryLedger()
	l.SetPlan(wallet.Plan{AccountID: "a", WalletID: "w", Currency: "USD", ExtraMinuteRateMinor: 7})
	ctx := context.Background()
	if _, _, err := l.Credit(ctx, "a", "w", wallet.CreditRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "t"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := l.CommitUsage(ctx, wallet.UsageRequest{AccountID: "a", CallID: "c1", Minutes: 3}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	now := time.Now()
	out, err := NewService(nil, l).SpendSummary(ctx, SpendSummaryRequest{AccountID: "a", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.UsageDebitMinor != 21 || out.Currency != "USD" {
		t.Fatalf("unexpected summary: %+v", out)
	}
}
