package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"campaign-dialer/pkg/utils"
)

// Service provides wallet and plan-usage operations on Postgres.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations run in one DB transaction
//
// Balance strategy:
// - Balance is stored in a projection table (wallet_balances) updated atomically
//   alongside ledger inserts.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

type Balance struct {
	AccountID    string    `json:"account_id"`
	WalletID     string    `json:"wallet_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

type DebitRequest = CreditRequest

type AdminCreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

var (
	ErrNotFound          = errors.New("wallet: not found")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrInvalidArgument   = errors.New("wallet: invalid argument")
	ErrNoPlan            = errors.New("wallet: account has no plan")
)

// UsageIdempotencyKey is the ledger key for the overage debit of a call.
func UsageIdempotencyKey(callID string) string { return "usage:" + callID }

func (s *Service) GetBalance(ctx context.Context, accountID, walletID string) (Balance, error) {
	if accountID == "" || walletID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, accountID, walletID, false)
}

func (s *Service) ListLedger(ctx context.Context, accountID string, from, to time.Time, walletID string) ([]WalletLedger, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	return listLedger(ctx, s.db, accountID, from, to, walletID)
}

func (s *Service) Credit(ctx context.Context, accountID, walletID string, req CreditRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(accountID, walletID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return WalletLedger{}, Balance{}, err
	}
	if req.AmountMinor <= 0 {
		return WalletLedger{}, Balance{}, ErrInvalidArgument
	}

	var out posting
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = s.post(ctx, tx, accountID, walletID, LedgerEntryTypeCredit, req, s.clock().UTC())
		return err
	})
	return out.ledger, out.balance, err
}

func (s *Service) AdminManualCredit(ctx context.Context, accountID, walletID, adminUserID, adminRole string, req AdminCreditRequest) (AdminWalletAction, WalletLedger, Balance, error) {
	if adminUserID == "" || adminRole == "" || req.Reason == "" {
		return AdminWalletAction{}, WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	if err := validateMoneyReq(accountID, walletID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return AdminWalletAction{}, WalletLedger{}, Balance{}, err
	}
	if req.AmountMinor <= 0 {
		return AdminWalletAction{}, WalletLedger{}, Balance{}, ErrInvalidArgument
	}

	var (
		outAction AdminWalletAction
		out       posting
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		now := s.clock().UTC()
		var err error
		out, err = s.post(ctx, tx, accountID, walletID, LedgerEntryTypeCredit, CreditRequest{
			AmountMinor:    req.AmountMinor,
			Currency:       req.Currency,
			ExternalRef:    ExternalRefAdminCredit,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
		}, now)
		if err != nil {
			return err
		}
		if out.replayed {
			act, _, err := findAdminActionByLedger(ctx, tx, accountID, walletID, out.ledger.ID)
			outAction = act
			return err
		}

		outAction = AdminWalletAction{
			ID:              uuid.NewString(),
			AccountID:       accountID,
			WalletID:        walletID,
			AdminUserID:     adminUserID,
			AdminRole:       adminRole,
			Action:          AdminWalletActionTypeAdjustBalance,
			Reason:          req.Reason,
			AmountMinor:     req.AmountMinor,
			Currency:        req.Currency,
			RelatedLedgerID: out.ledger.ID,
			Metadata:        req.Metadata,
			CreatedAt:       now,
		}
		return insertAdminAction(ctx, tx, outAction)
	})
	return outAction, out.ledger, out.balance, err
}

// CheckSufficient is the optimistic pre-dispatch check: true when plan minutes
// remain or the wallet covers at least one extra minute. It takes no locks.
func (s *Service) CheckSufficient(ctx context.Context, accountID string) (bool, error) {
	if accountID == "" {
		return false, ErrInvalidArgument
	}
	p, err := getPlan(ctx, s.db, accountID, false)
	if errors.Is(err, ErrNoPlan) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.RemainingMinutes() > 0 || p.ExtraMinuteRateMinor == 0 {
		return true, nil
	}
	b, err := getBalance(ctx, s.db, accountID, p.WalletID, false)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.BalanceMinor >= p.ExtraMinuteRateMinor, nil
}

// CommitUsage charges a finished call: plan minutes first, then a wallet debit for
// the overage. It is all-or-nothing and idempotent per call; a repeated commit
// returns the original record. ErrInsufficientFunds leaves nothing charged.
func (s *Service) CommitUsage(ctx context.Context, req UsageRequest) (UsageCommit, error) {
	if req.AccountID == "" || req.CallID == "" || req.Minutes < 0 {
		return UsageCommit{}, ErrInvalidArgument
	}
	if req.Minutes == 0 {
		return UsageCommit{AccountID: req.AccountID, CallID: req.CallID}, nil
	}

	var out UsageCommit
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		p, err := getPlan(ctx, tx, req.AccountID, true)
		if err != nil {
			return err
		}
		if existing, ok, err := findUsageCommit(ctx, tx, req.AccountID, req.CallID); err != nil {
			return err
		} else if ok {
			out = existing
			return nil
		}

		now := s.clock().UTC()
		fromPlan, overage := p.split(req.Minutes)
		u := UsageCommit{
			AccountID:      req.AccountID,
			CallID:         req.CallID,
			Minutes:        req.Minutes,
			PlanMinutes:    fromPlan,
			OverageMinutes: overage,
			DebitMinor:     overage * p.ExtraMinuteRateMinor,
			CreatedAt:      now,
		}
		if u.DebitMinor > 0 {
			posted, err := s.post(ctx, tx, req.AccountID, p.WalletID, LedgerEntryTypeDebit, DebitRequest{
				AmountMinor:    u.DebitMinor,
				Currency:       p.Currency,
				ExternalRef:    req.CallID,
				IdempotencyKey: UsageIdempotencyKey(req.CallID),
				Metadata:       fmt.Sprintf(`{"overage_minutes":%d}`, overage),
			}, now)
			if err != nil {
				return err
			}
			u.LedgerID = posted.ledger.ID
		}
		if fromPlan > 0 {
			if err := addPlanMinutes(ctx, tx, req.AccountID, fromPlan, now); err != nil {
				return err
			}
		}
		if err := insertUsageCommit(ctx, tx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

type posting struct {
	ledger   WalletLedger
	balance  Balance
	replayed bool
}

// post appends one ledger entry and updates the projection inside tx.
// A repeated idempotency key returns the original entry with replayed set.
func (s *Service) post(ctx context.Context, tx *sql.Tx, accountID, walletID string, typ LedgerEntryType, req CreditRequest, now time.Time) (posting, error) {
	w, err := lockWallet(ctx, tx, accountID, walletID)
	if err != nil {
		return posting{}, err
	}
	if w.Currency != req.Currency {
		return posting{}, ErrInvalidArgument
	}

	if existing, ok, err := findLedgerByIdempotency(ctx, tx, accountID, walletID, req.IdempotencyKey); err != nil {
		return posting{}, err
	} else if ok {
		b, err := getBalance(ctx, tx, accountID, walletID, false)
		return posting{ledger: existing, balance: b, replayed: true}, err
	}

	delta := req.AmountMinor
	if typ == LedgerEntryTypeDebit {
		b, err := getBalance(ctx, tx, accountID, walletID, true)
		if errors.Is(err, ErrNotFound) {
			return posting{}, ErrInsufficientFunds
		}
		if err != nil {
			return posting{}, err
		}
		if b.Currency != req.Currency {
			return posting{}, ErrInvalidArgument
		}
		if b.BalanceMinor < req.AmountMinor {
			return posting{}, ErrInsufficientFunds
		}
		delta = -req.AmountMinor
	}

	entry := WalletLedger{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		WalletID:       walletID,
		Type:           typ,
		AmountMinor:    delta,
		Currency:       req.Currency,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		CreatedAt:      now,
	}
	if err := insertLedger(ctx, tx, entry); err != nil {
		return posting{}, err
	}
	b, err := applyBalanceDelta(ctx, tx, accountID, walletID, req.Currency, delta, now)
	if err != nil {
		return posting{}, err
	}
	return posting{ledger: entry, balance: b}, nil
}

func validateMoneyReq(accountID, walletID string, amountMinor int64, currency, idempotencyKey string) error {
	if accountID == "" || walletID == "" {
		return ErrInvalidArgument
	}
	if currency == "" || idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amountMinor == 0 {
		return ErrInvalidArgument
	}
	return nil
}
