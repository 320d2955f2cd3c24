package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Tables: wallets, wallet_ledger (append-only, UNIQUE (wallet_id, idempotency_key)),
// wallet_balances (projection), admin_wallet_actions, account_plans, usage_commits.

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lockWallet(ctx context.Context, tx *sql.Tx, accountID, walletID string) (Wallet, error) {
	const q = `
SELECT id, account_id, currency, status, created_at, updated_at
FROM wallets
WHERE account_id = $1 AND id = $2
FOR UPDATE
`
	var w Wallet
	if err := tx.QueryRowContext(ctx, q, accountID, walletID).Scan(
		&w.ID,
		&w.AccountID,
		&w.Currency,
		&w.Status,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

// getBalance reads the projection row; forUpdate locks it inside a transaction.
func getBalance(ctx context.Context, q queryer, accountID, walletID string, forUpdate bool) (Balance, error) {
	query := `
SELECT account_id, wallet_id, currency, balance_minor, updated_at
FROM wallet_balances
WHERE account_id = $1 AND wallet_id = $2
`
	if forUpdate {
		query += "FOR UPDATE\n"
	}
	var b Balance
	if err := q.QueryRowContext(ctx, query, accountID, walletID).Scan(
		&b.AccountID,
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, accountID, walletID, key string) (WalletLedger, bool, error) {
	const q = `
SELECT id, account_id, wallet_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
FROM wallet_ledger
WHERE account_id = $1 AND wallet_id = $2 AND idempotency_key = $3
LIMIT 1
`
	var e WalletLedger
	err := tx.QueryRowContext(ctx, q, accountID, walletID, key).Scan(
		&e.ID,
		&e.AccountID,
		&e.WalletID,
		&e.Type,
		&e.AmountMinor,
		&e.Currency,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WalletLedger{}, false, nil
		}
		return WalletLedger{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e WalletLedger) error {
	const q = `
INSERT INTO wallet_ledger (
  id, account_id, wallet_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.AccountID,
		e.WalletID,
		e.Type,
		e.AmountMinor,
		e.Currency,
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func listLedger(ctx context.Context, db *sql.DB, accountID string, from, to time.Time, walletID string) ([]WalletLedger, error) {
	const q = `
SELECT id, account_id, wallet_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
FROM wallet_ledger
WHERE account_id = $1 AND created_at >= $2 AND created_at < $3 AND ($4 = '' OR wallet_id = $4)
ORDER BY created_at
`
	rows, err := db.QueryContext(ctx, q, accountID, from, to, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]WalletLedger, 0)
	for rows.Next() {
		var e WalletLedger
		if err := rows.Scan(&e.ID, &e.AccountID, &e.WalletID, &e.Type, &e.AmountMinor, &e.Currency,
			&e.ExternalRef, &e.IdempotencyKey, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, accountID, walletID, currency string, deltaMinor int64, now time.Time) (Balance, error) {
	// Currency is kept stable by the wallet lock and the service-level currency check.
	const q = `
INSERT INTO wallet_balances (account_id, wallet_id, currency, balance_minor, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (account_id, wallet_id)
DO UPDATE SET balance_minor = wallet_balances.balance_minor + EXCLUDED.balance_minor,
              updated_at = EXCLUDED.updated_at
RETURNING account_id, wallet_id, currency, balance_minor, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, accountID, walletID, currency, deltaMinor, now).Scan(
		&b.AccountID,
		&b.WalletID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func insertAdminAction(ctx context.Context, tx *sql.Tx, a AdminWalletAction) error {
	const q = `
INSERT INTO admin_wallet_actions (
  id, account_id, wallet_id, admin_user_id, admin_role, action, reason,
  amount_minor, currency, related_ledger_id, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := tx.ExecContext(ctx, q,
		a.ID,
		a.AccountID,
		a.WalletID,
		a.AdminUserID,
		a.AdminRole,
		a.Action,
		a.Reason,
		a.AmountMinor,
		a.Currency,
		a.RelatedLedgerID,
		a.Metadata,
		a.CreatedAt,
	)
	return err
}

func findAdminActionByLedger(ctx context.Context, tx *sql.Tx, accountID, walletID, ledgerID string) (AdminWalletAction, bool, error) {
	const q = `
SELECT id, account_id, wallet_id, admin_user_id, admin_role, action, reason,
       amount_minor, currency, related_ledger_id, metadata, created_at
FROM admin_wallet_actions
WHERE account_id = $1 AND wallet_id = $2 AND related_ledger_id = $3
LIMIT 1
`
	var a AdminWalletAction
	err := tx.QueryRowContext(ctx, q, accountID, walletID, ledgerID).Scan(
		&a.ID,
		&a.AccountID,
		&a.WalletID,
		&a.AdminUserID,
		&a.AdminRole,
		&a.Action,
		&a.Reason,
		&a.AmountMinor,
		&a.Currency,
		&a.RelatedLedgerID,
		&a.Metadata,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AdminWalletAction{}, false, nil
		}
		return AdminWalletAction{}, false, err
	}
	return a, true, nil
}

// getPlan reads an account plan; forUpdate serializes usage commits per account.
func getPlan(ctx context.Context, q queryer, accountID string, forUpdate bool) (Plan, error) {
	query := `
SELECT account_id, wallet_id, currency, minutes_included, minutes_used, extra_minute_rate_minor, updated_at
FROM account_plans
WHERE account_id = $1
`
	if forUpdate {
		query += "FOR UPDATE\n"
	}
	var p Plan
	if err := q.QueryRowContext(ctx, query, accountID).Scan(
		&p.AccountID,
		&p.WalletID,
		&p.Currency,
		&p.MinutesIncluded,
		&p.MinutesUsed,
		&p.ExtraMinuteRateMinor,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Plan{}, ErrNoPlan
		}
		return Plan{}, err
	}
	return p, nil
}

func addPlanMinutes(ctx context.Context, tx *sql.Tx, accountID string, minutes int64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
UPDATE account_plans SET minutes_used = minutes_used + $2, updated_at = $3
WHERE account_id = $1`, accountID, minutes, now)
	return err
}

func findUsageCommit(ctx context.Context, tx *sql.Tx, accountID, callID string) (UsageCommit, bool, error) {
	const q = `
SELECT account_id, call_id, minutes, plan_minutes, overage_minutes, debit_minor, ledger_id, created_at
FROM usage_commits
WHERE account_id = $1 AND call_id = $2
`
	var u UsageCommit
	err := tx.QueryRowContext(ctx, q, accountID, callID).Scan(
		&u.AccountID,
		&u.CallID,
		&u.Minutes,
		&u.PlanMinutes,
		&u.OverageMinutes,
		&u.DebitMinor,
		&u.LedgerID,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UsageCommit{}, false, nil
		}
		return UsageCommit{}, false, err
	}
	return u, true, nil
}

func insertUsageCommit(ctx context.Context, tx *sql.Tx, u UsageCommit) error {
	const q = `
INSERT INTO usage_commits (account_id, call_id, minutes, plan_minutes, overage_minutes, debit_minor, ledger_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := tx.ExecContext(ctx, q,
		u.AccountID,
		u.CallID,
		u.Minutes,
		u.PlanMinutes,
		u.OverageMinutes,
		u.DebitMinor,
		u.LedgerID,
		u.CreatedAt,
	)
	return err
}
