package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) FindBillingRule(ctx context.Context, accountID string, direction CallDirection, at time.Time) (BillingRule, bool, error) {
	var rule BillingRule
	err := r.db.GetContext(ctx, &rule, `
SELECT id, account_id, direction, billing_increment_seconds, minimum_billable_seconds,
	effective_from, effective_to, status, created_at, updated_at
FROM billing_rules
WHERE account_id = $1 AND direction = $2 AND status = 'active'
	AND effective_from <= $3 AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1`, accountID, string(direction), at)
	if errors.Is(err, sql.ErrNoRows) {
		return BillingRule{}, false, nil
	}
	if err != nil {
		return BillingRule{}, false, err
	}
	return rule, true, nil
}
