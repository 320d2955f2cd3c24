package audit

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// PostgresRepo stores events in audit_events. The table has no UPDATE or DELETE grants.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.NamedExecContext(ctx, `
INSERT INTO audit_events (id, account_id, type, actor_user_id, actor_role, ip_address, campaign_id, call_id, message, metadata, created_at)
VALUES (:id, :account_id, :type, :actor_user_id, :actor_role, :ip_address, :campaign_id, :call_id, :message, :metadata, :created_at)`, e)
	return err
}
