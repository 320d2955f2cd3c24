package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"campaign-dialer/pkg/utils"
)

// PostgresRepo implements Repository on the campaigns and campaign_contacts tables.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const campaignColumns = `id, account_id, name, description, agent_id, opening_message,
	max_concurrent_calls, daily_start_time, daily_end_time, timezone,
	calls_between_pause, pause_duration_minutes, scheduled_start_time,
	status, pause_reason, cooldown_until, total_contacts, completed_calls,
	dispatched_since_last_pause, started_at, completed_at, deleted_at, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, c Campaign) error {
	_, err := r.db.NamedExecContext(ctx, `
INSERT INTO campaigns (`+campaignColumns+`)
VALUES (:id, :account_id, :name, :description, :agent_id, :opening_message,
	:max_concurrent_calls, :daily_start_time, :daily_end_time, :timezone,
	:calls_between_pause, :pause_duration_minutes, :scheduled_start_time,
	:status, :pause_reason, :cooldown_until, :total_contacts, :completed_calls,
	:dispatched_since_last_pause, :started_at, :completed_at, :deleted_at, :created_at, :updated_at)`, c)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, accountID, id string) (Campaign, error) {
	var c Campaign
	err := r.db.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM campaigns
WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL`, id, accountID)
	return c, notFound(err)
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Campaign, error) {
	var c Campaign
	err := r.db.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM campaigns
WHERE id = $1 AND deleted_at IS NULL`, id)
	return c, notFound(err)
}

func (r *PostgresRepo) List(ctx context.Context, accountID string, status Status) ([]Campaign, error) {
	out := []Campaign{}
	err := r.db.SelectContext(ctx, &out, `SELECT `+campaignColumns+` FROM campaigns
WHERE account_id = $1 AND deleted_at IS NULL AND ($2 = '' OR status = $2)
ORDER BY created_at, id`, accountID, string(status))
	return out, err
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, status Status) ([]Campaign, error) {
	out := []Campaign{}
	err := r.db.SelectContext(ctx, &out, `SELECT `+campaignColumns+` FROM campaigns
WHERE status = $1 AND deleted_at IS NULL
ORDER BY created_at, id`, string(status))
	return out, err
}

func (r *PostgresRepo) UpdateSettings(ctx context.Context, accountID, id string, s Settings, at time.Time) (Campaign, error) {
	var c Campaign
	err := r.db.QueryRowxContext(ctx, `
UPDATE campaigns SET
	name = $3, description = $4, agent_id = $5, opening_message = $6,
	max_concurrent_calls = $7, daily_start_time = $8, daily_end_time = $9, timezone = $10,
	calls_between_pause = $11, pause_duration_minutes = $12, scheduled_start_time = $13,
	updated_at = $14
WHERE id = $1 AND account_id = $2 AND status = 'draft' AND deleted_at IS NULL
RETURNING `+campaignColumns,
		id, accountID, s.Name, s.Description, s.AgentID, s.OpeningMessage,
		s.MaxConcurrentCalls, s.DailyStartTime, s.DailyEndTime, s.Timezone,
		s.CallsBetweenPause, s.PauseDurationMinutes, s.ScheduledStartTime, at,
	).StructScan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, r.editableErr(ctx, accountID, id)
	}
	return c, err
}

func (r *PostgresRepo) SetContacts(ctx context.Context, accountID, id string, contactIDs []string, at time.Time) error {
	ids := dedupeContacts(contactIDs)
	return utils.WithTxx(ctx, r.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		var status Status
		err := tx.GetContext(ctx, &status, `SELECT status FROM campaigns
WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL FOR UPDATE`, id, accountID)
		if err != nil {
			return notFound(err)
		}
		if status != StatusDraft {
			return ErrNotEditable
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_contacts WHERE campaign_id = $1`, id); err != nil {
			return err
		}
		for pos, contactID := range ids {
			if _, err := tx.ExecContext(ctx, `INSERT INTO campaign_contacts (campaign_id, contact_id, position) VALUES ($1, $2, $3)`,
				id, contactID, pos); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE campaigns SET updated_at = $2 WHERE id = $1`, id, at)
		return err
	})
}

func (r *PostgresRepo) ContactIDs(ctx context.Context, id string) ([]string, error) {
	out := []string{}
	err := r.db.SelectContext(ctx, &out, `SELECT contact_id FROM campaign_contacts WHERE campaign_id = $1 ORDER BY position`, id)
	return out, err
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, accountID, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE campaigns SET deleted_at = $3, updated_at = $3
WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL
	AND status IN ('draft', 'completed', 'cancelled')`, id, accountID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.editableErr(ctx, accountID, id)
	}
	return nil
}

func (r *PostgresRepo) CompareAndSetStatus(ctx context.Context, id string, t Transition) (Campaign, error) {
	var c Campaign
	err := r.db.QueryRowxContext(ctx, `
UPDATE campaigns SET
	status = $3,
	pause_reason = $4,
	cooldown_until = COALESCE($5::timestamptz, cooldown_until),
	dispatched_since_last_pause = CASE WHEN $6::boolean THEN 0 ELSE dispatched_since_last_pause END,
	total_contacts = COALESCE($7::integer, total_contacts),
	started_at = CASE WHEN $3::text = 'in-progress' AND started_at IS NULL THEN $8 ELSE started_at END,
	completed_at = CASE WHEN $3::text IN ('completed', 'cancelled') THEN $8 ELSE completed_at END,
	updated_at = $8
WHERE id = $1 AND status = $2 AND deleted_at IS NULL
RETURNING `+campaignColumns,
		id, string(t.From), string(t.To), string(t.PauseReason), t.CooldownUntil, t.ResetDispatched, t.TotalContacts, t.At,
	).StructScan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return Campaign{}, gerr
		}
		return Campaign{}, ErrStatusConflict
	}
	return c, err
}

func (r *PostgresRepo) RecordDispatch(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
UPDATE campaigns SET dispatched_since_last_pause = dispatched_since_last_pause + 1
WHERE id = $1 RETURNING dispatched_since_last_pause`, id)
	return n, notFound(err)
}

func (r *PostgresRepo) IncrementCompleted(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
UPDATE campaigns SET completed_calls = completed_calls + 1
WHERE id = $1 AND completed_calls < total_contacts RETURNING completed_calls`, id)
	if errors.Is(err, sql.ErrNoRows) {
		if err := r.db.GetContext(ctx, &n, `SELECT completed_calls FROM campaigns WHERE id = $1`, id); err != nil {
			return 0, notFound(err)
		}
		return n, ErrCounterSaturated
	}
	return n, err
}

// editableErr distinguishes a missing campaign from one in the wrong status.
func (r *PostgresRepo) editableErr(ctx context.Context, accountID, id string) error {
	if _, err := r.Get(ctx, accountID, id); err != nil {
		return err
	}
	return ErrNotEditable
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
