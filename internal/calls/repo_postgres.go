package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo stores call attempts in the calls table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `call_id, account_id, campaign_id, contact_id, agent_id, from_number, to_number,
provider, provider_call_id, status, duration_seconds, start_time, end_time,
recording_url, transcript_available, failure_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	err := row.Scan(
		&c.CallID,
		&c.AccountID,
		&c.CampaignID,
		&c.ContactID,
		&c.AgentID,
		&c.From,
		&c.To,
		&c.Provider,
		&c.ProviderCallID,
		&c.Status,
		&c.DurationSeconds,
		&c.StartTime,
		&c.EndTime,
		&c.RecordingURL,
		&c.TranscriptAvailable,
		&c.FailureReason,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`
	_, err := r.db.ExecContext(ctx, q,
		c.CallID, c.AccountID, c.CampaignID, c.ContactID, c.AgentID, c.From, c.To,
		c.Provider, c.ProviderCallID, c.Status, c.DurationSeconds, c.StartTime, c.EndTime,
		c.RecordingURL, c.TranscriptAvailable, c.FailureReason, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, callID string) (Call, error) {
	return scanCall(r.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_id = $1`, callID))
}

func (r *PostgresRepo) GetByProviderCallID(ctx context.Context, provider, providerCallID string) (Call, error) {
	return scanCall(r.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls
WHERE provider = $1 AND provider_call_id = $2 AND provider_call_id <> ''`, provider, providerCallID))
}

func (r *PostgresRepo) SetProviderCallID(ctx context.Context, callID, providerCallID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE calls SET provider_call_id = $2,
	status = CASE WHEN status = 'queued' THEN 'ringing' ELSE status END,
	updated_at = $3
WHERE call_id = $1`, callID, providerCallID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Finalize(ctx context.Context, callID string, o Outcome, at time.Time) (Call, error) {
	if !o.Status.Terminal() {
		return Call{}, ErrNotTerminal
	}
	const q = `
UPDATE calls SET status = $2, duration_seconds = $3, start_time = $4, end_time = $5,
	recording_url = $6, transcript_available = $7, failure_reason = $8, updated_at = $9
WHERE call_id = $1 AND status IN ('queued', 'ringing', 'in_progress')
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q, callID, o.Status, o.DurationSeconds, o.StartTime, o.EndTime,
		o.RecordingURL, o.TranscriptAvailable, o.FailureReason, at))
	if !errors.Is(err, ErrNotFound) {
		return c, err
	}
	existing, gerr := r.Get(ctx, callID)
	if gerr != nil {
		return Call{}, gerr
	}
	return existing, ErrAlreadyFinalized
}

func (r *PostgresRepo) List(ctx context.Context, accountID string, from, to time.Time, campaignID string) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+callColumns+` FROM calls
WHERE account_id = $1 AND created_at >= $2 AND created_at < $3 AND ($4 = '' OR campaign_id = $4)
ORDER BY created_at`, accountID, from, to, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
