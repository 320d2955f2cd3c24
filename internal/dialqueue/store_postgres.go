package dialqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps entries in dial_queue_entries. Claims use
// FOR UPDATE SKIP LOCKED so concurrent dispatchers never share an entry.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore { return &PostgresStore{db: db} }

const entryColumns = `campaign_id, contact_id, position, status, attempts, last_attempt_at, call_id, updated_at`

func (s *PostgresStore) Materialize(ctx context.Context, campaignID string, contactIDs []string) (int, error) {
	ids := make([]string, 0, len(contactIDs))
	for _, id := range contactIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dial_queue_entries (campaign_id, contact_id, position, status, attempts, call_id, updated_at)
SELECT $1, c.id, c.ord - 1, 'pending', 0, '', now()
FROM unnest($2::text[]) WITH ORDINALITY AS c(id, ord)
ON CONFLICT (campaign_id, contact_id) DO NOTHING`, campaignID, ids)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.GetContext(ctx, &n, `SELECT count(*) FROM dial_queue_entries WHERE campaign_id = $1`, campaignID)
	return n, err
}

func (s *PostgresStore) ClaimNext(ctx context.Context, campaignID string, at time.Time) (Entry, bool, error) {
	var e Entry
	err := s.db.QueryRowxContext(ctx, `
UPDATE dial_queue_entries e SET
	status = 'queued', attempts = e.attempts + 1, last_attempt_at = $2, call_id = '', updated_at = $2
FROM (
	SELECT contact_id FROM dial_queue_entries
	WHERE campaign_id = $1 AND status = 'pending'
	ORDER BY position
	LIMIT 1
	FOR UPDATE SKIP LOCKED
) next
WHERE e.campaign_id = $1 AND e.contact_id = next.contact_id
RETURNING e.campaign_id, e.contact_id, e.position, e.status, e.attempts, e.last_attempt_at, e.call_id, e.updated_at`,
		campaignID, at).StructScan(&e)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) AttachCall(ctx context.Context, campaignID, contactID, callID string, at time.Time) error {
	return s.transition(ctx, campaignID, contactID, ErrWrongState, `
UPDATE dial_queue_entries SET call_id = $3, updated_at = $4
WHERE campaign_id = $1 AND contact_id = $2 AND status = 'queued'`, callID, at)
}

func (s *PostgresStore) MarkInFlight(ctx context.Context, campaignID, contactID string, at time.Time) error {
	return s.transition(ctx, campaignID, contactID, ErrWrongState, `
UPDATE dial_queue_entries SET status = 'in_flight', updated_at = $3
WHERE campaign_id = $1 AND contact_id = $2 AND status = 'queued'`, at)
}

func (s *PostgresStore) Resolve(ctx context.Context, campaignID, contactID string, status Status, at time.Time) error {
	if err := validResolution(status); err != nil {
		return err
	}
	return s.transition(ctx, campaignID, contactID, ErrEntryResolved, `
UPDATE dial_queue_entries SET status = $3, updated_at = $4
WHERE campaign_id = $1 AND contact_id = $2 AND status IN ('queued', 'in_flight')`, string(status), at)
}

func (s *PostgresStore) Requeue(ctx context.Context, campaignID, contactID string, at time.Time) error {
	return s.transition(ctx, campaignID, contactID, ErrWrongState, `
UPDATE dial_queue_entries SET status = 'pending', call_id = '', updated_at = $3
WHERE campaign_id = $1 AND contact_id = $2 AND status = 'queued'`, at)
}

func (s *PostgresStore) SkipPending(ctx context.Context, campaignID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE dial_queue_entries SET status = 'skipped', updated_at = now()
WHERE campaign_id = $1 AND (status = 'pending' OR (status = 'queued' AND call_id = ''))`, campaignID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) Get(ctx context.Context, campaignID, contactID string) (Entry, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e, `SELECT `+entryColumns+` FROM dial_queue_entries
WHERE campaign_id = $1 AND contact_id = $2`, campaignID, contactID)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) Counts(ctx context.Context, campaignID string) (Counts, error) {
	var rows []struct {
		Status Status `db:"status"`
		N      int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT status, count(*) AS n FROM dial_queue_entries
WHERE campaign_id = $1 GROUP BY status`, campaignID)
	var c Counts
	for _, r := range rows {
		c.add(r.Status, r.N)
	}
	return c, err
}

func (s *PostgresStore) List(ctx context.Context, campaignID string, status Status, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	out := []Entry{}
	err := s.db.SelectContext(ctx, &out, `SELECT `+entryColumns+` FROM dial_queue_entries
WHERE campaign_id = $1 AND ($2 = '' OR status = $2)
ORDER BY position LIMIT $3 OFFSET $4`, campaignID, string(status), limit, offset)
	return out, err
}

func (s *PostgresStore) CampaignsWithOpenEntries(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT campaign_id FROM dial_queue_entries
WHERE status IN ('queued', 'in_flight') ORDER BY campaign_id`)
	return out, err
}

// transition runs a guarded single-row update. When no row matches it reports
// ErrNotFound for a missing entry and stateErr otherwise.
func (s *PostgresStore) transition(ctx context.Context, campaignID, contactID string, stateErr error, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append([]any{campaignID, contactID}, args...)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, campaignID, contactID); err != nil {
		return err
	}
	return stateErr
}
