package dialqueue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Entry is one contact's slot in a campaign's dial queue.
//
// Invariants:
// - (CampaignID, ContactID) is unique.
// - Status moves pending -> queued -> in_flight -> completed|failed, or pending -> skipped.
// - completed, failed and skipped are final.
type Entry struct {
	CampaignID    string     `json:"campaign_id" db:"campaign_id"`
	ContactID     string     `json:"contact_id" db:"contact_id"`
	Position      int        `json:"position" db:"position"`
	Status        Status     `json:"status" db:"status"`
	Attempts      int        `json:"attempts" db:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	// CallID is the call attempt created for the current claim.
	CallID    string    `json:"call_id,omitempty" db:"call_id"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusInFlight  Status = "in_flight"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusQueued, StatusInFlight, StatusCompleted, StatusFailed, StatusSkipped:
		return st, nil
	default:
		return "", fmt.Errorf("dialqueue: unknown status %q", s)
	}
}

func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Counts is the per-status breakdown of one campaign's queue.
type Counts struct {
	Pending   int `json:"pending"`
	Queued    int `json:"queued"`
	InFlight  int `json:"in_flight"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (c Counts) Total() int {
	return c.Pending + c.Queued + c.InFlight + c.Completed + c.Failed + c.Skipped
}

// Open is the number of claimed entries still waiting on an outcome.
func (c Counts) Open() int { return c.Queued + c.InFlight }

// Exhausted reports that nothing is left to dial or to wait for.
func (c Counts) Exhausted() bool { return c.Pending == 0 && c.Open() == 0 }

func (c *Counts) add(s Status, n int) {
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusQueued:
		c.Queued += n
	case StatusInFlight:
		c.InFlight += n
	case StatusCompleted:
		c.Completed += n
	case StatusFailed:
		c.Failed += n
	case StatusSkipped:
		c.Skipped += n
	}
}

var (
	ErrNotFound = errors.New("dialqueue: entry not found")
	// ErrEntryResolved is returned when an outcome arrives for an entry that is already final.
	ErrEntryResolved = errors.New("dialqueue: entry already resolved")
	// ErrWrongState is returned when an entry is not in the status an operation requires.
	ErrWrongState = errors.New("dialqueue: entry not in required status")
)

// Store persists dial queues. ClaimNext must hand each pending entry to exactly one caller.
type Store interface {
	// Materialize inserts pending entries in slice order; existing entries are kept.
	Materialize(ctx context.Context, campaignID string, contactIDs []string) (int, error)
	ClaimNext(ctx context.Context, campaignID string, at time.Time) (Entry, bool, error)
	AttachCall(ctx context.Context, campaignID, contactID, callID string, at time.Time) error
	MarkInFlight(ctx context.Context, campaignID, contactID string, at time.Time) error
	Resolve(ctx context.Context, campaignID, contactID string, status Status, at time.Time) error
	Requeue(ctx context.Context, campaignID, contactID string, at time.Time) error
	// SkipPending skips pending entries and claimed ones that have no call yet.
	SkipPending(ctx context.Context, campaignID string) (int, error)

	Get(ctx context.Context, campaignID, contactID string) (Entry, error)
	Counts(ctx context.Context, campaignID string) (Counts, error)
	// List returns entries by position; an empty status matches all.
	List(ctx context.Context, campaignID string, status Status, limit, offset int) ([]Entry, error)
	// CampaignsWithOpenEntries lists campaigns that have queued or in-flight entries.
	CampaignsWithOpenEntries(ctx context.Context) ([]string, error)
}

func validResolution(s Status) error {
	if s != StatusCompleted && s != StatusFailed {
		return fmt.Errorf("dialqueue: cannot resolve to %q", s)
	}
	return nil
}
