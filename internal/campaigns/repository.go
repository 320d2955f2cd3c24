package campaigns

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("campaigns: not found")
	// ErrStatusConflict means the stored status no longer matches Transition.From.
	ErrStatusConflict = errors.New("campaigns: status changed concurrently")
	// ErrNotEditable is returned for settings/contact writes outside draft and
	// for deletes of live campaigns.
	ErrNotEditable       = errors.New("campaigns: campaign is not editable in its current status")
	ErrEmptyContactSet   = errors.New("campaigns: contact set is empty")
	ErrCounterSaturated  = errors.New("campaigns: completed calls already equal total contacts")
	ErrScheduleInThePast = errors.New("campaigns: scheduled start time must be in the future")
)

// Transition is one compare-and-set status change.
type Transition struct {
	From Status
	To   Status

	// PauseReason is stored as-is; it is empty unless To is paused.
	PauseReason PauseReason
	// CooldownUntil overwrites the stored cooldown when non-nil.
	CooldownUntil *time.Time
	// ResetDispatched zeroes the pacing counter.
	ResetDispatched bool
	// TotalContacts overwrites the stored total when non-nil (set on leaving draft).
	TotalContacts *int

	At time.Time
}

// Repository persists campaigns and their contact sets.
//
// Implementations MUST apply CompareAndSetStatus atomically: the write
// happens only if the stored status equals t.From.
type Repository interface {
	Create(ctx context.Context, c Campaign) error
	// Get is account-scoped and excludes soft-deleted campaigns.
	Get(ctx context.Context, accountID, id string) (Campaign, error)
	// GetByID is unscoped, for system components.
	GetByID(ctx context.Context, id string) (Campaign, error)
	List(ctx context.Context, accountID string, status Status) ([]Campaign, error)
	ListByStatus(ctx context.Context, status Status) ([]Campaign, error)

	UpdateSettings(ctx context.Context, accountID, id string, s Settings, at time.Time) (Campaign, error)
	SetContacts(ctx context.Context, accountID, id string, contactIDs []string, at time.Time) error
	ContactIDs(ctx context.Context, id string) ([]string, error)
	SoftDelete(ctx context.Context, accountID, id string, at time.Time) error

	CompareAndSetStatus(ctx context.Context, id string, t Transition) (Campaign, error)
	// RecordDispatch increments the pacing counter and returns the new value.
	RecordDispatch(ctx context.Context, id string) (int, error)
	// IncrementCompleted returns ErrCounterSaturated once CompletedCalls == TotalContacts.
	IncrementCompleted(ctx context.Context, id string) (int, error)
}

// dedupeContacts drops blanks and repeats, keeping first-seen order.
func dedupeContacts(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
