package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCallStatus_Terminal(t *testing.T) {
	terminal := []CallStatus{CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %s terminal", s)
		}
	}
	for _, s := range []CallStatus{CallStatusQueued, CallStatusRinging, CallStatusInProgress} {
		if s.Terminal() {
			t.Fatalf("expected %s non-terminal", s)
		}
	}
}

func TestMemoryRepo_FinalizeOnce(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if err := r.Create(ctx, Call{CallID: "c1", AccountID: "a", Provider: "twilio", Status: CallStatusQueued, CreatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.SetProviderCallID(ctx, "c1", "CA123", now); err != nil {
		t.Fatalf("set provider id: %v", err)
	}
	got, err := r.GetByProviderCallID(ctx, "twilio", "CA123")
	if err != nil || got.CallID != "c1" || got.Status != CallStatusRinging {
		t.Fatalf("unexpected lookup: %+v %v", got, err)
	}

	if _, err := r.Finalize(ctx, "c1", Outcome{Status: CallStatusRinging}, now); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
	c, err := r.Finalize(ctx, "c1", Outcome{Status: CallStatusCompleted, DurationSeconds: 61}, now)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if c.DurationSeconds != 61 {
		t.Fatalf("expected duration stored")
	}
	if _, err := r.Finalize(ctx, "c1", Outcome{Status: CallStatusFailed}, now); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if _, err := r.Finalize(ctx, "missing", Outcome{Status: CallStatusFailed}, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepo_ListFilters(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	_ = r.Create(ctx, Call{CallID: "1", AccountID: "a", CampaignID: "x", CreatedAt: base})
	_ = r.Create(ctx, Call{CallID: "2", AccountID: "a", CampaignID: "y", CreatedAt: base.Add(time.Hour)})
	_ = r.Create(ctx, Call{CallID: "3", AccountID: "b", CampaignID: "x", CreatedAt: base})
	_ = r.Create(ctx, Call{CallID: "4", AccountID: "a", CampaignID: "x", CreatedAt: base.Add(48 * time.Hour)})

	got, err := r.List(ctx, "a", base, base.Add(24*time.Hour), "")
	if err != nil || len(got) != 2 {
		t.Fatalf("expected 2 calls, got %d %v", len(got), err)
	}
	got, _ = r.List(ctx, "a", base, base.Add(24*time.Hour), "x")
	if len(got) != 1 || got[0].CallID != "1" {
		t.Fatalf("expected campaign filter, got %+v", got)
	}
}
