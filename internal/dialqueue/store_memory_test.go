package dialqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestMaterialize_IdempotentAndOrdered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.Materialize(ctx, "camp", []string{"a", "b", "a", "c"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Materialize(ctx, "camp", []string{"b", "d"})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	list, err := s.List(ctx, "camp", "", 0, 0)
	require.NoError(t, err)
	var ids []string
	for i, e := range list {
		ids = append(ids, e.ContactID)
		assert.Equal(t, i, e.Position)
		assert.Equal(t, StatusPending, e.Status)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestClaimNext_Lifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Materialize(ctx, "camp", []string{"a", "b"})
	require.NoError(t, err)

	e, ok, err := s.ClaimNext(ctx, "camp", t0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", e.ContactID)
	assert.Equal(t, StatusQueued, e.Status)
	assert.Equal(t, 1, e.Attempts)
	require.NotNil(t, e.LastAttemptAt)

	require.NoError(t, s.AttachCall(ctx, "camp", "a", "call-1", t0))
	require.NoError(t, s.MarkInFlight(ctx, "camp", "a", t0))
	assert.ErrorIs(t, s.MarkInFlight(ctx, "camp", "a", t0), ErrWrongState)
	assert.ErrorIs(t, s.AttachCall(ctx, "camp", "a", "call-2", t0), ErrWrongState)

	require.NoError(t, s.Resolve(ctx, "camp", "a", StatusCompleted, t0))
	assert.ErrorIs(t, s.Resolve(ctx, "camp", "a", StatusFailed, t0), ErrEntryResolved)

	got, err := s.Get(ctx, "camp", "a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "call-1", got.CallID)

	c, err := s.Counts(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, Counts{Pending: 1, Completed: 1}, c)
	assert.False(t, c.Exhausted())
}

func TestResolve_RejectsNonFinalStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Materialize(ctx, "camp", []string{"a"})
	_, _, _ = s.ClaimNext(ctx, "camp", t0)
	assert.Error(t, s.Resolve(ctx, "camp", "a", StatusSkipped, t0))
	assert.ErrorIs(t, s.Resolve(ctx, "camp", "zzz", StatusFailed, t0), ErrNotFound)
}

func TestRequeueAndSkip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Materialize(ctx, "camp", []string{"a", "b", "c"})

	e, _, _ := s.ClaimNext(ctx, "camp", t0)
	require.NoError(t, s.Requeue(ctx, "camp", e.ContactID, t0))

	e, _, _ = s.ClaimNext(ctx, "camp", t0)
	assert.Equal(t, "a", e.ContactID)
	assert.Equal(t, 2, e.Attempts)
	require.NoError(t, s.AttachCall(ctx, "camp", "a", "call-a", t0))

	n, err := s.SkipPending(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := s.ClaimNext(ctx, "camp", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	c, _ := s.Counts(ctx, "camp")
	assert.Equal(t, Counts{Queued: 1, Skipped: 2}, c)
	assert.Equal(t, 1, c.Open())

	require.NoError(t, s.Resolve(ctx, "camp", "a", StatusFailed, t0))
	c, _ = s.Counts(ctx, "camp")
	assert.True(t, c.Exhausted())
	assert.Equal(t, 3, c.Total())
}

func TestCampaignsWithOpenEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Materialize(ctx, "b", []string{"x"})
	_, _ = s.Materialize(ctx, "a", []string{"x"})
	_, _ = s.Materialize(ctx, "idle", []string{"x"})
	_, _, _ = s.ClaimNext(ctx, "b", t0)
	_, _, _ = s.ClaimNext(ctx, "a", t0)
	_ = s.MarkInFlight(ctx, "a", "x", t0)

	ids, err := s.CampaignsWithOpenEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestList_FilterAndPaging(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Materialize(ctx, "camp", []string{"a", "b", "c", "d"})
	_, _, _ = s.ClaimNext(ctx, "camp", t0)

	pending, err := s.List(ctx, "camp", StatusPending, 2, 1)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c", pending[0].ContactID)
	assert.Equal(t, "d", pending[1].ContactID)
}

func TestClaimNext_ConcurrentClaimsAreExclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%03d", i)
	}
	_, _ = s.Materialize(ctx, "camp", ids)

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, ok, err := s.ClaimNext(ctx, "camp", t0)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				claimed[e.ContactID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 100)
	for id, n := range claimed {
		assert.Equal(t, 1, n, id)
	}
}

func TestSkipPendingTakesClaimsWithoutCall(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Materialize(ctx, "camp", []string{"a", "b", "c"})

	claimed, _, _ := s.ClaimNext(ctx, "camp", t0)
	require.Equal(t, "a", claimed.ContactID)

	n, err := s.SkipPending(ctx, "camp")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.ErrorIs(t, s.AttachCall(ctx, "camp", "a", "call-a", t0), ErrWrongState)
	assert.ErrorIs(t, s.Requeue(ctx, "camp", "a", t0), ErrWrongState)
	c, _ := s.Counts(ctx, "camp")
	assert.Equal(t, Counts{Skipped: 3}, c)
	assert.True(t, c.Exhausted())
}
