package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
)

func touch(status string) storage.CallMergeFunc {
	return func(cur *model.CallRecord) *model.CallRecord {
		next := &model.CallRecord{}
		if cur != nil {
			c := *cur
			next = &c
		}
		next.Status = status
		return next
	}
}

func TestStore_UpsertConcurrentCreatesOneRow(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := s.Upsert(ctx, "ws1", "call1", touch("in-progress"))
			assert.NoError(t, err)
			if c {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Len(t, s.Calls(), 1)
}

func TestStore_FindAndDelete(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Find(ctx, "ws1", "missing")
	assert.True(t, apperrors.IsNotFoundError(err))

	_, _, err = s.Upsert(ctx, "ws1", "call1", touch("ringing"))
	require.NoError(t, err)
	rec, err := s.Find(ctx, "ws1", "call1")
	require.NoError(t, err)
	assert.Equal(t, "ringing", rec.Status)

	require.NoError(t, s.Delete(ctx, "ws1", "call1"))
	require.NoError(t, s.Delete(ctx, "ws1", "call1"))
	assert.Empty(t, s.Calls())
}

func TestStore_TryAcquireHonoursLimit(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.SaveWorkspace(ctx, model.Workspace{WorkspaceID: "ws1", Active: true, ConcurrencyLimit: 2}))

	now := time.Now()
	acquire := func(callID string) storage.LeaseAcquireResult {
		res, err := s.TryAcquire(ctx, model.ConcurrencyLease{WorkspaceID: "ws1", ExternalCallID: callID, IssuedAt: now, TTLSeconds: 60})
		require.NoError(t, err)
		return res
	}

	assert.True(t, acquire("a").Granted)
	assert.True(t, acquire("b").Granted)
	res := acquire("c")
	assert.False(t, res.Granted)
	assert.Equal(t, storage.LeaseReasonLimitReached, res.Reason)

	// Re-acquire for a held call is granted without consuming a slot.
	assert.True(t, acquire("a").Granted)

	removed, err := s.Release(ctx, "ws1", "a")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Release(ctx, "ws1", "a")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.True(t, acquire("c").Granted)
}

func TestStore_DeleteExpired(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.SaveWorkspace(ctx, model.Workspace{WorkspaceID: "ws1", Active: true, ConcurrencyLimit: 5}))

	past := time.Now().Add(-time.Hour)
	_, err := s.TryAcquire(ctx, model.ConcurrencyLease{WorkspaceID: "ws1", ExternalCallID: "old", IssuedAt: past, TTLSeconds: 60})
	require.NoError(t, err)

	n, err := s.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_CreateTicketOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first, created, err := s.CreateTicket(ctx, model.Ticket{WorkspaceID: "ws1", ExternalCallID: "c1", CreatedBy: model.CreatedBySystem})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.CreateTicket(ctx, model.Ticket{WorkspaceID: "ws1", ExternalCallID: "c1", CreatedBy: model.CreatedByModel})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.CreatedBySystem, second.CreatedBy)
	assert.Len(t, s.Tickets(), 1)
}

func TestStore_InactiveWorkspaceRejects(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.SaveWorkspace(ctx, model.Workspace{WorkspaceID: "ws1", Active: false, ConcurrencyLimit: 5}))

	res, err := s.TryAcquire(ctx, model.ConcurrencyLease{WorkspaceID: "ws1", ExternalCallID: "c1", TTLSeconds: 60})
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, storage.LeaseReasonWorkspaceInactive, res.Reason)
}

func TestStore_RejectSkipsClaimedCalls(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()

	_, _, err := s.Upsert(ctx, "ws1", "live", touch("in-progress"))
	require.NoError(t, err)
	_, _, err = s.Upsert(ctx, "ws1", "ended", func(cur *model.CallRecord) *model.CallRecord {
		return &model.CallRecord{TerminalAt: &now}
	})
	require.NoError(t, err)

	rejected, err := s.Reject(ctx, model.CallRejection{WorkspaceID: "ws1", ExternalCallID: "live", Reason: storage.LeaseReasonLimitReached})
	require.NoError(t, err)
	assert.True(t, rejected)
	_, err = s.Find(ctx, "ws1", "live")
	assert.True(t, apperrors.IsNotFoundError(err))

	rejected, err = s.Reject(ctx, model.CallRejection{WorkspaceID: "ws1", ExternalCallID: "ended", Reason: storage.LeaseReasonLimitReached})
	require.NoError(t, err)
	assert.False(t, rejected)
	_, err = s.Find(ctx, "ws1", "ended")
	assert.NoError(t, err)

	require.Len(t, s.Rejections(), 1)
	assert.Equal(t, "live", s.Rejections()[0].ExternalCallID)
}
