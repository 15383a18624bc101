package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaimarr/reclaimarr/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, time.Time) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	t.Cleanup(tdb.Close)

	now := time.Now().Truncate(time.Millisecond)
	s := NewStore(tdb.Conn, tdb.Logger)
	s.now = testutil.FixedClock(now)
	return s, now
}

func int64Ptr(v int64) *int64 { return &v }

func TestStore_UpsertAndGet(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	watched := now.Add(-48 * time.Hour)
	item, err := s.Upsert(ctx, &Item{
		Title:         "Heat",
		Type:          TypeMovie,
		RadarrID:      int64Ptr(12),
		FileSize:      int64Ptr(4096),
		LastWatchedAt: &watched,
		Genres:        []string{"Crime", "Drama"},
		Files:         []File{{Path: "/movies/heat.mkv", Size: 4096}},
	})
	require.NoError(t, err)

	assert.NotZero(t, item.ID)
	assert.Equal(t, StatusMonitored, item.Status)
	assert.Equal(t, []string{"Crime", "Drama"}, item.Genres)
	assert.Empty(t, item.Tags)
	require.NotNil(t, item.LastWatchedAt)
	assert.True(t, watched.Equal(*item.LastWatchedAt))
	require.Len(t, item.Files, 1)
	assert.Equal(t, "/movies/heat.mkv", item.Files[0].Path)

	// A refresh replaces metadata and files but keeps the lifecycle.
	_, err = s.Update(ctx, item.ID, Patch{Enqueue: &QueueState{
		MarkedAt:       now,
		GracePeriod:    24 * time.Hour,
		DeletionAction: ActionUnmonitorOnly,
	}})
	require.NoError(t, err)

	item.Title = "Heat (1995)"
	item.Files = nil
	refreshed, err := s.Upsert(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "Heat (1995)", refreshed.Title)
	assert.Equal(t, StatusPendingDeletion, refreshed.Status)
	assert.Empty(t, refreshed.Files)
}

func TestStore_UpsertInvalid(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, &Item{Type: TypeMovie})
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = s.Upsert(ctx, &Item{Title: "x", Type: "album"})
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = s.Upsert(ctx, &Item{ID: 42, Title: "x", Type: TypeMovie})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestStore_GetByID_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestStore_EnqueueKeepsMarkedAt(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	item, err := s.Upsert(ctx, &Item{Title: "Ronin", Type: TypeMovie})
	require.NoError(t, err)

	first, err := s.Update(ctx, item.ID, Patch{Enqueue: &QueueState{
		MarkedAt:       now,
		GracePeriod:    7 * 24 * time.Hour,
		DeletionAction: ActionUnmonitorAndDelete,
		MatchedRuleID:  int64Ptr(3),
	}})
	require.NoError(t, err)
	require.NotNil(t, first.MarkedAt)
	assert.True(t, now.Equal(*first.MarkedAt))
	assert.Equal(t, int64(3), *first.MatchedRuleID)

	later := now.Add(time.Hour)
	second, err := s.Update(ctx, item.ID, Patch{Enqueue: &QueueState{
		MarkedAt:       later,
		GracePeriod:    24 * time.Hour,
		DeletionAction: ActionFullRemoval,
	}})
	require.NoError(t, err)
	assert.True(t, now.Equal(*second.MarkedAt), "marked_at must survive a re-mark")
	assert.True(t, now.Add(24*time.Hour).Equal(*second.DeleteAfter), "the deadline runs from the original mark")
	assert.Equal(t, ActionFullRemoval, second.DeletionAction)
	assert.Nil(t, second.MatchedRuleID)
}

func TestStore_EnqueueRefusesProtected(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	item, err := s.Upsert(ctx, &Item{Title: "Alien", Type: TypeMovie, IsProtected: true})
	require.NoError(t, err)

	_, err = s.Update(ctx, item.ID, Patch{Enqueue: &QueueState{MarkedAt: now}})
	assert.ErrorIs(t, err, ErrItemProtected)

	_, err = s.Update(ctx, 999, Patch{Enqueue: &QueueState{MarkedAt: now}})
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestStore_ProtectionEvicts(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	item, err := s.Upsert(ctx, &Item{Title: "Solaris", Type: TypeMovie})
	require.NoError(t, err)
	_, err = s.Update(ctx, item.ID, Patch{Enqueue: &QueueState{MarkedAt: now}})
	require.NoError(t, err)

	reason := "favourite"
	protected, err := s.Update(ctx, item.ID, Patch{Protection: &Protection{IsProtected: true, Reason: &reason}})
	require.NoError(t, err)

	assert.True(t, protected.IsProtected)
	assert.Equal(t, "favourite", *protected.ProtectionReason)
	assert.Equal(t, StatusMonitored, protected.Status)
	assert.Nil(t, protected.MarkedAt)
	assert.Nil(t, protected.DeleteAfter)
	assert.Empty(t, protected.DeletionAction)
}

func TestStore_ListExpiredAndPending(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	due, err := s.Upsert(ctx, &Item{Title: "Due", Type: TypeMovie, Files: []File{{Path: "/a", Size: 1}}})
	require.NoError(t, err)
	notDue, err := s.Upsert(ctx, &Item{Title: "Later", Type: TypeMovie})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, &Item{Title: "Idle", Type: TypeMovie})
	require.NoError(t, err)

	_, err = s.Update(ctx, due.ID, Patch{Enqueue: &QueueState{MarkedAt: now.Add(-time.Hour), GracePeriod: time.Hour}})
	require.NoError(t, err)
	_, err = s.Update(ctx, notDue.ID, Patch{Enqueue: &QueueState{MarkedAt: now, GracePeriod: time.Hour}})
	require.NoError(t, err)

	expired, err := s.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, due.ID, expired[0].ID)
	assert.Len(t, expired[0].Files, 1)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, due.ID, pending[0].ID)

	n, err := s.Count(ctx, StatusPendingDeletion)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_EvaluationExcludesDeleted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"A", "B", "C"} {
		_, err := s.Upsert(ctx, &Item{Title: title, Type: TypeShow})
		require.NoError(t, err)
	}
	deleted := StatusDeleted
	_, err := s.Update(ctx, 2, Patch{Status: &deleted, ClearQueue: true})
	require.NoError(t, err)

	items, err := s.GetItemsForEvaluation(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].Title)
	assert.Equal(t, "C", items[1].Title)

	limited, err := s.GetItemsForEvaluation(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	listed, err := s.List(ctx, ListOptions{Status: StatusDeleted})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "B", listed[0].Title)
}

func TestStore_DeletedIsFinal(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	item, err := s.Upsert(ctx, &Item{Title: "Manhunter", Type: TypeMovie})
	require.NoError(t, err)
	_, err = s.Update(ctx, item.ID, Patch{Enqueue: &QueueState{MarkedAt: now}})
	require.NoError(t, err)

	deleted := StatusDeleted
	_, err = s.Update(ctx, item.ID, Patch{Status: &deleted, ClearQueue: true})
	require.NoError(t, err)

	monitored := StatusMonitored
	protected := StatusProtected
	reason := "late"
	tests := []struct {
		name  string
		patch Patch
	}{
		{"enqueue", Patch{Enqueue: &QueueState{MarkedAt: now, GracePeriod: time.Hour}}},
		{"dequeue", Patch{Status: &monitored, ClearQueue: true, RequireQueued: true}},
		{"status only", Patch{Status: &monitored, ClearQueue: true}},
		{"protect", Patch{Status: &protected, ClearQueue: true, Protection: &Protection{IsProtected: true, Reason: &reason}}},
		{"mark deleted again", Patch{Status: &deleted, ClearQueue: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Update(ctx, item.ID, tt.patch)
			assert.ErrorIs(t, err, ErrItemDeleted)

			got, err := s.GetByID(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusDeleted, got.Status)
			assert.Nil(t, got.MarkedAt)
			assert.False(t, got.IsProtected)
		})
	}
}

func TestStore_RequireQueued(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	item, err := s.Upsert(ctx, &Item{Title: "Thief", Type: TypeMovie})
	require.NoError(t, err)

	monitored := StatusMonitored
	dequeue := Patch{Status: &monitored, ClearQueue: true, RequireQueued: true}

	_, err = s.Update(ctx, item.ID, dequeue)
	assert.ErrorIs(t, err, ErrItemNotQueued)

	_, err = s.Update(ctx, item.ID, Patch{Enqueue: &QueueState{MarkedAt: now}})
	require.NoError(t, err)
	got, err := s.Update(ctx, item.ID, dequeue)
	require.NoError(t, err)
	assert.Equal(t, StatusMonitored, got.Status)
	assert.Nil(t, got.DeleteAfter)

	_, err = s.Update(ctx, 999, dequeue)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestStore_EnqueueRejectsNegativeGrace(t *testing.T) {
	s, now := newTestStore(t)
	item, err := s.Upsert(context.Background(), &Item{Title: "Ronin", Type: TypeMovie})
	require.NoError(t, err)

	_, err = s.Update(context.Background(), item.ID, Patch{Enqueue: &QueueState{MarkedAt: now, GracePeriod: -time.Hour}})
	assert.ErrorIs(t, err, ErrInvalidItem)
}
