package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaimarr/reclaimarr/internal/deletion"
	"github.com/reclaimarr/reclaimarr/internal/history"
	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/notification"
)

type recordingNotifier struct {
	mu        sync.Mutex
	completed []int64
	failed    []int64
	sweeps    []notification.SweepEvent
}

func (n *recordingNotifier) DeletionCompleted(_ context.Context, item *media.Item, _ media.DeletionAction, _ string, _ *deletion.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, item.ID)
}

func (n *recordingNotifier) DeletionFailed(_ context.Context, item *media.Item, _ media.DeletionAction, _ string, _ *deletion.Result, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, item.ID)
}

func (n *recordingNotifier) SweepCompleted(_ context.Context, event notification.SweepEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sweeps = append(n.sweeps, event)
}

// remover records every path it is asked to remove.
type remover struct {
	mu      sync.Mutex
	removed []string
	fail    map[string]error
	hook    func(path string)
}

func (r *remover) remove(path string) error {
	if r.hook != nil {
		r.hook(path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[path]; err != nil {
		return err
	}
	r.removed = append(r.removed, path)
	return nil
}

func (f *fixture) processor(t *testing.T, rm *remover, n *recordingNotifier) *Processor {
	t.Helper()
	executor := deletion.NewArrExecutor(f.tdb.Logger, deletion.WithFileRemover(rm.remove))
	opts := []Option{WithHistory(f.history), WithClock(f.clock())}
	if n != nil {
		opts = append(opts, WithNotifier(n))
	}
	p, err := NewProcessor(f.store, executor, DefaultConfig(), f.tdb.Logger, opts...)
	require.NoError(t, err)
	return p
}

func movieWithFiles(title string, sizes ...int64) media.Item {
	item := media.Item{Title: title, Type: media.TypeMovie}
	var total int64
	for i, size := range sizes {
		item.Files = append(item.Files, media.File{
			Path: "/media/movies/" + title + "/part" + string(rune('1'+i)) + ".mkv",
			Size: size,
		})
		total += size
	}
	item.FileSize = &total
	return item
}

func TestNewProcessor_RequiresExecutor(t *testing.T) {
	f := newFixture(t)
	_, err := NewProcessor(f.store, nil, DefaultConfig(), f.tdb.Logger)
	assert.ErrorIs(t, err, ErrNoExecutor)
}

func TestProcessQueue_DeletesOnlyExpired(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)
	rm := &remover{}
	notifier := &recordingNotifier{}
	p := f.processor(t, rm, notifier)
	ctx := context.Background()

	due := f.seed(t, movieWithFiles("Heat", 100, 200))
	later := f.seed(t, movieWithFiles("Ronin", 500))

	_, err := svc.MarkForDeletion(ctx, due.ID, MarkOptions{GracePeriodDays: intPtr(0), DeletionAction: media.ActionDeleteFilesOnly})
	require.NoError(t, err)
	_, err = svc.MarkForDeletion(ctx, later.ID, MarkOptions{GracePeriodDays: intPtr(7), DeletionAction: media.ActionDeleteFilesOnly})
	require.NoError(t, err)

	result, err := p.ProcessQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int64(300), result.FreedSpace)
	assert.Empty(t, result.Errors)
	assert.Len(t, rm.removed, 2)

	got, err := f.store.GetByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, media.StatusDeleted, got.Status)
	assert.Nil(t, got.DeleteAfter)

	got, err = f.store.GetByID(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, media.StatusPendingDeletion, got.Status)

	assert.Equal(t, []history.EventType{history.EventTypeMarked, history.EventTypeDeleted}, f.events(t, due))
	assert.Equal(t, []int64{due.ID}, notifier.completed)
	require.Len(t, notifier.sweeps, 1)
	assert.Equal(t, 1, notifier.sweeps[0].Deleted)
}

func TestProcessQueue_FailureKeepsItemQueued(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)
	item := movieWithFiles("Thief", 100, 200)
	rm := &remover{fail: map[string]error{item.Files[1].Path: errors.New("permission denied")}}
	notifier := &recordingNotifier{}
	p := f.processor(t, rm, notifier)
	ctx := context.Background()

	seeded := f.seed(t, item)
	_, err := svc.MarkForDeletion(ctx, seeded.ID, MarkOptions{GracePeriodDays: intPtr(0), DeletionAction: media.ActionDeleteFilesOnly})
	require.NoError(t, err)

	result, err := p.ProcessQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, seeded.ID, result.Errors[0].ID)

	got, err := f.store.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, media.StatusPendingDeletion, got.Status, "failed items stay queued for the next sweep")

	entries, err := f.history.ListByMedia(ctx, history.MediaTypeMovie, seeded.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, history.EventTypeDeletionFailed, entries[0].EventType)
	assert.Equal(t, float64(1), entries[0].Data["filesDeleted"])
	assert.Equal(t, float64(1), entries[0].Data["filesFailed"])
	assert.Equal(t, []int64{seeded.ID}, notifier.failed)
}

func TestProcessQueue_SkipsItemsProtectedSinceListing(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)
	rm := &remover{}
	p := f.processor(t, rm, nil)
	ctx := context.Background()

	item := f.seed(t, movieWithFiles("Alien", 100))
	_, err := svc.MarkForDeletion(ctx, item.ID, MarkOptions{GracePeriodDays: intPtr(0)})
	require.NoError(t, err)
	_, err = svc.Protect(ctx, item.ID, "keep")
	require.NoError(t, err)

	result, err := p.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, rm.removed)
}

func TestProcessQueue_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	p := f.processor(t, &remover{}, notifier)

	result, err := p.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, notifier.sweeps)
}

func drain(events <-chan deletion.Event) []deletion.Event {
	var out []deletion.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestDeleteNow_StreamsStagesInOrder(t *testing.T) {
	f := newFixture(t)
	rm := &remover{}
	p := f.processor(t, rm, nil)
	ctx := context.Background()

	item := f.seed(t, movieWithFiles("Heat", 100, 250))

	events, err := p.DeleteNow(ctx, item.ID, media.ActionDeleteFilesOnly)
	require.NoError(t, err)
	got := drain(events)
	require.NotEmpty(t, got)

	assert.Equal(t, deletion.StageStarting, got[0].Stage)
	last := got[len(got)-1]
	assert.Equal(t, deletion.StageComplete, last.Stage)
	require.NotNil(t, last.Result)
	assert.Equal(t, int64(350), last.Result.FileSizeFreed)
	assert.Equal(t, 2, last.Result.FilesDeleted)

	for _, ev := range got[1 : len(got)-1] {
		assert.Equal(t, deletion.StageDeletingFiles, ev.Stage)
		assert.False(t, ev.Stage.Terminal())
	}

	// The terminal event is only sent once the outcome is persisted.
	stored, err := f.store.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, media.StatusDeleted, stored.Status)
	assert.Equal(t, []history.EventType{history.EventTypeDeleted}, f.events(t, item))
}

func TestDeleteNow_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.processor(t, &remover{}, nil)
	ctx := context.Background()

	protected := f.seed(t, media.Item{Title: "Alien", Type: media.TypeMovie, IsProtected: true})
	deleted := f.seed(t, media.Item{Title: "Aliens", Type: media.TypeMovie, Status: media.StatusDeleted})
	plain := f.seed(t, media.Item{Title: "Alien 3", Type: media.TypeMovie})

	tests := []struct {
		name   string
		id     int64
		action media.DeletionAction
		want   error
	}{
		{"protected", protected.ID, "", ErrProtected},
		{"deleted", deleted.ID, "", ErrAlreadyDeleted},
		{"missing", 9999, "", media.ErrItemNotFound},
		{"invalid action", plain.ID, "shred", deletion.ErrInvalidAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := p.DeleteNow(ctx, tt.id, tt.action)
			assert.Nil(t, events)
			if !errors.Is(err, tt.want) {
				t.Errorf("DeleteNow() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeleteNow_CancellationStopsEmission(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rm := &remover{}
	rm.hook = func(string) { cancel() }
	p := f.processor(t, rm, nil)

	item := f.seed(t, movieWithFiles("Collateral", 100, 200, 300))

	events, err := p.DeleteNow(ctx, item.ID, media.ActionDeleteFilesOnly)
	require.NoError(t, err)

	done := make(chan []deletion.Event)
	go func() { done <- drain(events) }()

	var got []deletion.Event
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event channel was not closed after cancellation")
	}

	for _, ev := range got {
		assert.False(t, ev.Stage.Terminal(), "no terminal event after cancellation")
	}
	assert.Len(t, rm.removed, 1, "removal stops between files")

	stored, err := f.store.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.NotEqual(t, media.StatusDeleted, stored.Status)

	entries, err := f.history.ListByMedia(context.Background(), history.MediaTypeMovie, item.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history.EventTypeDeletionFailed, entries[0].EventType)
	assert.Equal(t, float64(1), entries[0].Data["filesDeleted"])
}
