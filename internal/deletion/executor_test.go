package deletion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaimarr/reclaimarr/internal/media"
)

type fakeRadarr struct {
	unmonitored []int64
	deleted     []int64
	err         error
}

func (f *fakeRadarr) UnmonitorMovie(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.unmonitored = append(f.unmonitored, id)
	return nil
}

func (f *fakeRadarr) DeleteMovie(_ context.Context, id int64, _ bool) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeSonarr struct {
	series   []int64
	episodes []int64
	deleted  []int64
}

func (f *fakeSonarr) UnmonitorSeries(_ context.Context, id int64) error {
	f.series = append(f.series, id)
	return nil
}

func (f *fakeSonarr) UnmonitorEpisode(_ context.Context, id int64) error {
	f.episodes = append(f.episodes, id)
	return nil
}

func (f *fakeSonarr) DeleteSeries(_ context.Context, id int64, _ bool) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeOverseerr struct {
	calls int
	err   error
}

func (f *fakeOverseerr) ResetMedia(_ context.Context, _ string, _ int64) (bool, error) {
	f.calls++
	return f.err == nil, f.err
}

func int64Ptr(v int64) *int64 { return &v }

// writeFiles creates files of the given sizes and returns them as media files.
func writeFiles(t *testing.T, sizes ...int) []media.File {
	t.Helper()
	dir := t.TempDir()
	files := make([]media.File, 0, len(sizes))
	for i, size := range sizes {
		path := filepath.Join(dir, "part"+string(rune('a'+i))+".mkv")
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
		files = append(files, media.File{Path: path, Size: int64(size)})
	}
	return files
}

func collect(events *[]Event) EmitFunc {
	return func(ev Event) { *events = append(*events, ev) }
}

func stages(events []Event) []Stage {
	var out []Stage
	for _, ev := range events {
		if len(out) == 0 || out[len(out)-1] != ev.Stage {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func TestArrExecutor_StreamStagesInOrder(t *testing.T) {
	radarr := &fakeRadarr{}
	exec := NewArrExecutor(zerolog.Nop(), WithRadarr(radarr))

	item := &media.Item{ID: 1, Title: "Heat", Type: media.TypeMovie, RadarrID: int64Ptr(9), Files: writeFiles(t, 100, 250, 50)}

	var events []Event
	result, err := exec.ExecuteStream(context.Background(), item, media.ActionUnmonitorAndDelete, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageStarting, StageUnmonitoring, StageDeletingFiles, StageComplete}, stages(events))
	assert.True(t, result.Success)
	assert.Equal(t, int64(400), result.FileSizeFreed)
	assert.Equal(t, 3, result.FilesDeleted)
	assert.Equal(t, []int64{9}, radarr.unmonitored)
	assert.Empty(t, radarr.deleted)

	var fileEvents []FileProgress
	for _, ev := range events {
		if ev.File != nil {
			fileEvents = append(fileEvents, *ev.File)
		}
	}
	require.Len(t, fileEvents, 6)
	assert.Equal(t, FileDeleting, fileEvents[0].Status)
	assert.Equal(t, FileDeleted, fileEvents[1].Status)
	assert.Equal(t, 3, fileEvents[5].Current)
	assert.Equal(t, 3, fileEvents[5].Total)

	last := events[len(events)-1]
	require.NotNil(t, last.Result)
	assert.Equal(t, int64(400), last.Result.FileSizeFreed)

	for _, f := range item.Files {
		_, err := os.Stat(f.Path)
		assert.True(t, errors.Is(err, os.ErrNotExist), "file %s should be gone", f.Path)
	}
}

func TestArrExecutor_FailedFileDoesNotStopOthers(t *testing.T) {
	files := writeFiles(t, 10, 20, 30)
	remove := func(path string) error {
		if path == files[1].Path {
			return errors.New("permission denied")
		}
		return os.Remove(path)
	}
	exec := NewArrExecutor(zerolog.Nop(), WithFileRemover(remove))

	item := &media.Item{ID: 2, Title: "Partial", Type: media.TypeMovie, Files: files}

	var events []Event
	result, err := exec.ExecuteStream(context.Background(), item, media.ActionDeleteFilesOnly, collect(&events))
	require.Error(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.FilesDeleted)
	assert.Equal(t, 1, result.FilesFailed)
	assert.Equal(t, int64(40), result.FileSizeFreed)
	assert.Equal(t, StageError, events[len(events)-1].Stage)
	assert.NotContains(t, stages(events), StageUnmonitoring, "delete_files_only never unmonitors")
}

func TestArrExecutor_UnmonitorFailureAbortsBeforeFiles(t *testing.T) {
	radarr := &fakeRadarr{err: errors.New("radarr down")}
	exec := NewArrExecutor(zerolog.Nop(), WithRadarr(radarr))
	files := writeFiles(t, 10)

	item := &media.Item{ID: 3, Title: "Kept", Type: media.TypeMovie, RadarrID: int64Ptr(1), Files: files}
	result, err := exec.Execute(context.Background(), item, media.ActionUnmonitorAndDelete)

	require.Error(t, err)
	assert.False(t, result.Success)
	_, statErr := os.Stat(files[0].Path)
	assert.NoError(t, statErr, "files must survive a failed unmonitor")
}

func TestArrExecutor_FullRemovalAndOverseerr(t *testing.T) {
	sonarr := &fakeSonarr{}
	overseerr := &fakeOverseerr{}
	exec := NewArrExecutor(zerolog.Nop(), WithSonarr(sonarr), WithOverseerr(overseerr))

	item := &media.Item{
		ID: 4, Title: "Show", Type: media.TypeShow,
		SonarrID: int64Ptr(7), TmdbID: int64Ptr(1399),
		ResetExternalRequest: true,
		Files:                writeFiles(t, 5),
	}

	var events []Event
	result, err := exec.ExecuteStream(context.Background(), item, media.ActionFullRemoval, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageStarting, StageUnmonitoring, StageDeletingFiles, StageResettingOverseerr, StageComplete}, stages(events))
	assert.True(t, result.Removed)
	assert.True(t, result.OverseerrReset)
	assert.Equal(t, []int64{7}, sonarr.series)
	assert.Equal(t, []int64{7}, sonarr.deleted)
	assert.Equal(t, 1, overseerr.calls)
}

func TestArrExecutor_OverseerrFailureIsNotFatal(t *testing.T) {
	overseerr := &fakeOverseerr{err: errors.New("timeout")}
	exec := NewArrExecutor(zerolog.Nop(), WithOverseerr(overseerr))

	item := &media.Item{ID: 5, Title: "M", Type: media.TypeMovie, TmdbID: int64Ptr(1), ResetExternalRequest: true}
	result, err := exec.Execute(context.Background(), item, media.ActionUnmonitorOnly)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.OverseerrReset)
}

func TestArrExecutor_EpisodeUnmonitorsEpisode(t *testing.T) {
	sonarr := &fakeSonarr{}
	exec := NewArrExecutor(zerolog.Nop(), WithSonarr(sonarr))

	item := &media.Item{ID: 6, Title: "S01E01", Type: media.TypeEpisode, SonarrID: int64Ptr(70)}
	_, err := exec.Execute(context.Background(), item, media.ActionFullRemoval)
	require.NoError(t, err)

	assert.Equal(t, []int64{70}, sonarr.episodes)
	assert.Empty(t, sonarr.deleted, "episodes never remove the whole series")
}

func TestArrExecutor_Cancelled(t *testing.T) {
	exec := NewArrExecutor(zerolog.Nop())
	files := writeFiles(t, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	exec.remove = func(path string) error {
		calls++
		cancel()
		return os.Remove(path)
	}

	var events []Event
	result, err := exec.ExecuteStream(ctx, &media.Item{ID: 7, Title: "C", Type: media.TypeMovie, Files: files},
		media.ActionDeleteFilesOnly, collect(&events))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no file is started after cancellation")
	assert.Equal(t, 1, result.FilesDeleted, "the in-flight file is still reported")
	assert.Equal(t, StageError, events[len(events)-1].Stage)
}

func TestArrExecutor_InvalidAction(t *testing.T) {
	exec := NewArrExecutor(zerolog.Nop())
	_, err := exec.Execute(context.Background(), &media.Item{ID: 8, Title: "x"}, media.DeletionAction("shred"))
	assert.ErrorIs(t, err, ErrInvalidAction)
}
