package deletion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/media"
)

var ErrInvalidAction = errors.New("invalid deletion action")

// MovieManager is the Radarr surface used by the executor.
type MovieManager interface {
	UnmonitorMovie(ctx context.Context, id int64) error
	DeleteMovie(ctx context.Context, id int64, deleteFiles bool) error
}

// SeriesManager is the Sonarr surface used by the executor.
type SeriesManager interface {
	UnmonitorSeries(ctx context.Context, id int64) error
	UnmonitorEpisode(ctx context.Context, id int64) error
	DeleteSeries(ctx context.Context, id int64, deleteFiles bool) error
}

// RequestResetter is the Overseerr surface used by the executor.
type RequestResetter interface {
	ResetMedia(ctx context.Context, mediaType string, tmdbID int64) (bool, error)
}

// ArrExecutor deletes media through Radarr, Sonarr and Overseerr and removes
// files from local disk. Any of the services may be absent; steps that need a
// missing service are skipped.
type ArrExecutor struct {
	radarr    MovieManager
	sonarr    SeriesManager
	overseerr RequestResetter
	remove    func(path string) error
	logger    zerolog.Logger
}

// ExecutorOption configures an ArrExecutor.
type ExecutorOption func(*ArrExecutor)

// WithRadarr sets the movie manager.
func WithRadarr(m MovieManager) ExecutorOption {
	return func(e *ArrExecutor) { e.radarr = m }
}

// WithSonarr sets the series manager.
func WithSonarr(m SeriesManager) ExecutorOption {
	return func(e *ArrExecutor) { e.sonarr = m }
}

// WithOverseerr sets the request resetter.
func WithOverseerr(r RequestResetter) ExecutorOption {
	return func(e *ArrExecutor) { e.overseerr = r }
}

// WithFileRemover replaces os.Remove.
func WithFileRemover(fn func(path string) error) ExecutorOption {
	return func(e *ArrExecutor) { e.remove = fn }
}

// NewArrExecutor creates an executor.
func NewArrExecutor(logger zerolog.Logger, opts ...ExecutorOption) *ArrExecutor {
	e := &ArrExecutor{
		remove: os.Remove,
		logger: logger.With().Str("component", "deletion").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements Executor.
func (e *ArrExecutor) Execute(ctx context.Context, item *media.Item, action media.DeletionAction) (*Result, error) {
	return e.ExecuteStream(ctx, item, action, nil)
}

// ExecuteStream implements Executor. File removal is not interrupted once
// started; cancellation is observed between steps and between files.
func (e *ArrExecutor) ExecuteStream(ctx context.Context, item *media.Item, action media.DeletionAction, emit EmitFunc) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	logger := e.logger.With().Int64("itemId", item.ID).Str("title", item.Title).Str("action", string(action)).Logger()
	result := &Result{}

	fail := func(err error) (*Result, error) {
		result.Success = false
		result.Error = err.Error()
		logger.Error().Err(err).
			Int("filesDeleted", result.FilesDeleted).
			Int("filesFailed", result.FilesFailed).
			Msg("Deletion failed")
		final := *result
		emit(Event{Stage: StageError, Message: err.Error(), Result: &final})
		return result, err
	}

	emit(Event{Stage: StageStarting, Message: fmt.Sprintf("Starting deletion of %s", item.Title)})

	if !action.Valid() {
		return fail(fmt.Errorf("%w: %q", ErrInvalidAction, action))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if action.Unmonitors() {
		emit(Event{Stage: StageUnmonitoring, Message: e.unmonitorMessage(item)})
		unmonitored, err := e.unmonitor(ctx, item)
		if err != nil {
			return fail(fmt.Errorf("failed to unmonitor: %w", err))
		}
		result.Unmonitored = unmonitored
	}

	if action.DeletesFiles() {
		total := len(item.Files)
		emit(Event{Stage: StageDeletingFiles, Message: fmt.Sprintf("Deleting %d file(s)", total)})

		for i, f := range item.Files {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			name := filepath.Base(f.Path)
			emit(Event{Stage: StageDeletingFiles, Message: "Deleting " + name,
				File: &FileProgress{Current: i + 1, Total: total, FileName: name, Status: FileDeleting}})

			err := e.remove(f.Path)
			switch {
			case err == nil:
				result.FilesDeleted++
				result.FileSizeFreed += f.Size
			case errors.Is(err, fs.ErrNotExist):
				// Already gone; nothing was freed by this run.
				result.FilesDeleted++
				err = nil
			default:
				result.FilesFailed++
				logger.Warn().Err(err).Str("path", f.Path).Msg("Failed to delete file")
			}

			fp := &FileProgress{Current: i + 1, Total: total, FileName: name, Status: FileDeleted}
			msg := "Deleted " + name
			if err != nil {
				fp.Status = FileFailed
				fp.Error = err.Error()
				msg = "Failed to delete " + name
			}
			emit(Event{Stage: StageDeletingFiles, Message: msg, File: fp})
		}

		if result.FilesFailed > 0 {
			return fail(fmt.Errorf("%d of %d files could not be deleted", result.FilesFailed, total))
		}

		if action == media.ActionFullRemoval {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			removed, err := e.removeEntry(ctx, item)
			if err != nil {
				return fail(fmt.Errorf("failed to remove from library manager: %w", err))
			}
			result.Removed = removed
			if removed {
				emit(Event{Stage: StageDeletingFiles, Message: "Removed from library manager"})
			}
		}
	}

	if item.ResetExternalRequest {
		emit(Event{Stage: StageResettingOverseerr, Message: "Resetting Overseerr request"})
		reset, err := e.resetRequest(ctx, item)
		if err != nil {
			// The media is already gone; a stale request is not worth failing for.
			logger.Warn().Err(err).Msg("Failed to reset Overseerr request")
		}
		result.OverseerrReset = reset
	}

	result.Success = true
	logger.Info().
		Int("filesDeleted", result.FilesDeleted).
		Int64("freed", result.FileSizeFreed).
		Bool("overseerrReset", result.OverseerrReset).
		Msg("Deletion complete")

	final := *result
	emit(Event{
		Stage:   StageComplete,
		Message: fmt.Sprintf("Deleted %s, freed %s", item.Title, humanize.IBytes(uint64(max(result.FileSizeFreed, 0)))),
		Result:  &final,
	})
	return result, nil
}

func (e *ArrExecutor) unmonitorMessage(item *media.Item) string {
	if item.Type == media.TypeMovie {
		return "Unmonitoring in Radarr"
	}
	return "Unmonitoring in Sonarr"
}

// unmonitor reports false when no manager or external id is available.
func (e *ArrExecutor) unmonitor(ctx context.Context, item *media.Item) (bool, error) {
	switch item.Type {
	case media.TypeMovie:
		if e.radarr == nil || item.RadarrID == nil {
			e.logger.Debug().Int64("itemId", item.ID).Msg("Radarr unavailable for item, skipping unmonitor")
			return false, nil
		}
		return true, e.radarr.UnmonitorMovie(ctx, *item.RadarrID)
	case media.TypeEpisode:
		if e.sonarr == nil || item.SonarrID == nil {
			return false, nil
		}
		return true, e.sonarr.UnmonitorEpisode(ctx, *item.SonarrID)
	default:
		if e.sonarr == nil || item.SonarrID == nil {
			e.logger.Debug().Int64("itemId", item.ID).Msg("Sonarr unavailable for item, skipping unmonitor")
			return false, nil
		}
		return true, e.sonarr.UnmonitorSeries(ctx, *item.SonarrID)
	}
}

// removeEntry drops the item from Radarr or Sonarr. Episodes are never
// removed on their own since that would take the whole series with them.
func (e *ArrExecutor) removeEntry(ctx context.Context, item *media.Item) (bool, error) {
	switch item.Type {
	case media.TypeMovie:
		if e.radarr == nil || item.RadarrID == nil {
			return false, nil
		}
		return true, e.radarr.DeleteMovie(ctx, *item.RadarrID, false)
	case media.TypeShow:
		if e.sonarr == nil || item.SonarrID == nil {
			return false, nil
		}
		return true, e.sonarr.DeleteSeries(ctx, *item.SonarrID, false)
	}
	return false, nil
}

func (e *ArrExecutor) resetRequest(ctx context.Context, item *media.Item) (bool, error) {
	if e.overseerr == nil || item.TmdbID == nil {
		return false, nil
	}
	mediaType := "tv"
	if item.Type == media.TypeMovie {
		mediaType = "movie"
	}
	return e.overseerr.ResetMedia(ctx, mediaType, *item.TmdbID)
}
