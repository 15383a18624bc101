package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/deletion"
	"github.com/reclaimarr/reclaimarr/internal/history"
	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
	"github.com/reclaimarr/reclaimarr/internal/notification"
	"github.com/reclaimarr/reclaimarr/internal/progress"
)

var (
	ErrSweepInProgress = errors.New("queue sweep already in progress")
	ErrNoExecutor      = errors.New("queue processor requires a deletion executor")
)

// SweepResult summarizes one pass over the expired part of the queue.
type SweepResult struct {
	Processed  int           `json:"processed"`
	Deleted    int           `json:"deleted"`
	Failed     int           `json:"failed"`
	FreedSpace int64         `json:"freedSpace"`
	Errors     []ItemError   `json:"errors"`
	Duration   time.Duration `json:"duration"`
}

// Processor executes deletions for queued items.
type Processor struct {
	collaborators
	store    Store
	executor deletion.Executor
	config   Config

	sweeping sync.Mutex
}

// NewProcessor creates a queue processor.
func NewProcessor(store Store, executor deletion.Executor, cfg Config, logger zerolog.Logger, opts ...Option) (*Processor, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if executor == nil {
		return nil, ErrNoExecutor
	}
	logger = logger.With().Str("component", "queue-processor").Logger()
	return &Processor{
		collaborators: newCollaborators(logger, opts),
		store:         store,
		executor:      executor,
		config:        cfg.withDefaults(),
	}, nil
}

// ProcessQueue deletes every queued item whose grace period has ended. Items
// are handled one at a time, each under its own timeout; a failure leaves the
// item queued for the next sweep. Only one sweep runs at a time.
func (p *Processor) ProcessQueue(ctx context.Context) (*SweepResult, error) {
	if !p.sweeping.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer p.sweeping.Unlock()

	start := time.Now()
	expired, err := p.store.ListExpired(ctx, p.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired queue items: %w", err)
	}

	result := &SweepResult{Errors: []ItemError{}}
	if len(expired) == 0 {
		p.logger.Debug().Msg("No expired items in deletion queue")
		result.Duration = time.Since(start)
		metrics.RecordSweep(result.Duration)
		return result, nil
	}

	p.logger.Info().Int("count", len(expired)).Msg("Processing expired deletion queue items")

	var activity *progress.ActivityBuilder
	if p.progress != nil {
		activity = p.progress.NewActivityBuilder("", progress.ActivityTypeSweep, "Processing deletion queue")
	}

	for i, candidate := range expired {
		if ctx.Err() != nil {
			break
		}
		if activity != nil {
			activity.Update("Deleting "+candidate.Title, progress.Percent(i, len(expired)))
		}

		outcome, err := p.sweepItem(ctx, candidate.ID)
		switch {
		case outcome == nil:
			// No longer eligible; another transition got there first.
			continue
		case err != nil:
			result.Processed++
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ID: candidate.ID, Reason: err.Error()})
		default:
			result.Processed++
			result.Deleted++
			result.FreedSpace += outcome.FileSizeFreed
		}
	}

	result.Duration = time.Since(start)
	metrics.RecordSweep(result.Duration)
	if pending, err := p.store.ListPending(ctx); err == nil {
		metrics.SetQueueSize(int64(len(pending)))
	}

	summary := fmt.Sprintf("Deleted %d of %d items, freed %s",
		result.Deleted, result.Processed, humanize.IBytes(uint64(max(result.FreedSpace, 0))))
	if activity != nil {
		activity.SetMetadata("deleted", result.Deleted).SetMetadata("failed", result.Failed)
		if err := ctx.Err(); err != nil {
			activity.Fail(err.Error())
		} else {
			activity.Complete(summary)
		}
	}

	p.logger.Info().
		Int("processed", result.Processed).
		Int("deleted", result.Deleted).
		Int("failed", result.Failed).
		Int64("freed", result.FreedSpace).
		Dur("duration", result.Duration).
		Msg("Deletion queue sweep complete")

	if p.notifier != nil {
		p.notifier.SweepCompleted(detached(ctx), notification.SweepEvent{
			Processed:   result.Processed,
			Deleted:     result.Deleted,
			Failed:      result.Failed,
			FreedSpace:  result.FreedSpace,
			Duration:    result.Duration,
			CompletedAt: p.now(),
		})
	}
	p.broadcast(EventSweepCompleted, result)

	return result, ctx.Err()
}

// sweepItem re-reads the item and deletes it if it is still due. A nil
// result with a nil error means the item was skipped.
func (p *Processor) sweepItem(ctx context.Context, id int64) (*deletion.Result, error) {
	item, err := p.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, media.ErrItemNotFound) {
			return nil, nil
		}
		return &deletion.Result{}, err
	}
	if !item.IsQueued() || item.IsProtected || item.DeleteAfter == nil || item.DeleteAfter.After(p.now()) {
		p.logger.Debug().Int64("itemId", id).Msg("Item no longer due for deletion, skipping")
		return nil, nil
	}

	action := p.resolveAction(item, "")

	itemCtx, cancel := context.WithTimeout(ctx, p.config.ItemTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.executor.Execute(itemCtx, item, action)
	if res == nil {
		res = &deletion.Result{}
	}
	if err == nil && !res.Success {
		err = errors.New(res.Error)
	}
	p.finish(ctx, item, action, history.SourceSweep, res, err, time.Since(start))
	return res, err
}

// DeleteNow deletes one item immediately, bypassing its grace period, and
// streams progress on the returned channel. The item need not be queued.
//
// Validation failures are returned synchronously. Otherwise the channel
// receives every stage in order and is closed after the terminal event, which
// is only sent once the outcome has been persisted. Cancelling ctx stops
// emission and aborts the deletion between steps; whatever already happened
// is still recorded.
func (p *Processor) DeleteNow(ctx context.Context, id int64, action media.DeletionAction) (<-chan deletion.Event, error) {
	if action != "" && !action.Valid() {
		return nil, fmt.Errorf("%w: %q", deletion.ErrInvalidAction, action)
	}

	item, err := p.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case item.Status == media.StatusDeleted:
		return nil, ErrAlreadyDeleted
	case item.IsProtected:
		return nil, ErrProtected
	}
	action = p.resolveAction(item, action)

	events := make(chan deletion.Event, p.config.StreamBuffer)
	emit := func(ev deletion.Event) {
		if ctx.Err() != nil {
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	p.logger.Info().Int64("itemId", id).Str("title", item.Title).Str("action", string(action)).Msg("Immediate deletion requested")

	go func() {
		defer close(events)

		var activity *progress.ActivityBuilder
		if p.progress != nil {
			activity = p.progress.NewActivityBuilder("", progress.ActivityTypeDeletion, "Deleting "+item.Title)
		}

		var terminal *deletion.Event
		start := time.Now()
		res, err := p.executor.ExecuteStream(ctx, item, action, func(ev deletion.Event) {
			if ev.Stage.Terminal() {
				held := ev
				terminal = &held
				return
			}
			if activity != nil {
				activity.Update(ev.Message, -1)
			}
			emit(ev)
		})
		if res == nil {
			res = &deletion.Result{}
		}
		if err == nil && !res.Success {
			err = errors.New(res.Error)
		}

		p.finish(ctx, item, action, history.SourceImmediate, res, err, time.Since(start))

		if activity != nil {
			if err != nil {
				activity.Fail(err.Error())
			} else {
				activity.Complete("Deleted " + item.Title)
			}
		}

		if terminal == nil {
			terminal = &deletion.Event{Stage: deletion.StageComplete, Message: "Deleted " + item.Title, Result: res}
			if err != nil {
				terminal = &deletion.Event{Stage: deletion.StageError, Message: err.Error(), Result: res}
			}
		}
		emit(*terminal)
	}()

	return events, nil
}

// finish persists the outcome of one deletion. It runs detached from ctx so a
// cancelled request still leaves an accurate record.
func (p *Processor) finish(ctx context.Context, item *media.Item, action media.DeletionAction, source string, res *deletion.Result, execErr error, d time.Duration) {
	dctx := detached(ctx)
	metrics.RecordDeletion(string(action), execErr == nil, res.FileSizeFreed, d)

	data := history.DeletedData{
		DeletionAction: string(action),
		FileSizeFreed:  res.FileSizeFreed,
		FilesDeleted:   res.FilesDeleted,
		FilesFailed:    res.FilesFailed,
		OverseerrReset: res.OverseerrReset,
	}

	if execErr != nil {
		data.Error = execErr.Error()
		p.logger.Warn().Err(execErr).
			Int64("itemId", item.ID).
			Str("title", item.Title).
			Str("source", source).
			Msg("Deletion failed, item left in place")
		if p.history != nil {
			p.record("deletion_failed", item.ID, p.history.LogDeletionFailed(dctx, item, source, data))
		}
		if p.notifier != nil {
			p.notifier.DeletionFailed(dctx, item, action, source, res, execErr)
		}
		return
	}

	deleted := media.StatusDeleted
	updated, err := p.store.Update(dctx, item.ID, media.Patch{Status: &deleted, ClearQueue: true})
	switch {
	case errors.Is(err, media.ErrItemDeleted):
		// A concurrent deletion of the same item finished first and owns the record.
		p.logger.Info().Int64("itemId", item.ID).Str("source", source).Msg("Item already recorded as deleted")
		return
	case err != nil:
		p.logger.Error().Err(err).Int64("itemId", item.ID).Msg("Failed to mark item deleted")
		updated = item
	}

	if p.history != nil {
		p.record("deleted", item.ID, p.history.LogDeleted(dctx, item, source, data))
	}
	metrics.RecordQueueTransition("deleted", source)
	if p.notifier != nil {
		p.notifier.DeletionCompleted(dctx, item, action, source, res)
	}
	p.broadcast(EventItemDeleted, updated)
}

func (p *Processor) resolveAction(item *media.Item, requested media.DeletionAction) media.DeletionAction {
	switch {
	case requested != "":
		return requested
	case item.DeletionAction.Valid():
		return item.DeletionAction
	default:
		return p.config.DefaultDeletionAction
	}
}
