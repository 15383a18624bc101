package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/history"
	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
)

var (
	ErrProtected        = errors.New("item is protected")
	ErrAlreadyProtected = errors.New("item is already protected")
	ErrNotProtected     = errors.New("item is not protected")
	ErrNotQueued        = errors.New("item is not in the deletion queue")
	ErrAlreadyDeleted   = errors.New("item has already been deleted")
	ErrInvalidOptions   = errors.New("invalid mark options")
	ErrNoStore          = errors.New("queue requires a media store")
)

// Transition sources recorded in history and metrics.
const (
	SourceManual = history.SourceManual
	SourceRule   = history.SourceRule
)

// MarkOptions describes how an item is queued.
type MarkOptions struct {
	// GracePeriodDays is the delay before the item may be deleted. Nil uses
	// the configured default.
	GracePeriodDays *int `json:"gracePeriodDays,omitempty"`
	// DeletionAction is the cleanup to perform; empty uses the default.
	DeletionAction       media.DeletionAction `json:"deletionAction,omitempty"`
	ResetExternalRequest bool                 `json:"resetExternalRequest"`
	RuleID               *int64               `json:"ruleId,omitempty"`
	RuleName             string               `json:"-"`
	// Source is recorded with the transition; empty means manual.
	Source string `json:"-"`
}

// ItemError explains why one id of a bulk operation did not succeed.
type ItemError struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult partitions the ids of a bulk operation. Every distinct id lands
// in exactly one of the three lists.
type BulkResult struct {
	Success []int64     `json:"success"`
	Failed  []ItemError `json:"failed"`
	Skipped []ItemError `json:"skipped"`
}

func newBulkResult() *BulkResult {
	return &BulkResult{Success: []int64{}, Failed: []ItemError{}, Skipped: []ItemError{}}
}

// add files id under the partition err belongs to. Conflicts with the
// item's current state are skips; anything else is a failure.
func (r *BulkResult) add(id int64, err error) {
	switch {
	case err == nil:
		r.Success = append(r.Success, id)
	case errors.Is(err, ErrProtected),
		errors.Is(err, ErrAlreadyProtected),
		errors.Is(err, ErrNotProtected),
		errors.Is(err, ErrNotQueued),
		errors.Is(err, ErrAlreadyDeleted):
		r.Skipped = append(r.Skipped, ItemError{ID: id, Reason: err.Error()})
	default:
		r.Failed = append(r.Failed, ItemError{ID: id, Reason: err.Error()})
	}
}

// Stats summarizes the queue.
type Stats struct {
	Count        int        `json:"count"`
	TotalSize    int64      `json:"totalSize"`
	NextDeletion *time.Time `json:"nextDeletion,omitempty"`
}

// Service implements the deletion queue state machine. Every transition is a
// single-item update; the store makes concurrent marks of the same item
// converge without locking.
type Service struct {
	collaborators
	store  Store
	config Config
}

// NewService creates a queue service.
func NewService(store Store, cfg Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	logger = logger.With().Str("component", "queue").Logger()
	return &Service{
		collaborators: newCollaborators(logger, opts),
		store:         store,
		config:        cfg.withDefaults(),
	}, nil
}

// MarkForDeletion queues an item. Re-marking a queued item refreshes its
// expiry policy but keeps the original markedAt.
func (s *Service) MarkForDeletion(ctx context.Context, id int64, opts MarkOptions) (*media.Item, error) {
	grace := s.config.DefaultGracePeriodDays
	if opts.GracePeriodDays != nil {
		grace = *opts.GracePeriodDays
	}
	if grace < 0 {
		return nil, fmt.Errorf("%w: grace period must not be negative", ErrInvalidOptions)
	}
	if opts.DeletionAction != "" && !opts.DeletionAction.Valid() {
		return nil, fmt.Errorf("%w: unknown deletion action %q", ErrInvalidOptions, opts.DeletionAction)
	}
	source := opts.Source
	if source == "" {
		source = SourceManual
	}

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Status == media.StatusDeleted:
		return nil, ErrAlreadyDeleted
	case current.IsProtected:
		return nil, ErrProtected
	}

	action := opts.DeletionAction
	if action == "" {
		action = s.config.DefaultDeletionAction
	}

	now := s.now()
	item, err := s.store.Update(ctx, id, media.Patch{
		Enqueue: &media.QueueState{
			MarkedAt:             now,
			GracePeriod:          days(grace),
			DeletionAction:       action,
			ResetExternalRequest: opts.ResetExternalRequest,
			MatchedRuleID:        opts.RuleID,
		},
	})
	if err != nil {
		// Protected or deleted between the read and the write.
		return nil, fromStore(err)
	}

	requeued := current.IsQueued()
	s.logger.Info().
		Int64("itemId", id).
		Str("title", item.Title).
		Str("action", string(action)).
		Time("deleteAfter", *item.DeleteAfter).
		Bool("requeued", requeued).
		Str("source", source).
		Msg("Item marked for deletion")

	s.record("marked", id, s.historyMarked(ctx, item, source, opts.RuleName, requeued))
	metrics.RecordQueueTransition("marked", source)
	s.broadcast(EventItemMarked, item)
	return item, nil
}

func (s *Service) historyMarked(ctx context.Context, item *media.Item, source, ruleName string, requeued bool) error {
	if s.history == nil {
		return nil
	}
	return s.history.LogMarked(detached(ctx), item, source, history.MarkedData{
		RuleID:         item.MatchedRuleID,
		RuleName:       ruleName,
		DeletionAction: string(item.DeletionAction),
		DeleteAfter:    item.DeleteAfter.UTC().Format(time.RFC3339),
		Requeued:       requeued,
	})
}

// RemoveFromQueue returns a queued item to monitored.
func (s *Service) RemoveFromQueue(ctx context.Context, id int64) (*media.Item, error) {
	return s.unqueue(ctx, id, SourceManual, "Removed from queue")
}

// Evict removes a queued item because a rule run found it should no longer
// be deleted.
func (s *Service) Evict(ctx context.Context, id int64, reason string) (*media.Item, error) {
	return s.unqueue(ctx, id, SourceRule, reason)
}

func (s *Service) unqueue(ctx context.Context, id int64, source, reason string) (*media.Item, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsQueued() {
		return nil, ErrNotQueued
	}

	monitored := media.StatusMonitored
	item, err := s.store.Update(ctx, id, media.Patch{Status: &monitored, ClearQueue: true, RequireQueued: true})
	if err != nil {
		return nil, fromStore(err)
	}

	s.logger.Info().Int64("itemId", id).Str("title", item.Title).Str("reason", reason).Msg("Item removed from deletion queue")

	if s.history != nil {
		s.record("unmarked", id, s.history.LogUnmarked(detached(ctx), item, source, reason))
	}
	metrics.RecordQueueTransition("unmarked", source)
	s.broadcast(EventItemRemoved, item)
	return item, nil
}

// Protect exempts an item from deletion. A queued item is evicted.
func (s *Service) Protect(ctx context.Context, id int64, reason string) (*media.Item, error) {
	if reason == "" {
		reason = "Manually protected"
	}

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Status == media.StatusDeleted:
		return nil, ErrAlreadyDeleted
	case current.IsProtected:
		return nil, ErrAlreadyProtected
	}

	protected := media.StatusProtected
	item, err := s.store.Update(ctx, id, media.Patch{
		Status:     &protected,
		ClearQueue: true,
		Protection: &media.Protection{IsProtected: true, Reason: &reason},
	})
	if err != nil {
		return nil, fromStore(err)
	}

	s.logger.Info().
		Int64("itemId", id).
		Str("title", item.Title).
		Str("reason", reason).
		Bool("evicted", current.IsQueued()).
		Msg("Item protected")

	if s.history != nil {
		hctx := detached(ctx)
		if current.IsQueued() {
			s.record("unmarked", id, s.history.LogUnmarked(hctx, item, SourceManual, "Protected: "+reason))
		}
		s.record("protected", id, s.history.LogProtected(hctx, item, SourceManual, reason))
	}
	if current.IsQueued() {
		metrics.RecordQueueTransition("unmarked", SourceManual)
	}
	metrics.RecordQueueTransition("protected", SourceManual)
	s.broadcast(EventItemProtected, item)
	return item, nil
}

// Unprotect lifts protection. The item is not re-queued.
func (s *Service) Unprotect(ctx context.Context, id int64) (*media.Item, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsProtected {
		return nil, ErrNotProtected
	}

	patch := media.Patch{Protection: &media.Protection{IsProtected: false}}
	if current.Status == media.StatusProtected {
		monitored := media.StatusMonitored
		patch.Status = &monitored
	}
	item, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return nil, fromStore(err)
	}

	s.logger.Info().Int64("itemId", id).Str("title", item.Title).Msg("Item unprotected")

	if s.history != nil {
		s.record("unprotected", id, s.history.LogUnprotected(detached(ctx), item, SourceManual))
	}
	metrics.RecordQueueTransition("unprotected", SourceManual)
	s.broadcast(EventItemUnprotected, item)
	return item, nil
}

// BulkMarkForDeletion marks every id with the same options.
func (s *Service) BulkMarkForDeletion(ctx context.Context, ids []int64, opts MarkOptions) *BulkResult {
	return s.bulk(ids, func(id int64) error {
		_, err := s.MarkForDeletion(ctx, id, opts)
		return err
	})
}

// BulkRemoveFromQueue removes every id from the queue.
func (s *Service) BulkRemoveFromQueue(ctx context.Context, ids []int64) *BulkResult {
	return s.bulk(ids, func(id int64) error {
		_, err := s.RemoveFromQueue(ctx, id)
		return err
	})
}

// BulkProtect protects every id with the same reason.
func (s *Service) BulkProtect(ctx context.Context, ids []int64, reason string) *BulkResult {
	return s.bulk(ids, func(id int64) error {
		_, err := s.Protect(ctx, id, reason)
		return err
	})
}

// BulkUnprotect lifts protection from every id.
func (s *Service) BulkUnprotect(ctx context.Context, ids []int64) *BulkResult {
	return s.bulk(ids, func(id int64) error {
		_, err := s.Unprotect(ctx, id)
		return err
	})
}

// bulk applies fn to each distinct id in order. Duplicate ids are applied once.
func (s *Service) bulk(ids []int64, fn func(id int64) error) *BulkResult {
	result := newBulkResult()
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		result.add(id, fn(id))
	}

	s.logger.Debug().
		Int("success", len(result.Success)).
		Int("failed", len(result.Failed)).
		Int("skipped", len(result.Skipped)).
		Msg("Bulk queue operation complete")
	return result
}

// List returns the queue ordered by expiry, soonest first.
func (s *Service) List(ctx context.Context) ([]*media.Item, error) {
	items, err := s.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*media.Item{}
	}
	metrics.SetQueueSize(int64(len(items)))
	return items, nil
}

// Stats summarizes the queue.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Count: len(items)}
	for _, item := range items {
		if item.FileSize != nil {
			stats.TotalSize += *item.FileSize
		}
		if item.DeleteAfter != nil && (stats.NextDeletion == nil || item.DeleteAfter.Before(*stats.NextDeletion)) {
			t := *item.DeleteAfter
			stats.NextDeletion = &t
		}
	}
	return stats, nil
}

// fromStore translates the store's guarded-update refusals into queue errors.
func fromStore(err error) error {
	switch {
	case errors.Is(err, media.ErrItemDeleted):
		return ErrAlreadyDeleted
	case errors.Is(err, media.ErrItemNotQueued):
		return ErrNotQueued
	case errors.Is(err, media.ErrItemProtected):
		return ErrProtected
	}
	return err
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
