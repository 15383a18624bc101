package history

import (
	"context"

	"github.com/reclaimarr/reclaimarr/internal/media"
)

// LogMarked logs an item entering or being re-marked in the deletion queue.
func (s *Service) LogMarked(ctx context.Context, item *media.Item, source string, data MarkedData) error {
	return s.Log(ctx, EventTypeMarked, MediaType(item.Type), item.ID, item.Title, source, data)
}

// LogUnmarked logs an item leaving the deletion queue without being deleted.
func (s *Service) LogUnmarked(ctx context.Context, item *media.Item, source, reason string) error {
	return s.Log(ctx, EventTypeUnmarked, MediaType(item.Type), item.ID, item.Title, source, ReasonData{Reason: reason})
}

// LogProtected logs an item becoming protected.
func (s *Service) LogProtected(ctx context.Context, item *media.Item, source, reason string) error {
	return s.Log(ctx, EventTypeProtected, MediaType(item.Type), item.ID, item.Title, source, ReasonData{Reason: reason})
}

// LogUnprotected logs protection being lifted from an item.
func (s *Service) LogUnprotected(ctx context.Context, item *media.Item, source string) error {
	return s.Log(ctx, EventTypeUnprotected, MediaType(item.Type), item.ID, item.Title, source, nil)
}

// LogDeleted logs a completed deletion.
func (s *Service) LogDeleted(ctx context.Context, item *media.Item, source string, data DeletedData) error {
	return s.Log(ctx, EventTypeDeleted, MediaType(item.Type), item.ID, item.Title, source, data)
}

// LogDeletionFailed logs a deletion that failed or was interrupted. Partial
// progress is recorded in data.
func (s *Service) LogDeletionFailed(ctx context.Context, item *media.Item, source string, data DeletedData) error {
	return s.Log(ctx, EventTypeDeletionFailed, MediaType(item.Type), item.ID, item.Title, source, data)
}

// LogRuleMatched logs a match of a rule that only reports.
func (s *Service) LogRuleMatched(ctx context.Context, item *media.Item, ruleName string) error {
	return s.Log(ctx, EventTypeRuleMatched, MediaType(item.Type), item.ID, item.Title, SourceRule,
		map[string]any{"ruleName": ruleName})
}
