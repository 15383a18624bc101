// Package notification delivers retention events to external notifiers.
// Delivery is fire-and-forget: failures are logged and never reach the
// caller.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/deletion"
	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/notification/types"
)

var ErrInvalidSettings = errors.New("invalid notification settings")

type registration struct {
	notifier Notifier
	events   map[EventType]bool
}

// newRegistration subscribes n to events, or to every event when events is empty.
func newRegistration(n Notifier, events []EventType) *registration {
	if len(events) == 0 {
		events = types.AllEventTypes
	}
	subscribed := make(map[EventType]bool, len(events))
	for _, e := range events {
		subscribed[e] = true
	}
	return &registration{notifier: n, events: subscribed}
}

// Service orchestrates notification sending
type Service struct {
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time

	mu   sync.RWMutex
	regs []*registration

	wg sync.WaitGroup
}

// NewService creates a notification service with the notifiers enabled in cfg.
func NewService(cfg Config, logger zerolog.Logger) (*Service, error) {
	s := newService(cfg.Timeout, logger)
	regs, err := NewFactory(cfg.Timeout, logger).build(cfg)
	if err != nil {
		return nil, err
	}
	s.regs = regs
	for _, r := range regs {
		s.logger.Info().Str("notifier", r.notifier.Name()).Msg("Notifier enabled")
	}
	return s, nil
}

func newService(timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		logger:  logger.With().Str("component", "notification").Logger(),
		timeout: timeout,
		now:     time.Now,
	}
}

// Register adds a notifier subscribed to events, or to all events when none
// are given.
func (s *Service) Register(n Notifier, events ...EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs = append(s.regs, newRegistration(n, events))
}

// List returns the registered notifiers.
func (s *Service) List() []NotifierInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]NotifierInfo, 0, len(s.regs))
	for _, r := range s.regs {
		info := NotifierInfo{Name: r.notifier.Name(), Type: r.notifier.Type()}
		for _, e := range types.AllEventTypes {
			if r.events[e] {
				info.Events = append(info.Events, e)
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// Test sends a test notification through every registered notifier and
// waits for the results.
func (s *Service) Test(ctx context.Context) []TestResult {
	s.mu.RLock()
	regs := append([]*registration(nil), s.regs...)
	s.mu.RUnlock()

	results := make([]TestResult, len(regs))
	var wg sync.WaitGroup
	for i, r := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			res := TestResult{Name: r.notifier.Name(), Success: true, Message: "Notification test successful"}
			if err := r.notifier.Test(ctx); err != nil {
				res.Success = false
				res.Message = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()
	return results
}

// Dispatch sends an event to all notifiers that subscribe to it. Each
// delivery runs in its own goroutine and outlives cancellation of ctx.
func (s *Service) Dispatch(ctx context.Context, eventType EventType, event any) {
	s.mu.RLock()
	var targets []Notifier
	for _, r := range s.regs {
		if r.events[eventType] {
			targets = append(targets, r.notifier)
		}
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	s.logger.Debug().
		Str("event", string(eventType)).
		Int("count", len(targets)).
		Msg("Dispatching notification event")

	ctx = context.WithoutCancel(ctx)
	for _, n := range targets {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sendNotification(ctx, n, eventType, event)
		}()
	}
}

// Wait blocks until every dispatched notification has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) sendNotification(ctx context.Context, n Notifier, eventType EventType, event any) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("name", n.Name()).Msg("Notifier panicked")
		}
	}()

	var sendErr error
	switch eventType {
	case EventDeletionCompleted:
		if e, ok := event.(DeletionEvent); ok {
			sendErr = n.OnDeletionCompleted(ctx, e)
		}
	case EventDeletionFailed:
		if e, ok := event.(DeletionEvent); ok {
			sendErr = n.OnDeletionFailed(ctx, e)
		}
	case EventRuleMatched:
		if e, ok := event.(RuleMatchEvent); ok {
			sendErr = n.OnRuleMatched(ctx, e)
		}
	case EventSweepCompleted:
		if e, ok := event.(SweepEvent); ok {
			sendErr = n.OnSweepCompleted(ctx, e)
		}
	}

	if sendErr != nil {
		s.logger.Error().
			Err(sendErr).
			Str("name", n.Name()).
			Str("type", string(n.Type())).
			Str("event", string(eventType)).
			Msg("Notification failed")
		return
	}

	s.logger.Debug().
		Str("name", n.Name()).
		Str("event", string(eventType)).
		Msg("Notification sent successfully")
}

// DeletionCompleted reports a successful deletion.
func (s *Service) DeletionCompleted(ctx context.Context, item *media.Item, action media.DeletionAction, source string, result *deletion.Result) {
	s.Dispatch(ctx, EventDeletionCompleted, s.deletionEvent(item, action, source, result, nil))
}

// DeletionFailed reports a deletion that failed or was interrupted.
func (s *Service) DeletionFailed(ctx context.Context, item *media.Item, action media.DeletionAction, source string, result *deletion.Result, err error) {
	s.Dispatch(ctx, EventDeletionFailed, s.deletionEvent(item, action, source, result, err))
}

// RuleMatched reports a notify rule match.
func (s *Service) RuleMatched(ctx context.Context, item *media.Item, ruleID int64, ruleName, reason string) {
	s.Dispatch(ctx, EventRuleMatched, RuleMatchEvent{
		Media:     MediaFromItem(item),
		RuleID:    ruleID,
		RuleName:  ruleName,
		Reason:    reason,
		MatchedAt: s.now(),
	})
}

// SweepCompleted reports a queue sweep that processed at least one item.
func (s *Service) SweepCompleted(ctx context.Context, event SweepEvent) {
	if event.Processed == 0 {
		return
	}
	if event.CompletedAt.IsZero() {
		event.CompletedAt = s.now()
	}
	s.Dispatch(ctx, EventSweepCompleted, event)
}

func (s *Service) deletionEvent(item *media.Item, action media.DeletionAction, source string, result *deletion.Result, err error) DeletionEvent {
	event := DeletionEvent{
		Media:          MediaFromItem(item),
		DeletionAction: string(action),
		Source:         source,
		OccurredAt:     s.now(),
	}
	if result != nil {
		event.FileSizeFreed = result.FileSizeFreed
		event.FilesDeleted = result.FilesDeleted
		event.FilesFailed = result.FilesFailed
		event.OverseerrReset = result.OverseerrReset
		event.Error = result.Error
	}
	if err != nil && event.Error == "" {
		event.Error = err.Error()
	}
	return event
}

// MediaFromItem converts a media item into notification metadata.
func MediaFromItem(item *media.Item) MediaInfo {
	if item == nil {
		return MediaInfo{}
	}
	info := MediaInfo{
		ID:     item.ID,
		Title:  item.Title,
		Type:   string(item.Type),
		IMDbID: item.ImdbID,
		Genres: item.Genres,
	}
	if item.TmdbID != nil {
		info.TMDbID = *item.TmdbID
	}
	if item.TvdbID != nil {
		info.TVDbID = *item.TvdbID
	}
	if item.FileSize != nil {
		info.FileSize = *item.FileSize
	}
	return info
}
