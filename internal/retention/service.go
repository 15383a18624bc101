// Package retention runs the retention rules against the library and applies
// the verdicts to the deletion queue.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
	"github.com/reclaimarr/reclaimarr/internal/progress"
	"github.com/reclaimarr/reclaimarr/internal/queue"
	"github.com/reclaimarr/reclaimarr/internal/rules"
)

var (
	ErrRunInProgress = errors.New("rule evaluation already in progress")
	ErrMissingDeps   = errors.New("retention service requires an engine, rule source, item source and queue")
)

// RuleSource supplies the rules to evaluate.
type RuleSource interface {
	GetEnabledRules(ctx context.Context) ([]*rules.Rule, error)
}

// ItemSource supplies the items to evaluate.
type ItemSource interface {
	GetItemsForEvaluation(ctx context.Context, limit int) ([]*media.Item, error)
}

// Queue applies verdicts.
type Queue interface {
	MarkForDeletion(ctx context.Context, id int64, opts queue.MarkOptions) (*media.Item, error)
	Evict(ctx context.Context, id int64, reason string) (*media.Item, error)
}

// Notifier reports matches of notify rules.
type Notifier interface {
	RuleMatched(ctx context.Context, item *media.Item, ruleID int64, ruleName, reason string)
}

// History records matches of notify rules.
type History interface {
	LogRuleMatched(ctx context.Context, item *media.Item, ruleName string) error
}

// RunResult describes what one evaluation run changed.
type RunResult struct {
	Summary *rules.Summary `json:"summary"`
	DryRun  bool           `json:"dryRun"`
	// Marked counts items queued or re-queued with a changed policy.
	Marked int `json:"marked"`
	// Unchanged counts flagged items already queued with the same policy.
	Unchanged int               `json:"unchanged"`
	Evicted   int               `json:"evicted"`
	Notified  int               `json:"notified"`
	Errors    []queue.ItemError `json:"errors"`
	Duration  time.Duration     `json:"duration"`
}

// Service orchestrates a rule evaluation run.
type Service struct {
	engine   *rules.Engine
	rules    RuleSource
	items    ItemSource
	queue    Queue
	notifier Notifier
	history  History
	progress *progress.Manager
	logger   zerolog.Logger

	running sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier reports notify-rule matches to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithHistory records notify-rule matches in h.
func WithHistory(h History) Option {
	return func(s *Service) { s.history = h }
}

// WithProgress tracks runs in m.
func WithProgress(m *progress.Manager) Option {
	return func(s *Service) { s.progress = m }
}

// NewService creates a retention service.
func NewService(engine *rules.Engine, ruleSource RuleSource, items ItemSource, q Queue, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if engine == nil || ruleSource == nil || items == nil || q == nil {
		return nil, ErrMissingDeps
	}
	s := &Service{
		engine: engine,
		rules:  ruleSource,
		items:  items,
		queue:  q,
		logger: logger.With().Str("component", "retention").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run evaluates the enabled rules and applies the verdicts, unless the engine
// is configured for a dry run.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	return s.run(ctx, s.engine.Config().DryRun)
}

// Preview evaluates the enabled rules without touching the queue.
func (s *Service) Preview(ctx context.Context) (*RunResult, error) {
	return s.run(ctx, true)
}

func (s *Service) run(ctx context.Context, dryRun bool) (*RunResult, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	start := time.Now()
	cfg := s.engine.Config()

	enabled, err := s.rules.GetEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	items, err := s.items.GetItemsForEvaluation(ctx, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load media items: %w", err)
	}

	var activity *progress.ActivityBuilder
	if s.progress != nil {
		activity = s.progress.NewActivityBuilder("", progress.ActivityTypeEvaluation, "Evaluating retention rules")
		activity.Update(fmt.Sprintf("Evaluating %d items against %d rules", len(items), len(enabled)), -1)
	}

	summary := s.engine.EvaluateAll(items, enabled)
	metrics.RecordEvaluation(summary.Flagged, summary.Protected, summary.Ignored, summary.Failed, summary.Duration)

	result := &RunResult{Summary: summary, DryRun: dryRun, Errors: []queue.ItemError{}}

	byID := make(map[int64]*media.Item, len(items))
	for _, item := range items {
		if item != nil {
			byID[item.ID] = item
		}
	}

	for i, r := range summary.Results {
		if ctx.Err() != nil {
			break
		}
		item, ok := byID[r.ItemID]
		if !ok {
			continue
		}
		if activity != nil && i%50 == 0 {
			activity.Update("Applying verdicts", progress.Percent(i, len(summary.Results)))
		}
		if err := s.apply(ctx, item, r, dryRun, result); err != nil {
			s.logger.Error().Err(err).Int64("itemId", item.ID).Str("title", item.Title).Msg("Failed to apply rule verdict")
			result.Errors = append(result.Errors, queue.ItemError{ID: item.ID, Reason: err.Error()})
		}
	}

	result.Duration = time.Since(start)

	if activity != nil {
		if err := ctx.Err(); err != nil {
			activity.Fail(err.Error())
		} else {
			activity.SetMetadata("flagged", summary.Flagged).SetMetadata("marked", result.Marked)
			activity.Complete(fmt.Sprintf("Flagged %d of %d items", summary.Flagged, summary.Evaluated))
		}
	}

	s.logger.Info().
		Int("rules", len(enabled)).
		Int("evaluated", summary.Evaluated).
		Int("marked", result.Marked).
		Int("unchanged", result.Unchanged).
		Int("evicted", result.Evicted).
		Int("notified", result.Notified).
		Int("errors", len(result.Errors)).
		Bool("dryRun", dryRun).
		Dur("duration", result.Duration).
		Msg("Retention run complete")

	return result, ctx.Err()
}

func (s *Service) apply(ctx context.Context, item *media.Item, r rules.Result, dryRun bool, result *RunResult) error {
	switch {
	case r.Action == rules.ActionProtect:
		// Protection pre-empts the queue; a protect verdict on a queued item
		// takes it out again.
		if !item.IsQueued() {
			return nil
		}
		if !dryRun {
			if _, err := s.queue.Evict(ctx, item.ID, r.Reason); err != nil && !errors.Is(err, queue.ErrNotQueued) {
				return err
			}
		}
		result.Evicted++

	case r.Matched && r.Action == rules.ActionMarkForDeletion:
		if samePolicy(item, r.Rule) {
			result.Unchanged++
			return nil
		}
		if !dryRun {
			grace := r.Rule.GracePeriodDays
			ruleID := r.Rule.ID
			_, err := s.queue.MarkForDeletion(ctx, item.ID, queue.MarkOptions{
				GracePeriodDays:      &grace,
				DeletionAction:       r.Rule.DeletionAction,
				ResetExternalRequest: r.Rule.ResetExternalRequest,
				RuleID:               &ruleID,
				RuleName:             r.Rule.Name,
				Source:               queue.SourceRule,
			})
			if errors.Is(err, queue.ErrProtected) {
				// Protected since the items were loaded.
				return nil
			}
			if err != nil {
				return err
			}
		}
		result.Marked++

	case r.Matched && r.Rule != nil && r.Rule.Notifies():
		if dryRun {
			result.Notified++
			return nil
		}
		if s.notifier != nil {
			s.notifier.RuleMatched(ctx, item, r.Rule.ID, r.Rule.Name, r.Reason)
		}
		if s.history != nil {
			if err := s.history.LogRuleMatched(context.WithoutCancel(ctx), item, r.Rule.Name); err != nil {
				s.logger.Warn().Err(err).Int64("itemId", item.ID).Msg("Failed to record rule match")
			}
		}
		result.Notified++
	}
	return nil
}

// samePolicy reports whether item is already queued by rule with the policy
// the rule would apply now, grace period included. Such a re-mark would
// change nothing but the history.
func samePolicy(item *media.Item, rule *rules.Rule) bool {
	if !item.IsQueued() || item.MarkedAt == nil || item.DeleteAfter == nil {
		return false
	}
	grace := time.Duration(rule.GracePeriodDays) * 24 * time.Hour
	return item.MatchedRuleID != nil && *item.MatchedRuleID == rule.ID &&
		item.DeletionAction == rule.DeletionAction &&
		item.ResetExternalRequest == rule.ResetExternalRequest &&
		item.DeleteAfter.Sub(*item.MarkedAt) == grace
}
