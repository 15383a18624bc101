package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/media"
)

// Config holds rule evaluation settings.
type Config struct {
	// BatchSize caps how many items one evaluation run loads. Zero means all.
	BatchSize int `json:"batchSize" mapstructure:"batch_size"`
	// DryRun evaluates without changing the queue.
	DryRun bool `json:"dryRun" mapstructure:"dry_run"`
}

// Engine evaluates retention rules against media items. Protection always
// runs first and pre-empts every rule.
type Engine struct {
	evaluator ConditionEvaluator
	logger    zerolog.Logger
	now       func() time.Time

	mu         sync.RWMutex
	config     Config
	protection ProtectionConfig
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEvaluator overrides the condition evaluator.
func WithEvaluator(ev ConditionEvaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// NewEngine creates a rule engine.
func NewEngine(cfg Config, protection ProtectionConfig, logger zerolog.Logger, opts ...Option) *Engine {
	logger = logger.With().Str("component", "rules").Logger()
	e := &Engine{
		logger:     logger,
		now:        time.Now,
		config:     cfg,
		protection: protection.clone(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.evaluator == nil {
		e.evaluator = NewEvaluator(logger)
	}
	return e
}

// Config returns the current evaluation settings.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// UpdateConfig replaces the evaluation settings.
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	e.config = cfg
	e.mu.Unlock()
}

// ProtectionConfig returns a copy of the current protection settings.
func (e *Engine) ProtectionConfig() ProtectionConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.protection.clone()
}

// UpdateProtectionConfig replaces the protection settings. The engine never
// persists them.
func (e *Engine) UpdateProtectionConfig(cfg ProtectionConfig) {
	e.mu.Lock()
	e.protection = cfg.clone()
	e.mu.Unlock()

	e.logger.Info().
		Bool("recentlyAdded", cfg.ProtectRecentlyAdded).
		Int("recentlyAddedDays", cfg.RecentlyAddedDays).
		Bool("recentlyWatched", cfg.ProtectRecentlyWatched).
		Int("recentlyWatchedDays", cfg.RecentlyWatchedDays).
		Bool("inProgress", cfg.ProtectInProgress).
		Strs("genres", cfg.ProtectedGenres).
		Strs("tags", cfg.ProtectedTags).
		Msg("Protection config updated")
}

// EvaluateItem runs protection and then the rules, in the order given, against
// one item. Disabled rules are skipped and the first matching rule wins.
func (e *Engine) EvaluateItem(item *media.Item, rules []*Rule) Result {
	return e.evaluateItem(item, rules, e.now(), e.ProtectionConfig())
}

func (e *Engine) evaluateItem(item *media.Item, rules []*Rule, now time.Time, protection ProtectionConfig) Result {
	result := Result{ItemID: item.ID}

	if verdict := ApplyProtection(item, protection, now); verdict.IsProtected {
		result.Action = ActionProtect
		result.Reason = verdict.Reason
		return result
	}

	for _, rule := range rules {
		if rule == nil || !rule.Enabled || !rule.MediaTypeScope.Includes(item.Type) {
			continue
		}

		matched, conds := e.matchRule(item, rule, now)
		if !matched {
			continue
		}

		result.Matched = true
		result.Rule = rule
		result.Action = rule.EngineAction()
		result.MatchedConditions = conds
		result.Reason = fmt.Sprintf("Matched rule %q", rule.Name)
		return result
	}

	return result
}

// matchRule combines a rule's conditions with its logic, short-circuiting.
// A rule without conditions never matches.
func (e *Engine) matchRule(item *media.Item, rule *Rule, now time.Time) (bool, []Condition) {
	if len(rule.Conditions) == 0 {
		return false, nil
	}

	if rule.Logic == LogicOr {
		for _, cond := range rule.Conditions {
			if e.evaluator.Evaluate(item, cond, now) {
				return true, []Condition{cond}
			}
		}
		return false, nil
	}

	for _, cond := range rule.Conditions {
		if !e.evaluator.Evaluate(item, cond, now) {
			return false, nil
		}
	}
	return true, rule.Conditions
}

// EvaluateAll evaluates every item and aggregates the outcome. An empty rule
// set yields an empty summary. A panic while evaluating one item is logged and
// counted; the batch carries on.
func (e *Engine) EvaluateAll(items []*media.Item, rules []*Rule) *Summary {
	start := time.Now()
	summary := &Summary{Results: []Result{}}

	if len(rules) == 0 {
		e.logger.Debug().Msg("No rules to evaluate")
		return summary
	}

	now := e.now()
	protection := e.ProtectionConfig()

	for _, item := range items {
		if item == nil {
			continue
		}

		result, err := e.safeEvaluate(item, rules, now, protection)
		summary.Evaluated++
		if err != nil {
			e.logger.Error().Err(err).Int64("itemId", item.ID).Msg("Failed to evaluate item")
			summary.Failed++
			summary.Ignored++
			summary.Results = append(summary.Results, Result{ItemID: item.ID, Action: ActionIgnore, Error: err.Error()})
			continue
		}

		switch {
		case result.Action == ActionProtect:
			summary.Protected++
		case result.Matched && result.Action == ActionMarkForDeletion:
			summary.Flagged++
		default:
			summary.Ignored++
		}
		summary.Results = append(summary.Results, result)
	}

	summary.Duration = time.Since(start)

	e.logger.Info().
		Int("evaluated", summary.Evaluated).
		Int("flagged", summary.Flagged).
		Int("protected", summary.Protected).
		Int("ignored", summary.Ignored).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Rule evaluation complete")

	return summary
}

func (e *Engine) safeEvaluate(item *media.Item, rules []*Rule, now time.Time, protection ProtectionConfig) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating item %d: %v", item.ID, r)
		}
	}()
	return e.evaluateItem(item, rules, now, protection), nil
}
