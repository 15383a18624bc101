package rules

import (
	"errors"
	"strings"
	"time"

	"github.com/reclaimarr/reclaimarr/internal/media"
)

var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrInvalidRule      = errors.New("invalid rule")
	ErrDuplicateName    = errors.New("rule with this name already exists")
	ErrUnsupportedCodec = errors.New("unsupported conditions version")
)

// Logic combines the conditions of a rule.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// ParseLogic normalizes a logic string. Anything other than OR means AND.
func ParseLogic(s string) Logic {
	if strings.EqualFold(strings.TrimSpace(s), string(LogicOr)) {
		return LogicOr
	}
	return LogicAnd
}

// Scope limits which media types a rule applies to.
type Scope string

const (
	ScopeAll   Scope = "all"
	ScopeMovie Scope = "movie"
	ScopeShow  Scope = "show"
)

// Includes reports whether items of type t fall under the scope.
// Episodes belong to the show scope.
func (s Scope) Includes(t media.Type) bool {
	switch s {
	case ScopeMovie:
		return t == media.TypeMovie
	case ScopeShow:
		return t == media.TypeShow || t == media.TypeEpisode
	default:
		return true
	}
}

// ParseScope normalizes a scope string, defaulting to all.
func ParseScope(s string) Scope {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return ScopeMovie
	case "show", "shows", "tv", "series":
		return ScopeShow
	default:
		return ScopeAll
	}
}

// Action is the outcome of a matching rule.
type Action string

const (
	ActionMarkForDeletion Action = "mark_for_deletion"
	ActionProtect         Action = "protect"
	ActionIgnore          Action = "ignore"
)

// ParseAction maps a stored rule action onto the engine's action set.
// Legacy flag/delete actions queue the item; notify only reports the match.
func ParseAction(s string) Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mark_for_deletion", "flag", "delete":
		return ActionMarkForDeletion
	case "protect":
		return ActionProtect
	default:
		return ActionIgnore
	}
}

// Rule is a named, enableable retention policy.
type Rule struct {
	ID                   int64                `json:"id"`
	Name                 string               `json:"name"`
	MediaTypeScope       Scope                `json:"mediaTypeScope"`
	Enabled              bool                 `json:"enabled"`
	Conditions           []Condition          `json:"conditions"`
	Logic                Logic                `json:"logic"`
	Action               string               `json:"action"`
	GracePeriodDays      int                  `json:"gracePeriodDays"`
	DeletionAction       media.DeletionAction `json:"deletionAction"`
	ResetExternalRequest bool                 `json:"resetExternalRequest"`
	SortOrder            int                  `json:"sortOrder"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}

// EngineAction returns the normalized action of the rule.
func (r *Rule) EngineAction() Action {
	return ParseAction(r.Action)
}

// Notifies reports whether a match should be reported to notification sinks.
func (r *Rule) Notifies() bool {
	return strings.EqualFold(r.Action, "notify")
}

// GracePeriod returns the grace period as a duration.
func (r *Rule) GracePeriod() time.Duration {
	if r.GracePeriodDays <= 0 {
		return 0
	}
	return time.Duration(r.GracePeriodDays) * 24 * time.Hour
}

// Input contains fields for creating or replacing a rule.
type Input struct {
	Name                 string               `json:"name" yaml:"name"`
	MediaTypeScope       string               `json:"mediaTypeScope" yaml:"media_type_scope"`
	Enabled              *bool                `json:"enabled" yaml:"enabled"`
	Conditions           []Condition          `json:"conditions" yaml:"conditions"`
	Logic                string               `json:"logic" yaml:"logic"`
	Action               string               `json:"action" yaml:"action"`
	GracePeriodDays      int                  `json:"gracePeriodDays" yaml:"grace_period_days"`
	DeletionAction       media.DeletionAction `json:"deletionAction" yaml:"deletion_action"`
	ResetExternalRequest bool                 `json:"resetExternalRequest" yaml:"reset_external_request"`
	SortOrder            int                  `json:"sortOrder" yaml:"sort_order"`
}

// Validate checks an input before it is stored.
func (in *Input) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.Join(ErrInvalidRule, errors.New("name is required"))
	}
	if in.GracePeriodDays < 0 {
		return errors.Join(ErrInvalidRule, errors.New("grace period must not be negative"))
	}
	if in.DeletionAction != "" && !in.DeletionAction.Valid() {
		return errors.Join(ErrInvalidRule, errors.New("unknown deletion action "+string(in.DeletionAction)))
	}
	return nil
}

// Result is the outcome of evaluating one item.
type Result struct {
	ItemID            int64       `json:"itemId"`
	Matched           bool        `json:"matched"`
	Rule              *Rule       `json:"rule,omitempty"`
	Action            Action      `json:"action,omitempty"`
	MatchedConditions []Condition `json:"matchedConditions,omitempty"`
	Reason            string      `json:"reason,omitempty"`
	Error             string      `json:"error,omitempty"`
}

// Summary aggregates a bulk evaluation.
type Summary struct {
	Evaluated int           `json:"evaluated"`
	Flagged   int           `json:"flagged"`
	Protected int           `json:"protected"`
	Ignored   int           `json:"ignored"`
	Failed    int           `json:"failed"`
	Results   []Result      `json:"results"`
	Duration  time.Duration `json:"duration"`
}
