package rules

import (
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/media"
)

const bytesPerGB = 1 << 30

// ConditionEvaluator decides whether one condition holds for one item.
type ConditionEvaluator interface {
	Evaluate(item *media.Item, cond Condition, now time.Time) bool
}

// Evaluator is the default ConditionEvaluator. It never fails: unknown
// fields or operators and type mismatches evaluate to false.
type Evaluator struct {
	logger zerolog.Logger
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate implements ConditionEvaluator.
func (e *Evaluator) Evaluate(item *media.Item, cond Condition, now time.Time) bool {
	if !cond.Operator.Known() {
		e.logger.Warn().
			Str("operator", string(cond.Operator)).
			Str("field", string(cond.Field)).
			Msg("Unknown condition operator, treating as no match")
		return false
	}

	attr, ok := resolveField(item, cond.Field, now)
	if !ok {
		e.logger.Warn().
			Str("field", string(cond.Field)).
			Msg("Unknown condition field, treating as no match")
		return false
	}

	return compare(attr, cond.Operator, cond.Value)
}

type attrKind int

const (
	attrUndefined attrKind = iota
	attrNumber
	attrString
	attrBool
	attrList
)

// attribute is a resolved item value.
type attribute struct {
	kind attrKind
	num  float64
	str  string
	b    bool
	list []string
}

func numberAttr(n float64) attribute { return attribute{kind: attrNumber, num: n} }
func stringAttr(s string) attribute  { return attribute{kind: attrString, str: s} }
func boolAttr(b bool) attribute      { return attribute{kind: attrBool, b: b} }
func listAttr(l []string) attribute  { return attribute{kind: attrList, list: l} }

// resolveField is the single place that maps a field onto an item value,
// computing the derived fields. The bool result is false for fields outside
// the vocabulary.
func resolveField(item *media.Item, field Field, now time.Time) (attribute, bool) {
	switch field {
	case FieldType:
		return stringAttr(string(item.Type)), true
	case FieldTitle:
		return stringAttr(item.Title), true
	case FieldStatus:
		return stringAttr(string(item.Status)), true
	case FieldResolution:
		return stringAttr(item.Resolution), true
	case FieldPlayCount:
		return numberAttr(float64(item.PlayCount)), true
	case FieldRating:
		if item.Rating == nil {
			return attribute{}, true
		}
		return numberAttr(*item.Rating), true
	case FieldGenres:
		return listAttr(item.Genres), true
	case FieldTags:
		return listAttr(item.Tags), true
	case FieldFileSize:
		if item.FileSize == nil {
			return attribute{}, true
		}
		return numberAttr(float64(*item.FileSize)), true
	case FieldSizeGB:
		if item.FileSize == nil {
			return attribute{}, true
		}
		return numberAttr(float64(*item.FileSize) / bytesPerGB), true
	case FieldInProgress:
		return boolAttr(item.InProgress), true
	case FieldIsProtected:
		return boolAttr(item.IsProtected), true
	case FieldDaysSinceAdded:
		if item.AddedAt == nil {
			return attribute{}, true
		}
		return numberAttr(float64(DaysSince(*item.AddedAt, now))), true
	case FieldDaysSinceWatched:
		// Never watched counts as unwatched for an unbounded time, so the
		// value is never empty: is_empty is false and is_not_empty is true.
		// Select never-watched items with play_count or a large greater_than.
		if item.LastWatchedAt == nil {
			return numberAttr(math.Inf(1)), true
		}
		return numberAttr(float64(DaysSince(*item.LastWatchedAt, now))), true
	default:
		return attribute{}, false
	}
}

// DaysSince returns the whole days elapsed between t and now, rounded down.
func DaysSince(t, now time.Time) int {
	return int(math.Floor(now.Sub(t).Hours() / 24))
}

func compare(attr attribute, op Operator, val Value) bool {
	switch op {
	case OpIsEmpty:
		return isEmpty(attr)
	case OpIsNotEmpty:
		return !isEmpty(attr)
	}

	if attr.kind == attrUndefined {
		return false
	}

	switch op {
	case OpEquals:
		eq, ok := equals(attr, val)
		return ok && eq
	case OpNotEquals:
		eq, ok := equals(attr, val)
		return ok && !eq
	case OpGreaterThan:
		n, ok := val.Number()
		return ok && attr.kind == attrNumber && attr.num > n
	case OpLessThan:
		n, ok := val.Number()
		return ok && attr.kind == attrNumber && attr.num < n
	case OpContains:
		c, ok := contains(attr, val)
		return ok && c
	case OpNotContains:
		c, ok := contains(attr, val)
		return ok && !c
	}
	return false
}

// equals reports equality and whether the operands were comparable at all.
func equals(attr attribute, val Value) (bool, bool) {
	switch attr.kind {
	case attrNumber:
		n, ok := val.Number()
		if !ok {
			return false, false
		}
		return attr.num == n, true
	case attrString:
		s, ok := val.Text()
		if !ok {
			return false, false
		}
		return strings.EqualFold(attr.str, s), true
	case attrBool:
		b, ok := val.Boolean()
		if !ok {
			return false, false
		}
		return attr.b == b, true
	case attrList:
		s, ok := val.Text()
		if !ok {
			return false, false
		}
		for _, elem := range attr.list {
			if strings.EqualFold(elem, s) {
				return true, true
			}
		}
		return false, true
	}
	return false, false
}

// contains is a case-insensitive substring test, applied to every element of
// list attributes.
func contains(attr attribute, val Value) (bool, bool) {
	s, ok := val.Text()
	if !ok {
		return false, false
	}
	needle := strings.ToLower(s)

	switch attr.kind {
	case attrString:
		return strings.Contains(strings.ToLower(attr.str), needle), true
	case attrList:
		for _, elem := range attr.list {
			if strings.Contains(strings.ToLower(elem), needle) {
				return true, true
			}
		}
		return false, true
	}
	return false, false
}

func isEmpty(attr attribute) bool {
	switch attr.kind {
	case attrUndefined:
		return true
	case attrString:
		return strings.TrimSpace(attr.str) == ""
	case attrList:
		return len(attr.list) == 0
	}
	return false
}
