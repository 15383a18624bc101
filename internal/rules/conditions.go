package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Field names an item attribute a condition can test. The vocabulary is closed.
type Field string

const (
	FieldType             Field = "type"
	FieldTitle            Field = "title"
	FieldStatus           Field = "status"
	FieldResolution       Field = "resolution"
	FieldPlayCount        Field = "play_count"
	FieldRating           Field = "rating"
	FieldGenres           Field = "genres"
	FieldTags             Field = "tags"
	FieldFileSize         Field = "file_size"
	FieldInProgress       Field = "in_progress"
	FieldIsProtected      Field = "is_protected"
	FieldSizeGB           Field = "size_gb"
	FieldDaysSinceAdded   Field = "days_since_added"
	FieldDaysSinceWatched Field = "days_since_watched"
)

var knownFields = map[Field]bool{
	FieldType: true, FieldTitle: true, FieldStatus: true, FieldResolution: true,
	FieldPlayCount: true, FieldRating: true, FieldGenres: true, FieldTags: true,
	FieldFileSize: true, FieldInProgress: true, FieldIsProtected: true,
	FieldSizeGB: true, FieldDaysSinceAdded: true, FieldDaysSinceWatched: true,
}

var fieldAliases = map[string]Field{
	"media_type":              FieldType,
	"watch_count":             FieldPlayCount,
	"plays":                   FieldPlayCount,
	"size":                    FieldFileSize,
	"filesize":                FieldFileSize,
	"genre":                   FieldGenres,
	"tag":                     FieldTags,
	"not_watched_days":        FieldDaysSinceWatched,
	"days_since_last_watched": FieldDaysSinceWatched,
	"days_unwatched":          FieldDaysSinceWatched,
}

// ParseField normalizes a stored field name (snake_case or camelCase, with
// aliases) onto the closed vocabulary. Unknown names are returned as-is and
// report false from Known.
func ParseField(s string) Field {
	name := toSnake(strings.TrimSpace(s))
	if f, ok := fieldAliases[name]; ok {
		return f
	}
	return Field(name)
}

// Known reports whether the field belongs to the vocabulary.
func (f Field) Known() bool {
	return knownFields[f]
}

// Operator is a comparison applied by a condition.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

var operatorAliases = map[string]Operator{
	"eq": OpEquals, "==": OpEquals, "=": OpEquals, "is": OpEquals,
	"ne": OpNotEquals, "neq": OpNotEquals, "!=": OpNotEquals, "is_not": OpNotEquals,
	"gt": OpGreaterThan, ">": OpGreaterThan,
	"lt": OpLessThan, "<": OpLessThan,
	"does_not_contain": OpNotContains,
	"empty":            OpIsEmpty,
	"not_empty":        OpIsNotEmpty,
}

// ParseOperator normalizes a stored operator name.
func ParseOperator(s string) Operator {
	name := toSnake(strings.TrimSpace(s))
	if op, ok := operatorAliases[name]; ok {
		return op
	}
	return Operator(name)
}

// Known reports whether the operator is supported.
func (o Operator) Known() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpContains, OpNotContains, OpIsEmpty, OpIsNotEmpty:
		return true
	}
	return false
}

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindNumber
	KindString
	KindBool
)

// Value is the right-hand operand of a condition.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
	Bool bool
}

// NumberValue returns a numeric operand.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// StringValue returns a string operand.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BoolValue returns a boolean operand.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Number returns the operand as a number. Numeric strings such as "30"
// qualify since rule editors commonly store thresholds as text.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return n, err == nil
	}
	return 0, false
}

// Text returns the operand as a string. Only string operands qualify.
func (v Value) Text() (string, bool) {
	if v.Kind == KindString {
		return v.Str, true
	}
	return "", false
}

// Boolean returns the operand as a bool, accepting "true"/"false" text.
func (v Value) Boolean() (bool, bool) {
	switch v.Kind {
	case KindBool:
		return v.Bool, true
	case KindString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Str))
		return b, err == nil
	}
	return false, false
}

// MarshalJSON encodes the operand as a plain JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar. Arrays and objects are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case '[', '{':
		return fmt.Errorf("condition value must be a scalar, got %s", data)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
	}
	return nil
}

// UnmarshalYAML decodes a YAML scalar into a typed operand.
func (v *Value) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Value{}
	case string:
		*v = StringValue(t)
	case bool:
		*v = BoolValue(t)
	case int:
		*v = NumberValue(float64(t))
	case int64:
		*v = NumberValue(float64(t))
	case uint64:
		*v = NumberValue(float64(t))
	case float64:
		*v = NumberValue(t)
	default:
		return fmt.Errorf("condition value must be a scalar, got %T", raw)
	}
	return nil
}

// Condition is one {field, operator, value} triple of a rule.
type Condition struct {
	Field    Field    `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    Value    `json:"value" yaml:"value"`
}

type conditionWire struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Op       string `json:"op"`
	Value    Value  `json:"value"`
}

// UnmarshalJSON normalizes field and operator names while decoding.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	op := w.Operator
	if op == "" {
		op = w.Op
	}
	*c = Condition{Field: ParseField(w.Field), Operator: ParseOperator(op), Value: w.Value}
	return nil
}

// UnmarshalYAML normalizes field and operator names while decoding.
func (c *Condition) UnmarshalYAML(unmarshal func(any) error) error {
	var w struct {
		Field    string `yaml:"field"`
		Operator string `yaml:"operator"`
		Op       string `yaml:"op"`
		Value    Value  `yaml:"value"`
	}
	if err := unmarshal(&w); err != nil {
		return err
	}
	op := w.Operator
	if op == "" {
		op = w.Op
	}
	*c = Condition{Field: ParseField(w.Field), Operator: ParseOperator(op), Value: w.Value}
	return nil
}

// conditionsVersion is the envelope version written by EncodeConditions.
const conditionsVersion = 1

type conditionsEnvelope struct {
	Version    int         `json:"version"`
	Logic      string      `json:"logic,omitempty"`
	Conditions []Condition `json:"conditions"`
}

// ConditionSet is a decoded condition column. Logic is empty when the stored
// form did not carry one (bare arrays, early envelopes).
type ConditionSet struct {
	Logic      Logic
	Conditions []Condition
}

// DecodeConditionSet decodes a stored condition list. Both the versioned
// envelope and the bare array written by older releases are accepted.
func DecodeConditionSet(raw string) (ConditionSet, error) {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ConditionSet{}, nil
	}

	switch data[0] {
	case '[':
		var conds []Condition
		if err := json.Unmarshal(data, &conds); err != nil {
			return ConditionSet{}, fmt.Errorf("failed to decode conditions: %w", err)
		}
		return ConditionSet{Conditions: conds}, nil
	case '{':
		var env conditionsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return ConditionSet{}, fmt.Errorf("failed to decode conditions: %w", err)
		}
		if env.Version > conditionsVersion {
			return ConditionSet{}, fmt.Errorf("%w: %d", ErrUnsupportedCodec, env.Version)
		}
		set := ConditionSet{Conditions: env.Conditions}
		if strings.TrimSpace(env.Logic) != "" {
			set.Logic = ParseLogic(env.Logic)
		}
		return set, nil
	default:
		return ConditionSet{}, fmt.Errorf("failed to decode conditions: unexpected %q", data[0])
	}
}

// DecodeConditions decodes only the condition list of a stored column.
func DecodeConditions(raw string) ([]Condition, error) {
	set, err := DecodeConditionSet(raw)
	return set.Conditions, err
}

// EncodeConditions encodes conditions and their logic in the current
// envelope format.
func EncodeConditions(conds []Condition, logic Logic) (string, error) {
	if conds == nil {
		conds = []Condition{}
	}
	data, err := json.Marshal(conditionsEnvelope{
		Version:    conditionsVersion,
		Logic:      string(ParseLogic(string(logic))),
		Conditions: conds,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// toSnake lowercases s and turns camelCase boundaries into underscores.
func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' || r == ' ' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
