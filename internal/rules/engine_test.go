package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/testutil"
)

// countingEvaluator records every call and answers from a fixed table keyed by
// the condition's field.
type countingEvaluator struct {
	answers map[Field]bool
	calls   []Field
}

func (c *countingEvaluator) Evaluate(_ *media.Item, cond Condition, _ time.Time) bool {
	c.calls = append(c.calls, cond.Field)
	return c.answers[cond.Field]
}

type panicEvaluator struct{}

func (panicEvaluator) Evaluate(item *media.Item, _ Condition, _ time.Time) bool {
	if item.ID == 2 {
		panic("boom")
	}
	return true
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(testutil.FixedClock(testNow))}, opts...)
	return NewEngine(Config{}, DefaultProtectionConfig(), testutil.NewTestLogger(t), opts...)
}

func staleItem() *media.Item {
	return &media.Item{
		ID:        1,
		Title:     "Stale Movie",
		Type:      media.TypeMovie,
		Status:    media.StatusMonitored,
		PlayCount: 0,
		AddedAt:   testutil.DaysAgo(testNow, 31),
	}
}

func unwatchedRule() *Rule {
	return &Rule{
		ID:             1,
		Name:           "Unwatched after a month",
		MediaTypeScope: ScopeAll,
		Enabled:        true,
		Logic:          LogicAnd,
		Action:         "mark_for_deletion",
		Conditions: []Condition{
			{Field: FieldPlayCount, Operator: OpEquals, Value: NumberValue(0)},
			{Field: FieldDaysSinceAdded, Operator: OpGreaterThan, Value: NumberValue(30)},
		},
	}
}

func TestEngine_EvaluateItem_MatchesStaleItem(t *testing.T) {
	engine := newTestEngine(t)
	rule := unwatchedRule()

	got := engine.EvaluateItem(staleItem(), []*Rule{rule})

	assert.True(t, got.Matched)
	assert.Equal(t, ActionMarkForDeletion, got.Action)
	assert.Same(t, rule, got.Rule)
	assert.Len(t, got.MatchedConditions, 2)
}

func TestEngine_EvaluateItem_ProtectionWins(t *testing.T) {
	ev := &countingEvaluator{answers: map[Field]bool{FieldPlayCount: true, FieldDaysSinceAdded: true}}
	engine := newTestEngine(t, WithEvaluator(ev))

	item := staleItem()
	item.IsProtected = true

	got := engine.EvaluateItem(item, []*Rule{unwatchedRule()})

	assert.False(t, got.Matched)
	assert.Equal(t, ActionProtect, got.Action)
	assert.Equal(t, ManualProtectionReason, got.Reason)
	assert.Nil(t, got.Rule)
	assert.Empty(t, ev.calls, "rules must not be consulted for a protected item")
}

func TestEngine_EvaluateItem_ZeroConditionsNeverMatch(t *testing.T) {
	engine := newTestEngine(t)
	for _, logic := range []Logic{LogicAnd, LogicOr} {
		rule := &Rule{ID: 1, Name: "empty", Enabled: true, Logic: logic, Action: "mark_for_deletion"}
		got := engine.EvaluateItem(staleItem(), []*Rule{rule})
		if got.Matched {
			t.Errorf("rule with zero conditions (%s) matched", logic)
		}
	}
}

func TestEngine_EvaluateItem_ShortCircuit(t *testing.T) {
	conds := []Condition{
		{Field: FieldPlayCount},
		{Field: FieldDaysSinceAdded},
		{Field: FieldRating},
	}

	tests := []struct {
		name      string
		logic     Logic
		answers   map[Field]bool
		wantMatch bool
		wantCalls []Field
	}{
		{
			name:      "AND stops at first false",
			logic:     LogicAnd,
			answers:   map[Field]bool{FieldPlayCount: true, FieldDaysSinceAdded: false, FieldRating: true},
			wantMatch: false,
			wantCalls: []Field{FieldPlayCount, FieldDaysSinceAdded},
		},
		{
			name:      "AND evaluates everything when all true",
			logic:     LogicAnd,
			answers:   map[Field]bool{FieldPlayCount: true, FieldDaysSinceAdded: true, FieldRating: true},
			wantMatch: true,
			wantCalls: []Field{FieldPlayCount, FieldDaysSinceAdded, FieldRating},
		},
		{
			name:      "OR stops at first true",
			logic:     LogicOr,
			answers:   map[Field]bool{FieldPlayCount: false, FieldDaysSinceAdded: true, FieldRating: true},
			wantMatch: true,
			wantCalls: []Field{FieldPlayCount, FieldDaysSinceAdded},
		},
		{
			name:      "OR evaluates everything when all false",
			logic:     LogicOr,
			answers:   map[Field]bool{},
			wantMatch: false,
			wantCalls: []Field{FieldPlayCount, FieldDaysSinceAdded, FieldRating},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &countingEvaluator{answers: tt.answers}
			engine := newTestEngine(t, WithEvaluator(ev))
			rule := &Rule{ID: 1, Name: "r", Enabled: true, Logic: tt.logic, Action: "flag", Conditions: conds}

			got := engine.EvaluateItem(staleItem(), []*Rule{rule})

			assert.Equal(t, tt.wantMatch, got.Matched)
			assert.Equal(t, tt.wantCalls, ev.calls)
		})
	}
}

func TestEngine_EvaluateItem_OrReportsMatchingCondition(t *testing.T) {
	ev := &countingEvaluator{answers: map[Field]bool{FieldRating: true}}
	engine := newTestEngine(t, WithEvaluator(ev))
	rule := &Rule{ID: 1, Name: "r", Enabled: true, Logic: LogicOr, Action: "flag", Conditions: []Condition{
		{Field: FieldPlayCount}, {Field: FieldRating},
	}}

	got := engine.EvaluateItem(staleItem(), []*Rule{rule})

	require.True(t, got.Matched)
	assert.Equal(t, []Condition{{Field: FieldRating}}, got.MatchedConditions)
}

func TestEngine_EvaluateItem_FirstMatchWins(t *testing.T) {
	ev := &countingEvaluator{answers: map[Field]bool{FieldPlayCount: true}}
	engine := newTestEngine(t, WithEvaluator(ev))

	disabled := &Rule{ID: 1, Name: "disabled", Enabled: false, Action: "protect", Conditions: []Condition{{Field: FieldPlayCount}}}
	shows := &Rule{ID: 2, Name: "shows only", Enabled: true, MediaTypeScope: ScopeShow, Action: "protect", Conditions: []Condition{{Field: FieldPlayCount}}}
	notify := &Rule{ID: 3, Name: "notify", Enabled: true, Action: "notify", Conditions: []Condition{{Field: FieldPlayCount}}}
	flag := &Rule{ID: 4, Name: "flag", Enabled: true, Action: "flag", Conditions: []Condition{{Field: FieldPlayCount}}}

	got := engine.EvaluateItem(staleItem(), []*Rule{disabled, shows, notify, flag})

	assert.True(t, got.Matched)
	assert.Equal(t, "notify", got.Rule.Name)
	assert.Equal(t, ActionIgnore, got.Action)
	assert.Len(t, ev.calls, 1, "only the first applicable rule is evaluated")
}

func TestEngine_EvaluateItem_ShowScopeCoversEpisodes(t *testing.T) {
	engine := newTestEngine(t)
	rule := unwatchedRule()
	rule.MediaTypeScope = ScopeShow

	item := staleItem()
	item.Type = media.TypeEpisode
	assert.True(t, engine.EvaluateItem(item, []*Rule{rule}).Matched)

	item.Type = media.TypeMovie
	assert.False(t, engine.EvaluateItem(item, []*Rule{rule}).Matched)
}

func TestEngine_EvaluateAll(t *testing.T) {
	engine := newTestEngine(t)

	protected := staleItem()
	protected.ID = 2
	protected.IsProtected = true

	watched := staleItem()
	watched.ID = 3
	watched.PlayCount = 4

	summary := engine.EvaluateAll([]*media.Item{staleItem(), protected, watched}, []*Rule{unwatchedRule()})

	assert.Equal(t, 3, summary.Evaluated)
	assert.Equal(t, 1, summary.Flagged)
	assert.Equal(t, 1, summary.Protected)
	assert.Equal(t, 1, summary.Ignored)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, int64(1), summary.Results[0].ItemID)
	assert.True(t, summary.Results[0].Matched)
}

func TestEngine_EvaluateAll_EmptyRules(t *testing.T) {
	engine := newTestEngine(t)

	summary := engine.EvaluateAll([]*media.Item{staleItem()}, nil)

	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Evaluated)
	assert.Equal(t, 0, summary.Flagged)
	assert.Empty(t, summary.Results)
}

func TestEngine_EvaluateAll_RecoversPanics(t *testing.T) {
	engine := newTestEngine(t, WithEvaluator(panicEvaluator{}))

	items := []*media.Item{staleItem(), {ID: 2, Title: "Cursed", Type: media.TypeMovie, AddedAt: testutil.DaysAgo(testNow, 90)}}
	items[0].AddedAt = testutil.DaysAgo(testNow, 90)

	summary := engine.EvaluateAll(items, []*Rule{unwatchedRule()})

	assert.Equal(t, 2, summary.Evaluated)
	assert.Equal(t, 1, summary.Flagged)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Ignored)
	require.Len(t, summary.Results, 2)
	assert.NotEmpty(t, summary.Results[1].Error)
}

func TestEngine_UpdateProtectionConfig(t *testing.T) {
	engine := newTestEngine(t)
	item := staleItem()
	item.AddedAt = testutil.DaysAgo(testNow, 45)

	assert.Equal(t, ActionMarkForDeletion, engine.EvaluateItem(item, []*Rule{unwatchedRule()}).Action)

	cfg := engine.ProtectionConfig()
	cfg.RecentlyAddedDays = 60
	engine.UpdateProtectionConfig(cfg)

	got := engine.EvaluateItem(item, []*Rule{unwatchedRule()})
	assert.Equal(t, ActionProtect, got.Action)
	assert.Equal(t, "Recently added (45 days ago)", got.Reason)
}
