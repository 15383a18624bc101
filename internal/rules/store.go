package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/database"
	"github.com/reclaimarr/reclaimarr/internal/media"
)

const ruleColumns = `id, name, media_type_scope, enabled, conditions, logic, action,
	grace_period_days, deletion_action, reset_external_request, sort_order, created_at, updated_at`

// Store persists rules in SQLite. Conditions are decoded once per load.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a new rule store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "rules-store").Logger(),
		now:    time.Now,
	}
}

// GetEnabledRules returns enabled rules in evaluation order.
func (s *Store) GetEnabledRules(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE enabled = 1 ORDER BY sort_order, id`)
}

// List returns every rule in evaluation order.
func (s *Store) List(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY sort_order, id`)
}

// Get returns a rule by id.
func (s *Store) Get(ctx context.Context, id int64) (*Rule, error) {
	rule, err := s.scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// GetByName returns a rule by its unique name.
func (s *Store) GetByName(ctx context.Context, name string) (*Rule, error) {
	rule, err := s.scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE name = ?`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// Create stores a new rule.
func (s *Store) Create(ctx context.Context, input Input) (*Rule, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	conds, err := EncodeConditions(input.Conditions, ParseLogic(input.Logic))
	if err != nil {
		return nil, fmt.Errorf("failed to encode conditions: %w", err)
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}
	now := database.ToMillis(s.now())

	res, err := s.db.ExecContext(ctx, `INSERT INTO rules (
		name, media_type_scope, enabled, conditions, logic, action, grace_period_days,
		deletion_action, reset_external_request, sort_order, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(input.Name), string(ParseScope(input.MediaTypeScope)), database.BoolToInt(enabled),
		conds, string(ParseLogic(input.Logic)), normalizeAction(input.Action), input.GracePeriodDays,
		string(deletionActionOrDefault(input.DeletionAction)), database.BoolToInt(input.ResetExternalRequest),
		input.SortOrder, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Update replaces every editable field of a rule.
func (s *Store) Update(ctx context.Context, id int64, input Input) (*Rule, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	conds, err := EncodeConditions(input.Conditions, ParseLogic(input.Logic))
	if err != nil {
		return nil, fmt.Errorf("failed to encode conditions: %w", err)
	}

	enabled := existing.Enabled
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	_, err = s.db.ExecContext(ctx, `UPDATE rules SET
		name = ?, media_type_scope = ?, enabled = ?, conditions = ?, logic = ?, action = ?,
		grace_period_days = ?, deletion_action = ?, reset_external_request = ?, sort_order = ?,
		updated_at = ?
		WHERE id = ?`,
		strings.TrimSpace(input.Name), string(ParseScope(input.MediaTypeScope)), database.BoolToInt(enabled),
		conds, string(ParseLogic(input.Logic)), normalizeAction(input.Action), input.GracePeriodDays,
		string(deletionActionOrDefault(input.DeletionAction)), database.BoolToInt(input.ResetExternalRequest),
		input.SortOrder, database.ToMillis(s.now()), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return s.Get(ctx, id)
}

// SetEnabled enables or disables a rule without touching its definition.
func (s *Store) SetEnabled(ctx context.Context, id int64, enabled bool) (*Rule, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?`,
		database.BoolToInt(enabled), database.ToMillis(s.now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRuleNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*Rule, 0)
	for rows.Next() {
		rule, err := s.scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRule(row rowScanner) (*Rule, error) {
	var (
		rule                          Rule
		scope, conds, logic, deletion string
		enabled, reset                int64
		createdAt, updatedAt          int64
	)
	if err := row.Scan(&rule.ID, &rule.Name, &scope, &enabled, &conds, &logic, &rule.Action,
		&rule.GracePeriodDays, &deletion, &reset, &rule.SortOrder, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rule.MediaTypeScope = ParseScope(scope)
	rule.Enabled = enabled != 0
	rule.DeletionAction = media.DeletionAction(deletion)
	rule.ResetExternalRequest = reset != 0
	rule.CreatedAt = database.FromMillis(createdAt)
	rule.UpdatedAt = database.FromMillis(updatedAt)

	set, err := DecodeConditionSet(conds)
	if err != nil {
		// A rule without conditions never matches, so the bad rule is inert.
		s.logger.Warn().Err(err).Int64("ruleId", rule.ID).Str("rule", rule.Name).
			Msg("Invalid rule conditions, rule will not match")
		set = ConditionSet{}
	}
	decoded := set.Conditions

	// The logic column wins; the envelope's copy covers rows written without it.
	switch {
	case strings.TrimSpace(logic) != "":
		rule.Logic = ParseLogic(logic)
	case set.Logic != "":
		rule.Logic = set.Logic
	default:
		rule.Logic = LogicAnd
	}
	for _, c := range decoded {
		if !c.Field.Known() || !c.Operator.Known() {
			s.logger.Warn().Int64("ruleId", rule.ID).Str("field", string(c.Field)).
				Str("operator", string(c.Operator)).Msg("Rule has an unsupported condition")
		}
	}
	rule.Conditions = decoded

	return &rule, nil
}

func normalizeAction(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return string(ActionMarkForDeletion)
	}
	return s
}

func deletionActionOrDefault(a media.DeletionAction) media.DeletionAction {
	if a == "" {
		return media.ActionUnmonitorAndDelete
	}
	return a
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
