package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

// SQLRuleRepo implements RuleRepo against the relational store. Reads
// join the owning field; a rule row whose field is gone indicates a
// broken foreign key and surfaces as an integrity error, not NotFound.
type SQLRuleRepo struct {
	dialect store.Dialect
}

func NewSQLRuleRepo(d store.Dialect) *SQLRuleRepo {
	return &SQLRuleRepo{dialect: d}
}

func (r *SQLRuleRepo) FindAll(ctx context.Context, q store.Querier) ([]metadata.Rule, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT r.id, r.type, r.regex_pattern, r.regex_replacer, f.id, f.data_label, f.label
		FROM rules r JOIN fields f ON f.id = r.field_id
		ORDER BY r.created_at, r.id`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []metadata.Rule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *SQLRuleRepo) FindByID(ctx context.Context, q store.Querier, id string) (metadata.Rule, error) {
	// Two-step read so a rule with a dangling field reference is
	// distinguishable from an absent rule.
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT id, field_id, type, regex_pattern, regex_replacer FROM rules WHERE id = %s", pb.Add(id))

	var ruleID, fieldID string
	var ruleType string
	var pattern, replacer sql.NullString
	err := q.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&ruleID, &fieldID, &ruleType, &pattern, &replacer)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Rule{}, store.ErrNotFound
	}
	if err != nil {
		return metadata.Rule{}, fmt.Errorf("query rule: %w", err)
	}

	field, err := r.fieldByID(ctx, q, fieldID)
	if errors.Is(err, store.ErrNotFound) {
		return metadata.Rule{}, fmt.Errorf("%w: rule %s references missing field %s", store.ErrIntegrity, ruleID, fieldID)
	}
	if err != nil {
		return metadata.Rule{}, err
	}

	return metadata.Rule{
		ID:       ruleID,
		Field:    field,
		Type:     metadata.GenerationType(ruleType),
		Pattern:  pattern.String,
		Replacer: replacer.String,
	}, nil
}

func (r *SQLRuleRepo) Insert(ctx context.Context, q store.Querier, in RuleInput) (metadata.Rule, error) {
	if !in.Type.Valid() {
		return metadata.Rule{}, fmt.Errorf("unknown rule type %q", in.Type)
	}
	field, err := r.fieldByID(ctx, q, in.FieldID)
	if errors.Is(err, store.ErrNotFound) {
		return metadata.Rule{}, &MissingFieldError{FieldID: in.FieldID}
	}
	if err != nil {
		return metadata.Rule{}, err
	}

	rule := metadata.Rule{ID: uuid.NewString(), Field: field, Type: in.Type}
	pattern, replacer := regexColumns(in)
	if in.Type == metadata.GenerationRegex {
		rule.Pattern, rule.Replacer = in.Pattern, in.Replacer
	}

	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO rules (id, field_id, type, regex_pattern, regex_replacer, created_at, updated_at) VALUES (%s, %s, %s, %s, %s, %s, %s)",
		pb.Add(rule.ID), pb.Add(field.ID), pb.Add(string(in.Type)), pb.Add(pattern), pb.Add(replacer),
		r.dialect.NowExpr(), r.dialect.NowExpr())
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return metadata.Rule{}, fmt.Errorf("insert rule: %w", store.MapError(r.dialect, err))
	}
	return rule, nil
}

func (r *SQLRuleRepo) Update(ctx context.Context, q store.Querier, id string, in RuleInput) (metadata.Rule, error) {
	if !in.Type.Valid() {
		return metadata.Rule{}, fmt.Errorf("unknown rule type %q", in.Type)
	}
	field, err := r.fieldByID(ctx, q, in.FieldID)
	if errors.Is(err, store.ErrNotFound) {
		return metadata.Rule{}, &MissingFieldError{FieldID: in.FieldID}
	}
	if err != nil {
		return metadata.Rule{}, err
	}

	pattern, replacer := regexColumns(in)
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"UPDATE rules SET field_id = %s, type = %s, regex_pattern = %s, regex_replacer = %s, updated_at = %s WHERE id = %s",
		pb.Add(field.ID), pb.Add(string(in.Type)), pb.Add(pattern), pb.Add(replacer),
		r.dialect.NowExpr(), pb.Add(id))
	n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return metadata.Rule{}, fmt.Errorf("update rule: %w", store.MapError(r.dialect, err))
	}
	if n == 0 {
		return metadata.Rule{}, store.ErrNotFound
	}

	rule := metadata.Rule{ID: id, Field: field, Type: in.Type}
	if in.Type == metadata.GenerationRegex {
		rule.Pattern, rule.Replacer = in.Pattern, in.Replacer
	}
	return rule, nil
}

func (r *SQLRuleRepo) Delete(ctx context.Context, q store.Querier, id string) error {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM rules WHERE id = %s", pb.Add(id))
	n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete rule: %w", store.MapError(r.dialect, err))
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *SQLRuleRepo) fieldByID(ctx context.Context, q store.Querier, id string) (metadata.Field, error) {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT id, data_label, label FROM fields WHERE id = %s", pb.Add(id))
	var f metadata.Field
	err := q.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&f.ID, &f.DataLabel, &f.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Field{}, store.ErrNotFound
	}
	if err != nil {
		return metadata.Field{}, fmt.Errorf("query field: %w", err)
	}
	return f, nil
}

// regexColumns returns the nullable column values for a rule row.
// Equals rules store NULLs so a stale pattern never outlives a type change.
func regexColumns(in RuleInput) (any, any) {
	if in.Type != metadata.GenerationRegex {
		return nil, nil
	}
	return in.Pattern, in.Replacer
}

func scanRule(scan func(dest ...any) error) (metadata.Rule, error) {
	var rule metadata.Rule
	var ruleType string
	var pattern, replacer sql.NullString
	if err := scan(&rule.ID, &ruleType, &pattern, &replacer,
		&rule.Field.ID, &rule.Field.DataLabel, &rule.Field.Label); err != nil {
		return metadata.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	rule.Type = metadata.GenerationType(ruleType)
	rule.Pattern = pattern.String
	rule.Replacer = replacer.String
	return rule, nil
}

var _ RuleRepo = (*SQLRuleRepo)(nil)
