package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

// SQLFieldRepo implements FieldRepo against the relational store.
type SQLFieldRepo struct {
	dialect store.Dialect
}

func NewSQLFieldRepo(d store.Dialect) *SQLFieldRepo {
	return &SQLFieldRepo{dialect: d}
}

func (r *SQLFieldRepo) FindAll(ctx context.Context, q store.Querier) ([]metadata.Field, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, data_label, label FROM fields ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	var fields []metadata.Field
	for rows.Next() {
		var f metadata.Field
		if err := rows.Scan(&f.ID, &f.DataLabel, &f.Label); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (r *SQLFieldRepo) Insert(ctx context.Context, q store.Querier, dataLabel, label string) (metadata.Field, error) {
	f := metadata.Field{ID: uuid.NewString(), DataLabel: dataLabel, Label: label}

	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO fields (id, data_label, label, created_at, updated_at) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(f.ID), pb.Add(f.DataLabel), pb.Add(f.Label), r.dialect.NowExpr(), r.dialect.NowExpr())
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return metadata.Field{}, fmt.Errorf("insert field: %w", store.MapError(r.dialect, err))
	}
	return f, nil
}

func (r *SQLFieldRepo) Update(ctx context.Context, q store.Querier, id, label string) (metadata.Field, error) {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"UPDATE fields SET label = %s, updated_at = %s WHERE id = %s",
		pb.Add(label), r.dialect.NowExpr(), pb.Add(id))
	n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return metadata.Field{}, fmt.Errorf("update field: %w", store.MapError(r.dialect, err))
	}
	if n == 0 {
		return metadata.Field{}, store.ErrNotFound
	}

	pb = r.dialect.NewParamBuilder()
	sqlStr = fmt.Sprintf("SELECT id, data_label, label FROM fields WHERE id = %s", pb.Add(id))
	var f metadata.Field
	if err := q.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&f.ID, &f.DataLabel, &f.Label); err != nil {
		return metadata.Field{}, fmt.Errorf("reload field: %w", err)
	}
	return f, nil
}

var _ FieldRepo = (*SQLFieldRepo)(nil)
