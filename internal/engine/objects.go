package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

// SQLObjectRepo implements ObjectRepo against the relational store.
// Attributes are stored as a JSON document and exposed as the flat
// string map the evaluator consumes.
type SQLObjectRepo struct {
	dialect store.Dialect
}

func NewSQLObjectRepo(d store.Dialect) *SQLObjectRepo {
	return &SQLObjectRepo{dialect: d}
}

func (r *SQLObjectRepo) FindAll(ctx context.Context, q store.Querier) ([]metadata.Object, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, attributes FROM objects ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	var objects []metadata.Object
	for rows.Next() {
		obj, err := scanObject(rows.Scan)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

func (r *SQLObjectRepo) FindByID(ctx context.Context, q store.Querier, id string) (metadata.Object, error) {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT id, attributes FROM objects WHERE id = %s", pb.Add(id))
	obj, err := scanObject(q.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Object{}, store.ErrNotFound
	}
	return obj, err
}

func (r *SQLObjectRepo) Insert(ctx context.Context, q store.Querier, attributes map[string]string) (metadata.Object, error) {
	if attributes == nil {
		attributes = map[string]string{}
	}
	doc, err := json.Marshal(attributes)
	if err != nil {
		return metadata.Object{}, fmt.Errorf("encode attributes: %w", err)
	}

	obj := metadata.Object{ID: uuid.NewString(), Attributes: attributes}
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO objects (id, attributes, created_at, updated_at) VALUES (%s, %s, %s, %s)",
		pb.Add(obj.ID), pb.Add(string(doc)), r.dialect.NowExpr(), r.dialect.NowExpr())
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return metadata.Object{}, fmt.Errorf("insert object: %w", store.MapError(r.dialect, err))
	}
	return obj, nil
}

func (r *SQLObjectRepo) Update(ctx context.Context, q store.Querier, id string, attributes map[string]string) (metadata.Object, error) {
	if attributes == nil {
		attributes = map[string]string{}
	}
	doc, err := json.Marshal(attributes)
	if err != nil {
		return metadata.Object{}, fmt.Errorf("encode attributes: %w", err)
	}

	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"UPDATE objects SET attributes = %s, updated_at = %s WHERE id = %s",
		pb.Add(string(doc)), r.dialect.NowExpr(), pb.Add(id))
	n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return metadata.Object{}, fmt.Errorf("update object: %w", store.MapError(r.dialect, err))
	}
	if n == 0 {
		return metadata.Object{}, store.ErrNotFound
	}
	return metadata.Object{ID: id, Attributes: attributes}, nil
}

func (r *SQLObjectRepo) Delete(ctx context.Context, q store.Querier, id string) error {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM objects WHERE id = %s", pb.Add(id))
	n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete object: %w", store.MapError(r.dialect, err))
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanObject(scan func(dest ...any) error) (metadata.Object, error) {
	var id string
	var doc []byte
	if err := scan(&id, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return metadata.Object{}, err
		}
		return metadata.Object{}, fmt.Errorf("scan object: %w", err)
	}
	attrs, err := metadata.ParseAttributes(doc)
	if err != nil {
		return metadata.Object{}, fmt.Errorf("object %s: %w", id, err)
	}
	return metadata.Object{ID: id, Attributes: attrs}, nil
}

var _ ObjectRepo = (*SQLObjectRepo)(nil)
