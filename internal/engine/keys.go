package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

// insertChunkSize bounds the parameter count of a single batch insert.
const insertChunkSize = 500

// SQLKeyRepo implements KeyRepo against the relational store.
type SQLKeyRepo struct {
	dialect store.Dialect
}

func NewSQLKeyRepo(d store.Dialect) *SQLKeyRepo {
	return &SQLKeyRepo{dialect: d}
}

func (r *SQLKeyRepo) FindAll(ctx context.Context, q store.Querier) ([]metadata.Key, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT rule_id, object_id, key FROM keys ORDER BY rule_id, object_id")
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []metadata.Key
	for rows.Next() {
		var k metadata.Key
		if err := rows.Scan(&k.RuleID, &k.ObjectID, &k.Value); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *SQLKeyRepo) FindByID(ctx context.Context, q store.Querier, ruleID, objectID string) (metadata.Key, error) {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT rule_id, object_id, key FROM keys WHERE rule_id = %s AND object_id = %s",
		pb.Add(ruleID), pb.Add(objectID))
	var k metadata.Key
	err := q.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&k.RuleID, &k.ObjectID, &k.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Key{}, store.ErrNotFound
	}
	if err != nil {
		return metadata.Key{}, fmt.Errorf("query key: %w", err)
	}
	return k, nil
}

func (r *SQLKeyRepo) Insert(ctx context.Context, q store.Querier, key metadata.Key) error {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO keys (rule_id, object_id, key, created_at, updated_at) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(key.RuleID), pb.Add(key.ObjectID), pb.Add(key.Value),
		r.dialect.NowExpr(), r.dialect.NowExpr())
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("insert key: %w", store.MapError(r.dialect, err))
	}
	return nil
}

func (r *SQLKeyRepo) InsertForRule(ctx context.Context, q store.Querier, ruleID string, keys []ObjectKey) error {
	rows := make([]metadata.Key, len(keys))
	for i, k := range keys {
		rows[i] = metadata.Key{RuleID: ruleID, ObjectID: k.ObjectID, Value: k.Key}
	}
	return r.insertMany(ctx, q, rows)
}

func (r *SQLKeyRepo) InsertForObject(ctx context.Context, q store.Querier, objectID string, keys []RuleKey) error {
	rows := make([]metadata.Key, len(keys))
	for i, k := range keys {
		rows[i] = metadata.Key{RuleID: k.RuleID, ObjectID: objectID, Value: k.Key}
	}
	return r.insertMany(ctx, q, rows)
}

func (r *SQLKeyRepo) insertMany(ctx context.Context, q store.Querier, keys []metadata.Key) error {
	for start := 0; start < len(keys); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		pb := r.dialect.NewParamBuilder()
		values := make([]string, len(chunk))
		for i, k := range chunk {
			values[i] = fmt.Sprintf("(%s, %s, %s, %s, %s)",
				pb.Add(k.RuleID), pb.Add(k.ObjectID), pb.Add(k.Value),
				r.dialect.NowExpr(), r.dialect.NowExpr())
		}
		sqlStr := "INSERT INTO keys (rule_id, object_id, key, created_at, updated_at) VALUES " +
			strings.Join(values, ", ")
		if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
			return fmt.Errorf("insert keys: %w", store.MapError(r.dialect, err))
		}
	}
	return nil
}

func (r *SQLKeyRepo) Update(ctx context.Context, q store.Querier, ruleID, objectID, key string) error {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"UPDATE keys SET key = %s, updated_at = %s WHERE rule_id = %s AND object_id = %s",
		pb.Add(key), r.dialect.NowExpr(), pb.Add(ruleID), pb.Add(objectID))
	n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update key: %w", store.MapError(r.dialect, err))
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteByRule removes all keys for a rule. Deleting an absent rule's
// keys is a no-op, which keeps resync replay idempotent.
func (r *SQLKeyRepo) DeleteByRule(ctx context.Context, q store.Querier, ruleID string) error {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM keys WHERE rule_id = %s", pb.Add(ruleID))
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("delete keys by rule: %w", store.MapError(r.dialect, err))
	}
	return nil
}

func (r *SQLKeyRepo) DeleteByObject(ctx context.Context, q store.Querier, objectID string) error {
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM keys WHERE object_id = %s", pb.Add(objectID))
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("delete keys by object: %w", store.MapError(r.dialect, err))
	}
	return nil
}

var _ KeyRepo = (*SQLKeyRepo)(nil)
