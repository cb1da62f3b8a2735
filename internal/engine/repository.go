package engine

import (
	"context"
	"fmt"

	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

// Repositories take an explicit store.Querier so queries can run on the
// pool while commands run on the caller's transaction. The Syncer and
// the HTTP handlers depend on these interfaces, not the SQL types.

type FieldRepo interface {
	// FindAll returns fields ordered by creation time.
	FindAll(ctx context.Context, q store.Querier) ([]metadata.Field, error)
	Insert(ctx context.Context, q store.Querier, dataLabel, label string) (metadata.Field, error)
	// Update changes the display label only; data labels are immutable.
	Update(ctx context.Context, q store.Querier, id, label string) (metadata.Field, error)
}

type ObjectRepo interface {
	FindAll(ctx context.Context, q store.Querier) ([]metadata.Object, error)
	FindByID(ctx context.Context, q store.Querier, id string) (metadata.Object, error)
	Insert(ctx context.Context, q store.Querier, attributes map[string]string) (metadata.Object, error)
	Update(ctx context.Context, q store.Querier, id string, attributes map[string]string) (metadata.Object, error)
	Delete(ctx context.Context, q store.Querier, id string) error
}

// RuleInput carries the caller-supplied portion of a rule. Pattern and
// Replacer are only meaningful for regex rules.
type RuleInput struct {
	FieldID  string
	Type     metadata.GenerationType
	Pattern  string
	Replacer string
}

// MissingFieldError reports a rule create or update naming a field that
// does not exist. It unwraps to store.ErrNotFound so callers checking
// the sentinel still see an absence.
type MissingFieldError struct {
	FieldID string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("field %s not found", e.FieldID)
}

func (e *MissingFieldError) Unwrap() error { return store.ErrNotFound }

type RuleRepo interface {
	// FindAll and FindByID return rules joined with their owning field.
	FindAll(ctx context.Context, q store.Querier) ([]metadata.Rule, error)
	FindByID(ctx context.Context, q store.Querier, id string) (metadata.Rule, error)
	Insert(ctx context.Context, q store.Querier, in RuleInput) (metadata.Rule, error)
	Update(ctx context.Context, q store.Querier, id string, in RuleInput) (metadata.Rule, error)
	Delete(ctx context.Context, q store.Querier, id string) error
}

// ObjectKey pairs an object id with its derived key for one rule.
type ObjectKey struct {
	ObjectID string
	Key      string
}

// RuleKey pairs a rule id with its derived key for one object.
type RuleKey struct {
	RuleID string
	Key    string
}

type KeyRepo interface {
	FindAll(ctx context.Context, q store.Querier) ([]metadata.Key, error)
	FindByID(ctx context.Context, q store.Querier, ruleID, objectID string) (metadata.Key, error)
	Insert(ctx context.Context, q store.Querier, key metadata.Key) error
	// InsertForRule batch-inserts one rule's keys across objects.
	InsertForRule(ctx context.Context, q store.Querier, ruleID string, keys []ObjectKey) error
	// InsertForObject batch-inserts one object's keys across rules.
	InsertForObject(ctx context.Context, q store.Querier, objectID string, keys []RuleKey) error
	Update(ctx context.Context, q store.Querier, ruleID, objectID, key string) error
	DeleteByRule(ctx context.Context, q store.Querier, ruleID string) error
	DeleteByObject(ctx context.Context, q store.Querier, objectID string) error
}
