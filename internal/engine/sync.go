package engine

import (
	"context"
	"database/sql"
	"log"
	"regexp"

	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

// Resync message kinds published for queued rule fan-out.
const (
	SyncCreate = "create"
	SyncUpdate = "update"
	SyncDelete = "delete"
)

// Publisher enqueues a rule-scoped key resync request. Messages for the
// same rule must be delivered in publish order.
type Publisher interface {
	Publish(ctx context.Context, kind, ruleID string) error
}

// Syncer keeps the keys table consistent with objects and rules. Object
// mutations always recompute their keys inline, in the same transaction
// as the entity write. Rule mutations fan out over every object: inline
// by default, or deferred to the sync worker when a publisher is set.
type Syncer struct {
	store   *store.Store
	fields  FieldRepo
	objects ObjectRepo
	rules   RuleRepo
	keys    KeyRepo
	pub     Publisher // nil means inline rule fan-out
}

func NewSyncer(s *store.Store, fields FieldRepo, objects ObjectRepo, rules RuleRepo, keys KeyRepo, pub Publisher) *Syncer {
	return &Syncer{store: s, fields: fields, objects: objects, rules: rules, keys: keys, pub: pub}
}

// --- Fields ---
// Field writes never touch keys: labels are display-only and data
// labels are immutable after creation.

func (sy *Syncer) CreateField(ctx context.Context, dataLabel, label string) (metadata.Field, error) {
	var field metadata.Field
	err := sy.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		field, err = sy.fields.Insert(ctx, tx, dataLabel, label)
		return err
	})
	return field, err
}

func (sy *Syncer) UpdateField(ctx context.Context, id, label string) (metadata.Field, error) {
	var field metadata.Field
	err := sy.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		field, err = sy.fields.Update(ctx, tx, id, label)
		return err
	})
	return field, err
}

// --- Objects ---

// CreateObject inserts the object and every rule's key for it in one
// transaction. Any evaluation failure aborts the insert: an object
// either exists with its full key set or not at all.
func (sy *Syncer) CreateObject(ctx context.Context, attributes map[string]string) (metadata.Object, error) {
	var object metadata.Object
	err := sy.store.WithTx(ctx, func(tx *sql.Tx) error {
		rules, err := sy.rules.FindAll(ctx, tx)
		if err != nil {
			return err
		}
		object, err = sy.objects.Insert(ctx, tx, attributes)
		if err != nil {
			return err
		}
		keys, err := evaluateRules(rules, object)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			return sy.keys.InsertForObject(ctx, tx, object.ID, keys)
		}
		return nil
	})
	return object, err
}

// UpdateObject replaces the object's key set wholesale: stale rows are
// deleted and the freshly evaluated set inserted, never patched.
func (sy *Syncer) UpdateObject(ctx context.Context, id string, attributes map[string]string) (metadata.Object, error) {
	var object metadata.Object
	err := sy.store.WithTx(ctx, func(tx *sql.Tx) error {
		rules, err := sy.rules.FindAll(ctx, tx)
		if err != nil {
			return err
		}
		object, err = sy.objects.Update(ctx, tx, id, attributes)
		if err != nil {
			return err
		}
		keys, err := evaluateRules(rules, object)
		if err != nil {
			return err
		}
		if err := sy.keys.DeleteByObject(ctx, tx, object.ID); err != nil {
			return err
		}
		if len(keys) > 0 {
			return sy.keys.InsertForObject(ctx, tx, object.ID, keys)
		}
		return nil
	})
	return object, err
}

func (sy *Syncer) DeleteObject(ctx context.Context, id string) error {
	return sy.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := sy.keys.DeleteByObject(ctx, tx, id); err != nil {
			return err
		}
		return sy.objects.Delete(ctx, tx, id)
	})
}

// --- Rules ---

// CreateRule inserts the rule and, inline, one key per existing object.
// Zero objects means zero keys, not an error. With a publisher the key
// work is deferred to the worker and only the rule row commits here.
func (sy *Syncer) CreateRule(ctx context.Context, in RuleInput) (metadata.Rule, error) {
	if err := validatePattern(in); err != nil {
		return metadata.Rule{}, err
	}

	var rule metadata.Rule
	err := sy.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		rule, err = sy.rules.Insert(ctx, tx, in)
		if err != nil {
			return err
		}
		if sy.pub != nil {
			return nil
		}
		return sy.fanOut(ctx, tx, rule)
	})
	if err != nil {
		return metadata.Rule{}, err
	}
	sy.publish(ctx, SyncCreate, rule.ID)
	return rule, nil
}

func (sy *Syncer) UpdateRule(ctx context.Context, id string, in RuleInput) (metadata.Rule, error) {
	if err := validatePattern(in); err != nil {
		return metadata.Rule{}, err
	}

	var rule metadata.Rule
	err := sy.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		rule, err = sy.rules.Update(ctx, tx, id, in)
		if err != nil {
			return err
		}
		if sy.pub != nil {
			return nil
		}
		if err := sy.keys.DeleteByRule(ctx, tx, rule.ID); err != nil {
			return err
		}
		return sy.fanOut(ctx, tx, rule)
	})
	if err != nil {
		return metadata.Rule{}, err
	}
	sy.publish(ctx, SyncUpdate, rule.ID)
	return rule, nil
}

func (sy *Syncer) DeleteRule(ctx context.Context, id string) error {
	err := sy.store.WithTx(ctx, func(tx *sql.Tx) error {
		if sy.pub == nil {
			if err := sy.keys.DeleteByRule(ctx, tx, id); err != nil {
				return err
			}
		}
		return sy.rules.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	sy.publish(ctx, SyncDelete, id)
	return nil
}

// fanOut evaluates one rule against all objects and inserts the
// resulting keys on the given transaction.
func (sy *Syncer) fanOut(ctx context.Context, tx *sql.Tx, rule metadata.Rule) error {
	objects, err := sy.objects.FindAll(ctx, tx)
	if err != nil {
		return err
	}
	keys := make([]ObjectKey, 0, len(objects))
	for _, obj := range objects {
		value, err := rule.GenerateKey(obj)
		if err != nil {
			return err
		}
		keys = append(keys, ObjectKey{ObjectID: obj.ID, Key: value})
	}
	if len(keys) == 0 {
		return nil
	}
	return sy.keys.InsertForRule(ctx, tx, rule.ID, keys)
}

// publish enqueues a resync after commit in queue mode. The entity
// mutation is already durable here, so a publish failure is logged
// rather than surfaced; the next mutation of the rule republishes and
// fully replaces the key set.
func (sy *Syncer) publish(ctx context.Context, kind, ruleID string) {
	if sy.pub == nil {
		return
	}
	if err := sy.pub.Publish(ctx, kind, ruleID); err != nil {
		log.Printf("ERROR: publish %s resync for rule %s: %v", kind, ruleID, err)
	}
}

func evaluateRules(rules []metadata.Rule, object metadata.Object) ([]RuleKey, error) {
	keys := make([]RuleKey, 0, len(rules))
	for _, rule := range rules {
		value, err := rule.GenerateKey(object)
		if err != nil {
			return nil, err
		}
		keys = append(keys, RuleKey{RuleID: rule.ID, Key: value})
	}
	return keys, nil
}

// validatePattern rejects an uncompilable regex at mutation time, so a
// bad pattern cannot slip in while no objects exist to evaluate.
func validatePattern(in RuleInput) error {
	if in.Type != metadata.GenerationRegex {
		return nil
	}
	if _, err := regexp.Compile(in.Pattern); err != nil {
		return &metadata.InvalidPatternError{Pattern: in.Pattern, Err: err}
	}
	return nil
}
