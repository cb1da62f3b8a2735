package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"keysync-backend/internal/config"
	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "keysync_test",
		Path:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testSyncer(s *store.Store, pub Publisher) *Syncer {
	return NewSyncer(s,
		NewSQLFieldRepo(s.Dialect),
		NewSQLObjectRepo(s.Dialect),
		NewSQLRuleRepo(s.Dialect),
		NewSQLKeyRepo(s.Dialect),
		pub)
}

type recordingPublisher struct {
	kinds   []string
	ruleIDs []string
}

func (p *recordingPublisher) Publish(_ context.Context, kind, ruleID string) error {
	p.kinds = append(p.kinds, kind)
	p.ruleIDs = append(p.ruleIDs, ruleID)
	return nil
}

func TestEqualsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	rule, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	object, err := sy.CreateObject(ctx, map[string]string{"email": "a@b.com"})
	if err != nil {
		t.Fatalf("create object: %v", err)
	}

	key, err := keys.FindByID(ctx, s.DB, rule.ID, object.ID)
	if err != nil {
		t.Fatalf("find key: %v", err)
	}
	if key.Value != "a@b.com" {
		t.Fatalf("expected key a@b.com, got %s", key.Value)
	}
}

func TestRegexRuleFanOut(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "phone", "Phone")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	// Object exists before the rule: rule creation fans out over it.
	object, err := sy.CreateObject(ctx, map[string]string{"phone": "555-1234"})
	if err != nil {
		t.Fatalf("create object: %v", err)
	}
	rule, err := sy.CreateRule(ctx, RuleInput{
		FieldID:  field.ID,
		Type:     metadata.GenerationRegex,
		Pattern:  `^(\d{3})-.*$`,
		Replacer: "$1",
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	key, err := keys.FindByID(ctx, s.DB, rule.ID, object.ID)
	if err != nil {
		t.Fatalf("find key: %v", err)
	}
	if key.Value != "555" {
		t.Fatalf("expected key 555, got %s", key.Value)
	}
}

func TestObjectCreateAbortsOnMissingAttribute(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	objects := NewSQLObjectRepo(s.Dialect)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	if _, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	_, err = sy.CreateObject(ctx, map[string]string{"name": "no email attribute"})
	var missing *metadata.MissingAttributeError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingAttributeError, got %v", err)
	}

	// The whole transaction must have rolled back: no object, no keys.
	all, err := objects.FindAll(ctx, s.DB)
	if err != nil {
		t.Fatalf("list objects: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 objects after aborted create, got %d", len(all))
	}
	allKeys, err := keys.FindAll(ctx, s.DB)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(allKeys) != 0 {
		t.Fatalf("expected 0 keys after aborted create, got %d", len(allKeys))
	}
}

func TestObjectUpdateRegeneratesOwnKeysOnly(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	rule, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	first, err := sy.CreateObject(ctx, map[string]string{"email": "first@x.com"})
	if err != nil {
		t.Fatalf("create first object: %v", err)
	}
	second, err := sy.CreateObject(ctx, map[string]string{"email": "second@x.com"})
	if err != nil {
		t.Fatalf("create second object: %v", err)
	}

	if _, err := sy.UpdateObject(ctx, first.ID, map[string]string{"email": "changed@x.com"}); err != nil {
		t.Fatalf("update object: %v", err)
	}

	key, err := keys.FindByID(ctx, s.DB, rule.ID, first.ID)
	if err != nil {
		t.Fatalf("find updated key: %v", err)
	}
	if key.Value != "changed@x.com" {
		t.Fatalf("expected changed@x.com, got %s", key.Value)
	}

	// The sibling object's key must be untouched.
	key, err = keys.FindByID(ctx, s.DB, rule.ID, second.ID)
	if err != nil {
		t.Fatalf("find sibling key: %v", err)
	}
	if key.Value != "second@x.com" {
		t.Fatalf("expected second@x.com, got %s", key.Value)
	}
}

func TestObjectDeleteRemovesKeys(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	rule, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	object, err := sy.CreateObject(ctx, map[string]string{"email": "a@b.com"})
	if err != nil {
		t.Fatalf("create object: %v", err)
	}

	if err := sy.DeleteObject(ctx, object.ID); err != nil {
		t.Fatalf("delete object: %v", err)
	}
	if _, err := keys.FindByID(ctx, s.DB, rule.ID, object.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted object's key, got %v", err)
	}
	if err := sy.DeleteObject(ctx, object.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestRuleCreateWithZeroObjects(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	if _, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals}); err != nil {
		t.Fatalf("create rule with zero objects: %v", err)
	}

	all, err := keys.FindAll(ctx, s.DB)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 keys, got %d", len(all))
	}
}

func TestRuleUpdateRecomputesKeys(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "phone", "Phone")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	rule, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	object, err := sy.CreateObject(ctx, map[string]string{"phone": "555-1234"})
	if err != nil {
		t.Fatalf("create object: %v", err)
	}

	if _, err := sy.UpdateRule(ctx, rule.ID, RuleInput{
		FieldID:  field.ID,
		Type:     metadata.GenerationRegex,
		Pattern:  `^(\d{3})-.*$`,
		Replacer: "$1",
	}); err != nil {
		t.Fatalf("update rule: %v", err)
	}

	key, err := keys.FindByID(ctx, s.DB, rule.ID, object.ID)
	if err != nil {
		t.Fatalf("find key: %v", err)
	}
	if key.Value != "555" {
		t.Fatalf("expected recomputed key 555, got %s", key.Value)
	}

	all, err := keys.FindAll(ctx, s.DB)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 key after replace, got %d", len(all))
	}
}

func TestRuleDeleteLeavesSiblingRuleKeys(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	doomed, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	kept, err := sy.CreateRule(ctx, RuleInput{
		FieldID:  field.ID,
		Type:     metadata.GenerationRegex,
		Pattern:  `@.*$`,
		Replacer: "",
	})
	if err != nil {
		t.Fatalf("create second rule: %v", err)
	}
	object, err := sy.CreateObject(ctx, map[string]string{"email": "a@b.com"})
	if err != nil {
		t.Fatalf("create object: %v", err)
	}

	if err := sy.DeleteRule(ctx, doomed.ID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}

	if _, err := keys.FindByID(ctx, s.DB, doomed.ID, object.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted rule's key to be gone, got %v", err)
	}
	key, err := keys.FindByID(ctx, s.DB, kept.ID, object.ID)
	if err != nil {
		t.Fatalf("find kept key: %v", err)
	}
	if key.Value != "a" {
		t.Fatalf("expected key a, got %s", key.Value)
	}
}

func TestRuleCreateRejectsInvalidPattern(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}

	// Even with zero objects, an uncompilable pattern must not slip in.
	_, err = sy.CreateRule(ctx, RuleInput{
		FieldID:  field.ID,
		Type:     metadata.GenerationRegex,
		Pattern:  `([unclosed`,
		Replacer: "$1",
	})
	var invalid *metadata.InvalidPatternError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidPatternError, got %v", err)
	}
}

func TestRuleCreateUnknownFieldNotFound(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)

	_, err := sy.CreateRule(ctx, RuleInput{FieldID: "missing", Type: metadata.GenerationEquals})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var mf *MissingFieldError
	if !errors.As(err, &mf) || mf.FieldID != "missing" {
		t.Fatalf("expected MissingFieldError for field missing, got %v", err)
	}
}

func TestRuleUpdateUnknownFieldNotRuleNotFound(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	rule, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// The rule exists; only the new target field is absent. The error
	// must name the field, not the rule.
	_, err = sy.UpdateRule(ctx, rule.ID, RuleInput{FieldID: "missing", Type: metadata.GenerationEquals})
	var mf *MissingFieldError
	if !errors.As(err, &mf) || mf.FieldID != "missing" {
		t.Fatalf("expected MissingFieldError for field missing, got %v", err)
	}

	// An absent rule still reports plain ErrNotFound without the
	// field wrapper.
	_, err = sy.UpdateRule(ctx, "missing-rule", RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.As(err, &mf) {
		t.Fatalf("expected no MissingFieldError for a missing rule, got %v", err)
	}
}

func TestQueuedRuleFanOutPublishes(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	pub := &recordingPublisher{}
	sy := testSyncer(s, pub)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	if _, err := sy.CreateObject(ctx, map[string]string{"email": "a@b.com"}); err != nil {
		t.Fatalf("create object: %v", err)
	}
	rule, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// Key work is deferred: no inline keys, one published create.
	all, err := keys.FindAll(ctx, s.DB)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 inline keys in queue mode, got %d", len(all))
	}
	if len(pub.kinds) != 1 || pub.kinds[0] != SyncCreate || pub.ruleIDs[0] != rule.ID {
		t.Fatalf("expected one create publish for rule %s, got %v %v", rule.ID, pub.kinds, pub.ruleIDs)
	}

	if _, err := sy.UpdateRule(ctx, rule.ID, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals}); err != nil {
		t.Fatalf("update rule: %v", err)
	}
	if err := sy.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	if len(pub.kinds) != 3 || pub.kinds[1] != SyncUpdate || pub.kinds[2] != SyncDelete {
		t.Fatalf("expected create/update/delete publishes, got %v", pub.kinds)
	}
}

func TestFieldsOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	fields := NewSQLFieldRepo(s.Dialect)

	labels := []string{"first", "second", "third"}
	for _, l := range labels {
		if _, err := sy.CreateField(ctx, l, l); err != nil {
			t.Fatalf("create field %s: %v", l, err)
		}
		time.Sleep(5 * time.Millisecond) // distinct creation timestamps
	}

	all, err := fields.FindAll(ctx, s.DB)
	if err != nil {
		t.Fatalf("list fields: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(all))
	}
	for i, l := range labels {
		if all[i].DataLabel != l {
			t.Fatalf("expected field %d to be %s, got %s", i, l, all[i].DataLabel)
		}
	}
}

func TestFieldUpdateKeepsDataLabel(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	updated, err := sy.UpdateField(ctx, field.ID, "Primary Email")
	if err != nil {
		t.Fatalf("update field: %v", err)
	}
	if updated.Label != "Primary Email" {
		t.Fatalf("expected updated label, got %s", updated.Label)
	}
	if updated.DataLabel != "email" {
		t.Fatalf("data label must be immutable, got %s", updated.DataLabel)
	}

	if _, err := sy.UpdateField(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKeyRepoPointOperations(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	keys := NewSQLKeyRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	rule, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	object, err := sy.CreateObject(ctx, map[string]string{"email": "a@b.com"})
	if err != nil {
		t.Fatalf("create object: %v", err)
	}

	if err := keys.Update(ctx, s.DB, rule.ID, object.ID, "repaired"); err != nil {
		t.Fatalf("update key: %v", err)
	}
	key, err := keys.FindByID(ctx, s.DB, rule.ID, object.ID)
	if err != nil {
		t.Fatalf("find key: %v", err)
	}
	if key.Value != "repaired" {
		t.Fatalf("expected repaired, got %s", key.Value)
	}

	if err := keys.Update(ctx, s.DB, rule.ID, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}
}

func TestRuleFindByIDJoinsField(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	sy := testSyncer(s, nil)
	rules := NewSQLRuleRepo(s.Dialect)

	field, err := sy.CreateField(ctx, "email", "Email")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	created, err := sy.CreateRule(ctx, RuleInput{FieldID: field.ID, Type: metadata.GenerationEquals})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	rule, err := rules.FindByID(ctx, s.DB, created.ID)
	if err != nil {
		t.Fatalf("find rule: %v", err)
	}
	if rule.Field.DataLabel != "email" {
		t.Fatalf("expected joined field email, got %s", rule.Field.DataLabel)
	}

	if _, err := rules.FindByID(ctx, s.DB, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
