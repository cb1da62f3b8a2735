package metadata

// Key is the derived identifier for one (rule, object) pair. Keys only
// exist as a byproduct of rule or object mutation and follow their
// sources on delete.
type Key struct {
	RuleID   string `json:"rule_id"`
	ObjectID string `json:"object_id"`
	Value    string `json:"key"`
}
