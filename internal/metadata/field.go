package metadata

// Field names an object attribute. DataLabel is the lookup key into an
// object's attribute set and is immutable after creation; Label is a
// mutable display name.
type Field struct {
	ID        string `json:"id"`
	DataLabel string `json:"data_label"`
	Label     string `json:"label"`
}
