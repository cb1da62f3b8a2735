package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Object holds a flat string attribute map keyed by field data labels.
// Attributes are not constrained to existing fields; a rule referencing
// an absent attribute fails at evaluation time instead.
type Object struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes"`
}

// FlattenAttributes converts a decoded JSON attribute document into the
// flat string map the evaluator works on. Scalar values are
// stringified; arrays, nested documents and nulls are not representable
// and are rejected.
func FlattenAttributes(raw map[string]any) (map[string]string, error) {
	attrs := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			attrs[k] = val
		case float64:
			attrs[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			attrs[k] = strconv.FormatBool(val)
		case json.Number:
			attrs[k] = val.String()
		default:
			return nil, fmt.Errorf("attribute %q is not a scalar value", k)
		}
	}
	return attrs, nil
}

// ParseAttributes decodes a stored JSON attribute document. Numbers
// decode as json.Number so integers outside float64 range keep their
// exact text.
func ParseAttributes(data []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return FlattenAttributes(raw)
}
