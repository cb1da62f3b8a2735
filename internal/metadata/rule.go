package metadata

import (
	"fmt"
	"regexp"
	"sync"
)

// GenerationType identifies how a rule derives a key from an object.
type GenerationType string

const (
	// GenerationEquals copies the attribute value verbatim.
	GenerationEquals GenerationType = "equals"
	// GenerationRegex rewrites the attribute value by regex substitution.
	GenerationRegex GenerationType = "regex"
)

// Valid reports whether t is a known generation type.
func (t GenerationType) Valid() bool {
	return t == GenerationEquals || t == GenerationRegex
}

// Rule derives a key string from the object attribute named by its
// field's data label. Pattern and Replacer are only set for regex rules;
// Replacer may reference capture groups ($1, $2, ...).
type Rule struct {
	ID       string         `json:"id"`
	Field    Field          `json:"field"`
	Type     GenerationType `json:"type"`
	Pattern  string         `json:"regex_pattern,omitempty"`
	Replacer string         `json:"regex_replacer,omitempty"`
}

// MissingAttributeError reports an object lacking the attribute a rule
// depends on.
type MissingAttributeError struct {
	DataLabel string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("object has no attribute %q", e.DataLabel)
}

// InvalidPatternError reports a regex rule whose pattern does not
// compile. This is a rule configuration error, not a data error.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// GenerateKey evaluates the rule against an object. It is pure and safe
// for concurrent use; one rule is typically evaluated against many
// objects in a single fan-out pass.
func (r *Rule) GenerateKey(obj Object) (string, error) {
	value, ok := obj.Attributes[r.Field.DataLabel]
	if !ok {
		return "", &MissingAttributeError{DataLabel: r.Field.DataLabel}
	}

	switch r.Type {
	case GenerationEquals:
		return value, nil
	case GenerationRegex:
		re, err := compiledPattern(r.ID, r.Pattern)
		if err != nil {
			return "", &InvalidPatternError{Pattern: r.Pattern, Err: err}
		}
		return re.ReplaceAllString(value, r.Replacer), nil
	default:
		return "", fmt.Errorf("unknown generation type %q", r.Type)
	}
}

// cachedPattern keeps its source text so a rule update that changes the
// pattern recompiles instead of serving the stale regexp.
type cachedPattern struct {
	pattern string
	re      *regexp.Regexp
}

var patternCache sync.Map // rule id -> *cachedPattern

func compiledPattern(ruleID, pattern string) (*regexp.Regexp, error) {
	if v, ok := patternCache.Load(ruleID); ok {
		if c := v.(*cachedPattern); c.pattern == pattern {
			return c.re, nil
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(ruleID, &cachedPattern{pattern: pattern, re: re})
	return re, nil
}
