// Package record normalizes loosely shaped records (JSON documents, CSV and
// XLSX rows) whose keys may be camelCase, snake_case, kebab-case or free text.
package record

import (
	"encoding/json"
	"strings"
	"unicode"
)

// NormalizeKey folds a field name to lower case and drops separators so that
// "basicPay", "basic_pay", "Basic Pay" and "BASIC-PAY" compare equal.
func NormalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if r == '_' || r == '-' || r == '.' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Fields is a set of values keyed by normalized field name.
type Fields[T any] map[string]T

// NewFields normalizes every key of src. When two keys normalize to the same
// name the last one visited wins, so callers should not rely on ordering.
func NewFields[T any](src map[string]T) Fields[T] {
	out := make(Fields[T], len(src))
	for k, v := range src {
		out[NormalizeKey(k)] = v
	}
	return out
}

// Lookup returns the value of the first alias present.
func (f Fields[T]) Lookup(aliases ...string) (T, bool) {
	for _, alias := range aliases {
		if v, ok := f[NormalizeKey(alias)]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// DecodeJSON decodes a JSON object into normalized raw fields.
func DecodeJSON(data []byte) (Fields[json.RawMessage], error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return NewFields(raw), nil
}

// IsNull reports whether a raw JSON value is absent or null.
func IsNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
