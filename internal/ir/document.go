package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Document is a raw payload as decoded from a connector: a JSON object whose
// values are map[string]any, []any, string, json.Number, bool or nil.
//
// Numbers are always json.Number (decoded with UseNumber) so large ids and
// revision counters survive without float64 precision loss.
type Document map[string]any

// ParseDocument decodes a JSON object into a Document.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse document: not a JSON object")
	}
	return doc, nil
}

// Field returns the value at key and whether it is present and non-null.
func (d Document) Field(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Object returns the nested object at key, if the value is an object.
func (d Document) Object(key string) (Document, bool) {
	v, ok := d.Field(key)
	if !ok {
		return nil, false
	}
	return AsDocument(v)
}

// List returns the array at key, if the value is an array.
func (d Document) List(key string) ([]any, bool) {
	v, ok := d.Field(key)
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// AsDocument converts an arbitrary decoded value into a Document when it is an
// object. Both Document and map[string]any are accepted.
func AsDocument(v any) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]any:
		return Document(m), true
	}
	return nil, false
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
