package normalize

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/planmirror/internal/ir"
)

// extractor pulls one canonical value out of a payload.
// It returns ok=false when the value is absent or has an unusable shape.
type extractor func(doc ir.Document) (string, bool)

// fieldRule is one row of an extraction table.
type fieldRule struct {
	field    string
	extract  extractor
	fallback func(Options) string
}

func noFallback(Options) string { return "" }

func defaultStatus(o Options) string { return o.DefaultStatus }

// cleanText trims and NFC normalizes a resolved string.
func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// named resolves an ambiguous field value: object -> name -> displayName,
// string -> itself. Anything else is unresolved.
func named(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		s := cleanText(val)
		return s, s != ""
	default:
		obj, ok := ir.AsDocument(v)
		if !ok {
			return "", false
		}
		for _, key := range []string{"name", "displayName"} {
			if s, ok := obj[key].(string); ok && cleanText(s) != "" {
				return cleanText(s), true
			}
		}
	}
	return "", false
}

// scalarID renders an id that may be encoded as a string or a number.
func scalarID(v any) (string, bool) {
	var s string
	switch val := v.(type) {
	case string:
		s = strings.TrimSpace(val)
	case json.Number:
		s = val.String()
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case float64:
		if val != float64(int64(val)) {
			return "", false
		}
		s = strconv.FormatInt(int64(val), 10)
	default:
		return "", false
	}
	return s, s != ""
}

// scalarInt reads an integer that may be encoded as a number or a numeric string.
func scalarInt(v any) (int64, bool) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case int:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		if val != float64(int64(val)) {
			return 0, false
		}
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// scalarTime reads an RFC 3339 timestamp.
func scalarTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(val))
		return t, err == nil
	case time.Time:
		return val, true
	}
	return time.Time{}, false
}

// path walks nested objects and returns the value at the end of keys.
func path(doc ir.Document, keys ...string) (any, bool) {
	cur := doc
	for i, key := range keys {
		v, ok := cur.Field(key)
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return v, true
		}
		if cur, ok = ir.AsDocument(v); !ok {
			return nil, false
		}
	}
	return nil, false
}

// firstOf tries extractors in order and returns the first resolved value.
func firstOf(exs ...extractor) extractor {
	return func(doc ir.Document) (string, bool) {
		for _, ex := range exs {
			if v, ok := ex(doc); ok {
				return v, true
			}
		}
		return "", false
	}
}

// idAt resolves a scalar id at a nested path.
func idAt(keys ...string) extractor {
	return func(doc ir.Document) (string, bool) {
		v, ok := path(doc, keys...)
		if !ok {
			return "", false
		}
		return scalarID(v)
	}
}

// namedAt resolves an ambiguous name-or-string value at a nested path.
func namedAt(keys ...string) extractor {
	return func(doc ir.Document) (string, bool) {
		v, ok := path(doc, keys...)
		if !ok {
			return "", false
		}
		return named(v)
	}
}

// textAt resolves free text that may be a bare string or an object carrying
// the text under one of the given properties (e.g. {"html": "..."}).
func textAt(props []string, keys ...string) extractor {
	return func(doc ir.Document) (string, bool) {
		v, ok := path(doc, keys...)
		if !ok {
			return "", false
		}
		if s, ok := v.(string); ok {
			return cleanText(s), true
		}
		obj, ok := ir.AsDocument(v)
		if !ok {
			return "", false
		}
		for _, p := range props {
			if s, ok := obj[p].(string); ok {
				return cleanText(s), true
			}
		}
		return "", false
	}
}

// idList collects the ids of an array of objects ({"id": ...}) or scalars.
// The result is sorted and deduplicated.
func idList(doc ir.Document, key string) []string {
	arr, ok := doc.List(key)
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(arr))
	var out []string
	for _, elem := range arr {
		var id string
		if obj, isObj := ir.AsDocument(elem); isObj {
			id, ok = scalarID(obj["id"])
		} else {
			id, ok = scalarID(elem)
		}
		if ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
