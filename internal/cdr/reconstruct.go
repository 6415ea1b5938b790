package cdr

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Document is a freshly built JSON object. It never shares maps or slices
// with the document it was reconstructed from.
type Document map[string]any

var datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// Reconstruct builds a new document holding only the fields of schema that
// are present in doc and survive sanitizing.
func Reconstruct(doc map[string]any, schema Schema) Document {
	out := make(Document, len(schema))
	for _, key := range sortedKeys(schema) {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		if v, ok := rebuild(raw, schema[key]); ok {
			out[key] = v
		}
	}
	return out
}

// rebuild returns the clean form of raw, or false when the field must be dropped
func rebuild(raw any, f Field) (any, bool) {
	switch f.Kind {
	case KindString:
		return rebuildString(raw, f.Max)
	case KindURL:
		if s, ok := raw.(string); ok {
			if u, ok := SanitizeURL(s); ok {
				return u, true
			}
		}
		if f.Fallback != "" {
			return f.Fallback, true
		}
		return nil, false
	case KindDate:
		s, ok := raw.(string)
		if !ok {
			return nil, false
		}
		s = truncateRunes(SanitizeString(s, maxDateLength), maxDateLength)
		if !datePrefix.MatchString(s) {
			return nil, false
		}
		return s, true
	case KindCount:
		return rebuildCount(raw), true
	case KindNumber:
		if raw == nil {
			return nil, true
		}
		return rebuildNumber(raw), true
	case KindBool:
		b, ok := raw.(bool)
		return b, ok
	case KindList:
		return rebuildList(raw, f)
	case KindObject:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, false
		}
		return Reconstruct(m, f.Schema), true
	case KindMap:
		return rebuildMap(raw, f)
	default:
		return nil, false
	}
}

func rebuildString(raw any, maxLen int) (any, bool) {
	switch v := raw.(type) {
	case string:
		return SanitizeString(v, maxLen), true
	case json.Number:
		return SanitizeString(v.String(), maxLen), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return nil, false
	}
}

func rebuildCount(raw any) int64 {
	var n int64
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n = i
		} else if f, err := v.Float64(); err == nil && !math.IsNaN(f) {
			n = clampFloat(f)
		}
	case float64:
		if !math.IsNaN(v) {
			n = clampFloat(v)
		}
	case int:
		n = int64(v)
	case int64:
		n = v
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			n = i
		}
	}
	return min(max(n, 0), MaxCount)
}

// clampFloat truncates f toward zero without overflowing int64
func clampFloat(f float64) int64 {
	switch {
	case f > MaxCount:
		return MaxCount
	case f < 0:
		return 0
	default:
		return int64(f)
	}
}

func rebuildNumber(raw any) any {
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			if i > MaxNumber || i < -MaxNumber {
				return int64(0)
			}
			return i
		}
		f, err := v.Float64()
		if err != nil {
			return int64(0)
		}
		return finite(f)
	case float64:
		return finite(v)
	case int:
		return finite(float64(v))
	case int64:
		return finite(float64(v))
	default:
		return int64(0)
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > MaxNumber {
		return int64(0)
	}
	return f
}

func rebuildList(raw any, f Field) (any, bool) {
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	limit := f.Max
	if limit <= 0 {
		limit = MaxItems
	}
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, ok := rebuild(item, *f.Item)
		if !ok {
			continue
		}
		if f.Keep != nil && !f.Keep(v) {
			continue
		}
		out = append(out, v)
	}
	return out, true
}

func rebuildMap(raw any, f Field) (any, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, min(len(m), f.Max))
	for _, key := range sortedKeys(m) {
		if len(out) >= f.Max {
			break
		}
		clean := SanitizeString(key, maxKeyLength)
		if clean == "" {
			continue
		}
		if _, dup := out[clean]; dup {
			continue
		}
		if v, ok := rebuild(m[key], *f.Item); ok {
			out[clean] = v
		}
	}
	return out, true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
