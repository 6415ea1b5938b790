package output

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// maxNormalizeDepth stops the walk on self-referencing values
const maxNormalizeDepth = 64

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// normalize rebuilds v from JSON-native values only. Subtrees that encode
// cleanly are kept as raw JSON; anything else is walked, and leaves that
// cannot be encoded become fmt strings.
func normalize(v any, depth int) any {
	if v == nil {
		return nil
	}
	if depth > maxNormalizeDepth {
		return truncatedMarker(v)
	}

	rv := reflect.ValueOf(v)
	t := rv.Type()

	if t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) {
		if raw, err := marshalRaw(v); err == nil {
			return raw
		}
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
		return truncatedMarker(v)
	}

	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v

	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(v)
		}
		return v

	case reflect.Complex64, reflect.Complex128, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprint(v)

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface(), depth+1)

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key())] = normalize(iter.Value().Interface(), depth+1)
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return v
		}
		fallthrough

	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface(), depth+1)
		}
		return out

	case reflect.Struct:
		if raw, err := marshalRaw(v); err == nil {
			return raw
		}
		return normalizeStruct(rv, depth)

	default:
		return fmt.Sprint(v)
	}
}

// normalizeStruct keeps the encoding/json view of a struct: exported fields
// under their json names, "-" skipped and omitempty honoured
func normalizeStruct(rv reflect.Value, depth int) map[string]any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		fv := rv.Field(i)
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		out[name] = normalize(fv.Interface(), depth+1)
	}
	return out
}

// truncatedMarker names the type of a value that is not walked further.
// The value itself is never formatted, since it may refer to itself.
func truncatedMarker(v any) string {
	return fmt.Sprintf("<%T: max depth>", v)
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if text, err := tm.MarshalText(); err == nil {
			return string(text)
		}
	}
	return fmt.Sprint(k.Interface())
}

// marshalRaw encodes v without HTML escaping, so the outer encoder can embed it verbatim
func marshalRaw(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
