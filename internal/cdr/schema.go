package cdr

// Kind is the type a schema field is rebuilt as
type Kind int

// Field kinds
const (
	KindString Kind = iota
	KindURL
	KindDate
	KindCount
	KindNumber
	KindBool
	KindList
	KindObject
	KindMap
)

const (
	// MaxCount is the largest value a count field keeps
	MaxCount = 100_000

	// MaxNumber is the largest magnitude a number field keeps
	MaxNumber = 1e15

	// MaxItems bounds lists and maps that do not set their own limit
	MaxItems = 10_000

	maxKeyLength  = 200
	maxDateLength = 20
)

// Field describes how one allow-listed value is rebuilt
type Field struct {
	Kind Kind
	// Max is the rune limit of a string or the item limit of a list or map
	Max int
	// Fallback replaces a URL that does not survive sanitizing; empty drops the field
	Fallback string
	// Item is the element field of a list or the value field of a map
	Item *Field
	// Schema is the allow-list of an object
	Schema Schema
	// Keep filters rebuilt list elements; nil keeps all of them
	Keep func(any) bool
}

// Schema is an allow-list of fields by key. Keys absent from the schema are
// never emitted.
type Schema map[string]Field

// Extend returns a new schema with the fields of s overlaid by extra
func (s Schema) Extend(extra Schema) Schema {
	out := make(Schema, len(s)+len(extra))
	for k, f := range s {
		out[k] = f
	}
	for k, f := range extra {
		out[k] = f
	}
	return out
}

// String is a sanitized string of at most maxLen runes
func String(maxLen int) Field {
	return Field{Kind: KindString, Max: maxLen}
}

// Text is a sanitized long-form string
func Text() Field {
	return Field{Kind: KindString, Max: MaxTextLength}
}

// URL is an http or https URL; anything else drops the field
func URL() Field {
	return Field{Kind: KindURL}
}

// URLOr is a URL that is replaced by fallback when it does not survive
func URLOr(fallback string) Field {
	return Field{Kind: KindURL, Fallback: fallback}
}

// Date is a string starting with YYYY-MM-DD; anything else drops the field
func Date() Field {
	return Field{Kind: KindDate}
}

// Count is an integer clamped to [0, MaxCount]; invalid input becomes 0
func Count() Field {
	return Field{Kind: KindCount}
}

// Number is a finite number no larger than MaxNumber in magnitude, else 0.
// A JSON null is kept.
func Number() Field {
	return Field{Kind: KindNumber}
}

// Bool is a JSON boolean
func Bool() Field {
	return Field{Kind: KindBool}
}

// List is an array of item, truncated to maxItems
func List(item Field, maxItems int) Field {
	return Field{Kind: KindList, Max: maxItems, Item: &item}
}

// StringList is an array of at most maxItems strings of at most maxLen runes
func StringList(maxItems, maxLen int) Field {
	return List(String(maxLen), maxItems)
}

// Object is a nested object rebuilt with schema
func Object(schema Schema) Field {
	return Field{Kind: KindObject, Schema: schema}
}

// ObjectList is an array of objects rebuilt with schema. Elements for which
// keep returns false are left out.
func ObjectList(schema Schema, maxItems int, keep func(any) bool) Field {
	f := List(Object(schema), maxItems)
	f.Keep = keep
	return f
}

// Map is an object with arbitrary keys whose values are rebuilt as value.
// Keys are sanitized to at most 200 runes.
func Map(value Field) Field {
	return Field{Kind: KindMap, Max: MaxItems, Item: &value}
}
