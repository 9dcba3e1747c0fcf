// Package jsonvalue models decoded JSON as a closed set of kinds.
//
// Records flowing through json2csv are arbitrary JSON, so the rest of the code
// never type-switches on interface{} values: it asks a Value for its Kind and
// uses the typed accessors. Objects keep the key order of the source document,
// which keeps discovery output and dynamically added columns deterministic.
package jsonvalue

import (
	"encoding/json"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one JSON value. The zero Value is JSON null.
//
// Numbers keep their literal text so that "1.0" and integers wider than
// float64 survive a round trip untouched.
type Value struct {
	kind Kind
	b    bool
	s    string // string payload, or the number literal
	arr  []Value
	obj  *Map
}

// NullValue returns JSON null.
func NullValue() Value { return Value{} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: String, s: s} }

// NumberValue wraps a JSON number literal.
func NumberValue(n json.Number) Value { return Value{kind: Number, s: string(n)} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{kind: Number, s: strconv.FormatInt(i, 10)} }

// FloatValue wraps a float using the shortest representation that round-trips.
func FloatValue(f float64) Value {
	return Value{kind: Number, s: strconv.FormatFloat(f, 'g', -1, 64)}
}

// ArrayValue wraps a list of values. The slice is not copied.
func ArrayValue(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: Array, arr: items}
}

// ObjectValue wraps an ordered map. A nil map becomes an empty object.
func ObjectValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: Object, obj: m}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == Null }
func (v Value) IsObject() bool { return v.kind == Object }
func (v Value) IsArray() bool  { return v.kind == Array }

// Bool returns the boolean payload; ok is false for other kinds.
func (v Value) Bool() (b, ok bool) {
	return v.b, v.kind == Bool
}

// Str returns the string payload; ok is false for other kinds.
func (v Value) Str() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.s, true
}

// Number returns the number literal; ok is false for other kinds.
func (v Value) Number() (json.Number, bool) {
	if v.kind != Number {
		return "", false
	}
	return json.Number(v.s), true
}

// Items returns the elements of an array (nil for other kinds).
// Callers must not mutate the returned slice.
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}
	return v.arr
}

// Map returns the ordered map of an object (nil for other kinds).
func (v Value) Map() *Map {
	if v.kind != Object {
		return nil
	}
	return v.obj
}

// Len is the number of elements of an array or keys of an object.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return v.obj.Len()
	default:
		return 0
	}
}

// Index returns the i-th array element.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != Array || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Field returns the value stored under key in an object.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	return v.obj.Get(key)
}

// Equal reports deep equality. Numbers compare by their literal text, so 1 and
// 1.0 are different values; object comparison ignores key order.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.b == b.b
	case Number, String:
		return a.s == b.s
	case Array:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if a.obj.Len() != b.obj.Len() {
			return false
		}
		for _, k := range a.obj.Keys() {
			av, _ := a.obj.Get(k)
			bv, ok := b.obj.Get(k)
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}
