package guest

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind the variant of a guest value
type Kind uint8

const (
	// Null null or undefined
	Null Kind = iota
	// Bool boolean
	Bool
	// Number a double precision number
	Number
	// String a string
	String
	// List an ordered list of values
	List
	// Map a string keyed map of values
	Map
)

var kindNames = map[Kind]string{
	Null:   "null",
	Bool:   "bool",
	Number: "number",
	String: "string",
	List:   "list",
	Map:    "map",
}

// String the name of the kind
func (k Kind) String() string {
	if name, has := kindNames[k]; has {
		return name
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is every value that crosses the sandbox boundary. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	l    []Value
	m    map[string]Value
}

// NullValue returns the null value
func NullValue() Value { return Value{} }

// BoolOf wraps a bool
func BoolOf(b bool) Value { return Value{kind: Bool, b: b} }

// NumberOf wraps a number
func NumberOf(n float64) Value { return Value{kind: Number, n: n} }

// StringOf wraps a string
func StringOf(s string) Value { return Value{kind: String, s: s} }

// ListOf wraps a list
func ListOf(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: List, l: items}
}

// MapOf wraps a map, a nil map becomes an empty one
func MapOf(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: Map, m: m}
}

// EmptyMap returns {}
func EmptyMap() Value { return MapOf(nil) }

// Of converts a plain Go value (as produced by a JSON decoder) into a Value
func Of(v interface{}) (Value, error) {
	switch value := v.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return value, nil
	case bool:
		return BoolOf(value), nil
	case string:
		return StringOf(value), nil
	case []byte:
		return StringOf(string(value)), nil
	case float64:
		return NumberOf(value), nil
	case float32:
		return NumberOf(float64(value)), nil
	case int:
		return NumberOf(float64(value)), nil
	case int8:
		return NumberOf(float64(value)), nil
	case int16:
		return NumberOf(float64(value)), nil
	case int32:
		return NumberOf(float64(value)), nil
	case int64:
		return NumberOf(float64(value)), nil
	case uint:
		return NumberOf(float64(value)), nil
	case uint8:
		return NumberOf(float64(value)), nil
	case uint16:
		return NumberOf(float64(value)), nil
	case uint32:
		return NumberOf(float64(value)), nil
	case uint64:
		return NumberOf(float64(value)), nil
	case jsoniter.Number:
		n, err := value.Float64()
		if err != nil {
			return NullValue(), err
		}
		return NumberOf(n), nil
	case []interface{}:
		items := make([]Value, 0, len(value))
		for _, item := range value {
			iv, err := Of(item)
			if err != nil {
				return NullValue(), err
			}
			items = append(items, iv)
		}
		return ListOf(items...), nil
	case []string:
		items := make([]Value, 0, len(value))
		for _, item := range value {
			items = append(items, StringOf(item))
		}
		return ListOf(items...), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(value))
		for key, item := range value {
			iv, err := Of(item)
			if err != nil {
				return NullValue(), err
			}
			m[key] = iv
		}
		return MapOf(m), nil
	case map[string]string:
		m := make(map[string]Value, len(value))
		for key, item := range value {
			m[key] = StringOf(item)
		}
		return MapOf(m), nil
	case map[string][]string:
		m := make(map[string]Value, len(value))
		for key, items := range value {
			if len(items) == 1 {
				m[key] = StringOf(items[0])
				continue
			}
			list := make([]Value, 0, len(items))
			for _, item := range items {
				list = append(list, StringOf(item))
			}
			m[key] = ListOf(list...)
		}
		return MapOf(m), nil
	}

	// Fallback: round trip through JSON (structs, typed maps, slices)
	data, err := json.Marshal(v)
	if err != nil {
		return NullValue(), fmt.Errorf("unsupported guest value %T: %s", v, err.Error())
	}
	return FromJSON(data)
}

// MustOf is Of that panics on unsupported input. For literals in host code.
func MustOf(v interface{}) Value {
	value, err := Of(v)
	if err != nil {
		panic(err)
	}
	return value
}

// FromJSON decodes a JSON document into a Value
func FromJSON(data []byte) (Value, error) {
	if len(data) == 0 {
		return NullValue(), nil
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return NullValue(), err
	}
	return Of(raw)
}

// Kind the variant
func (v Value) Kind() Kind { return v.kind }

// IsNull null check
func (v Value) IsNull() bool { return v.kind == Null }

// Bool the boolean, false when not a Bool
func (v Value) Bool() bool { return v.kind == Bool && v.b }

// Number the number, 0 when not a Number
func (v Value) Number() float64 {
	if v.kind != Number {
		return 0
	}
	return v.n
}

// Str the string payload, "" when not a String
func (v Value) Str() string {
	if v.kind != String {
		return ""
	}
	return v.s
}

// List the list items, nil when not a List
func (v Value) List() []Value {
	if v.kind != List {
		return nil
	}
	return v.l
}

// Map the map entries, nil when not a Map
func (v Value) Map() map[string]Value {
	if v.kind != Map {
		return nil
	}
	return v.m
}

// Get a map entry, Null if missing or not a map
func (v Value) Get(key string) Value {
	if v.kind != Map {
		return NullValue()
	}
	return v.m[key]
}

// Has reports if the map contains the key
func (v Value) Has(key string) bool {
	if v.kind != Map {
		return false
	}
	_, has := v.m[key]
	return has
}

// Keys the sorted map keys
func (v Value) Keys() []string {
	if v.kind != Map {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for key := range v.m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Scalar reports whether the value is a bool, number or string
func (v Value) Scalar() bool {
	return v.kind == Bool || v.kind == Number || v.kind == String
}

// Text formats a scalar as a string: strings as-is, integral numbers without a
// fraction, booleans as true/false. The second result is false for non scalars.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case String:
		return v.s, true
	case Bool:
		return strconv.FormatBool(v.b), true
	case Number:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return strconv.FormatFloat(v.n, 'g', -1, 64), true
		}
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1e21 {
			return strconv.FormatFloat(v.n, 'f', -1, 64), true
		}
		return strconv.FormatFloat(v.n, 'g', -1, 64), true
	}
	return "", false
}

// Interface converts the value back into plain Go values
func (v Value) Interface() interface{} {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.n
	case String:
		return v.s
	case List:
		items := make([]interface{}, 0, len(v.l))
		for _, item := range v.l {
			items = append(items, item.Interface())
		}
		return items
	case Map:
		m := make(map[string]interface{}, len(v.m))
		for key, item := range v.m {
			m[key] = item.Interface()
		}
		return m
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == Number && (math.IsNaN(v.n) || math.IsInf(v.n, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	value, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// String a debug representation
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(data)
}
