package filter

import (
	"sort"
	"strings"

	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/guest"
)

// Attributes a flat string map used to route published messages
type Attributes map[string]string

// Match reports whether a message published with publish reaches a connection
// declared with conn: every publish pair must be present in conn with an equal value.
// Extra connection keys are ignored and an empty publish filter matches everything.
func Match(conn, publish Attributes) bool {
	for key, value := range publish {
		got, has := conn[key]
		if !has || got != value {
			return false
		}
	}
	return true
}

// Coerce converts the return value of a connection setup handler into attributes.
// Strings are kept, numbers and booleans are formatted, null becomes an empty filter.
// Any other shape is an InvalidFilterShape failure.
func Coerce(v guest.Value) (Attributes, error) {
	switch v.Kind() {
	case guest.Null:
		return Attributes{}, nil
	case guest.Map:
	default:
		return nil, failure.New(failure.InvalidFilterShape, "the setup handler returned a %s, expected a flat object of strings", v.Kind())
	}

	attrs := Attributes{}
	bad := []string{}
	for key, item := range v.Map() {
		text, ok := item.Text()
		if !ok {
			bad = append(bad, key)
			continue
		}
		attrs[key] = text
	}

	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, failure.New(failure.InvalidFilterShape, "filter attributes must be strings, numbers or booleans: %s", strings.Join(bad, ", "))
	}
	return attrs, nil
}

// FromValue reads a publish filter passed by guest code. Null means broadcast.
func FromValue(v guest.Value) (Attributes, error) {
	return Coerce(v)
}

// Clone copies the attributes
func (attrs Attributes) Clone() Attributes {
	clone := make(Attributes, len(attrs))
	for key, value := range attrs {
		clone[key] = value
	}
	return clone
}

// Value the attributes as a guest map
func (attrs Attributes) Value() guest.Value {
	m := make(map[string]guest.Value, len(attrs))
	for key, value := range attrs {
		m[key] = guest.StringOf(value)
	}
	return guest.MapOf(m)
}
