package graphql

import (
	"bytes"
	"errors"

	jsoniter "github.com/json-iterator/go"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/yaoapp/weave/failure"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errNull a non-null position completed to null; the nearest nullable parent becomes null
var errNull = errors.New("null propagation")

// Object a response object keeping the selection order of its keys
type Object struct {
	keys   []string
	values map[string]interface{}
}

// NewObject create an empty object
func NewObject() *Object {
	return &Object{values: map[string]interface{}{}}
}

// Set a key, keeping the position of an existing key
func (obj *Object) Set(key string, value interface{}) {
	if _, has := obj.values[key]; !has {
		obj.keys = append(obj.keys, key)
	}
	obj.values[key] = value
}

// Get a key
func (obj *Object) Get(key string) (interface{}, bool) {
	value, has := obj.values[key]
	return value, has
}

// Keys in selection order
func (obj *Object) Keys() []string {
	return obj.keys
}

// Map an unordered copy, nested objects included
func (obj *Object) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(obj.keys))
	for key, value := range obj.values {
		out[key] = plain(value)
	}
	return out
}

// MarshalJSON implements json.Marshaler
func (obj *Object) MarshalJSON() ([]byte, error) {
	if obj == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range obj.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(obj.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func plain(value interface{}) interface{} {
	switch v := value.(type) {
	case *Object:
		if v == nil {
			return nil
		}
		return v.Map()
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	}
	return value
}

// Failed a response carrying errors only
func Failed(errs ...*gqlerror.Error) *Response {
	return &Response{Errors: errs}
}

// fieldError converts a resolver failure into a located GraphQL error. In
// production mode the message is the failure kind.
func fieldError(err error, path ast.Path, fields []*ast.Field, production bool) *gqlerror.Error {
	f := failure.From(err)
	message := f.Message
	if production || message == "" {
		message = string(f.Kind)
	}

	gerr := &gqlerror.Error{
		Err:     err,
		Message: message,
		Path:    append(ast.Path{}, path...),
		Extensions: map[string]interface{}{
			"kind":          string(f.Kind),
			"correlationId": f.CorrelationID,
		},
	}
	if !production && f.Stack != "" {
		gerr.Extensions["stack"] = f.Stack
	}
	for _, field := range fields {
		if field.Position != nil {
			gerr.Locations = append(gerr.Locations, gqlerror.Location{Line: field.Position.Line, Column: field.Position.Column})
			break
		}
	}
	return gerr
}

// requestError a failure that happened before execution
func requestError(kind failure.Kind, err error) *gqlerror.Error {
	var gerr *gqlerror.Error
	if errors.As(err, &gerr) {
		if gerr.Extensions == nil {
			gerr.Extensions = map[string]interface{}{}
		}
		if _, has := gerr.Extensions["kind"]; !has {
			gerr.Extensions["kind"] = string(kind)
		}
		return gerr
	}
	return &gqlerror.Error{
		Err:        err,
		Message:    err.Error(),
		Extensions: map[string]interface{}{"kind": string(kind)},
	}
}

// requestErrors tags the validation errors of a document
func requestErrors(errs gqlerror.List) gqlerror.List {
	for _, gerr := range errs {
		if gerr.Extensions == nil {
			gerr.Extensions = map[string]interface{}{}
		}
		if _, has := gerr.Extensions["kind"]; !has {
			gerr.Extensions["kind"] = string(failure.BadRequest)
		}
	}
	return errs
}
