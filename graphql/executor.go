package graphql

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/stream"
)

// execution the state of one operation
type execution struct {
	exec    *Executor
	schema  *Schema
	doc     *ast.QueryDocument
	op      *ast.OperationDefinition
	vars    map[string]interface{}
	carrier Carrier
	errors  gqlerror.List
}

// group the fields merged under one response key
type group struct {
	key    string
	fields []*ast.Field
}

// NewExecutor create an executor over the registry
func NewExecutor(registry *Registry, resolver Resolver, hub *stream.Hub, option Option) *Executor {
	if option.Mode == "" {
		option.Mode = "production"
	}
	if option.KeepAlive <= 0 {
		option.KeepAlive = stream.DefaultKeepAlive
	}
	if option.MaxBody <= 0 {
		option.MaxBody = 4 << 20
	}
	return &Executor{registry: registry, resolver: resolver, hub: hub, option: option}
}

// Registry the registry the executor reads
func (exec *Executor) Registry() *Registry {
	return exec.registry
}

// Channel the stream channel of a subscription field
func Channel(name string) string {
	return "graphql:" + name
}

// OperationOf the operation type the request selects, without validating it
func OperationOf(req *Request) (ast.Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		return "", err
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		return "", fmt.Errorf("operation %q not found", req.OperationName)
	}
	return op.Operation, nil
}

// Execute runs a query or a mutation. Root fields run in document order, one
// after another. Subscriptions are refused: they need a streaming transport.
func (exec *Executor) Execute(ctx context.Context, req *Request, carrier Carrier) *Response {
	e, errs := exec.prepare(req, carrier)
	if len(errs) > 0 {
		return &Response{Errors: errs}
	}

	switch e.op.Operation {
	case ast.Subscription:
		return Failed(requestError(failure.BadRequest, fmt.Errorf("subscriptions require the sse or the websocket transport")))
	case ast.Mutation:
		if carrier.ReadOnly {
			return Failed(requestError(failure.MethodNotAllowed, fmt.Errorf("mutations are not allowed over GET")))
		}
	}

	data := e.root(ctx)
	return &Response{Data: data, Errors: e.errors}
}

// Publish delivers a payload to the subscriptions of the field whose filter
// contains publishFilter
func (exec *Executor) Publish(name string, payload []byte, publishFilter map[string]string) int {
	return exec.hub.Publish(Channel(name), "next", payload, publishFilter)
}

func (exec *Executor) production() bool {
	return exec.option.Mode != "development"
}

func (exec *Executor) prepare(req *Request, carrier Carrier) (*execution, gqlerror.List) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, gqlerror.List{requestError(failure.BadRequest, fmt.Errorf("the query is empty"))}
	}

	schema := exec.registry.Schema()
	doc, errs := gqlparser.LoadQuery(schema.Schema, req.Query)
	if len(errs) > 0 {
		return nil, requestErrors(errs)
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			return nil, gqlerror.List{requestError(failure.BadRequest, fmt.Errorf("the document has several operations, operationName is required"))}
		}
		return nil, gqlerror.List{requestError(failure.BadRequest, fmt.Errorf("operation %q not found", req.OperationName))}
	}

	vars, err := validator.VariableValues(schema.Schema, op, req.Variables)
	if err != nil {
		return nil, gqlerror.List{requestError(failure.BadRequest, err)}
	}

	return &execution{
		exec:    exec,
		schema:  schema,
		doc:     doc,
		op:      op,
		vars:    vars,
		carrier: carrier,
	}, nil
}

func (e *execution) root(ctx context.Context) interface{} {
	def := e.schema.Query
	if e.op.Operation == ast.Mutation {
		def = e.schema.Mutation
	}

	data := NewObject()
	for _, g := range e.collect(def, e.op.SelectionSet) {
		value, err := e.rootField(ctx, def, g)
		if err != nil {
			return nil
		}
		data.Set(g.key, value)
	}
	return data
}

func (e *execution) rootField(ctx context.Context, def *ast.Definition, g *group) (interface{}, error) {
	f := g.fields[0]
	path := ast.Path{ast.PathName(g.key)}

	switch f.Name {
	case "__typename":
		return def.Name, nil
	case placeholder:
		return nil, nil
	case "__schema":
		return e.complete(path, ast.NonNullNamedType("__Schema", nil), g.fields, &schemaObject{e.schema.Schema})
	case "__type":
		name, _ := f.ArgumentMap(e.vars)["name"].(string)
		named := e.schema.Types[name]
		if named == nil {
			return nil, nil
		}
		return e.complete(path, ast.NamedType("__Type", nil), g.fields, &typeObject{schema: e.schema.Schema, def: named})
	}

	fd := def.Fields.ForName(f.Name)
	field, has := e.schema.Field(Operation(e.op.Operation), f.Name)
	if fd == nil || !has {
		e.fail(path, g.fields, failure.New(failure.HandlerNotFound, "%s.%s has no resolver", def.Name, f.Name))
		return e.nullify(fd)
	}

	call := &Call{
		Field:     field,
		Alias:     g.key,
		Args:      f.ArgumentMap(e.vars),
		Transport: e.carrier.Transport,
		Request:   e.carrier.Request,
	}
	value, err := e.exec.resolver.Resolve(ctx, call)
	if err != nil {
		log.Warn("[GraphQL] %s.%s: %s", def.Name, f.Name, err.Error())
		e.fail(path, g.fields, err)
		return e.nullify(fd)
	}
	return e.complete(path, fd.Type, g.fields, value.Interface())
}

func (e *execution) nullify(fd *ast.FieldDefinition) (interface{}, error) {
	if fd != nil && fd.Type.NonNull {
		return nil, errNull
	}
	return nil, nil
}

func (e *execution) fail(path ast.Path, fields []*ast.Field, err error) {
	e.errors = append(e.errors, fieldError(err, path, fields, e.exec.production()))
}

func (e *execution) failf(path ast.Path, fields []*ast.Field, format string, args ...interface{}) {
	e.fail(path, fields, failure.New(failure.InvalidResponse, format, args...))
}

// complete shapes a resolved value by its type and selection set. A non-null
// position that completes to null returns errNull.
func (e *execution) complete(path ast.Path, typ *ast.Type, fields []*ast.Field, value interface{}) (interface{}, error) {
	if typ.NonNull {
		inner := *typ
		inner.NonNull = false
		v, err := e.completeNullable(path, &inner, fields, value)
		if err != nil {
			return nil, err
		}
		if v == nil {
			e.failf(path, fields, "cannot return null for the non-nullable %s", typ.String())
			return nil, errNull
		}
		return v, nil
	}

	v, err := e.completeNullable(path, typ, fields, value)
	if err != nil {
		return nil, nil
	}
	return v, nil
}

func (e *execution) completeNullable(path ast.Path, typ *ast.Type, fields []*ast.Field, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	if typ.Elem != nil {
		list, ok := value.([]interface{})
		if !ok {
			e.failf(path, fields, "expected a list for %s, got %T", typ.String(), value)
			return nil, errNull
		}
		out := make([]interface{}, len(list))
		for i, item := range list {
			v, err := e.complete(extend(path, ast.PathIndex(i)), typ.Elem, fields, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	def := e.schema.Types[typ.NamedType]
	if def == nil {
		e.failf(path, fields, "unknown type %s", typ.NamedType)
		return nil, errNull
	}

	switch def.Kind {
	case ast.Scalar:
		v, err := coerceScalar(def.Name, value)
		if err != nil {
			e.failf(path, fields, "%s", err.Error())
			return nil, errNull
		}
		return v, nil

	case ast.Enum:
		name, ok := value.(string)
		if !ok || def.EnumValues.ForName(name) == nil {
			e.failf(path, fields, "%v is not a value of the enum %s", value, def.Name)
			return nil, errNull
		}
		return name, nil

	case ast.Object, ast.Interface, ast.Union:
		concrete := def
		if def.IsAbstractType() {
			var err error
			concrete, err = e.concrete(def, value)
			if err != nil {
				e.failf(path, fields, "%s", err.Error())
				return nil, errNull
			}
		}
		return e.object(path, concrete, e.collectAll(concrete, fields), value)
	}

	e.failf(path, fields, "%s can not be an output type", def.Name)
	return nil, errNull
}

func (e *execution) object(path ast.Path, def *ast.Definition, groups []*group, value interface{}) (interface{}, error) {
	out := NewObject()
	for _, g := range groups {
		f := g.fields[0]
		if f.Name == "__typename" {
			out.Set(g.key, def.Name)
			continue
		}

		fd := def.Fields.ForName(f.Name)
		if fd == nil {
			out.Set(g.key, nil)
			continue
		}

		var raw interface{}
		switch source := value.(type) {
		case map[string]interface{}:
			raw = source[f.Name]
		case resolvable:
			raw = source.resolve(f.Name, f.ArgumentMap(e.vars))
		default:
			e.failf(path, g.fields, "expected an object for %s, got %T", def.Name, value)
			return nil, errNull
		}

		v, err := e.complete(extend(path, ast.PathName(g.key)), fd.Type, g.fields, raw)
		if err != nil {
			return nil, err
		}
		out.Set(g.key, v)
	}
	return out, nil
}

// concrete the object type of a value returned for an interface or a union
func (e *execution) concrete(def *ast.Definition, value interface{}) (*ast.Definition, error) {
	if source, ok := value.(map[string]interface{}); ok {
		if name, ok := source["__typename"].(string); ok {
			named := e.schema.Types[name]
			if named == nil || named.Kind != ast.Object || !e.applies(named, def.Name) {
				return nil, fmt.Errorf("%s is not a possible type of %s", name, def.Name)
			}
			return named, nil
		}
	}
	possible := possibleTypes(e.schema.Schema, def)
	if len(possible) == 1 {
		return possible[0], nil
	}
	return nil, fmt.Errorf("cannot tell the type of a %s value, return a __typename", def.Name)
}

// applies reports whether a type condition selects the object type
func (e *execution) applies(def *ast.Definition, condition string) bool {
	if condition == "" || condition == def.Name {
		return true
	}
	cond := e.schema.Types[condition]
	if cond == nil {
		return false
	}
	switch cond.Kind {
	case ast.Interface:
		for _, name := range def.Interfaces {
			if name == condition {
				return true
			}
		}
	case ast.Union:
		for _, name := range cond.Types {
			if name == def.Name {
				return true
			}
		}
	}
	return false
}

func (e *execution) collectAll(def *ast.Definition, fields []*ast.Field) []*group {
	set := ast.SelectionSet{}
	for _, f := range fields {
		set = append(set, f.SelectionSet...)
	}
	return e.collect(def, set)
}

// collect the fields of a selection set for the object type, applying skip and
// include, expanding fragments and merging aliases
func (e *execution) collect(def *ast.Definition, set ast.SelectionSet) []*group {
	groups := []*group{}
	index := map[string]*group{}
	visited := map[string]bool{}

	var walk func(set ast.SelectionSet)
	walk = func(set ast.SelectionSet) {
		for _, selection := range set {
			switch sel := selection.(type) {
			case *ast.Field:
				if !e.included(sel.Directives) {
					continue
				}
				key := sel.Alias
				if key == "" {
					key = sel.Name
				}
				if g, has := index[key]; has {
					g.fields = append(g.fields, sel)
					continue
				}
				g := &group{key: key, fields: []*ast.Field{sel}}
				index[key] = g
				groups = append(groups, g)

			case *ast.FragmentSpread:
				if visited[sel.Name] || !e.included(sel.Directives) {
					continue
				}
				visited[sel.Name] = true
				fragment := e.doc.Fragments.ForName(sel.Name)
				if fragment == nil || !e.applies(def, fragment.TypeCondition) {
					continue
				}
				walk(fragment.SelectionSet)

			case *ast.InlineFragment:
				if !e.included(sel.Directives) || !e.applies(def, sel.TypeCondition) {
					continue
				}
				walk(sel.SelectionSet)
			}
		}
	}
	walk(set)
	return groups
}

func (e *execution) included(directives ast.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if on, _ := skip.ArgumentMap(e.vars)["if"].(bool); on {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if on, _ := include.ArgumentMap(e.vars)["if"].(bool); !on {
			return false
		}
	}
	return true
}

// coerceScalar the output coercion of the built in scalars. Custom scalars pass through.
func coerceScalar(name string, value interface{}) (interface{}, error) {
	switch name {
	case "Int":
		n, ok := number(value)
		if !ok || n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return nil, fmt.Errorf("%v is not an Int", value)
		}
		return int64(n), nil

	case "Float":
		n, ok := number(value)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("%v is not a Float", value)
		}
		return n, nil

	case "String":
		switch v := value.(type) {
		case string:
			return v, nil
		case bool:
			return strconv.FormatBool(v), nil
		}
		if n, ok := number(value); ok {
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		}
		return nil, fmt.Errorf("%v is not a String", value)

	case "Boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%v is not a Boolean", value)
		}
		return b, nil

	case "ID":
		if s, ok := value.(string); ok {
			return s, nil
		}
		if n, ok := number(value); ok && n == math.Trunc(n) {
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		}
		return nil, fmt.Errorf("%v is not an ID", value)
	}
	return value, nil
}

func number(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}

func extend(path ast.Path, elem ast.PathElement) ast.Path {
	out := make(ast.Path, 0, len(path)+1)
	out = append(out, path...)
	return append(out, elem)
}
