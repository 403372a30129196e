package graphql

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
)

// reFragment a type system document, anything else is a root field shorthand
var reFragment = regexp.MustCompile(`(?m)^\s*(extend\s+)?(type|input|enum|scalar|interface|union)\s+\w+`)

// placeholder keeps the Query root valid while no query field is registered
const placeholder = "_empty"

// NewRegistry create an empty registry
func NewRegistry() *Registry {
	reg := &Registry{fields: map[Operation]map[string]*Field{}}
	for _, op := range operations {
		reg.fields[op] = map[string]*Field{}
	}
	schema, err := compose(reg.fields)
	if err != nil {
		panic(err) // the empty composition is static
	}
	reg.snap.Store(schema)
	return reg
}

// Root the root type name of the operation
func (op Operation) Root() string {
	switch op {
	case Mutation:
		return "Mutation"
	case Subscription:
		return "Subscription"
	}
	return "Query"
}

// ParseOperation validates an operation name
func ParseOperation(name string) (Operation, error) {
	switch Operation(strings.ToLower(name)) {
	case Query:
		return Query, nil
	case Mutation:
		return Mutation, nil
	case Subscription:
		return Subscription, nil
	}
	return "", fmt.Errorf("unknown graphql operation %q", name)
}

// Register a root field. sdl is a field definition or a type system fragment that
// defines the field on its root type. Registering the same operation and name again
// replaces the field. The registration fails when the composed schema is invalid.
func (reg *Registry) Register(scriptID string, op Operation, name string, sdl string, resolver string) error {
	field, err := parseField(op, name, sdl)
	if err != nil {
		return failure.New(failure.BadRequest, "%s", err.Error())
	}
	field.ScriptID = scriptID
	field.Resolver = resolver

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if prev, has := reg.fields[op][name]; has {
		field.seq = prev.seq
	} else {
		reg.seq++
		field.seq = reg.seq
	}

	next := reg.clone()
	next[op][name] = field
	schema, err := compose(next)
	if err != nil {
		return failure.New(failure.BadRequest, "%s.%s: %s", op.Root(), name, err.Error())
	}

	reg.fields = next
	reg.snap.Store(schema)
	log.Trace("[GraphQL] %s %s registered by %s", op, name, scriptID)
	return nil
}

// Pending a root field waiting to be registered
type Pending struct {
	Operation Operation
	Name      string
	SDL       string
	Resolver  string
}

// Check composes the schema with every field of the script replaced by pending, without publishing it
func (reg *Registry) Check(scriptID string, pending []Pending) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, _, err := reg.replaced(scriptID, pending)
	return err
}

// Replace swaps every field of the script for pending in a single publish
func (reg *Registry) Replace(scriptID string, pending []Pending) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	next, schema, err := reg.replaced(scriptID, pending)
	if err != nil {
		return err
	}
	reg.fields = next
	reg.snap.Store(schema)
	log.Trace("[GraphQL] %s registered %d fields", scriptID, len(pending))
	return nil
}

// replaced the fields and schema with the script fields swapped. Must hold reg.mu.
func (reg *Registry) replaced(scriptID string, pending []Pending) (map[Operation]map[string]*Field, *Schema, error) {
	next := reg.clone()
	for _, op := range operations {
		for name, field := range next[op] {
			if field.ScriptID == scriptID {
				delete(next[op], name)
			}
		}
	}

	for _, p := range pending {
		field, err := parseField(p.Operation, p.Name, p.SDL)
		if err != nil {
			return nil, nil, failure.New(failure.BadRequest, "%s", err.Error())
		}
		field.ScriptID = scriptID
		field.Resolver = p.Resolver
		if prev, has := reg.fields[p.Operation][p.Name]; has {
			field.seq = prev.seq
		} else {
			reg.seq++
			field.seq = reg.seq
		}
		next[p.Operation][p.Name] = field
	}

	schema, err := compose(next)
	if err != nil {
		return nil, nil, failure.New(failure.BadRequest, "%s", err.Error())
	}
	return next, schema, nil
}

// Unregister a root field
func (reg *Registry) Unregister(op Operation, name string) bool {
	return reg.remove(func(field *Field) bool {
		return field.Operation == op && field.Name == name
	}) > 0
}

// RemoveScript drop every field registered by the script
func (reg *Registry) RemoveScript(scriptID string) int {
	return reg.remove(func(field *Field) bool { return field.ScriptID == scriptID })
}

// Schema the current snapshot
func (reg *Registry) Schema() *Schema {
	return reg.snap.Load()
}

// Fields the registered fields of an operation, sorted by name
func (reg *Registry) Fields(op Operation) []*Field {
	return sortFields(reg.snap.Load().fields[op])
}

// Field a registered root field
func (schema *Schema) Field(op Operation, name string) (*Field, bool) {
	field, has := schema.fields[op][name]
	return field, has
}

// Print the composed schema as SDL, without the built in definitions
func (schema *Schema) Print() string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchema(schema.Schema)
	return buf.String()
}

func (reg *Registry) remove(drop func(field *Field) bool) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	next := reg.clone()
	removed := 0
	for _, op := range operations {
		for name, field := range next[op] {
			if drop(field) {
				delete(next[op], name)
				removed++
			}
		}
	}
	if removed == 0 {
		return 0
	}

	schema, err := compose(next)
	if err != nil {
		// a remaining field relied on a type the removed fields declared
		log.Warn("[GraphQL] recompose after removal: %s", err.Error())
		next, schema = progressive(next)
	}
	reg.fields = next
	reg.snap.Store(schema)
	return removed
}

func (reg *Registry) clone() map[Operation]map[string]*Field {
	next := make(map[Operation]map[string]*Field, len(reg.fields))
	for op, fields := range reg.fields {
		next[op] = make(map[string]*Field, len(fields))
		for name, field := range fields {
			next[op][name] = field
		}
	}
	return next
}

// progressive recompose by adding fields in registration order, skipping those
// that no longer compose
func progressive(fields map[Operation]map[string]*Field) (map[Operation]map[string]*Field, *Schema) {
	all := []*Field{}
	for _, op := range operations {
		for _, field := range fields[op] {
			all = append(all, field)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	kept := map[Operation]map[string]*Field{}
	for _, op := range operations {
		kept[op] = map[string]*Field{}
	}
	schema, _ := compose(kept)
	for _, field := range all {
		kept[field.Operation][field.Name] = field
		next, err := compose(kept)
		if err != nil {
			log.Warn("[GraphQL] drop %s.%s of %s: %s", field.Operation.Root(), field.Name, field.ScriptID, err.Error())
			delete(kept[field.Operation], field.Name)
			continue
		}
		schema = next
	}
	return kept, schema
}

func parseField(op Operation, name string, sdl string) (*Field, error) {
	root := op.Root()
	text := strings.TrimSpace(sdl)
	if text == "" {
		return nil, fmt.Errorf("the sdl of %s is empty", name)
	}
	if !reFragment.MatchString(text) {
		text = fmt.Sprintf("type %s {\n  %s\n}\n", root, text)
	}

	doc, err := parser.ParseSchema(&ast.Source{Name: name + ".graphql", Input: text})
	if err != nil {
		return nil, err
	}

	if len(doc.Schema) > 0 || len(doc.SchemaExtension) > 0 || len(doc.Directives) > 0 {
		return nil, fmt.Errorf("schema and directive definitions are not supported in %s", name)
	}

	field := &Field{Operation: op, Name: name, SDL: sdl}
	definitions := append(ast.DefinitionList{}, doc.Definitions...)
	definitions = append(definitions, doc.Extensions...)
	for _, def := range definitions {
		switch def.Name {
		case root:
			for _, fd := range def.Fields {
				if fd.Name != name {
					return nil, fmt.Errorf("the sdl of %s may not define %s.%s", name, root, fd.Name)
				}
				field.definition = fd
			}
			continue

		case "Query", "Mutation", "Subscription":
			return nil, fmt.Errorf("the sdl of %s may not define the %s root", name, def.Name)
		}

		for _, ext := range doc.Extensions {
			if ext == def {
				return nil, fmt.Errorf("the sdl of %s may not extend %s", name, def.Name)
			}
		}
		field.types = append(field.types, def)
	}

	if field.definition == nil {
		return nil, fmt.Errorf("the sdl does not define %s.%s", root, name)
	}
	return field, nil
}

func compose(fields map[Operation]map[string]*Field) (*Schema, error) {
	doc := &ast.SchemaDocument{}
	declared := map[string]string{}

	for _, op := range operations {
		list := sortFields(fields[op])
		root := &ast.Definition{Kind: ast.Object, Name: op.Root()}
		if len(list) == 0 {
			if op != Query {
				continue
			}
			root.Fields = ast.FieldList{{Name: placeholder, Type: ast.NamedType("Boolean", nil)}}
		}

		for _, field := range list {
			root.Fields = append(root.Fields, field.definition)
		}
		doc.Definitions = append(doc.Definitions, root)

		for _, field := range list {
			for _, def := range field.types {
				text := render(def)
				if prev, has := declared[def.Name]; has {
					if prev != text {
						return nil, fmt.Errorf("%s is declared differently by %s.%s", def.Name, op.Root(), field.Name)
					}
					continue
				}
				declared[def.Name] = text
				doc.Definitions = append(doc.Definitions, def)
			}
		}
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(doc)
	sdl := buf.String()

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "weave.graphql", Input: sdl})
	if err != nil {
		return nil, err
	}
	return &Schema{Schema: schema, SDL: sdl, fields: fields}, nil
}

func render(def *ast.Definition) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(&ast.SchemaDocument{Definitions: ast.DefinitionList{def}})
	return buf.String()
}

func sortFields(fields map[string]*Field) []*Field {
	list := make([]*Field, 0, len(fields))
	for _, field := range fields {
		list = append(list, field)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
