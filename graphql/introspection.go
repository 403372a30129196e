package graphql

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// resolvable a host side object whose fields are computed on selection
type resolvable interface {
	resolve(field string, args map[string]interface{}) interface{}
}

type schemaObject struct {
	schema *ast.Schema
}

type typeObject struct {
	schema *ast.Schema
	def    *ast.Definition // named types
	typ    *ast.Type       // LIST and NON_NULL wrappers
}

type fieldObject struct {
	schema *ast.Schema
	def    *ast.FieldDefinition
}

type inputObject struct {
	schema       *ast.Schema
	name         string
	description  string
	typ          *ast.Type
	defaultValue *ast.Value
	directives   ast.DirectiveList
}

type enumObject struct {
	def *ast.EnumValueDefinition
}

type directiveObject struct {
	schema *ast.Schema
	def    *ast.DirectiveDefinition
}

func (obj *schemaObject) resolve(field string, args map[string]interface{}) interface{} {
	switch field {
	case "description":
		return nilString(obj.schema.Description)

	case "types":
		names := make([]string, 0, len(obj.schema.Types))
		for name := range obj.schema.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		types := make([]interface{}, 0, len(names))
		for _, name := range names {
			types = append(types, named(obj.schema, obj.schema.Types[name]))
		}
		return types

	case "queryType":
		return named(obj.schema, obj.schema.Query)
	case "mutationType":
		return named(obj.schema, obj.schema.Mutation)
	case "subscriptionType":
		return named(obj.schema, obj.schema.Subscription)

	case "directives":
		names := make([]string, 0, len(obj.schema.Directives))
		for name := range obj.schema.Directives {
			names = append(names, name)
		}
		sort.Strings(names)
		directives := make([]interface{}, 0, len(names))
		for _, name := range names {
			directives = append(directives, &directiveObject{schema: obj.schema, def: obj.schema.Directives[name]})
		}
		return directives
	}
	return nil
}

func (obj *typeObject) resolve(field string, args map[string]interface{}) interface{} {
	if obj.typ != nil {
		switch field {
		case "kind":
			if obj.typ.NonNull {
				return "NON_NULL"
			}
			return "LIST"
		case "ofType":
			if obj.typ.NonNull {
				inner := *obj.typ
				inner.NonNull = false
				return reference(obj.schema, &inner)
			}
			return reference(obj.schema, obj.typ.Elem)
		}
		return nil
	}

	def := obj.def
	deprecated, _ := args["includeDeprecated"].(bool)
	switch field {
	case "kind":
		return string(def.Kind)
	case "name":
		return def.Name
	case "description":
		return nilString(def.Description)

	case "fields":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		fields := []interface{}{}
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			if !deprecated && fd.Directives.ForName("deprecated") != nil {
				continue
			}
			fields = append(fields, &fieldObject{schema: obj.schema, def: fd})
		}
		return fields

	case "interfaces":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		interfaces := []interface{}{}
		for _, name := range def.Interfaces {
			interfaces = append(interfaces, named(obj.schema, obj.schema.Types[name]))
		}
		return interfaces

	case "possibleTypes":
		if !def.IsAbstractType() {
			return nil
		}
		possible := []interface{}{}
		for _, p := range possibleTypes(obj.schema, def) {
			possible = append(possible, named(obj.schema, p))
		}
		return possible

	case "enumValues":
		if def.Kind != ast.Enum {
			return nil
		}
		values := []interface{}{}
		for _, value := range def.EnumValues {
			if !deprecated && value.Directives.ForName("deprecated") != nil {
				continue
			}
			values = append(values, &enumObject{def: value})
		}
		return values

	case "inputFields":
		if def.Kind != ast.InputObject {
			return nil
		}
		inputs := []interface{}{}
		for _, fd := range def.Fields {
			inputs = append(inputs, &inputObject{
				schema:       obj.schema,
				name:         fd.Name,
				description:  fd.Description,
				typ:          fd.Type,
				defaultValue: fd.DefaultValue,
				directives:   fd.Directives,
			})
		}
		return inputs

	case "specifiedByURL":
		if directive := def.Directives.ForName("specifiedBy"); directive != nil {
			if arg := directive.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				return arg.Value.Raw
			}
		}
	}
	return nil
}

func (obj *fieldObject) resolve(field string, args map[string]interface{}) interface{} {
	switch field {
	case "name":
		return obj.def.Name
	case "description":
		return nilString(obj.def.Description)
	case "args":
		return arguments(obj.schema, obj.def.Arguments)
	case "type":
		return reference(obj.schema, obj.def.Type)
	case "isDeprecated":
		return obj.def.Directives.ForName("deprecated") != nil
	case "deprecationReason":
		return deprecation(obj.def.Directives)
	}
	return nil
}

func (obj *inputObject) resolve(field string, args map[string]interface{}) interface{} {
	switch field {
	case "name":
		return obj.name
	case "description":
		return nilString(obj.description)
	case "type":
		return reference(obj.schema, obj.typ)
	case "defaultValue":
		if obj.defaultValue == nil {
			return nil
		}
		return obj.defaultValue.String()
	case "isDeprecated":
		return obj.directives.ForName("deprecated") != nil
	case "deprecationReason":
		return deprecation(obj.directives)
	}
	return nil
}

func (obj *enumObject) resolve(field string, args map[string]interface{}) interface{} {
	switch field {
	case "name":
		return obj.def.Name
	case "description":
		return nilString(obj.def.Description)
	case "isDeprecated":
		return obj.def.Directives.ForName("deprecated") != nil
	case "deprecationReason":
		return deprecation(obj.def.Directives)
	}
	return nil
}

func (obj *directiveObject) resolve(field string, args map[string]interface{}) interface{} {
	switch field {
	case "name":
		return obj.def.Name
	case "description":
		return nilString(obj.def.Description)
	case "locations":
		locations := make([]interface{}, 0, len(obj.def.Locations))
		for _, location := range obj.def.Locations {
			locations = append(locations, string(location))
		}
		return locations
	case "args":
		return arguments(obj.schema, obj.def.Arguments)
	case "isRepeatable":
		return obj.def.IsRepeatable
	}
	return nil
}

func named(schema *ast.Schema, def *ast.Definition) interface{} {
	if def == nil {
		return nil
	}
	return &typeObject{schema: schema, def: def}
}

func reference(schema *ast.Schema, typ *ast.Type) interface{} {
	if typ == nil {
		return nil
	}
	if typ.NonNull || typ.Elem != nil {
		return &typeObject{schema: schema, typ: typ}
	}
	return named(schema, schema.Types[typ.NamedType])
}

func arguments(schema *ast.Schema, list ast.ArgumentDefinitionList) []interface{} {
	args := make([]interface{}, 0, len(list))
	for _, arg := range list {
		args = append(args, &inputObject{
			schema:       schema,
			name:         arg.Name,
			description:  arg.Description,
			typ:          arg.Type,
			defaultValue: arg.DefaultValue,
			directives:   arg.Directives,
		})
	}
	return args
}

func possibleTypes(schema *ast.Schema, def *ast.Definition) []*ast.Definition {
	out := []*ast.Definition{}
	switch def.Kind {
	case ast.Union:
		for _, name := range def.Types {
			if p := schema.Types[name]; p != nil {
				out = append(out, p)
			}
		}
	case ast.Interface:
		for _, p := range schema.Types {
			if p.Kind != ast.Object {
				continue
			}
			for _, name := range p.Interfaces {
				if name == def.Name {
					out = append(out, p)
					break
				}
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out
}

func deprecation(directives ast.DirectiveList) interface{} {
	directive := directives.ForName("deprecated")
	if directive == nil {
		return nil
	}
	if arg := directive.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw
	}
	return "No longer supported"
}

func nilString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
