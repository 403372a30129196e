package v8

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// forbidden identifiers, wherever they are referenced or bound
var forbidden = map[string]string{
	"eval":          "dynamic code evaluation",
	"Function":      "dynamic code evaluation",
	"require":       "module loading",
	"importScripts": "module loading",
}

// forbidden member names, for dot access and literal bracket access
var forbiddenMembers = map[string]string{
	"eval":             "dynamic code evaluation",
	"Function":         "dynamic code evaluation",
	"constructor":      "prototype chain manipulation",
	"__proto__":        "prototype chain manipulation",
	"setPrototypeOf":   "prototype chain manipulation",
	"__defineGetter__": "prototype chain manipulation",
	"__defineSetter__": "prototype chain manipulation",
	"__lookupGetter__": "prototype chain manipulation",
	"__lookupSetter__": "prototype chain manipulation",
}

var reModule = regexp.MustCompile(`(?m)(^|[;{}]\s*)(import|export)\b|\bimport\s*\(`)

// Violation a forbidden construct found in a script
type Violation struct {
	Construct string
	Category  string
	File      string
	Line      int
	Column    int
	offset    int
}

// Inspect walks the syntax tree of normalized code and returns the first forbidden
// construct. Code the inspector cannot parse is rejected.
func Inspect(code string, file string) *Violation {
	program, err := parser.ParseFile(nil, file, code, 0)
	if err != nil {
		if reModule.MatchString(code) {
			return &Violation{Construct: "import/export", Category: "module loading", File: file}
		}
		return &Violation{Construct: err.Error(), Category: "uninspectable source", File: file}
	}

	inspector := &inspector{seen: map[uintptr]bool{}}
	inspector.walk(reflect.ValueOf(program))
	if inspector.violation != nil {
		inspector.violation.File = file
	}
	return inspector.violation
}

// Error implements error
func (v *Violation) Error() string {
	if v.Category == "uninspectable source" {
		return fmt.Sprintf("%s could not be inspected: %s", v.File, v.Construct)
	}
	if v.Line > 0 {
		return fmt.Sprintf("%s is not allowed (%s) at %s:%d:%d", v.Construct, v.Category, v.File, v.Line, v.Column)
	}
	return fmt.Sprintf("%s is not allowed (%s) in %s", v.Construct, v.Category, v.File)
}

// locate resolves the offset into a line and column of the original source
func (v *Violation) locate(script *Script) {
	if v.offset <= 0 || v.offset > len(script.Code) {
		return
	}
	before := script.Code[:v.offset]
	line := strings.Count(before, "\n") + 1
	column := v.offset - strings.LastIndex(before, "\n")
	v.File, v.Line, v.Column = script.source(line, column)
}

type inspector struct {
	violation *Violation
	seen      map[uintptr]bool
}

func (in *inspector) walk(value reflect.Value) {
	if in.violation != nil {
		return
	}

	switch value.Kind() {
	case reflect.Interface:
		if !value.IsNil() {
			in.walk(value.Elem())
		}

	case reflect.Ptr:
		if value.IsNil() {
			return
		}
		ptr := value.Pointer()
		if in.seen[ptr] {
			return
		}
		in.seen[ptr] = true
		if value.CanInterface() && !in.visit(value.Interface()) {
			return
		}
		in.walk(value.Elem())

	case reflect.Struct:
		typ := value.Type()
		for i := 0; i < value.NumField(); i++ {
			if typ.Field(i).IsExported() {
				in.walk(value.Field(i))
			}
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			in.walk(value.Index(i))
		}
	}
}

// visit checks one node, returning false when its children were handled
func (in *inspector) visit(node interface{}) bool {
	switch n := node.(type) {
	case *ast.Identifier:
		in.identifier(string(n.Name), n)

	case *ast.DotExpression:
		in.member(string(n.Identifier.Name), n)
		in.walk(reflect.ValueOf(n.Left))
		return false

	case *ast.BracketExpression:
		if name, ok := literal(n.Member); ok {
			in.member(name, n)
		}

	case *ast.PropertyShort:
		in.identifier(string(n.Name.Name), n)

	case *ast.PropertyKeyed:
		if name, ok := literal(n.Key); ok && name == "__proto__" {
			in.member(name, n)
		}
	}
	return true
}

func (in *inspector) identifier(name string, node ast.Node) {
	if category, has := forbidden[name]; has {
		in.report(name, category, node)
	}
}

func (in *inspector) member(name string, node ast.Node) {
	if category, has := forbiddenMembers[name]; has {
		in.report(name, category, node)
	}
}

func (in *inspector) report(construct string, category string, node ast.Node) {
	if in.violation != nil {
		return
	}
	in.violation = &Violation{
		Construct: construct,
		Category:  category,
		offset:    int(node.Idx0()) - 1,
	}
}

// literal the constant value of a string or untagged template member
func literal(expr ast.Expression) (string, bool) {
	switch e := expr.(type) {
	case *ast.StringLiteral:
		return string(e.Value), true
	case *ast.TemplateLiteral:
		if e.Tag == nil && len(e.Expressions) == 0 && len(e.Elements) == 1 {
			return string(e.Elements[0].Parsed), true
		}
	}
	return "", false
}
