package route

import (
	"fmt"
	"strings"
)

// SegmentKind the kind of a pattern segment
type SegmentKind uint8

const (
	// Literal matches a segment verbatim
	Literal SegmentKind = iota
	// Param matches exactly one segment and binds it, e.g. :id
	Param
	// Wildcard matches one segment, or every remaining segment when trailing, e.g. * or *path
	Wildcard
)

// Segment a parsed pattern segment
type Segment struct {
	Kind  SegmentKind
	Value string // the literal text or the binding name
}

// Pattern a parsed route pattern
type Pattern struct {
	Raw      string
	Segments []Segment
}

// Specificity weights
const (
	LiteralWeight  = 1000
	ParamWeight    = 100
	WildcardWeight = 10
)

// Parse a route pattern
// Supports:
//   - Exact match: /user/list
//   - Path parameters: /user/:id -> matches /user/123
//   - Wildcard: /file/*path -> matches /file/a/b/c
//   - Inner wildcard: /file/*/meta -> matches /file/a/meta
func Parse(pattern string) (*Pattern, error) {
	pattern = strings.TrimSpace(pattern)
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("route pattern %q must start with /", pattern)
	}

	p := &Pattern{Segments: []Segment{}}
	seen := map[string]bool{}
	for _, part := range splitPath(pattern) {
		switch {
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if name == "" {
				return nil, fmt.Errorf("route pattern %q has an unnamed parameter", pattern)
			}
			if seen[name] {
				return nil, fmt.Errorf("route pattern %q binds %q twice", pattern, name)
			}
			seen[name] = true
			p.Segments = append(p.Segments, Segment{Kind: Param, Value: name})

		case strings.HasPrefix(part, "*"):
			name := part[1:]
			if name != "" {
				if seen[name] {
					return nil, fmt.Errorf("route pattern %q binds %q twice", pattern, name)
				}
				seen[name] = true
			}
			p.Segments = append(p.Segments, Segment{Kind: Wildcard, Value: name})

		default:
			p.Segments = append(p.Segments, Segment{Kind: Literal, Value: part})
		}
	}

	p.Raw = p.String()
	return p, nil
}

// String the canonical form of the pattern
func (p *Pattern) String() string {
	if len(p.Segments) == 0 {
		return "/"
	}
	parts := make([]string, 0, len(p.Segments))
	for _, seg := range p.Segments {
		switch seg.Kind {
		case Param:
			parts = append(parts, ":"+seg.Value)
		case Wildcard:
			parts = append(parts, "*"+seg.Value)
		default:
			parts = append(parts, seg.Value)
		}
	}
	return "/" + strings.Join(parts, "/")
}

// Score the specificity: 1000 x literals + 100 x params - 10 x wildcards
func (p *Pattern) Score() int {
	score := 0
	for _, seg := range p.Segments {
		switch seg.Kind {
		case Literal:
			score += LiteralWeight
		case Param:
			score += ParamWeight
		case Wildcard:
			score -= WildcardWeight
		}
	}
	return score
}

// Match matches the path segments, returning the bindings
func (p *Pattern) Match(parts []string) (map[string]string, bool) {
	params := map[string]string{}
	last := len(p.Segments) - 1
	for i, seg := range p.Segments {
		if seg.Kind == Wildcard && i == last {
			rest := ""
			if i < len(parts) {
				rest = strings.Join(parts[i:], "/")
			}
			if seg.Value != "" {
				params[seg.Value] = rest
			}
			return params, true
		}

		if i >= len(parts) {
			return nil, false
		}

		switch seg.Kind {
		case Literal:
			if parts[i] != seg.Value {
				return nil, false
			}
		case Param:
			params[seg.Value] = parts[i]
		case Wildcard:
			if seg.Value != "" {
				params[seg.Value] = parts[i]
			}
		}
	}

	if len(parts) != len(p.Segments) {
		return nil, false
	}
	return params, true
}

// splitPath splits a pattern or a request path into segments, empty segments are dropped
func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := []string{}
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
