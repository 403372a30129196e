package route

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/guest"
)

// Any matches every method
const Any = "ANY"

// ID the route id
type ID string

// Target what a route dispatches to
type Target struct {
	ScriptID string
	Handler  string      // the guest function name; empty for asset routes and plain streams
	Asset    string      // asset routes only
	Metadata guest.Value // free-form, passed to the handler untouched
}

// Entry a registered route. Entries are immutable once published.
type Entry struct {
	ID      ID
	Method  string
	Pattern *Pattern
	Score   int
	Target
	seq uint64
}

// Registration a route waiting to be published
type Registration struct {
	Pattern string
	Method  string
	Target
}

// Match a resolved route
type Match struct {
	*Entry
	Params map[string]string
}

// Table is a route table safe for concurrent use. Resolution reads an immutable
// snapshot; mutations copy the snapshot under the writer lock and publish it atomically.
type Table struct {
	name string
	mu   sync.Mutex
	seq  uint64
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	entries []*Entry // registration order
}

// NewTable create an empty route table
func NewTable(name string) *Table {
	table := &Table{name: name}
	table.snap.Store(&snapshot{entries: []*Entry{}})
	return table
}

// Name the table name
func (table *Table) Name() string { return table.name }

// Register adds a route. An identical pattern and method replaces the earlier
// target in place, keeping its id and registration order.
func (table *Table) Register(pattern string, method string, target Target) (ID, error) {
	p, err := Parse(pattern)
	if err != nil {
		return "", failure.New(failure.BadRequest, "%s", err.Error())
	}
	method = normalizeMethod(method)

	table.mu.Lock()
	defer table.mu.Unlock()

	current := table.snap.Load().entries
	entries := make([]*Entry, len(current), len(current)+1)
	copy(entries, current)

	for i, entry := range entries {
		if entry.Method == method && entry.Pattern.Raw == p.Raw {
			replaced := *entry
			replaced.Target = target
			entries[i] = &replaced
			table.snap.Store(&snapshot{entries: entries})
			return entry.ID, nil
		}
	}

	table.seq++
	entry := &Entry{
		ID:      ID(uuid.NewString()),
		Method:  method,
		Pattern: p,
		Score:   p.Score(),
		Target:  target,
		seq:     table.seq,
	}
	entries = append(entries, entry)
	table.snap.Store(&snapshot{entries: entries})
	return entry.ID, nil
}

// Replace swaps every route owned by the script for routes in a single publish.
// A route registered again keeps its id and registration order.
func (table *Table) Replace(scriptID string, routes []Registration) error {
	parsed := make([]*Pattern, len(routes))
	for i, r := range routes {
		p, err := Parse(r.Pattern)
		if err != nil {
			return failure.New(failure.BadRequest, "%s", err.Error())
		}
		parsed[i] = p
	}

	table.mu.Lock()
	defer table.mu.Unlock()

	current := table.snap.Load().entries
	entries := make([]*Entry, len(current), len(current)+len(routes))
	copy(entries, current)

	index := make(map[string]int, len(entries))
	for i, entry := range entries {
		index[entry.Method+" "+entry.Pattern.Raw] = i
	}

	kept := map[int]bool{}
	for i, r := range routes {
		method := normalizeMethod(r.Method)
		key := method + " " + parsed[i].Raw
		if at, has := index[key]; has {
			replaced := *entries[at]
			replaced.Target = r.Target
			entries[at] = &replaced
			kept[at] = true
			continue
		}
		table.seq++
		entries = append(entries, &Entry{
			ID:      ID(uuid.NewString()),
			Method:  method,
			Pattern: parsed[i],
			Score:   parsed[i].Score(),
			Target:  r.Target,
			seq:     table.seq,
		})
		index[key] = len(entries) - 1
		kept[len(entries)-1] = true
	}

	next := make([]*Entry, 0, len(entries))
	for i, entry := range entries {
		if entry.ScriptID == scriptID && !kept[i] {
			continue
		}
		next = append(next, entry)
	}
	table.snap.Store(&snapshot{entries: next})
	return nil
}

// Unregister removes a route by id. Unknown ids are a no-op.
func (table *Table) Unregister(id ID) bool {
	return table.remove(func(entry *Entry) bool { return entry.ID == id }) > 0
}

// UnregisterPattern removes the route registered for pattern and method. An empty
// method removes the pattern for every method.
func (table *Table) UnregisterPattern(pattern string, method string) bool {
	p, err := Parse(pattern)
	if err != nil {
		return false
	}
	if method == "" {
		return table.remove(func(entry *Entry) bool { return entry.Pattern.Raw == p.Raw }) > 0
	}
	method = normalizeMethod(method)
	return table.remove(func(entry *Entry) bool {
		return entry.Method == method && entry.Pattern.Raw == p.Raw
	}) > 0
}

// RemoveScript removes every route owned by the script
func (table *Table) RemoveScript(scriptID string) int {
	return table.remove(func(entry *Entry) bool { return entry.ScriptID == scriptID })
}

// Clear removes every route
func (table *Table) Clear() {
	table.mu.Lock()
	defer table.mu.Unlock()
	table.snap.Store(&snapshot{entries: []*Entry{}})
}

func (table *Table) remove(drop func(entry *Entry) bool) int {
	table.mu.Lock()
	defer table.mu.Unlock()

	current := table.snap.Load().entries
	entries := make([]*Entry, 0, len(current))
	for _, entry := range current {
		if !drop(entry) {
			entries = append(entries, entry)
		}
	}

	removed := len(current) - len(entries)
	if removed > 0 {
		table.snap.Store(&snapshot{entries: entries})
	}
	return removed
}

// Get a route by id
func (table *Table) Get(id ID) (*Entry, bool) {
	for _, entry := range table.snap.Load().entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return nil, false
}

// Lookup the route registered for exactly this pattern and method
func (table *Table) Lookup(pattern string, method string) (*Entry, bool) {
	p, err := Parse(pattern)
	if err != nil {
		return nil, false
	}
	method = normalizeMethod(method)
	for _, entry := range table.snap.Load().entries {
		if entry.Method == method && entry.Pattern.Raw == p.Raw {
			return entry, true
		}
	}
	return nil, false
}

// Entries the registered routes in registration order
func (table *Table) Entries() []*Entry {
	current := table.snap.Load().entries
	entries := make([]*Entry, len(current))
	copy(entries, current)
	return entries
}

// Len the number of registered routes
func (table *Table) Len() int {
	return len(table.snap.Load().entries)
}

// Resolve selects the most specific route for the path and method.
// It returns a RouteNotFound failure when no pattern matches and a
// MethodNotAllowed failure (with the allowed methods) when only other methods match.
func (table *Table) Resolve(path string, method string) (*Match, error) {
	method = normalizeMethod(method)
	parts := splitPath(path)

	var best *Match
	bestRank := 0
	allow := map[string]bool{}

	for _, entry := range table.snap.Load().entries {
		params, ok := entry.Pattern.Match(parts)
		if !ok {
			continue
		}

		rank := methodRank(entry.Method, method)
		if rank == 0 {
			allow[entry.Method] = true
			continue
		}

		if best == nil || better(entry, rank, best.Entry, bestRank) {
			best = &Match{Entry: entry, Params: params}
			bestRank = rank
		}
	}

	if best != nil {
		return best, nil
	}

	if len(allow) > 0 {
		methods := make([]string, 0, len(allow))
		for m := range allow {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		err := failure.New(failure.MethodNotAllowed, "%s %s is not allowed", method, path)
		err.Allow = methods
		return nil, err
	}

	return nil, failure.New(failure.RouteNotFound, "%s %s not found", method, path)
}

// better orders candidates: higher score, then the closer method, then the earlier registration
func better(entry *Entry, rank int, best *Entry, bestRank int) bool {
	if entry.Score != best.Score {
		return entry.Score > best.Score
	}
	if rank != bestRank {
		return rank > bestRank
	}
	return entry.seq < best.seq
}

// methodRank 3: exact, 2: GET serving HEAD, 1: ANY, 0: no match
func methodRank(entryMethod, method string) int {
	switch {
	case entryMethod == method:
		return 3
	case method == "HEAD" && entryMethod == "GET":
		return 2
	case entryMethod == Any:
		return 1
	}
	return 0
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" || method == "*" {
		return Any
	}
	return method
}
