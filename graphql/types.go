package graphql

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/invocation"
	"github.com/yaoapp/weave/stream"
)

// Operation a root operation type
type Operation string

const (
	// Query read only root fields
	Query Operation = "query"
	// Mutation serially executed root fields
	Mutation Operation = "mutation"
	// Subscription connection setup root fields
	Subscription Operation = "subscription"
)

var operations = []Operation{Query, Mutation, Subscription}

// Field a root field registered by a script
type Field struct {
	Operation Operation
	Name      string
	SDL       string
	ScriptID  string
	Resolver  string

	definition *ast.FieldDefinition
	types      ast.DefinitionList // supporting types declared by the fragment
	seq        int64
}

// Registry the composed schema. Execution reads an immutable snapshot;
// registrations recompose it under the writer lock.
type Registry struct {
	mu     sync.Mutex
	fields map[Operation]map[string]*Field
	snap   atomic.Pointer[Schema]
	seq    int64
}

// Schema one composed schema snapshot
type Schema struct {
	*ast.Schema
	SDL    string
	fields map[Operation]map[string]*Field
}

// Request a GraphQL request as sent over any transport
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// Response the {data, errors} result
type Response struct {
	Data   interface{}   `json:"data"`
	Errors gqlerror.List `json:"errors,omitempty"`
}

// Call one root field resolution handed to the resolver
type Call struct {
	Field     *Field
	Alias     string
	Args      map[string]interface{}
	Transport string        // http, sse, websocket
	Request   *http.Request // the transport request, nil for synthetic calls
}

// Resolver runs root field resolvers and subscription setups in the sandbox
type Resolver interface {
	Resolve(ctx context.Context, call *Call) (guest.Value, error)
	Subscribe(ctx context.Context, call *Call, conn invocation.Connection) (guest.Value, error)
}

// Executor executes requests against the registry snapshot
type Executor struct {
	registry *Registry
	resolver Resolver
	hub      *stream.Hub
	option   Option
}

// Option the executor settings
type Option struct {
	Mode      string        // production, development
	KeepAlive time.Duration // SSE comment interval, the default value is 15s
	MaxBody   int64         // request body ceiling, the default value is 4M
}

// Carrier the transport a request arrived on
type Carrier struct {
	Transport string        // http, sse, websocket
	Request   *http.Request // nil for synthetic requests
	ReadOnly  bool          // GET requests may not run mutations
}

// Live a live subscription connection
type Live struct {
	ID    string
	Field *Field

	exec   *execution
	conn   *stream.Connection
	key    string
	typ    *ast.Type
	fields []*ast.Field
}
