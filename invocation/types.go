package invocation

import (
	"time"

	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/identity"
)

// Kind the source of an invocation
type Kind string

const (
	// HTTPRoute an HTTP request matched a route
	HTTPRoute Kind = "httpRoute"
	// GraphQLQuery a query field resolver
	GraphQLQuery Kind = "graphqlQuery"
	// GraphQLMutation a mutation field resolver
	GraphQLMutation Kind = "graphqlMutation"
	// GraphQLSubscription a subscription connection setup
	GraphQLSubscription Kind = "graphqlSubscription"
	// StreamCustomization a stream connection setup
	StreamCustomization Kind = "streamCustomization"
	// Init the script init hook
	Init Kind = "init"
	// ScheduledJob a cron trigger
	ScheduledJob Kind = "scheduledJob"
)

// LongLived reports whether the kind sets up a connection
func (kind Kind) LongLived() bool {
	return kind == GraphQLSubscription || kind == StreamCustomization
}

// Context the normalized call payload handed to a guest handler
type Context struct {
	Kind       Kind
	ScriptID   string
	Handler    string
	Request    *Request    // nil for init and scheduled jobs
	Args       guest.Value // always a map
	Connection *Connection // long-lived kinds only
	Meta       guest.Value // always a map
	CreatedAt  time.Time
}

// Request the request as the guest sees it. Synthetic for GraphQL.
type Request struct {
	Path    string
	Method  string
	Headers map[string]string // lower-case names
	Query   guest.Value       // map, repeated keys become lists
	Form    guest.Value       // map
	Body    guest.Value
	Params  map[string]string
	Auth    identity.Identity
}

// Connection the long-lived connection being set up
type Connection struct {
	ID      string
	Channel string
}
