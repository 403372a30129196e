package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/yaoapp/weave/filter"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/invocation"
	"github.com/yaoapp/weave/secret"
	"rogchap.com/v8go"
)

// Call the state of one running invocation, shared with the host objects
type Call struct {
	ScriptID   string
	Privileged bool
	Invocation *invocation.Context
	Context    context.Context // the go side context of the invocation
	Host       Host
	Redact     func(string) string

	ctx       *v8go.Context
	errorCtor *v8go.Function
	guard     func() error // checked before every host call
}

// Host the services the guest globals call into
type Host interface {
	RouteHost
	StreamHost
	GraphQLHost
	SecretHost
	FetchHost
	CronHost
}

// RouteHost routes.* registrations
type RouteHost interface {
	RegisterRoute(call *Call, pattern, handler, method string, metadata guest.Value) error
	UnregisterRoute(call *Call, pattern, method string) bool
	RegisterAssetRoute(call *Call, pattern, asset string) error
	RegisterStreamRoute(call *Call, pattern, handler string) error
	UnregisterStreamRoute(call *Call, pattern string) bool
}

// StreamHost streams.publish
type StreamHost interface {
	Publish(call *Call, target string, payload guest.Value, publishFilter filter.Attributes) (int, error)
}

// GraphQLHost graphql.* registrations and subscription publishing
type GraphQLHost interface {
	RegisterGraphQL(call *Call, operation, name, sdl, resolver string) error
	PublishSubscription(call *Call, name string, payload guest.Value, publishFilter filter.Attributes) (int, error)
}

// SecretHost the guest view of the secret store: existence and identifiers only
type SecretHost interface {
	SecretExists(id string) bool
	SecretList() ([]string, error)
}

// FetchHost outbound requests with host side placeholder resolution
type FetchHost interface {
	Fetch(call *Call, descriptor secret.Descriptor, timeout time.Duration) (*FetchResult, error)
}

// CronHost scheduler.* registrations
type CronHost interface {
	RegisterCron(call *Call, name, expression, handler string) error
	UnregisterCron(call *Call, name string) bool
}

// FetchResult the guest visible outcome of fetch, already redacted
type FetchResult struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Data    guest.Value       `json:"data"`
}

type registry struct {
	mu    sync.RWMutex
	calls map[*v8go.Context]*Call
}
