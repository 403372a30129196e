package dispatch

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/yaoapp/weave/graphql"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/invocation"
	"github.com/yaoapp/weave/route"
	v8 "github.com/yaoapp/weave/runtime/v8"
	"github.com/yaoapp/weave/schedule"
	"github.com/yaoapp/weave/script"
	"github.com/yaoapp/weave/secret"
	"github.com/yaoapp/weave/store"
	"github.com/yaoapp/weave/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Runtime runs one handler of a compiled script in the sandbox
type Runtime interface {
	Execute(ctx context.Context, script *v8.Script, inv *invocation.Context, privileged bool) (guest.Value, error)
}

// Scripts the published script entries
type Scripts interface {
	Get(id string) (*script.Entry, bool)
}

// Option the dispatcher settings
type Option struct {
	Mode         string        `json:"mode,omitempty"`         // production, development
	MaxBody      int64         `json:"maxBody,omitempty"`      // request body ceiling, default 4M
	KeepAlive    time.Duration `json:"keepAlive,omitempty"`    // SSE comment interval, default 15s
	FetchTimeout time.Duration `json:"fetchTimeout,omitempty"` // outbound request default, default 10s
}

// Dispatcher routes every event to the guest handler registered for it: HTTP
// requests, GraphQL fields, stream connection setups, init hooks and cron
// triggers. It is also the host the guest globals call into.
type Dispatcher struct {
	option   Option
	runtime  Runtime
	scripts  Scripts
	routes   *route.Table
	streams  *route.Table
	registry *graphql.Registry
	graphql  *graphql.Executor
	hub      *stream.Hub
	secrets  *secret.Store
	injector *secret.Injector
	assets   *store.Namespace
	cron     *schedule.Scheduler
	mu       sync.Mutex
	stages   map[string]*stage // script id -> init in progress
}

// Services the collaborators of a dispatcher
type Services struct {
	Runtime Runtime
	Scripts Scripts
	Hub     *stream.Hub
	Secrets *secret.Store
	Assets  *store.Namespace
}
