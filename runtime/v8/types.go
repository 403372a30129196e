package v8

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"rogchap.com/v8go"
)

// Limits the resource ceilings of one invocation
type Limits struct {
	MemoryCeiling uint64        `json:"memoryCeiling,omitempty" mapstructure:"memoryCeiling"` // used heap bytes, the default value is 64M
	Timeout       time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`             // wall clock, the default value is 5s
	MaxStackDepth int           `json:"maxStackDepth,omitempty" mapstructure:"maxStackDepth"` // approximate frames, the default value is 1000
	MaxScriptSize int           `json:"maxScriptSize,omitempty" mapstructure:"maxScriptSize"` // source bytes, the default value is 1M
}

// Option runtime option
type Option struct {
	Limits          `mapstructure:",squash"`
	MinSize         int           `json:"minSize,omitempty" mapstructure:"minIsolates"`         // isolates created on start, the default value is 2
	MaxSize         int           `json:"maxSize,omitempty" mapstructure:"maxIsolates"`         // the maximum of isolates, the default value is 10
	IsolateUses     int           `json:"isolateUses,omitempty" mapstructure:"isolateUses"`     // an isolate is re-created after this many invocations, the default value is 1000
	HeapSizeRelease uint64        `json:"heapSizeRelease,omitempty" mapstructure:"heapRelease"` // an isolate is re-created when its used heap passes this value, the default value is half the memory ceiling
	SampleInterval  time.Duration `json:"sampleInterval,omitempty" mapstructure:"sampleInterval"` // heap sampling period, the default value is 5ms
	CacheSize       int           `json:"cacheSize,omitempty" mapstructure:"cacheSize"`         // compiled scripts kept, the default value is 256
	Mode            string        `json:"mode,omitempty" mapstructure:"mode"`                   // production, development
}

// Script a compiled guest script, ready to run on any isolate
type Script struct {
	ID     string
	File   string
	Source string // as written
	Code   string // normalized javascript
	Map    []byte // source map of Code, TypeScript only
	Hash   string
	Size   int
}

// Runtime the sandbox: an isolate pool and the compiled script cache
type Runtime struct {
	option   Option
	host     bridge.Host
	ready    chan *Isolate
	mu       sync.Mutex
	size     int
	closed   bool
	compiled *lru.Cache // hash -> *Script
	redact   func(string) string
	seq      atomic.Int64
}

// Isolate a pooled v8 isolate with its global template
type Isolate struct {
	*v8go.Isolate
	id         int64
	uses       int
	template   *v8go.ObjectTemplate
	unbound    map[string]*v8go.UnboundScript // hash -> compiled on this isolate
	terminated bool
}

// reason why an execution was terminated
type reason int32

const (
	finished reason = iota
	timedOut
	cancelled
	outOfMemory
)
