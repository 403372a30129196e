package script

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	v8 "github.com/yaoapp/weave/runtime/v8"
	"github.com/yaoapp/weave/store"
)

// Script a stored guest script and its lifecycle state
type Script struct {
	ID          string    `json:"id"`
	File        string    `json:"file"` // the extension selects JavaScript or TypeScript
	Source      string    `json:"source"`
	Privileged  bool      `json:"privileged"`
	Initialized bool      `json:"initialized"`
	InitError   string    `json:"initError,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Entry a script with its compiled form. Entries are immutable once published;
// an update publishes a new entry.
type Entry struct {
	Script
	Compiled *v8.Script // nil when the stored source no longer compiles
}

// Compiler normalizes, inspects and compiles guest sources
type Compiler interface {
	Compile(id string, file string, source string) (*v8.Script, error)
}

// Lifecycle runs init hooks and owns the registrations a script makes. The
// registrations of an init are held back until Commit, so the previous version
// keeps serving while it runs.
type Lifecycle interface {
	Init(ctx context.Context, entry *Entry, isStartup bool) error
	Commit(scriptID string) error
	Discard(scriptID string)
	Release(scriptID string)
}

// Option the registry settings
type Option struct {
	Privileged []string `json:"privileged,omitempty" mapstructure:"privileged"` // ids privileged when first created
}

// Registry the scripts. Dispatch reads an immutable snapshot; mutations are
// serialized and publish a new snapshot.
type Registry struct {
	mu        sync.Mutex
	snap      atomic.Pointer[map[string]*Entry]
	ns        *store.Namespace
	compiler  Compiler
	lifecycle Lifecycle
	option    Option
	files     map[string]string // watched file -> script id
}

// Manifest the manifest.yaml of a script directory
//
// scripts:
//   - id: orders
//     file: orders.ts
//     privileged: true
type Manifest struct {
	Scripts []ManifestEntry `yaml:"scripts"`
}

// ManifestEntry one script of a directory
type ManifestEntry struct {
	ID         string `yaml:"id"`
	File       string `yaml:"file"`
	Privileged bool   `yaml:"privileged"`
}
