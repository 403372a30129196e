package script

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaoapp/weave/failure"
	v8 "github.com/yaoapp/weave/runtime/v8"
	"github.com/yaoapp/weave/store"
	"github.com/yaoapp/weave/store/memory"
)

type compiler struct{}

func (compiler) Compile(id string, file string, source string) (*v8.Script, error) {
	if strings.Contains(source, "syntax error") {
		return nil, failure.New(failure.SyntaxError, "%s: unexpected token", file)
	}
	return &v8.Script{ID: id, File: file, Source: source, Code: source, Size: len(source)}, nil
}

type lifecycle struct {
	mu        sync.Mutex
	inits     map[string]int
	committed map[string]int
	discarded map[string]int
	released  map[string]int
	startup   map[string]bool
}

func (l *lifecycle) Init(ctx context.Context, entry *Entry, isStartup bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inits[entry.ID]++
	l.startup[entry.ID] = isStartup
	if strings.Contains(entry.Source, "throw") {
		return failure.New(failure.RuntimeError, "init threw")
	}
	return nil
}

func (l *lifecycle) Commit(scriptID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed[scriptID]++
	return nil
}

func (l *lifecycle) Discard(scriptID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discarded[scriptID]++
}

func (l *lifecycle) Release(scriptID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released[scriptID]++
}

func (l *lifecycle) count(m map[string]int, id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return m[id]
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		inits:     map[string]int{},
		committed: map[string]int{},
		discarded: map[string]int{},
		released:  map[string]int{},
		startup:   map[string]bool{},
	}
}

func prepare(t *testing.T) (*Registry, *lifecycle, *store.Namespace) {
	ns := store.NewNamespace(memory.New(), "scripts")
	l := newLifecycle()
	return New(ns, compiler{}, l, Option{Privileged: []string{"admin"}}), l, ns
}

func TestPut(t *testing.T) {
	reg, l, ns := prepare(t)
	ctx := context.Background()

	s, err := reg.Put(ctx, "orders", "", "export function init() {}", nil)
	require.NoError(t, err)
	assert.Equal(t, "orders.js", s.File)
	assert.True(t, s.Initialized)
	assert.False(t, s.Privileged)
	assert.Equal(t, 1, l.count(l.inits, "orders"))
	assert.Equal(t, 1, l.count(l.committed, "orders"))
	assert.Equal(t, 0, l.count(l.released, "orders"))

	entry, has := reg.Get("orders")
	require.True(t, has)
	require.NotNil(t, entry.Compiled)
	assert.Equal(t, "orders", entry.Compiled.ID)

	stored := Script{}
	has, err = ns.GetJSON("orders", &stored)
	require.NoError(t, err)
	require.True(t, has)
	assert.Equal(t, "export function init() {}", stored.Source)

	s, err = reg.Put(ctx, "admin", "admin.ts", "export const a = 1", nil)
	require.NoError(t, err)
	assert.True(t, s.Privileged)

	_, err = reg.Put(ctx, "../etc", "", "", nil)
	assert.True(t, failure.Is(err, failure.BadRequest))
}

func TestPutSyntaxErrorKeepsVersion(t *testing.T) {
	reg, _, _ := prepare(t)
	ctx := context.Background()

	_, err := reg.Put(ctx, "orders", "", "export const v = 1", nil)
	require.NoError(t, err)

	_, err = reg.Put(ctx, "orders", "", "syntax error", nil)
	assert.True(t, failure.Is(err, failure.SyntaxError))

	entry, _ := reg.Get("orders")
	assert.Equal(t, "export const v = 1", entry.Source)
	assert.True(t, entry.Initialized)
}

func TestPutInitFailure(t *testing.T) {
	reg, l, _ := prepare(t)
	ctx := context.Background()

	s, err := reg.Put(ctx, "broken", "", "throw", nil)
	assert.True(t, failure.Is(err, failure.InitializationFailed))
	require.NotNil(t, s)
	assert.False(t, s.Initialized)
	assert.Contains(t, s.InitError, "init threw")

	// staged registrations are discarded, the rest released
	assert.Equal(t, 1, l.count(l.discarded, "broken"))
	assert.Equal(t, 1, l.count(l.released, "broken"))
	assert.Equal(t, 0, l.count(l.committed, "broken"))

	s, err = reg.Put(ctx, "broken", "", "fixed", nil)
	require.NoError(t, err)
	assert.True(t, s.Initialized)
	assert.Empty(t, s.InitError)
}

func TestPrivilegeAndReinit(t *testing.T) {
	reg, l, _ := prepare(t)
	ctx := context.Background()

	yes := true
	_, err := reg.Put(ctx, "orders", "", "ok", &yes)
	require.NoError(t, err)

	s, err := reg.SetPrivileged(ctx, "orders", false)
	require.NoError(t, err)
	assert.False(t, s.Privileged)
	assert.Equal(t, 2, l.count(l.inits, "orders"))

	// an update without a flag keeps the current one
	s, err = reg.Put(ctx, "orders", "", "ok again", nil)
	require.NoError(t, err)
	assert.False(t, s.Privileged)

	s, err = reg.Reinit(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, s.Initialized)
	assert.Equal(t, 4, l.count(l.inits, "orders"))

	s, err = reg.Reinit(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestDelete(t *testing.T) {
	reg, l, ns := prepare(t)
	ctx := context.Background()

	_, err := reg.Put(ctx, "orders", "", "ok", nil)
	require.NoError(t, err)

	deleted, err := reg.Delete("orders")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, ns.Has("orders"))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 1, l.count(l.released, "orders"))

	deleted, err = reg.Delete("orders")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestLoad(t *testing.T) {
	reg, _, ns := prepare(t)
	ctx := context.Background()
	require.NoError(t, ns.SetJSON("a", Script{ID: "a", File: "a.js", Source: "ok", Privileged: true}, 0))
	require.NoError(t, ns.SetJSON("b", Script{ID: "b", File: "b.js", Source: "syntax error"}, 0))

	l := newLifecycle()
	reg.SetLifecycle(l)
	require.NoError(t, reg.Load(ctx))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.True(t, list[0].Initialized)
	assert.True(t, list[0].Privileged)
	assert.True(t, l.startup["a"])

	assert.Equal(t, "b", list[1].ID)
	assert.False(t, list[1].Initialized)
	assert.Contains(t, list[1].InitError, "unexpected token")
	entry, _ := reg.Get("b")
	assert.Nil(t, entry.Compiled)
}

func TestLoadDir(t *testing.T) {
	reg, _, _ := prepare(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.ts"), []byte("ok orders"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.js"), []byte("ok users"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "admin.js"), []byte("ok admin"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip"), 0644))

	require.NoError(t, reg.LoadDir(context.Background(), dir))
	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "admin", list[0].ID)
	assert.True(t, list[0].Privileged)
	assert.Equal(t, "orders", list[1].ID)
	assert.Equal(t, "orders.ts", list[1].File)
	assert.False(t, list[1].Privileged)

	manifest := "scripts:\n  - id: billing\n    file: orders.ts\n    privileged: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0644))

	reg2, _, _ := prepare(t)
	require.NoError(t, reg2.LoadDir(context.Background(), dir))
	list = reg2.List()
	require.Len(t, list, 1)
	assert.Equal(t, "billing", list[0].ID)
	assert.True(t, list[0].Privileged)
}

func TestWatch(t *testing.T) {
	reg, _, _ := prepare(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "orders.js")
	require.NoError(t, os.WriteFile(file, []byte("ok v1"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.LoadDir(ctx, dir))
	require.NoError(t, reg.Watch(ctx, dir))

	require.NoError(t, os.WriteFile(file, []byte("ok v2"), 0644))
	assert.Eventually(t, func() bool {
		entry, has := reg.Get("orders")
		return has && entry.Source == "ok v2"
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(file))
	assert.Eventually(t, func() bool {
		_, has := reg.Get("orders")
		return !has
	}, 5*time.Second, 50*time.Millisecond)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.js"), []byte("ok"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.ts"), []byte("syntax error"), 0644))

	res, err := Check(compiler{}, dir)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.NoError(t, res["good"])
	assert.True(t, failure.Is(res["bad"], failure.SyntaxError))
}
