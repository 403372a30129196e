package script

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/store"
)

// IDPattern the accepted script ids
var IDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-.]{0,127}$`)

// New create a registry persisting scripts to the namespace
func New(ns *store.Namespace, compiler Compiler, lifecycle Lifecycle, option Option) *Registry {
	reg := &Registry{
		ns:        ns,
		compiler:  compiler,
		lifecycle: lifecycle,
		option:    option,
		files:     map[string]string{},
	}
	empty := map[string]*Entry{}
	reg.snap.Store(&empty)
	return reg
}

// SetLifecycle binds the init hook runner. The dispatcher needs the registry
// and the registry needs the dispatcher, so one of them is bound late.
func (reg *Registry) SetLifecycle(lifecycle Lifecycle) {
	reg.mu.Lock()
	reg.lifecycle = lifecycle
	reg.mu.Unlock()
}

// Load every stored script, compiling and initializing each one. A script
// that fails does not stop the others; it is kept uninitialized.
func (reg *Registry) Load(ctx context.Context) error {
	ids, err := reg.ns.Keys("")
	if err != nil {
		return err
	}
	sort.Strings(ids)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, id := range ids {
		s := Script{}
		has, err := reg.ns.GetJSON(id, &s)
		if err != nil || !has {
			log.Error("[Script] load %s: %v", id, err)
			continue
		}
		s.ID = id

		compiled, err := reg.compiler.Compile(s.ID, s.File, s.Source)
		if err != nil {
			log.Error("[Script] compile %s: %s", id, err.Error())
			s.Initialized = false
			s.InitError = err.Error()
			reg.swap(&Entry{Script: s})
			continue
		}

		if _, err := reg.activate(ctx, &Entry{Script: s, Compiled: compiled}, true); err != nil {
			log.Warn("[Script] %s", err.Error())
		}
	}

	log.Info("[Script] %d scripts loaded", len(ids))
	return nil
}

// Put create or replace a script. The source is compiled first; a compilation
// failure leaves the running version untouched. An init failure still stores
// the script, uninitialized, and returns InitializationFailed.
// privileged nil keeps the current flag.
func (reg *Registry) Put(ctx context.Context, id string, file string, source string, privileged *bool) (*Script, error) {
	if !IDPattern.MatchString(id) {
		return nil, failure.New(failure.BadRequest, "invalid script id %q", id)
	}
	if file == "" {
		file = id + ".js"
	}

	compiled, err := reg.compiler.Compile(id, file, source)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	s := Script{ID: id, File: file, Source: source, UpdatedAt: time.Now().UTC()}
	switch {
	case privileged != nil:
		s.Privileged = *privileged
	case reg.current(id) != nil:
		s.Privileged = reg.current(id).Privileged
	default:
		s.Privileged = reg.option.privileged(id)
	}

	entry, err := reg.activate(ctx, &Entry{Script: s, Compiled: compiled}, false)
	out := entry.Script
	return &out, err
}

// Delete a script and every registration it owns
func (reg *Registry) Delete(id string) (bool, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.current(id) == nil {
		return false, nil
	}
	if reg.lifecycle != nil {
		reg.lifecycle.Release(id)
	}
	reg.drop(id)
	if _, err := reg.ns.Del(id); err != nil {
		return true, err
	}
	log.Info("[Script] %s deleted", id)
	return true, nil
}

// SetPrivileged changes the privilege flag and re-initializes the script, so
// registrations follow the new flag.
func (reg *Registry) SetPrivileged(ctx context.Context, id string, privileged bool) (*Script, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	entry := reg.current(id)
	if entry == nil {
		return nil, nil
	}
	next := *entry
	next.Privileged = privileged
	next.UpdatedAt = time.Now().UTC()
	return reg.restart(ctx, &next)
}

// Reinit runs the init hook of a script again
func (reg *Registry) Reinit(ctx context.Context, id string) (*Script, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	entry := reg.current(id)
	if entry == nil {
		return nil, nil
	}
	next := *entry
	return reg.restart(ctx, &next)
}

// Get the published entry of a script
func (reg *Registry) Get(id string) (*Entry, bool) {
	entry, has := (*reg.snap.Load())[id]
	return entry, has
}

// List the scripts sorted by id
func (reg *Registry) List() []Script {
	snap := *reg.snap.Load()
	list := make([]Script, 0, len(snap))
	for _, entry := range snap {
		list = append(list, entry.Script)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Len the number of scripts
func (reg *Registry) Len() int {
	return len(*reg.snap.Load())
}

// restart recompiles when needed and activates the entry again
func (reg *Registry) restart(ctx context.Context, next *Entry) (*Script, error) {
	if next.Compiled == nil {
		compiled, err := reg.compiler.Compile(next.ID, next.File, next.Source)
		if err != nil {
			next.InitError = err.Error()
			reg.swap(next)
			reg.persist(next.Script)
			return nil, err
		}
		next.Compiled = compiled
	}
	entry, err := reg.activate(ctx, next, false)
	out := entry.Script
	return &out, err
}

// activate runs the init hook of the entry while the published version keeps
// serving, then publishes both at once: the registrations the init made replace
// the previous ones and the entry replaces the previous entry. A failed init
// releases every registration and publishes the entry uninitialized.
// Must hold reg.mu.
func (reg *Registry) activate(ctx context.Context, entry *Entry, isStartup bool) (*Entry, error) {
	final := *entry
	final.Initialized = false
	final.InitError = ""

	var err error
	if reg.lifecycle != nil {
		if err = reg.lifecycle.Init(ctx, &final, isStartup); err == nil {
			err = reg.lifecycle.Commit(entry.ID)
		} else {
			reg.lifecycle.Discard(entry.ID)
		}
		if err != nil {
			reg.lifecycle.Release(entry.ID)
		}
	}

	if err != nil {
		final.InitError = err.Error()
		err = failure.New(failure.InitializationFailed, "script %s init: %s", entry.ID, err.Error())
	} else {
		final.Initialized = true
	}
	reg.swap(&final)

	if perr := reg.persist(final.Script); perr != nil && err == nil {
		err = perr
	}

	if final.Initialized {
		log.Info("[Script] %s initialized (privileged: %v)", final.ID, final.Privileged)
	}
	return &final, err
}

func (reg *Registry) persist(s Script) error {
	if err := reg.ns.SetJSON(s.ID, s, 0); err != nil {
		log.Error("[Script] save %s: %s", s.ID, err.Error())
		return err
	}
	return nil
}

func (reg *Registry) current(id string) *Entry {
	return (*reg.snap.Load())[id]
}

// swap publishes a copy of the snapshot with the entry replaced. Must hold reg.mu.
func (reg *Registry) swap(entry *Entry) {
	prev := *reg.snap.Load()
	next := make(map[string]*Entry, len(prev)+1)
	for id, e := range prev {
		next[id] = e
	}
	next[entry.ID] = entry
	reg.snap.Store(&next)
}

// drop publishes a copy of the snapshot without the script. Must hold reg.mu.
func (reg *Registry) drop(id string) {
	prev := *reg.snap.Load()
	next := make(map[string]*Entry, len(prev))
	for key, e := range prev {
		if key != id {
			next[key] = e
		}
	}
	reg.snap.Store(&next)
}

func (option Option) privileged(id string) bool {
	for _, name := range option.Privileged {
		if name == id {
			return true
		}
	}
	return false
}
