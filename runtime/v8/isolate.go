package v8

import (
	"context"
	"fmt"

	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/runtime/v8/objects/console"
	"github.com/yaoapp/weave/runtime/v8/objects/fetch"
	"github.com/yaoapp/weave/runtime/v8/objects/graphql"
	"github.com/yaoapp/weave/runtime/v8/objects/routes"
	"github.com/yaoapp/weave/runtime/v8/objects/scheduler"
	"github.com/yaoapp/weave/runtime/v8/objects/secrets"
	"github.com/yaoapp/weave/runtime/v8/objects/streams"
	"rogchap.com/v8go"
)

// maxUnbound compiled scripts kept per isolate
const maxUnbound = 128

// newIsolate create a new isolate with the guest globals
func (rt *Runtime) newIsolate() (*Isolate, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil, fmt.Errorf("the runtime is stopped")
	}

	if rt.size >= rt.option.MaxSize {
		return nil, fmt.Errorf("the maximum number of v8 vm has been reached (%d)", rt.option.MaxSize)
	}

	iso := v8go.NewIsolate()
	template := v8go.NewObjectTemplate(iso)
	template.Set("console", console.New(rt.option.Mode).ExportObject(iso))
	template.Set("routes", routes.New().ExportObject(iso))
	template.Set("streams", streams.New().ExportObject(iso))
	template.Set("graphql", graphql.New().ExportObject(iso))
	template.Set("secrets", secrets.New().ExportObject(iso))
	template.Set("scheduler", scheduler.New().ExportObject(iso))
	template.Set("fetch", fetch.New().ExportFunction(iso))

	rt.size++
	id := rt.seq.Add(1)
	log.Trace("[V8] add a new v8 vm %d (%d/%d)", id, rt.size, rt.option.MaxSize)
	return &Isolate{
		Isolate:  iso,
		id:       id,
		template: template,
		unbound:  map[string]*v8go.UnboundScript{},
	}, nil
}

// acquire an idle isolate, creating one while under the maximum
func (rt *Runtime) acquire(ctx context.Context) (*Isolate, error) {
	select {
	case iso := <-rt.ready:
		return iso, nil
	default:
	}

	iso, err := rt.newIsolate()
	if err == nil {
		return iso, nil
	}

	rt.mu.Lock()
	closed := rt.closed
	rt.mu.Unlock()
	if closed {
		return nil, err
	}

	select {
	case iso := <-rt.ready:
		return iso, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("select isolate: %s", ctx.Err().Error())
	}
}

// release returns the isolate to the pool, or re-creates it when it is worn out
func (rt *Runtime) release(iso *Isolate) {
	iso.uses++

	rt.mu.Lock()
	closed := rt.closed
	rt.mu.Unlock()

	if closed || !rt.health(iso) {
		rt.dispose(iso)
		if closed {
			return
		}

		rt.mu.Lock()
		short := rt.size < rt.option.MinSize
		rt.mu.Unlock()
		if !short {
			return
		}

		fresh, err := rt.newIsolate()
		if err != nil {
			log.Error("[V8] replace vm %d: %s", iso.id, err.Error())
			return
		}
		iso = fresh
	}

	select {
	case rt.ready <- iso:
	default:
		rt.dispose(iso)
	}
}

func (rt *Runtime) dispose(iso *Isolate) {
	rt.mu.Lock()
	rt.size--
	rt.mu.Unlock()
	iso.unbound = nil
	iso.Dispose()
	log.Trace("[V8] remove v8 vm %d", iso.id)
}

func (rt *Runtime) health(iso *Isolate) bool {
	if iso.terminated {
		return false
	}

	if iso.uses >= rt.option.IsolateUses {
		return false
	}

	stat := iso.GetHeapStatistics()
	return stat.UsedHeapSize < rt.option.HeapSizeRelease
}

// compile the script on this isolate, once per content hash
func (iso *Isolate) compile(script *Script) (*v8go.UnboundScript, error) {
	if unbound, has := iso.unbound[script.Hash]; has {
		return unbound, nil
	}

	unbound, err := iso.CompileUnboundScript(script.Code, script.File, v8go.CompileOptions{})
	if err != nil {
		return nil, err
	}

	if len(iso.unbound) >= maxUnbound {
		iso.unbound = map[string]*v8go.UnboundScript{}
	}
	iso.unbound[script.Hash] = unbound
	return unbound, nil
}
