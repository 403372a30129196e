package dispatch

import (
	"strings"
	"sync"

	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/graphql"
	"github.com/yaoapp/weave/invocation"
	"github.com/yaoapp/weave/route"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"github.com/yaoapp/weave/schedule"
)

// stage collects the registrations of an init hook. The previous version keeps
// serving until Commit publishes them in place of its own.
type stage struct {
	mu      sync.Mutex
	routes  []route.Registration
	streams []route.Registration
	fields  []graphql.Pending
	jobs    []schedule.Job
}

// staging the stage of the init hook running the call, nil outside an init
func (d *Dispatcher) staging(call *bridge.Call) *stage {
	if call == nil || call.Invocation == nil || call.Invocation.Kind != invocation.Init {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stages[call.ScriptID]
}

func (d *Dispatcher) unstage(scriptID string) *stage {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.stages[scriptID]
	delete(d.stages, scriptID)
	return st
}

// Commit implements script.Lifecycle. The registrations of the last init replace
// those of the previous version; the ones it did not make again are released.
func (d *Dispatcher) Commit(scriptID string) error {
	st := d.unstage(scriptID)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	// the schema is the only publish that can still be refused
	if err := d.registry.Replace(scriptID, st.fields); err != nil {
		return err
	}
	if err := d.routes.Replace(scriptID, st.routes); err != nil {
		return err
	}
	if err := d.streams.Replace(scriptID, st.streams); err != nil {
		return err
	}
	return d.cron.Replace(scriptID, st.jobs)
}

// Discard implements script.Lifecycle, the staged registrations are dropped
func (d *Dispatcher) Discard(scriptID string) {
	d.unstage(scriptID)
}

func routeKey(pattern *route.Pattern, method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" || method == "*" {
		method = route.Any
	}
	return method + " " + pattern.Raw
}

// route stages a route, replacing one staged with the same pattern and method
func (st *stage) route(list *[]route.Registration, pattern, method string, target route.Target) error {
	p, err := route.Parse(pattern)
	if err != nil {
		return failure.New(failure.BadRequest, "%s", err.Error())
	}
	key := routeKey(p, method)

	st.mu.Lock()
	defer st.mu.Unlock()
	for i, r := range *list {
		if staged, err := route.Parse(r.Pattern); err == nil && routeKey(staged, r.Method) == key {
			(*list)[i] = route.Registration{Pattern: pattern, Method: method, Target: target}
			return nil
		}
	}
	*list = append(*list, route.Registration{Pattern: pattern, Method: method, Target: target})
	return nil
}

// unroute removes a staged route. An empty method matches every method.
func (st *stage) unroute(list *[]route.Registration, pattern, method string) bool {
	p, err := route.Parse(pattern)
	if err != nil {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	kept := (*list)[:0]
	removed := false
	for _, r := range *list {
		staged, err := route.Parse(r.Pattern)
		if err == nil && staged.Raw == p.Raw && (method == "" || routeKey(staged, r.Method) == routeKey(p, method)) {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	*list = kept
	return removed
}

// field stages a root field once the schema composes with it
func (st *stage) field(registry *graphql.Registry, scriptID string, pending graphql.Pending) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	fields := make([]graphql.Pending, 0, len(st.fields)+1)
	for _, f := range st.fields {
		if f.Operation != pending.Operation || f.Name != pending.Name {
			fields = append(fields, f)
		}
	}
	fields = append(fields, pending)
	if err := registry.Check(scriptID, fields); err != nil {
		return err
	}
	st.fields = fields
	return nil
}

// job stages a schedule, replacing one staged with the same name
func (st *stage) job(job schedule.Job) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, j := range st.jobs {
		if j.Name == job.Name {
			st.jobs[i] = job
			return
		}
	}
	st.jobs = append(st.jobs, job)
}

func (st *stage) unjob(name string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, j := range st.jobs {
		if j.Name == name {
			st.jobs = append(st.jobs[:i], st.jobs[i+1:]...)
			return true
		}
	}
	return false
}
