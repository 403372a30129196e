package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/filter"
	"github.com/yaoapp/weave/graphql"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/http"
	"github.com/yaoapp/weave/route"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"github.com/yaoapp/weave/schedule"
	"github.com/yaoapp/weave/secret"
)

var _ bridge.Host = (*Dispatcher)(nil)

// RegisterRoute implements bridge.RouteHost. The method defaults to GET.
func (d *Dispatcher) RegisterRoute(call *bridge.Call, pattern, handler, method string, metadata guest.Value) error {
	if method == "" {
		method = "GET"
	}
	if !metadata.IsNull() && metadata.Kind() != guest.Map {
		return failure.New(failure.BadRequest, "route metadata must be an object, got %s", metadata.Kind())
	}
	target := route.Target{
		ScriptID: call.ScriptID,
		Handler:  handler,
		Metadata: metadata,
	}
	var err error
	if st := d.staging(call); st != nil {
		err = st.route(&st.routes, pattern, method, target)
	} else {
		_, err = d.routes.Register(pattern, method, target)
	}
	if err != nil {
		return err
	}
	log.Trace("[Dispatch] %s registered %s %s -> %s", call.ScriptID, strings.ToUpper(method), pattern, handler)
	return nil
}

// UnregisterRoute implements bridge.RouteHost. Scripts only remove their own routes.
func (d *Dispatcher) UnregisterRoute(call *bridge.Call, pattern, method string) bool {
	if method == "" {
		method = "GET"
	}
	if st := d.staging(call); st != nil {
		return st.unroute(&st.routes, pattern, method)
	}
	entry, has := d.routes.Lookup(pattern, method)
	if !has || entry.ScriptID != call.ScriptID {
		return false
	}
	return d.routes.Unregister(entry.ID)
}

// RegisterAssetRoute implements bridge.RouteHost, the asset is read from the assets namespace on request
func (d *Dispatcher) RegisterAssetRoute(call *bridge.Call, pattern, asset string) error {
	target := route.Target{ScriptID: call.ScriptID, Asset: asset}
	if st := d.staging(call); st != nil {
		return st.route(&st.routes, pattern, "GET", target)
	}
	_, err := d.routes.Register(pattern, "GET", target)
	return err
}

// RegisterStreamRoute implements bridge.RouteHost. Without a setup handler every
// connection gets an empty filter and receives every publish.
func (d *Dispatcher) RegisterStreamRoute(call *bridge.Call, pattern, handler string) error {
	target := route.Target{ScriptID: call.ScriptID, Handler: handler}
	if st := d.staging(call); st != nil {
		return st.route(&st.streams, pattern, "GET", target)
	}
	_, err := d.streams.Register(pattern, "GET", target)
	return err
}

// UnregisterStreamRoute implements bridge.RouteHost
func (d *Dispatcher) UnregisterStreamRoute(call *bridge.Call, pattern string) bool {
	if st := d.staging(call); st != nil {
		return st.unroute(&st.streams, pattern, "GET")
	}
	entry, has := d.streams.Lookup(pattern, "GET")
	if !has || entry.ScriptID != call.ScriptID {
		return false
	}
	return d.streams.Unregister(entry.ID)
}

// Publish implements bridge.StreamHost. The target is a stream route pattern, a
// path matching one, or a bare channel name, in that order.
func (d *Dispatcher) Publish(call *bridge.Call, target string, payload guest.Value, publishFilter filter.Attributes) (int, error) {
	if target == "" {
		return 0, failure.New(failure.BadRequest, "the channel is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, failure.New(failure.BadRequest, "the payload is not serializable: %s", err.Error())
	}
	return d.hub.Publish(d.Channel(target), "", data, publishFilter), nil
}

// Channel the connection channel a publish target addresses
func (d *Dispatcher) Channel(target string) string {
	if strings.HasPrefix(target, "/") {
		if entry, has := d.streams.Lookup(target, "GET"); has {
			return entry.Pattern.Raw
		}
		if match, err := d.streams.Resolve(target, "GET"); err == nil {
			return match.Pattern.Raw
		}
	}
	return target
}

// RegisterGraphQL implements bridge.GraphQLHost
func (d *Dispatcher) RegisterGraphQL(call *bridge.Call, operation, name, sdl, resolver string) error {
	op, err := graphql.ParseOperation(operation)
	if err != nil {
		return err
	}
	if st := d.staging(call); st != nil {
		return st.field(d.registry, call.ScriptID, graphql.Pending{Operation: op, Name: name, SDL: sdl, Resolver: resolver})
	}
	return d.registry.Register(call.ScriptID, op, name, sdl, resolver)
}

// PublishSubscription implements bridge.GraphQLHost
func (d *Dispatcher) PublishSubscription(call *bridge.Call, name string, payload guest.Value, publishFilter filter.Attributes) (int, error) {
	if name == "" {
		return 0, failure.New(failure.BadRequest, "the subscription name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, failure.New(failure.BadRequest, "the payload is not serializable: %s", err.Error())
	}
	return d.graphql.Publish(name, data, publishFilter), nil
}

// SecretExists implements bridge.SecretHost
func (d *Dispatcher) SecretExists(id string) bool {
	return d.secrets != nil && d.secrets.Exists(id)
}

// SecretList implements bridge.SecretHost
func (d *Dispatcher) SecretList() ([]string, error) {
	if d.secrets == nil {
		return []string{}, nil
	}
	return d.secrets.List()
}

// Fetch implements bridge.FetchHost. Placeholders are resolved here and the
// substituted values are redacted from everything handed back.
func (d *Dispatcher) Fetch(call *bridge.Call, descriptor secret.Descriptor, timeout time.Duration) (*bridge.FetchResult, error) {
	var concrete *secret.Concrete
	var err error
	if d.injector != nil {
		concrete, err = d.injector.Resolve(descriptor)
	} else if refs := descriptor.References(); len(refs) > 0 {
		err = failure.New(failure.SecretNotFound, "secret %s not found", refs[0])
	} else {
		concrete, err = secret.NewInjector(nil).Resolve(descriptor)
	}
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = d.option.FetchTimeout
	}
	ctx := call.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, failure.New(failure.Timeout, "fetch %s: sandbox deadline exceeded", descriptor.URL)
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	resp := http.FromConcrete(concrete).WithTimeout(timeout).Send(ctx, concrete.Method)
	if resp.Status == 0 {
		if ctx.Err() != nil {
			return nil, failure.New(failure.Timeout, "fetch %s: %s", descriptor.URL, ctx.Err().Error())
		}
		return nil, failure.New(failure.RuntimeError, "fetch %s: %s", descriptor.URL, concrete.Redact(resp.Message))
	}

	headers := make(map[string]string, len(resp.Headers))
	for name, values := range resp.Headers {
		headers[strings.ToLower(name)] = concrete.Redact(strings.Join(values, ", "))
	}

	data, err := guest.Of(resp.Data)
	if err != nil {
		data = guest.StringOf(string(resp.Body))
	}
	return &bridge.FetchResult{
		Status:  resp.Status,
		Headers: headers,
		Body:    string(resp.Body),
		Data:    data,
	}, nil
}

// RegisterCron implements bridge.CronHost
func (d *Dispatcher) RegisterCron(call *bridge.Call, name, expression, handler string) error {
	if sch, has := d.cron.Select(name); has && sch.ScriptID != call.ScriptID {
		return failure.New(failure.BadRequest, "schedule %s belongs to %s", name, sch.ScriptID)
	}
	if st := d.staging(call); st != nil {
		if err := d.cron.Check(name, expression, handler); err != nil {
			return err
		}
		st.job(schedule.Job{Name: name, Schedule: expression, Handler: handler})
		return nil
	}
	return d.cron.Register(call.ScriptID, name, expression, handler)
}

// UnregisterCron implements bridge.CronHost. Scripts only remove their own schedules.
func (d *Dispatcher) UnregisterCron(call *bridge.Call, name string) bool {
	if st := d.staging(call); st != nil {
		return st.unjob(name)
	}
	sch, has := d.cron.Select(name)
	if !has || sch.ScriptID != call.ScriptID {
		return false
	}
	return d.cron.Unregister(name)
}
