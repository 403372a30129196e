package dispatch

import (
	"context"
	"time"

	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/graphql"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/invocation"
	"github.com/yaoapp/weave/route"
	"github.com/yaoapp/weave/schedule"
	"github.com/yaoapp/weave/script"
	"github.com/yaoapp/weave/secret"
	"github.com/yaoapp/weave/stream"
)

// New create a dispatcher. The GraphQL executor and the scheduler run their
// handlers through the dispatcher.
func New(option Option, services Services) *Dispatcher {
	if option.Mode != "development" {
		option.Mode = "production"
	}
	if option.MaxBody <= 0 {
		option.MaxBody = invocation.DefaultMaxBody
	}
	if option.KeepAlive <= 0 {
		option.KeepAlive = stream.DefaultKeepAlive
	}
	if option.FetchTimeout <= 0 {
		option.FetchTimeout = 10 * time.Second
	}

	hub := services.Hub
	if hub == nil {
		hub = stream.NewHub(0)
	}

	d := &Dispatcher{
		option:   option,
		runtime:  services.Runtime,
		scripts:  services.Scripts,
		routes:   route.NewTable("http"),
		streams:  route.NewTable("stream"),
		registry: graphql.NewRegistry(),
		hub:      hub,
		secrets:  services.Secrets,
		assets:   services.Assets,
		stages:   map[string]*stage{},
	}
	if d.secrets != nil {
		d.injector = secret.NewInjector(d.secrets)
	}
	d.graphql = graphql.NewExecutor(d.registry, d, hub, graphql.Option{
		Mode:      option.Mode,
		KeepAlive: option.KeepAlive,
		MaxBody:   option.MaxBody,
	})
	d.cron = schedule.New(d.job)
	return d
}

// Routes the HTTP route table
func (d *Dispatcher) Routes() *route.Table { return d.routes }

// Streams the stream route table
func (d *Dispatcher) Streams() *route.Table { return d.streams }

// GraphQL the GraphQL executor
func (d *Dispatcher) GraphQL() *graphql.Executor { return d.graphql }

// Hub the connection registry
func (d *Dispatcher) Hub() *stream.Hub { return d.hub }

// Scheduler the cron scheduler
func (d *Dispatcher) Scheduler() *schedule.Scheduler { return d.cron }

// Production reports whether error bodies hide messages and stacks
func (d *Dispatcher) Production() bool { return d.option.Mode != "development" }

// Init implements script.Lifecycle. A script without an init function is
// initialized as is. The registrations it makes are staged until Commit.
func (d *Dispatcher) Init(ctx context.Context, entry *script.Entry, isStartup bool) error {
	if entry.Compiled == nil {
		return failure.New(failure.SyntaxError, "script %s is not compiled", entry.ID)
	}
	d.mu.Lock()
	d.stages[entry.ID] = &stage{}
	d.mu.Unlock()

	inv := invocation.ForInit(entry.ID, isStartup)
	_, err := d.runtime.Execute(ctx, entry.Compiled, inv, entry.Privileged)
	if failure.Is(err, failure.HandlerNotFound) {
		return nil
	}
	return err
}

// Release implements script.Lifecycle, every registration of the script is dropped
func (d *Dispatcher) Release(scriptID string) {
	d.unstage(scriptID)
	routes := d.routes.RemoveScript(scriptID)
	streams := d.streams.RemoveScript(scriptID)
	fields := d.registry.RemoveScript(scriptID)
	jobs := d.cron.RemoveScript(scriptID)
	if routes+streams+fields+jobs > 0 {
		log.Trace("[Dispatch] %s released %d routes, %d stream routes, %d fields, %d jobs", scriptID, routes, streams, fields, jobs)
	}
}

// Start the scheduler
func (d *Dispatcher) Start() {
	d.cron.Start()
}

// Stop the scheduler and close every live connection
func (d *Dispatcher) Stop() {
	d.cron.Stop()
	d.hub.Shutdown()
}

// run the invocation against the current version of its script
func (d *Dispatcher) run(ctx context.Context, inv *invocation.Context) (guest.Value, error) {
	if d.scripts == nil || d.runtime == nil {
		return guest.NullValue(), failure.New(failure.HandlerNotFound, "no scripts are loaded")
	}
	entry, has := d.scripts.Get(inv.ScriptID)
	if !has || entry.Compiled == nil {
		return guest.NullValue(), failure.New(failure.HandlerNotFound, "script %s is not loaded", inv.ScriptID)
	}
	if !entry.Initialized {
		return guest.NullValue(), failure.New(failure.InitializationFailed, "script %s is not initialized", inv.ScriptID)
	}
	return d.runtime.Execute(ctx, entry.Compiled, inv, entry.Privileged)
}

// job runs a cron trigger
func (d *Dispatcher) job(sch schedule.Schedule, firedAt time.Time) {
	inv := invocation.ForSchedule(sch.ScriptID, sch.Handler, sch.Name, sch.Schedule, firedAt)
	if _, err := d.run(context.Background(), inv); err != nil {
		log.With(log.F{"script": sch.ScriptID, "schedule": sch.Name}).Error("[Schedule] %s", err.Error())
	}
}
