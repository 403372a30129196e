package v8

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/invocation"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"rogchap.com/v8go"
)

// prelude runs in every fresh context before the guest script
const prelude = `delete globalThis.WebAssembly;`

// execution one invocation on one isolate
type execution struct {
	rt     *Runtime
	iso    *Isolate
	script *Script
	limits Limits
	ctx    context.Context
	state  atomic.Int32
}

// Execute runs the invocation handler of script under the runtime limits
func (rt *Runtime) Execute(ctx context.Context, script *Script, inv *invocation.Context, privileged bool) (guest.Value, error) {
	return rt.ExecuteWith(ctx, script, inv, privileged, rt.option.Limits)
}

// ExecuteWith runs the invocation handler of script under the given limits. Each call
// gets a fresh context on an exclusively held isolate; any failure comes back as a
// *failure.Error and never as a panic.
func (rt *Runtime) ExecuteWith(ctx context.Context, script *Script, inv *invocation.Context, privileged bool, limits Limits) (guest.Value, error) {
	if script == nil || inv == nil {
		return guest.NullValue(), failure.New(failure.RuntimeError, "nothing to execute")
	}
	limits = rt.limits(limits)

	iso, err := rt.acquire(ctx)
	if err != nil {
		return guest.NullValue(), failure.New(failure.Timeout, "%s", err.Error())
	}

	exec := &execution{rt: rt, iso: iso, script: script, limits: limits, ctx: ctx}
	defer func() {
		if exec.reason() != finished {
			iso.terminated = true
		}
		rt.release(iso)
	}()

	v8ctx := v8go.NewContext(iso.Isolate, iso.template)
	defer v8ctx.Close()

	rt.mu.Lock()
	host := rt.host
	rt.mu.Unlock()

	// host calls share the sandbox deadline
	callCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	call := &bridge.Call{
		ScriptID:   script.ID,
		Privileged: privileged,
		Invocation: inv,
		Context:    callCtx,
		Host:       host,
		Redact:     rt.Redact,
	}
	if err := bridge.Bind(v8ctx, call, exec.guard); err != nil {
		return guest.NullValue(), failure.Wrap(failure.RuntimeError, err)
	}
	defer bridge.Unbind(v8ctx)

	if _, err := v8ctx.RunScript(prelude, "prelude.js"); err != nil {
		return guest.NullValue(), failure.Wrap(failure.RuntimeError, err)
	}

	unbound, err := iso.compile(script)
	if err != nil {
		return guest.NullValue(), failure.New(failure.SyntaxError, "%s", err.Error())
	}

	stop := exec.watch()
	res, err := exec.run(v8ctx, unbound, inv)
	var value guest.Value
	if err == nil {
		value, err = bridge.GuestValue(v8ctx, res)
		if err != nil && exec.reason() == finished {
			err = failure.New(failure.InvalidResponse, "%s returned %s", inv.Handler, err.Error())
		}
	}
	stop()

	if exec.reason() == finished && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		exec.state.CompareAndSwap(int32(finished), int32(timedOut))
	}
	if err == nil && exec.reason() != finished {
		err = fmt.Errorf("execution terminated")
	}

	if err != nil {
		f := exec.failure(err)
		log.With(log.F{"script": script.ID, "handler": inv.Handler, "kind": string(inv.Kind), "correlationId": f.CorrelationID}).
			Error("[V8] %s", f.Error())
		return guest.NullValue(), f
	}
	return value, nil
}

// SetRedactor set the function masking secret values in guest errors and logs
func (rt *Runtime) SetRedactor(redact func(string) string) {
	rt.mu.Lock()
	rt.redact = redact
	rt.mu.Unlock()
}

// Redact masks secret values in text
func (rt *Runtime) Redact(text string) string {
	rt.mu.Lock()
	redact := rt.redact
	rt.mu.Unlock()
	if redact == nil {
		return text
	}
	return redact(text)
}

// limits fill the zero values from the runtime limits
func (rt *Runtime) limits(limits Limits) Limits {
	if limits.MemoryCeiling == 0 {
		limits.MemoryCeiling = rt.option.MemoryCeiling
	}
	if limits.Timeout <= 0 {
		limits.Timeout = rt.option.Timeout
	}
	if limits.MaxStackDepth <= 0 {
		limits.MaxStackDepth = rt.option.MaxStackDepth
	}
	if limits.MaxScriptSize <= 0 {
		limits.MaxScriptSize = rt.option.MaxScriptSize
	}
	return limits
}

func (exec *execution) run(v8ctx *v8go.Context, unbound *v8go.UnboundScript, inv *invocation.Context) (*v8go.Value, error) {
	if _, err := unbound.Run(v8ctx); err != nil {
		return nil, err
	}

	handler, err := v8ctx.Global().Get(inv.Handler)
	if err != nil {
		return nil, err
	}
	if !handler.IsFunction() {
		return nil, failure.New(failure.HandlerNotFound, "%s does not define %s", exec.script.ID, inv.Handler)
	}
	fn, err := handler.AsFunction()
	if err != nil {
		return nil, err
	}

	arg, err := bridge.JsValue(v8ctx, inv.Value())
	if err != nil {
		return nil, err
	}

	res, err := fn.Call(v8go.Undefined(exec.iso.Isolate), arg)
	if err != nil {
		return nil, err
	}
	return bridge.Settle(v8ctx, res)
}

// watch terminates the execution on timeout, cancellation or heap growth
func (exec *execution) watch() func() {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		timer := time.NewTimer(exec.limits.Timeout)
		ticker := time.NewTicker(exec.rt.option.SampleInterval)
		defer timer.Stop()
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-exec.ctx.Done():
				exec.terminate(cancelled)
				return
			case <-timer.C:
				exec.terminate(timedOut)
				return
			case <-ticker.C:
				if exec.iso.GetHeapStatistics().UsedHeapSize > exec.limits.MemoryCeiling {
					exec.terminate(outOfMemory)
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

// guard runs on the isolate thread before every host call
func (exec *execution) guard() error {
	if exec.reason() != finished {
		return fmt.Errorf("execution terminated")
	}
	if exec.ctx.Err() != nil {
		exec.terminate(cancelled)
		return fmt.Errorf("execution cancelled")
	}
	if exec.iso.GetHeapStatistics().UsedHeapSize > exec.limits.MemoryCeiling {
		exec.terminate(outOfMemory)
		return fmt.Errorf("memory limit exceeded")
	}
	return nil
}

func (exec *execution) terminate(why reason) {
	if exec.state.CompareAndSwap(int32(finished), int32(why)) {
		exec.iso.TerminateExecution()
	}
}

func (exec *execution) reason() reason {
	return reason(exec.state.Load())
}

// failure classifies an execution error
func (exec *execution) failure(err error) *failure.Error {
	switch exec.reason() {
	case timedOut:
		return failure.New(failure.Timeout, "%s exceeded the %s timeout", exec.script.ID, exec.limits.Timeout)
	case cancelled:
		return failure.New(failure.Timeout, "%s was cancelled: %v", exec.script.ID, exec.ctx.Err())
	case outOfMemory:
		return failure.New(failure.MemoryLimitExceeded, "%s exceeded the %d bytes heap ceiling", exec.script.ID, exec.limits.MemoryCeiling)
	}

	if f, ok := failure.As(err); ok {
		return f.Redact(exec.rt.Redact)
	}

	jsErr, ok := err.(*v8go.JSError)
	if !ok {
		return failure.New(failure.RuntimeError, "%s", err.Error()).Redact(exec.rt.Redact)
	}

	switch {
	case strings.Contains(jsErr.Message, "Maximum call stack size exceeded"):
		return failure.New(failure.StackOverflow, "%s exceeded the call stack ceiling (%d frames)", exec.script.ID, exec.limits.MaxStackDepth)

	case strings.Contains(jsErr.Message, "Code generation from strings disallowed"):
		return failure.New(failure.SecurityPolicyViolation, "%s", jsErr.Message)
	}

	return failure.New(failure.RuntimeError, "%s", jsErr.Message).
		WithStack(exec.rt.StackTrace(exec.script, jsErr)).
		Redact(exec.rt.Redact)
}
