package bridge

import (
	"fmt"

	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/guest"
	"rogchap.com/v8go"
)

var calls = &registry{calls: map[*v8go.Context]*Call{}}

// Bind attaches the call to a fresh context. The Error constructor is captured
// before any guest code runs so a guest cannot shadow it.
func Bind(ctx *v8go.Context, call *Call, guard func() error) error {
	ctor, err := ctx.Global().Get("Error")
	if err != nil {
		return err
	}
	fn, err := ctor.AsFunction()
	if err != nil {
		return err
	}

	call.ctx = ctx
	call.errorCtor = fn
	call.guard = guard

	calls.mu.Lock()
	calls.calls[ctx] = call
	calls.mu.Unlock()
	return nil
}

// Unbind detaches the call of the context
func Unbind(ctx *v8go.Context) {
	calls.mu.Lock()
	delete(calls.calls, ctx)
	calls.mu.Unlock()
}

// Bound the number of contexts with a running call
func Bound() int {
	calls.mu.RLock()
	defer calls.mu.RUnlock()
	return len(calls.calls)
}

// CallOf the call running in the callback's context
func CallOf(info *v8go.FunctionCallbackInfo) (*Call, error) {
	calls.mu.RLock()
	call, has := calls.calls[info.Context()]
	calls.mu.RUnlock()
	if !has {
		return nil, fmt.Errorf("no invocation is bound to this context")
	}
	if call.guard != nil {
		if err := call.guard(); err != nil {
			return nil, err
		}
	}
	return call, nil
}

// Require fails with PrivilegeRequired unless the script is privileged
func (call *Call) Require(operation string) error {
	if call.Privileged {
		return nil
	}
	return failure.New(failure.PrivilegeRequired, "%s requires a privileged script, %s is restricted", operation, call.ScriptID)
}

// Available fails when no host is attached
func (call *Call) Available(operation string) error {
	if call.Host == nil {
		return fmt.Errorf("%s is not available in this runtime", operation)
	}
	return nil
}

// Throw raises err as a guest Error in the context of info
func Throw(info *v8go.FunctionCallbackInfo, err error) *v8go.Value {
	iso := info.Context().Isolate()
	message := err.Error()

	calls.mu.RLock()
	call := calls.calls[info.Context()]
	calls.mu.RUnlock()

	if call != nil && call.Redact != nil {
		message = call.Redact(message)
	}

	msg, e := v8go.NewValue(iso, message)
	if e != nil {
		return v8go.Undefined(iso)
	}

	if call != nil && call.errorCtor != nil {
		value, e := call.errorCtor.Call(v8go.Undefined(iso), msg)
		if e == nil {
			return iso.ThrowException(value)
		}
	}
	return iso.ThrowException(msg)
}

// Handler a host function body
type Handler func(info *v8go.FunctionCallbackInfo, call *Call) (guest.Value, error)

// Func wraps a host function body into a function template. The call is resolved
// from the context, errors are thrown into the guest and results cast back.
func Func(iso *v8go.Isolate, handler Handler) *v8go.FunctionTemplate {
	return v8go.NewFunctionTemplate(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		call, err := CallOf(info)
		if err != nil {
			return Throw(info, err)
		}
		res, err := handler(info, call)
		if err != nil {
			return Throw(info, err)
		}
		return Return(info, res)
	})
}
