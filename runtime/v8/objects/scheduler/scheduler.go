package scheduler

import (
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"rogchap.com/v8go"
)

// Object the scheduler global, privileged scripts only
//
// scheduler.registerCron(name, expression, handler)
// scheduler.unregisterCron(name) -> bool
type Object struct{}

// New create a new scheduler object
func New() *Object {
	return &Object{}
}

// ExportObject Export as a scheduler object
func (obj *Object) ExportObject(iso *v8go.Isolate) *v8go.ObjectTemplate {
	tmpl := v8go.NewObjectTemplate(iso)
	tmpl.Set("registerCron", bridge.Func(iso, obj.registerCron))
	tmpl.Set("unregisterCron", bridge.Func(iso, obj.unregisterCron))
	return tmpl
}

func (obj *Object) registerCron(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := call.Require("scheduler.registerCron"); err != nil {
		return guest.NullValue(), err
	}
	if err := call.Available("scheduler.registerCron"); err != nil {
		return guest.NullValue(), err
	}

	name, err := bridge.RequireString(info, 0, "name")
	if err != nil {
		return guest.NullValue(), err
	}
	expression, err := bridge.RequireString(info, 1, "expression")
	if err != nil {
		return guest.NullValue(), err
	}
	handler, err := bridge.RequireString(info, 2, "handler")
	if err != nil {
		return guest.NullValue(), err
	}
	return guest.NullValue(), call.Host.RegisterCron(call, name, expression, handler)
}

func (obj *Object) unregisterCron(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := call.Require("scheduler.unregisterCron"); err != nil {
		return guest.NullValue(), err
	}
	if err := call.Available("scheduler.unregisterCron"); err != nil {
		return guest.NullValue(), err
	}
	name, err := bridge.RequireString(info, 0, "name")
	if err != nil {
		return guest.NullValue(), err
	}
	return guest.BoolOf(call.Host.UnregisterCron(call, name)), nil
}
