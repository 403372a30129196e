package routes

import (
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"rogchap.com/v8go"
)

// Object the routes global. Every method requires a privileged script.
//
// routes.registerRoute(pattern, handler, method?, metadata?)
// routes.unregisterRoute(pattern, method?) -> bool
// routes.registerAssetRoute(path, assetName)
// routes.registerStreamRoute(pattern, setupHandler|null)
// routes.unregisterStreamRoute(pattern) -> bool
type Object struct{}

// New create a new routes object
func New() *Object {
	return &Object{}
}

// ExportObject Export as a routes object
func (obj *Object) ExportObject(iso *v8go.Isolate) *v8go.ObjectTemplate {
	tmpl := v8go.NewObjectTemplate(iso)
	tmpl.Set("registerRoute", bridge.Func(iso, obj.registerRoute))
	tmpl.Set("unregisterRoute", bridge.Func(iso, obj.unregisterRoute))
	tmpl.Set("registerAssetRoute", bridge.Func(iso, obj.registerAssetRoute))
	tmpl.Set("registerStreamRoute", bridge.Func(iso, obj.registerStreamRoute))
	tmpl.Set("unregisterStreamRoute", bridge.Func(iso, obj.unregisterStreamRoute))
	return tmpl
}

func (obj *Object) registerRoute(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := prepare(call, "routes.registerRoute"); err != nil {
		return guest.NullValue(), err
	}

	pattern, err := bridge.RequireString(info, 0, "pattern")
	if err != nil {
		return guest.NullValue(), err
	}
	handler, err := bridge.RequireString(info, 1, "handler")
	if err != nil {
		return guest.NullValue(), err
	}
	method, _ := bridge.StringArg(info, 2)

	metadata := guest.NullValue()
	if args := info.Args(); len(args) > 3 {
		metadata, err = bridge.GuestValue(info.Context(), args[3])
		if err != nil {
			return guest.NullValue(), err
		}
	}

	return guest.NullValue(), call.Host.RegisterRoute(call, pattern, handler, method, metadata)
}

func (obj *Object) unregisterRoute(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := prepare(call, "routes.unregisterRoute"); err != nil {
		return guest.NullValue(), err
	}
	pattern, err := bridge.RequireString(info, 0, "pattern")
	if err != nil {
		return guest.NullValue(), err
	}
	method, _ := bridge.StringArg(info, 1)
	return guest.BoolOf(call.Host.UnregisterRoute(call, pattern, method)), nil
}

func (obj *Object) registerAssetRoute(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := prepare(call, "routes.registerAssetRoute"); err != nil {
		return guest.NullValue(), err
	}
	path, err := bridge.RequireString(info, 0, "path")
	if err != nil {
		return guest.NullValue(), err
	}
	asset, err := bridge.RequireString(info, 1, "assetName")
	if err != nil {
		return guest.NullValue(), err
	}
	return guest.NullValue(), call.Host.RegisterAssetRoute(call, path, asset)
}

func (obj *Object) registerStreamRoute(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := prepare(call, "routes.registerStreamRoute"); err != nil {
		return guest.NullValue(), err
	}
	pattern, err := bridge.RequireString(info, 0, "pattern")
	if err != nil {
		return guest.NullValue(), err
	}
	handler, _ := bridge.StringArg(info, 1) // null: no setup, every connection gets {}
	return guest.NullValue(), call.Host.RegisterStreamRoute(call, pattern, handler)
}

func (obj *Object) unregisterStreamRoute(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := prepare(call, "routes.unregisterStreamRoute"); err != nil {
		return guest.NullValue(), err
	}
	pattern, err := bridge.RequireString(info, 0, "pattern")
	if err != nil {
		return guest.NullValue(), err
	}
	return guest.BoolOf(call.Host.UnregisterStreamRoute(call, pattern)), nil
}

func prepare(call *bridge.Call, operation string) error {
	if err := call.Require(operation); err != nil {
		return err
	}
	return call.Available(operation)
}
