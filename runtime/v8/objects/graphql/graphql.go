package graphql

import (
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"github.com/yaoapp/weave/runtime/v8/objects/streams"
	"rogchap.com/v8go"
)

// Object the graphql global
//
// graphql.registerQuery(name, sdl, resolver)
// graphql.registerMutation(name, sdl, resolver)
// graphql.registerSubscription(name, sdl, resolver)
// graphql.publishSubscription(name, payload, filter?) -> delivered
//
// sdl is either a field definition, `hello(name: String): String`, or a full
// type system fragment such as `type Query { hello: String }`.
type Object struct{}

// New create a new graphql object
func New() *Object {
	return &Object{}
}

// ExportObject Export as a graphql object
func (obj *Object) ExportObject(iso *v8go.Isolate) *v8go.ObjectTemplate {
	tmpl := v8go.NewObjectTemplate(iso)
	tmpl.Set("registerQuery", bridge.Func(iso, obj.register("query")))
	tmpl.Set("registerMutation", bridge.Func(iso, obj.register("mutation")))
	tmpl.Set("registerSubscription", bridge.Func(iso, obj.register("subscription")))
	tmpl.Set("publishSubscription", bridge.Func(iso, obj.publish))
	return tmpl
}

func (obj *Object) register(operation string) bridge.Handler {
	return func(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
		if err := call.Available("graphql.register"); err != nil {
			return guest.NullValue(), err
		}

		name, err := bridge.RequireString(info, 0, "name")
		if err != nil {
			return guest.NullValue(), err
		}
		sdl, err := bridge.RequireString(info, 1, "sdl")
		if err != nil {
			return guest.NullValue(), err
		}
		resolver, err := bridge.RequireString(info, 2, "resolver")
		if err != nil {
			return guest.NullValue(), err
		}
		return guest.NullValue(), call.Host.RegisterGraphQL(call, operation, name, sdl, resolver)
	}
}

func (obj *Object) publish(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := call.Available("graphql.publishSubscription"); err != nil {
		return guest.NullValue(), err
	}

	name, err := bridge.RequireString(info, 0, "name")
	if err != nil {
		return guest.NullValue(), err
	}
	payload, attrs, err := streams.Payload(info, 1)
	if err != nil {
		return guest.NullValue(), err
	}

	delivered, err := call.Host.PublishSubscription(call, name, payload, attrs)
	if err != nil {
		return guest.NullValue(), err
	}
	return guest.NumberOf(float64(delivered)), nil
}
