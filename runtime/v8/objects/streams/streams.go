package streams

import (
	"github.com/yaoapp/weave/filter"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"rogchap.com/v8go"
)

// Object the streams global
//
// streams.publish(channelOrPath, payload, filter?) -> delivered
type Object struct{}

// New create a new streams object
func New() *Object {
	return &Object{}
}

// ExportObject Export as a streams object
func (obj *Object) ExportObject(iso *v8go.Isolate) *v8go.ObjectTemplate {
	tmpl := v8go.NewObjectTemplate(iso)
	tmpl.Set("publish", bridge.Func(iso, obj.publish))
	return tmpl
}

func (obj *Object) publish(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := call.Available("streams.publish"); err != nil {
		return guest.NullValue(), err
	}

	target, err := bridge.RequireString(info, 0, "channel")
	if err != nil {
		return guest.NullValue(), err
	}

	payload, attrs, err := Payload(info, 1)
	if err != nil {
		return guest.NullValue(), err
	}

	delivered, err := call.Host.Publish(call, target, payload, attrs)
	if err != nil {
		return guest.NullValue(), err
	}
	return guest.NumberOf(float64(delivered)), nil
}

// Payload reads the payload at i and the optional publish filter after it
func Payload(info *v8go.FunctionCallbackInfo, i int) (guest.Value, filter.Attributes, error) {
	args := info.Args()
	payload := guest.NullValue()
	attrs := filter.Attributes{}

	if len(args) > i {
		value, err := bridge.GuestValue(info.Context(), args[i])
		if err != nil {
			return payload, nil, err
		}
		payload = value
	}

	if len(args) > i+1 {
		value, err := bridge.GuestValue(info.Context(), args[i+1])
		if err != nil {
			return payload, nil, err
		}
		attrs, err = filter.Coerce(value)
		if err != nil {
			return payload, nil, err
		}
	}
	return payload, attrs, nil
}
