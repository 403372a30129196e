package secrets

import (
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"rogchap.com/v8go"
)

// Object the secrets global. Values never cross into the guest.
//
// secrets.exists(id) -> bool
// secrets.list() -> [id]
type Object struct{}

// New create a new secrets object
func New() *Object {
	return &Object{}
}

// ExportObject Export as a secrets object
func (obj *Object) ExportObject(iso *v8go.Isolate) *v8go.ObjectTemplate {
	tmpl := v8go.NewObjectTemplate(iso)
	tmpl.Set("exists", bridge.Func(iso, obj.exists))
	tmpl.Set("list", bridge.Func(iso, obj.list))
	return tmpl
}

func (obj *Object) exists(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := call.Available("secrets.exists"); err != nil {
		return guest.NullValue(), err
	}
	id, ok := bridge.StringArg(info, 0)
	if !ok {
		return guest.BoolOf(false), nil
	}
	return guest.BoolOf(call.Host.SecretExists(id)), nil
}

func (obj *Object) list(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := call.Available("secrets.list"); err != nil {
		return guest.NullValue(), err
	}
	ids, err := call.Host.SecretList()
	if err != nil {
		return guest.NullValue(), err
	}
	items := make([]guest.Value, 0, len(ids))
	for _, id := range ids {
		items = append(items, guest.StringOf(id))
	}
	return guest.ListOf(items...), nil
}
