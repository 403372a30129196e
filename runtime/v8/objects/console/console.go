package console

import (
	"strings"

	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"rogchap.com/v8go"
)

// Object Javascript API
type Object struct {
	mode string // production, development
}

// New create a new Console Object
func New(mode string) *Object {
	if mode != "development" {
		mode = "production"
	}
	return &Object{mode: mode}
}

// ExportObject Export as a Console Object
// console.log("name", {"foo":"bar"} )
func (obj *Object) ExportObject(iso *v8go.Isolate) *v8go.ObjectTemplate {
	tmpl := v8go.NewObjectTemplate(iso)
	tmpl.Set("log", obj.print(iso, log.Debug, true))
	tmpl.Set("debug", obj.print(iso, log.Debug, true))
	tmpl.Set("info", obj.print(iso, log.Info, false))
	tmpl.Set("warn", obj.print(iso, log.Warn, false))
	tmpl.Set("error", obj.print(iso, log.Error, false))
	return tmpl
}

func (obj *Object) print(iso *v8go.Isolate, method func(string, ...interface{}), development bool) *v8go.FunctionTemplate {
	return bridge.Func(iso, func(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
		if development && obj.mode != "development" {
			return guest.NullValue(), nil
		}

		parts := make([]string, 0, len(info.Args()))
		for _, arg := range info.Args() {
			parts = append(parts, text(info.Context(), arg))
		}

		message := strings.Join(parts, " ")
		if call.Redact != nil {
			message = call.Redact(message)
		}
		method("[script:%s] %s", call.ScriptID, message)
		return guest.NullValue(), nil
	})
}

func text(ctx *v8go.Context, value *v8go.Value) string {
	if value.IsString() || value.IsNullOrUndefined() || value.IsFunction() || value.IsNativeError() {
		return value.String()
	}
	if value.IsObject() {
		if res, err := v8go.JSONStringify(ctx, value); err == nil {
			return res
		}
	}
	return value.String()
}
