package fetch

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"github.com/yaoapp/weave/secret"
	"rogchap.com/v8go"
)

// Object the fetch global function
//
// fetch(url, {method, headers, body, timeout}) -> {status, ok, headers, body, data}
//
// Header values and the body may carry {{secret:id}} placeholders; they are resolved
// on the host side and the values never reach the guest.
type Object struct{}

// New create a new fetch function
func New() *Object {
	return &Object{}
}

// ExportFunction Export as a javascript function
func (obj *Object) ExportFunction(iso *v8go.Isolate) *v8go.FunctionTemplate {
	return bridge.Func(iso, obj.fetch)
}

func (obj *Object) fetch(info *v8go.FunctionCallbackInfo, call *bridge.Call) (guest.Value, error) {
	if err := call.Available("fetch"); err != nil {
		return guest.NullValue(), err
	}

	url, err := bridge.RequireString(info, 0, "url")
	if err != nil {
		return guest.NullValue(), err
	}

	options := guest.EmptyMap()
	if args := info.Args(); len(args) > 1 {
		options, err = bridge.GuestValue(info.Context(), args[1])
		if err != nil {
			return guest.NullValue(), err
		}
	}

	descriptor, timeout, err := Descriptor(url, options)
	if err != nil {
		return guest.NullValue(), err
	}

	res, err := call.Host.Fetch(call, descriptor, timeout)
	if err != nil {
		return guest.NullValue(), err
	}

	headers := make(map[string]guest.Value, len(res.Headers))
	for name, value := range res.Headers {
		headers[name] = guest.StringOf(value)
	}
	return guest.MapOf(map[string]guest.Value{
		"status":  guest.NumberOf(float64(res.Status)),
		"ok":      guest.BoolOf(res.Status >= 200 && res.Status < 300),
		"headers": guest.MapOf(headers),
		"body":    guest.StringOf(res.Body),
		"data":    res.Data,
	}), nil
}

// Descriptor reads the fetch options into a request descriptor
func Descriptor(url string, options guest.Value) (secret.Descriptor, time.Duration, error) {
	descriptor := secret.Descriptor{
		Method:  "GET",
		URL:     url,
		Headers: map[string]string{},
	}

	if !options.IsNull() && options.Kind() != guest.Map {
		return descriptor, 0, fmt.Errorf("fetch options must be an object")
	}

	if method, ok := options.Get("method").Text(); ok && method != "" {
		descriptor.Method = strings.ToUpper(method)
	}

	for name, value := range options.Get("headers").Map() {
		text, ok := value.Text()
		if !ok {
			return descriptor, 0, fmt.Errorf("header %s must be a string", name)
		}
		descriptor.Headers[name] = text
	}

	body := options.Get("body")
	switch body.Kind() {
	case guest.Null:
	case guest.String:
		descriptor.Body = body.Str()
	default:
		data, err := jsoniter.Marshal(body)
		if err != nil {
			return descriptor, 0, err
		}
		descriptor.Body = string(data)
		if !hasHeader(descriptor.Headers, "Content-Type") {
			descriptor.Headers["Content-Type"] = "application/json; charset=utf-8"
		}
	}

	var timeout time.Duration
	if ms := options.Get("timeout"); ms.Kind() == guest.Number && ms.Number() > 0 {
		timeout = time.Duration(ms.Number()) * time.Millisecond
	}
	return descriptor, timeout, nil
}

func hasHeader(headers map[string]string, name string) bool {
	for key := range headers {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}
