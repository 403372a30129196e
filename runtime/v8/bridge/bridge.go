package bridge

import (
	"fmt"
	"math/big"

	jsoniter "github.com/json-iterator/go"
	"github.com/yaoapp/weave/guest"
	"rogchap.com/v8go"
)

// JsValue cast a guest value to a JavaScript value
//
// *  ---------------------------------------------------
// *  | guest.Value             | Javascript            |
// *  ---------------------------------------------------
// *  | Null                    | null                  |
// *  | Bool                    | boolean               |
// *  | Number                  | number                |
// *  | String                  | string                |
// *  | List                    | array                 |
// *  | Map                     | object                |
// *  ---------------------------------------------------
func JsValue(ctx *v8go.Context, value guest.Value) (*v8go.Value, error) {
	iso := ctx.Isolate()
	switch value.Kind() {
	case guest.Null:
		return v8go.Null(iso), nil
	case guest.Bool:
		return v8go.NewValue(iso, value.Bool())
	case guest.Number:
		return v8go.NewValue(iso, value.Number())
	case guest.String:
		return v8go.NewValue(iso, value.Str())
	}

	data, err := jsoniter.Marshal(value)
	if err != nil {
		return nil, err
	}
	return v8go.JSONParse(ctx, string(data))
}

// GuestValue cast a JavaScript value to a guest value
//
// *  ---------------------------------------------------
// *  | Javascript            | guest.Value             |
// *  ---------------------------------------------------
// *  | null, undefined       | Null                    |
// *  | boolean               | Bool                    |
// *  | number, bigint        | Number                  |
// *  | string                | String                  |
// *  | array                 | List                    |
// *  | object                | Map                     |
// *  | function, symbol      | error                   |
// *  ---------------------------------------------------
func GuestValue(ctx *v8go.Context, value *v8go.Value) (guest.Value, error) {
	switch {
	case value == nil || value.IsNullOrUndefined():
		return guest.NullValue(), nil

	case value.IsString():
		return guest.StringOf(value.String()), nil

	case value.IsBoolean():
		return guest.BoolOf(value.Boolean()), nil

	case value.IsBigInt():
		f, _ := new(big.Float).SetInt(value.BigInt()).Float64()
		return guest.NumberOf(f), nil

	case value.IsNumber():
		return guest.NumberOf(value.Number()), nil

	case value.IsFunction():
		return guest.NullValue(), fmt.Errorf("a function cannot leave the sandbox")

	case value.IsSymbol():
		return guest.NullValue(), fmt.Errorf("a symbol cannot leave the sandbox")
	}

	text, err := v8go.JSONStringify(ctx, value)
	if err != nil {
		return guest.NullValue(), err
	}
	if text == "" || text == "undefined" {
		return guest.NullValue(), nil
	}
	return guest.FromJSON([]byte(text))
}

// GuestArgs cast the callback arguments
func GuestArgs(info *v8go.FunctionCallbackInfo) ([]guest.Value, error) {
	args := info.Args()
	values := make([]guest.Value, 0, len(args))
	for i, arg := range args {
		value, err := GuestValue(info.Context(), arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %s", i+1, err.Error())
		}
		values = append(values, value)
	}
	return values, nil
}

// StringArg the i-th argument as a string. Missing, null and undefined are absent.
func StringArg(info *v8go.FunctionCallbackInfo, i int) (string, bool) {
	args := info.Args()
	if i >= len(args) || args[i].IsNullOrUndefined() {
		return "", false
	}
	return args[i].String(), true
}

// RequireString the i-th argument as a non-empty string
func RequireString(info *v8go.FunctionCallbackInfo, i int, name string) (string, error) {
	value, ok := StringArg(info, i)
	if !ok || value == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return value, nil
}

// Return cast a guest value for the callback, throwing on failure
func Return(info *v8go.FunctionCallbackInfo, value guest.Value) *v8go.Value {
	res, err := JsValue(info.Context(), value)
	if err != nil {
		return Throw(info, err)
	}
	return res
}
