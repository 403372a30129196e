package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/guest"
	"rogchap.com/v8go"
)

func newContext(t *testing.T) *v8go.Context {
	iso := v8go.NewIsolate()
	ctx := v8go.NewContext(iso)
	t.Cleanup(func() {
		ctx.Close()
		iso.Dispose()
	})
	return ctx
}

func TestGuestValueScalars(t *testing.T) {
	ctx := newContext(t)

	cases := map[string]guest.Value{
		"null":      guest.NullValue(),
		"undefined": guest.NullValue(),
		"true":      guest.BoolOf(true),
		"1.5":       guest.NumberOf(1.5),
		"10n":       guest.NumberOf(10),
		"'hi'":      guest.StringOf("hi"),
	}
	for src, want := range cases {
		value, err := ctx.RunScript(src, "scalars.js")
		require.NoError(t, err, src)
		got, err := GuestValue(ctx, value)
		require.NoError(t, err, src)
		assert.Equal(t, want, got, src)
	}
}

func TestGuestValueObjects(t *testing.T) {
	ctx := newContext(t)
	value, err := ctx.RunScript(`({a: [1, "two", null], b: {c: true}})`, "objects.js")
	require.NoError(t, err)

	got, err := GuestValue(ctx, value)
	require.NoError(t, err)
	assert.Equal(t, guest.Map, got.Kind())
	assert.Len(t, got.Get("a").List(), 3)
	assert.Equal(t, "two", got.Get("a").List()[1].Str())
	assert.True(t, got.Get("b").Get("c").Bool())
}

func TestGuestValueFunction(t *testing.T) {
	ctx := newContext(t)
	value, err := ctx.RunScript(`(function () {})`, "fn.js")
	require.NoError(t, err)
	_, err = GuestValue(ctx, value)
	assert.Error(t, err)
}

func TestJsValue(t *testing.T) {
	ctx := newContext(t)
	in := guest.MustOf(map[string]interface{}{"name": "weave", "tags": []interface{}{"a", "b"}, "n": 3})

	value, err := JsValue(ctx, in)
	require.NoError(t, err)
	require.NoError(t, ctx.Global().Set("input", value))

	res, err := ctx.RunScript(`input.name + ":" + input.tags.join(",") + ":" + (input.n + 1)`, "js.js")
	require.NoError(t, err)
	assert.Equal(t, "weave:a,b:4", res.String())

	null, err := JsValue(ctx, guest.NullValue())
	require.NoError(t, err)
	assert.True(t, null.IsNull())
}

func TestSettle(t *testing.T) {
	ctx := newContext(t)

	value, err := ctx.RunScript(`(async () => ({ok: true}))()`, "resolve.js")
	require.NoError(t, err)
	res, err := Settle(ctx, value)
	require.NoError(t, err)
	got, err := GuestValue(ctx, res)
	require.NoError(t, err)
	assert.True(t, got.Get("ok").Bool())

	value, err = ctx.RunScript(`(async () => { throw new Error("nope") })()`, "reject.js")
	require.NoError(t, err)
	_, err = Settle(ctx, value)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	value, err = ctx.RunScript(`new Promise(() => {})`, "pending.js")
	require.NoError(t, err)
	_, err = Settle(ctx, value)
	assert.Error(t, err)

	value, err = ctx.RunScript(`42`, "plain.js")
	require.NoError(t, err)
	res, err = Settle(ctx, value)
	require.NoError(t, err)
	assert.Equal(t, int32(42), res.Int32())
}

func TestThrowRestricted(t *testing.T) {
	iso := v8go.NewIsolate()
	defer iso.Dispose()

	tmpl := v8go.NewObjectTemplate(iso)
	tmpl.Set("privileged", v8go.NewFunctionTemplate(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		call, err := CallOf(info)
		if err != nil {
			return Throw(info, err)
		}
		if err := call.Require("registerRoute"); err != nil {
			return Throw(info, err)
		}
		return v8go.Undefined(iso)
	}))

	ctx := v8go.NewContext(iso, tmpl)
	defer ctx.Close()

	call := &Call{ScriptID: "guest"}
	require.NoError(t, Bind(ctx, call, nil))
	defer Unbind(ctx)
	assert.Equal(t, 1, Bound())

	res, err := ctx.RunScript(`try { privileged(); "ok" } catch (e) { (e instanceof Error) + ":" + e.message }`, "throw.js")
	require.NoError(t, err)
	assert.Contains(t, res.String(), "true:"+string(failure.PrivilegeRequired))
	assert.Contains(t, res.String(), "registerRoute")
}

func TestCallOfUnbound(t *testing.T) {
	iso := v8go.NewIsolate()
	defer iso.Dispose()

	tmpl := v8go.NewObjectTemplate(iso)
	tmpl.Set("inspect", v8go.NewFunctionTemplate(iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		_, err := CallOf(info)
		if err != nil {
			return Throw(info, err)
		}
		return v8go.Undefined(iso)
	}))
	ctx := v8go.NewContext(iso, tmpl)
	defer ctx.Close()

	_, err := ctx.RunScript(`inspect()`, "unbound.js")
	assert.Error(t, err)
}
