package v8

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/filter"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/identity"
	"github.com/yaoapp/weave/invocation"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"github.com/yaoapp/weave/secret"
)

type host struct {
	mu       sync.Mutex
	routes   []string
	publish  []string
	graphql  []string
	crons    []string
	secrets  map[string]string
	fetched  []secret.Descriptor
	delivery int
}

func newHost() *host {
	return &host{secrets: map[string]string{"api_key": "sk-live-123456"}}
}

func (h *host) RegisterRoute(call *bridge.Call, pattern, handler, method string, metadata guest.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes = append(h.routes, method+" "+pattern+" "+handler)
	return nil
}

func (h *host) UnregisterRoute(call *bridge.Call, pattern, method string) bool { return true }

func (h *host) RegisterAssetRoute(call *bridge.Call, pattern, asset string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes = append(h.routes, "ASSET "+pattern+" "+asset)
	return nil
}

func (h *host) RegisterStreamRoute(call *bridge.Call, pattern, handler string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes = append(h.routes, "STREAM "+pattern+" "+handler)
	return nil
}

func (h *host) UnregisterStreamRoute(call *bridge.Call, pattern string) bool { return false }

func (h *host) Publish(call *bridge.Call, target string, payload guest.Value, attrs filter.Attributes) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publish = append(h.publish, target+" "+payload.String()+" "+attrs["room"])
	return h.delivery, nil
}

func (h *host) RegisterGraphQL(call *bridge.Call, operation, name, sdl, resolver string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graphql = append(h.graphql, operation+" "+name+" "+resolver)
	return nil
}

func (h *host) PublishSubscription(call *bridge.Call, name string, payload guest.Value, attrs filter.Attributes) (int, error) {
	return h.delivery, nil
}

func (h *host) SecretExists(id string) bool {
	_, has := h.secrets[id]
	return has
}

func (h *host) SecretList() ([]string, error) {
	return []string{"api_key"}, nil
}

func (h *host) Fetch(call *bridge.Call, d secret.Descriptor, timeout time.Duration) (*bridge.FetchResult, error) {
	h.mu.Lock()
	h.fetched = append(h.fetched, d)
	h.mu.Unlock()
	concrete, err := secret.NewInjector(h).Resolve(d)
	if err != nil {
		return nil, err
	}
	return &bridge.FetchResult{Status: 200, Headers: map[string]string{}, Body: concrete.Redact("echo " + concrete.Headers["Authorization"]), Data: guest.NullValue()}, nil
}

func (h *host) Get(id string) (string, bool, error) {
	value, has := h.secrets[id]
	return value, has, nil
}

func (h *host) RegisterCron(call *bridge.Call, name, expression, handler string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.crons = append(h.crons, name+" "+expression+" "+handler)
	return nil
}

func (h *host) UnregisterCron(call *bridge.Call, name string) bool { return true }

func prepare(t *testing.T, h bridge.Host) *Runtime {
	rt, err := Start(Option{
		MinSize: 1,
		MaxSize: 4,
		Limits: Limits{
			Timeout:       time.Second,
			MemoryCeiling: 32 * 1024 * 1024,
			MaxScriptSize: 64 * 1024,
		},
		Mode: "development",
	}, h)
	require.NoError(t, err)
	t.Cleanup(rt.Stop)
	return rt
}

func httpInvocation(handler string) *invocation.Context {
	return &invocation.Context{
		Kind:     invocation.HTTPRoute,
		ScriptID: "test",
		Handler:  handler,
		Request:  invocation.Synthetic("GET", "/api/hello", identity.Anonymous()),
		Args:     guest.EmptyMap(),
		Meta:     guest.EmptyMap(),
	}
}

func run(t *testing.T, rt *Runtime, source string, handler string, privileged bool) (guest.Value, error) {
	script, err := rt.Compile("test", "test.js", source)
	require.NoError(t, err)
	return rt.Execute(context.Background(), script, httpInvocation(handler), privileged)
}

func TestCompileLimits(t *testing.T) {
	rt := prepare(t, newHost())

	_, err := rt.Compile("big", "big.js", "var a = '"+strings.Repeat("x", 70*1024)+"';")
	assert.True(t, failure.Is(err, failure.ScriptTooLarge))

	_, err = rt.Compile("broken", "broken.js", "function hello( {")
	assert.True(t, failure.Is(err, failure.SyntaxError), err)
}

func TestCompilePolicy(t *testing.T) {
	rt := prepare(t, newHost())

	rejected := map[string]string{
		"eval":        `function h() { return eval("1 + 1") }`,
		"function":    `function h() { return new Function("return 1")() }`,
		"constructor": `function h() { return ({}).constructor.constructor("return this")() }`,
		"bracket":     `function h() { return ({})["constructor"] }`,
		"proto":       `function h() { var a = {}; a.__proto__ = null; return a }`,
		"protoKey":    `function h() { return { __proto__: null } }`,
		"setProto":    `function h() { return Object.setPrototypeOf({}, null) }`,
		"getter":      `function h() { var a = {}; a.__defineGetter__("x", function () {}); }`,
		"require":     `var fs = require("fs"); function h() {}`,
		"import":      `import fs from "fs"; function h() {}`,
		"export":      `export function h() {}`,
		"dynamic":     `async function h() { return await import("fs") }`,
		"scripts":     `importScripts("x.js"); function h() {}`,
		"globalEval":  `function h() { return globalThis.eval("1") }`,
	}

	for name, source := range rejected {
		_, err := rt.Compile(name, name+".js", source)
		require.Error(t, err, name)
		assert.True(t, failure.Is(err, failure.SecurityPolicyViolation), "%s: %v", name, err)
	}

	_, err := rt.Compile("fine", "fine.js", `function h(ctx) { const o = {evaluate: 1, constructs: [1]}; return o.evaluate }`)
	assert.NoError(t, err)
}

func TestCompileTypeScript(t *testing.T) {
	rt := prepare(t, newHost())
	source := `
interface Greeting { message: string }
function hello(ctx: any): Greeting {
	const name: string = ctx.request.query.name ?? "world";
	return { message: "hello " + name };
}
`
	script, err := rt.Compile("greet", "greet.ts", source)
	require.NoError(t, err)
	assert.NotEmpty(t, script.Map)
	assert.NotContains(t, script.Code, "interface")

	res, err := rt.Execute(context.Background(), script, httpInvocation("hello"), false)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Get("message").Str())
}

func TestCompileCache(t *testing.T) {
	rt := prepare(t, newHost())
	a, err := rt.Compile("a", "same.js", `function h() { return 1 }`)
	require.NoError(t, err)
	b, err := rt.Compile("b", "same.js", `function h() { return 1 }`)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, "a", a.ID)
	assert.Equal(t, "b", b.ID)
}

func TestExecuteContextShape(t *testing.T) {
	rt := prepare(t, newHost())
	res, err := run(t, rt, `
function hello(ctx) {
	return {
		kind: ctx.kind,
		args: typeof ctx.args,
		auth: ctx.request.auth.isAuthenticated,
		provider: ctx.request.auth.provider,
		path: ctx.request.path,
	};
}`, "hello", false)
	require.NoError(t, err)
	assert.Equal(t, "httpRoute", res.Get("kind").Str())
	assert.Equal(t, "object", res.Get("args").Str())
	assert.False(t, res.Get("auth").Bool())
	assert.Equal(t, "anonymous", res.Get("provider").Str())
	assert.Equal(t, "/api/hello", res.Get("path").Str())
}

func TestExecuteThrow(t *testing.T) {
	rt := prepare(t, newHost())
	_, err := run(t, rt, `function boom() { throw new Error("kaboom") }`, "boom", false)
	require.Error(t, err)
	f, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.RuntimeError, f.Kind)
	assert.Contains(t, f.Message, "kaboom")
	assert.Contains(t, f.Stack, "test.js")
}

func TestExecuteHandlerNotFound(t *testing.T) {
	rt := prepare(t, newHost())
	_, err := run(t, rt, `function other() {}`, "missing", false)
	assert.True(t, failure.Is(err, failure.HandlerNotFound))
}

func TestExecuteTimeout(t *testing.T) {
	rt := prepare(t, newHost())
	start := time.Now()
	_, err := run(t, rt, `function spin() { while (true) {} }`, "spin", false)
	assert.True(t, failure.Is(err, failure.Timeout), err)
	assert.Less(t, time.Since(start), 3*time.Second)

	// the runtime stays usable
	res, err := run(t, rt, `function ok() { return 1 }`, "ok", false)
	require.NoError(t, err)
	assert.Equal(t, float64(1), res.Number())
}

func TestExecuteCancel(t *testing.T) {
	rt := prepare(t, newHost())
	script, err := rt.Compile("spin", "spin.js", `function spin() { while (true) {} }`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = rt.ExecuteWith(ctx, script, httpInvocation("spin"), false, Limits{Timeout: 10 * time.Second})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Timeout))
	assert.Contains(t, err.Error(), "cancelled")
}

func TestExecuteStackOverflow(t *testing.T) {
	rt := prepare(t, newHost())
	_, err := run(t, rt, `function down(n) { return down(n + 1) + 1 } function deep() { return down(0) }`, "deep", false)
	assert.True(t, failure.Is(err, failure.StackOverflow), err)
}

func TestExecuteMemory(t *testing.T) {
	rt := prepare(t, newHost())
	_, err := run(t, rt, `function hog() { const a = []; while (true) { a.push(new Array(100000).fill(1.5)) } }`, "hog", false)
	assert.True(t, failure.Is(err, failure.MemoryLimitExceeded), err)
}

func TestExecuteAsync(t *testing.T) {
	rt := prepare(t, newHost())
	res, err := run(t, rt, `async function later() { const v = await Promise.resolve(21); return v * 2 }`, "later", false)
	require.NoError(t, err)
	assert.Equal(t, float64(42), res.Number())

	_, err = run(t, rt, `async function reject() { throw new Error("async boom") }`, "reject", false)
	assert.True(t, failure.Is(err, failure.RuntimeError))
	assert.Contains(t, err.Error(), "async boom")
}

func TestExecuteHardening(t *testing.T) {
	rt := prepare(t, newHost())
	res, err := run(t, rt, `function inspect() { return typeof WebAssembly }`, "inspect", false)
	require.NoError(t, err)
	assert.Equal(t, "undefined", res.Str())

	// a computed member escapes the static check, code generation is still refused
	_, err = run(t, rt, `function inspect() { const k = ["constr", "uctor"].join(""); return (() => 1)[k][k]("return 1")() }`, "inspect", false)
	assert.True(t, failure.Is(err, failure.SecurityPolicyViolation), err)
}

func TestPrivileges(t *testing.T) {
	h := newHost()
	rt := prepare(t, h)
	source := `function init() { routes.registerRoute("/api/x", "x", "GET"); return "done" }`

	_, err := run(t, rt, source, "init", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(failure.PrivilegeRequired))
	assert.Empty(t, h.routes)

	res, err := run(t, rt, source, "init", true)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Str())
	assert.Equal(t, []string{"GET /api/x x"}, h.routes)
}

func TestGlobals(t *testing.T) {
	h := newHost()
	h.delivery = 2
	rt := prepare(t, h)
	res, err := run(t, rt, `
function init() {
	routes.registerStreamRoute("/live/:room", "setup");
	routes.registerAssetRoute("/logo.png", "logo.png");
	scheduler.registerCron("nightly", "0 0 * * *", "cleanup");
	graphql.registerQuery("hello", "hello(name: String): String", "hello");
	const delivered = streams.publish("/live/1", {text: "hi"}, {room: 1});
	return {
		delivered: delivered,
		exists: secrets.exists("api_key"),
		missing: secrets.exists("nope"),
		list: secrets.list(),
	};
}`, "init", true)
	require.NoError(t, err)
	assert.Equal(t, float64(2), res.Get("delivered").Number())
	assert.True(t, res.Get("exists").Bool())
	assert.False(t, res.Get("missing").Bool())
	assert.Len(t, res.Get("list").List(), 1)

	assert.Contains(t, h.routes, "STREAM /live/:room setup")
	assert.Contains(t, h.routes, "ASSET /logo.png logo.png")
	assert.Equal(t, []string{"nightly 0 0 * * * cleanup"}, h.crons)
	assert.Equal(t, []string{"query hello hello"}, h.graphql)
	assert.Equal(t, []string{`/live/1 {"text":"hi"} 1`}, h.publish)
}

func TestFetchSecrets(t *testing.T) {
	h := newHost()
	rt := prepare(t, h)
	res, err := run(t, rt, `
function call() {
	const res = fetch("https://api.example.com", {headers: {Authorization: "Bearer {{secret:api_key}}"}});
	return res.body;
}`, "call", false)
	require.NoError(t, err)
	assert.NotContains(t, res.Str(), "sk-live-123456")
	assert.Contains(t, res.Str(), secret.Mask)

	_, err = run(t, rt, `
function call() {
	return fetch("https://api.example.com", {headers: {Authorization: "{{secret:unknown}}"}});
}`, "call", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")
}

func TestRedaction(t *testing.T) {
	rt := prepare(t, newHost())
	rt.SetRedactor(secret.NewRedactor("sk-live-123456").Redact)
	_, err := run(t, rt, `function leak() { throw new Error("token sk-live-123456") }`, "leak", false)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sk-live-123456")
	assert.Contains(t, err.Error(), secret.Mask)
}

func TestConcurrentExecute(t *testing.T) {
	rt := prepare(t, newHost())
	script, err := rt.Compile("count", "count.js", `var n = 0; function inc() { n++; return n }`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := rt.Execute(context.Background(), script, httpInvocation("inc"), false)
			assert.NoError(t, err)
			// every invocation gets a fresh context
			assert.Equal(t, float64(1), res.Number())
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, rt.Size(), 4)
}

func TestInspectLocation(t *testing.T) {
	rt := prepare(t, newHost())
	_, err := rt.Compile("loc", "loc.ts", "const a: number = 1;\nfunction h() {\n  return eval('a');\n}\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loc.ts:3")
}
