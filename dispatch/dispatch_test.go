package dispatch

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/filter"
	"github.com/yaoapp/weave/graphql"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/identity"
	"github.com/yaoapp/weave/invocation"
	v8 "github.com/yaoapp/weave/runtime/v8"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"github.com/yaoapp/weave/script"
	"github.com/yaoapp/weave/secret"
	"github.com/yaoapp/weave/store"
	"github.com/yaoapp/weave/store/memory"
)

type handler func(call *bridge.Call) (guest.Value, error)

// runtime runs go functions in place of guest handlers
type runtime struct {
	host     bridge.Host
	handlers map[string]handler
}

func (rt *runtime) Execute(ctx context.Context, s *v8.Script, inv *invocation.Context, privileged bool) (guest.Value, error) {
	fn, has := rt.handlers[s.ID+"."+inv.Handler]
	if !has {
		return guest.NullValue(), failure.New(failure.HandlerNotFound, "%s does not define %s", s.ID, inv.Handler)
	}
	return fn(&bridge.Call{ScriptID: s.ID, Privileged: privileged, Invocation: inv, Context: ctx, Host: rt.host})
}

type compiler struct{}

func (compiler) Compile(id string, file string, source string) (*v8.Script, error) {
	return &v8.Script{ID: id, File: file, Source: source, Code: source}, nil
}

type fixture struct {
	d       *Dispatcher
	scripts *script.Registry
	repo    *store.Repository
	secrets *secret.Store
	router  *gin.Engine
}

func prepare(t *testing.T, handlers map[string]handler) *fixture {
	repo := store.NewRepository(memory.New())
	secrets, err := secret.NewStore(repo.Secrets, "test-master-key")
	require.NoError(t, err)

	rt := &runtime{handlers: handlers}
	scripts := script.New(repo.Scripts, compiler{}, nil, script.Option{})
	d := New(Option{Mode: "development"}, Services{
		Runtime: rt,
		Scripts: scripts,
		Secrets: secrets,
		Assets:  repo.Assets,
	})
	scripts.SetLifecycle(d)
	rt.host = d
	t.Cleanup(d.Stop)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(identity.Middleware(identity.Header{}))
	require.NoError(t, d.GraphQL().Mount(router, "/graphql"))
	router.NoRoute(d.Handler())

	return &fixture{d: d, scripts: scripts, repo: repo, secrets: secrets, router: router}
}

func (f *fixture) put(t *testing.T, id string) {
	_, err := f.scripts.Put(context.Background(), id, "", "// "+id, nil)
	require.NoError(t, err)
}

func (f *fixture) do(method, path string, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Weave-User", "u1")
	f.router.ServeHTTP(w, req)
	return w
}

func TestHTTPRoute(t *testing.T) {
	f := prepare(t, map[string]handler{
		"shop.init": func(call *bridge.Call) (guest.Value, error) {
			metadata := guest.MustOf(map[string]interface{}{"cache": true})
			if err := call.Host.RegisterRoute(call, "/api/items/:id", "item", "", metadata); err != nil {
				return guest.NullValue(), err
			}
			return guest.NullValue(), call.Host.RegisterRoute(call, "/api/items", "create", "POST", guest.NullValue())
		},
		"shop.item": func(call *bridge.Call) (guest.Value, error) {
			inv := call.Invocation
			return guest.MustOf(map[string]interface{}{
				"id":    inv.Request.Params["id"],
				"user":  inv.Request.Auth.UserID,
				"args":  inv.Args.Interface(),
				"cache": inv.Meta.Get("route").Get("metadata").Get("cache").Bool(),
			}), nil
		},
		"shop.create": func(call *bridge.Call) (guest.Value, error) {
			return guest.MustOf(map[string]interface{}{
				"status":  201,
				"headers": map[string]interface{}{"X-Item": call.Invocation.Request.Body.Get("name").Str()},
				"body":    "created",
			}), nil
		},
	})
	f.put(t, "shop")

	w := f.do("GET", "/api/items/7", "")
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"id":"7","user":"u1","args":{},"cache":true}`, w.Body.String())

	w = f.do("POST", "/api/items", `{"name":"pen"}`)
	assert.Equal(t, 201, w.Code)
	assert.Equal(t, "pen", w.Header().Get("X-Item"))
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "created", w.Body.String())

	w = f.do("DELETE", "/api/items/7", "")
	assert.Equal(t, 405, w.Code)
	assert.Equal(t, "GET", w.Header().Get("Allow"))

	w = f.do("GET", "/nowhere", "")
	assert.Equal(t, 404, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"RouteNotFound"`)
}

func TestHandlerFailure(t *testing.T) {
	f := prepare(t, map[string]handler{
		"app.init": func(call *bridge.Call) (guest.Value, error) {
			if err := call.Host.RegisterRoute(call, "/boom", "boom", "GET", guest.NullValue()); err != nil {
				return guest.NullValue(), err
			}
			return guest.NullValue(), call.Host.RegisterRoute(call, "/bad", "bad", "GET", guest.NullValue())
		},
		"app.boom": func(call *bridge.Call) (guest.Value, error) {
			return guest.NullValue(), failure.New(failure.RuntimeError, "Error: boom")
		},
		"app.bad": func(call *bridge.Call) (guest.Value, error) {
			return guest.MustOf(map[string]interface{}{"status": 700}), nil
		},
	})
	f.put(t, "app")

	w := f.do("GET", "/boom", "")
	assert.Equal(t, 500, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"RuntimeError"`)
	assert.Contains(t, w.Body.String(), "boom")

	w = f.do("GET", "/bad", "")
	assert.Equal(t, 500, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"InvalidResponse"`)
}

func TestTranslate(t *testing.T) {
	res, err := translate(guest.StringOf("hi"))
	require.NoError(t, err)
	assert.Equal(t, 200, res.status)
	assert.Equal(t, "text/plain; charset=utf-8", res.contentType)

	res, err = translate(guest.NullValue())
	require.NoError(t, err)
	assert.Equal(t, 204, res.status)
	assert.Nil(t, res.body)

	res, err = translate(guest.MustOf(map[string]interface{}{"status": "ok", "items": []interface{}{1}}))
	require.NoError(t, err)
	assert.Equal(t, 200, res.status)
	assert.JSONEq(t, `{"status":"ok","items":[1]}`, string(res.body))

	res, err = translate(guest.MustOf(map[string]interface{}{
		"status":      202,
		"body":        map[string]interface{}{"queued": true},
		"contentType": "application/vnd.weave+json",
	}))
	require.NoError(t, err)
	assert.Equal(t, 202, res.status)
	assert.Equal(t, "application/vnd.weave+json", res.contentType)
	assert.JSONEq(t, `{"queued":true}`, string(res.body))

	res, err = translate(guest.MustOf(map[string]interface{}{"status": 200}))
	require.NoError(t, err)
	assert.Equal(t, 200, res.status)

	_, err = translate(guest.MustOf(map[string]interface{}{"status": 99}))
	assert.True(t, failure.Is(err, failure.InvalidResponse))

	_, err = translate(guest.MustOf(map[string]interface{}{"body": "x", "headers": map[string]interface{}{"X-A": []interface{}{"a"}}}))
	assert.True(t, failure.Is(err, failure.InvalidResponse))
}

func TestInitFailureRollsBack(t *testing.T) {
	f := prepare(t, map[string]handler{
		"broken.init": func(call *bridge.Call) (guest.Value, error) {
			if err := call.Host.RegisterRoute(call, "/broken", "noop", "GET", guest.NullValue()); err != nil {
				return guest.NullValue(), err
			}
			return guest.NullValue(), failure.New(failure.RuntimeError, "Error: init failed")
		},
		"ok.init": func(call *bridge.Call) (guest.Value, error) {
			return guest.NullValue(), call.Host.RegisterRoute(call, "/ok", "noop", "GET", guest.NullValue())
		},
		"ok.noop": func(call *bridge.Call) (guest.Value, error) { return guest.StringOf("ok"), nil },
	})

	_, err := f.scripts.Put(context.Background(), "broken", "", "x", nil)
	assert.True(t, failure.Is(err, failure.InitializationFailed))
	f.put(t, "ok")

	assert.Equal(t, 404, f.do("GET", "/broken", "").Code)
	assert.Equal(t, 200, f.do("GET", "/ok", "").Code)

	deleted, err := f.scripts.Delete("ok")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 404, f.do("GET", "/ok", "").Code)
	assert.Equal(t, 0, f.d.Routes().Len())
}

func TestOwnership(t *testing.T) {
	f := prepare(t, map[string]handler{
		"a.init": func(call *bridge.Call) (guest.Value, error) {
			return guest.NullValue(), call.Host.RegisterRoute(call, "/a", "noop", "GET", guest.NullValue())
		},
	})
	f.put(t, "a")

	other := &bridge.Call{ScriptID: "b"}
	assert.False(t, f.d.UnregisterRoute(other, "/a", "GET"))
	assert.True(t, f.d.UnregisterRoute(&bridge.Call{ScriptID: "a"}, "/a", ""))
	assert.False(t, f.d.UnregisterRoute(&bridge.Call{ScriptID: "a"}, "/a", ""))
}

func TestAssetRoute(t *testing.T) {
	f := prepare(t, map[string]handler{
		"site.init": func(call *bridge.Call) (guest.Value, error) {
			if err := call.Host.RegisterAssetRoute(call, "/readme", "readme.txt"); err != nil {
				return guest.NullValue(), err
			}
			if err := call.Host.RegisterAssetRoute(call, "/logo", "logo"); err != nil {
				return guest.NullValue(), err
			}
			return guest.NullValue(), call.Host.RegisterAssetRoute(call, "/missing", "missing.css")
		},
	})
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	require.NoError(t, f.repo.Assets.Set("readme.txt", []byte("hello"), 0))
	require.NoError(t, f.repo.Assets.Set("logo", png, 0))
	f.put(t, "site")

	w := f.do("GET", "/readme", "")
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	w = f.do("GET", "/logo", "")
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	assert.Equal(t, 404, f.do("GET", "/missing", "").Code)
}

func TestStreamRoute(t *testing.T) {
	f := prepare(t, map[string]handler{
		"chat.init": func(call *bridge.Call) (guest.Value, error) {
			if err := call.Host.RegisterStreamRoute(call, "/chat/:room", "join"); err != nil {
				return guest.NullValue(), err
			}
			return guest.NullValue(), call.Host.RegisterStreamRoute(call, "/bad", "bad")
		},
		"chat.join": func(call *bridge.Call) (guest.Value, error) {
			return guest.MustOf(map[string]interface{}{"room": call.Invocation.Args.Get("room").Str(), "level": 2}), nil
		},
		"chat.bad": func(call *bridge.Call) (guest.Value, error) {
			return guest.MustOf([]interface{}{"not", "a", "map"}), nil
		},
	})
	f.put(t, "chat")

	w := f.do("GET", "/bad", "")
	assert.Equal(t, 500, w.Code)
	assert.Contains(t, w.Body.String(), "InvalidFilterShape")

	server := httptest.NewServer(f.router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/chat/a")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	assert.Eventually(t, func() bool { return f.d.Hub().Count("/chat/:room") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "/chat/:room", f.d.Channel("/chat/b"))

	call := &bridge.Call{ScriptID: "chat"}
	delivered, err := f.d.Publish(call, "/chat/b", guest.StringOf("nope"), filter.Attributes{"room": "b"})
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	delivered, err = f.d.Publish(call, "/chat/:room", guest.MustOf(map[string]interface{}{"text": "hi"}), filter.Attributes{"room": "a", "level": "2"})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			assert.JSONEq(t, `{"text":"hi"}`, strings.TrimSpace(strings.TrimPrefix(line, "data: ")))
			break
		}
	}
}

func TestGraphQL(t *testing.T) {
	f := prepare(t, map[string]handler{
		"gql.init": func(call *bridge.Call) (guest.Value, error) {
			return guest.NullValue(), call.Host.RegisterGraphQL(call, "query", "hello", "hello(name: String!): String", "hello")
		},
		"gql.hello": func(call *bridge.Call) (guest.Value, error) {
			inv := call.Invocation
			return guest.StringOf("hi " + inv.Args.Get("name").Str() + " from " + inv.Request.Auth.UserID + " via " + inv.Meta.Get("graphql").Get("operation").Str()), nil
		},
	})
	f.put(t, "gql")

	w := f.do("POST", "/graphql", `{"query":"{ hello(name: \"ann\") }"}`)
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"data":{"hello":"hi ann from u1 via query"}}`, w.Body.String())

	resp := f.d.GraphQL().Execute(context.Background(), &graphql.Request{Query: `{ hello(name: "bob") }`}, graphql.Carrier{Transport: "http"})
	require.Empty(t, resp.Errors)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"hi bob from  via query"}`, string(data))

	_, err = f.scripts.Delete("gql")
	require.NoError(t, err)
	_, has := f.d.GraphQL().Registry().Schema().Field(graphql.Query, "hello")
	assert.False(t, has)
}

func TestCron(t *testing.T) {
	var fired atomic.Int32
	f := prepare(t, map[string]handler{
		"jobs.init": func(call *bridge.Call) (guest.Value, error) {
			return guest.NullValue(), call.Host.RegisterCron(call, "cleanup", "@every 1h", "cleanup")
		},
		"jobs.cleanup": func(call *bridge.Call) (guest.Value, error) {
			schedule := call.Invocation.Meta.Get("schedule")
			if call.Invocation.Kind == invocation.ScheduledJob && schedule.Get("name").Str() == "cleanup" {
				fired.Add(1)
			}
			return guest.NullValue(), nil
		},
	})
	f.put(t, "jobs")

	err := f.d.RegisterCron(&bridge.Call{ScriptID: "other"}, "cleanup", "@every 1m", "x")
	assert.True(t, failure.Is(err, failure.BadRequest))
	assert.False(t, f.d.UnregisterCron(&bridge.Call{ScriptID: "other"}, "cleanup"))

	assert.True(t, f.d.Scheduler().Trigger("cleanup"))
	assert.Equal(t, int32(1), fired.Load())

	assert.True(t, f.d.UnregisterCron(&bridge.Call{ScriptID: "jobs"}, "cleanup"))
	assert.False(t, f.d.Scheduler().Trigger("cleanup"))
}

func TestFetchSecrets(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Echo", r.Header.Get("Authorization"))
		w.Write([]byte(`{"auth":"` + r.Header.Get("Authorization") + `"}`))
	}))
	defer upstream.Close()

	f := prepare(t, nil)
	require.NoError(t, f.secrets.Put("api_token", "s3cr3t-value"))
	assert.True(t, f.d.SecretExists("api_token"))
	ids, err := f.d.SecretList()
	require.NoError(t, err)
	assert.Equal(t, []string{"api_token"}, ids)

	call := &bridge.Call{ScriptID: "client", Context: context.Background()}
	res, err := f.d.Fetch(call, secret.Descriptor{
		Method:  "GET",
		URL:     upstream.URL,
		Headers: map[string]string{"Authorization": "Bearer {{secret:api_token}}"},
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
	assert.NotContains(t, res.Body, "s3cr3t-value")
	assert.Contains(t, res.Body, secret.Mask)
	assert.Equal(t, "Bearer "+secret.Mask, res.Headers["x-echo"])
	assert.Equal(t, "Bearer "+secret.Mask, res.Data.Get("auth").Str())

	_, err = f.d.Fetch(call, secret.Descriptor{
		Method:  "GET",
		URL:     upstream.URL,
		Headers: map[string]string{"Authorization": "Bearer {{secret:unknown}}"},
	}, time.Second)
	assert.True(t, failure.Is(err, failure.SecretNotFound))
	assert.NotContains(t, err.Error(), "s3cr3t-value")
}

func TestPayloadTooLarge(t *testing.T) {
	f := prepare(t, map[string]handler{
		"up.init": func(call *bridge.Call) (guest.Value, error) {
			return guest.NullValue(), call.Host.RegisterRoute(call, "/upload", "upload", "POST", guest.NullValue())
		},
		"up.upload": func(call *bridge.Call) (guest.Value, error) {
			return guest.StringOf("stored"), nil
		},
	})
	f.d.option.MaxBody = 16
	f.put(t, "up")

	w := f.do("POST", "/upload", `{"data":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"PayloadTooLarge"`)

	w = f.do("POST", "/upload", `{"a":1}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stored", w.Body.String())
}

func TestFetchDeadline(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer upstream.Close()

	f := prepare(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	call := &bridge.Call{ScriptID: "client", Context: ctx}
	_, err := f.d.Fetch(call, secret.Descriptor{Method: "GET", URL: upstream.URL}, time.Hour)
	assert.True(t, failure.Is(err, failure.Timeout))
	assert.Less(t, time.Since(started), 2*time.Second)

	// the budget is already spent
	_, err = f.d.Fetch(call, secret.Descriptor{Method: "GET", URL: upstream.URL}, time.Hour)
	assert.True(t, failure.Is(err, failure.Timeout))
}

func TestFetchShortSecret(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo", r.Header.Get("X-Pin"))
		w.Write([]byte("pin=" + r.Header.Get("X-Pin")))
	}))
	defer upstream.Close()

	f := prepare(t, nil)
	require.NoError(t, f.secrets.Put("pin", "k9"))

	call := &bridge.Call{ScriptID: "client", Context: context.Background()}
	res, err := f.d.Fetch(call, secret.Descriptor{
		Method:  "GET",
		URL:     upstream.URL,
		Headers: map[string]string{"X-Pin": "{{secret:pin}}"},
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pin="+secret.Mask, res.Body)
	assert.Equal(t, secret.Mask, res.Headers["x-echo"])
}

func TestHotReload(t *testing.T) {
	var version atomic.Int32
	entered := make(chan struct{})
	resume := make(chan struct{})

	f := prepare(t, map[string]handler{
		"live.init": func(call *bridge.Call) (guest.Value, error) {
			switch version.Load() {
			case 2:
				close(entered)
				<-resume
				if err := call.Host.RegisterCron(call, "tock", "@every 1h", "serve"); err != nil {
					return guest.NullValue(), err
				}
				if err := call.Host.RegisterRoute(call, "/v2", "serve", "GET", guest.NullValue()); err != nil {
					return guest.NullValue(), err
				}
			case 3:
				if err := call.Host.RegisterRoute(call, "/v3", "serve", "GET", guest.NullValue()); err != nil {
					return guest.NullValue(), err
				}
				return guest.NullValue(), failure.New(failure.RuntimeError, "Error: v3 init failed")
			default:
				if err := call.Host.RegisterCron(call, "tick", "@every 1h", "serve"); err != nil {
					return guest.NullValue(), err
				}
				if err := call.Host.RegisterRoute(call, "/v1", "serve", "GET", guest.NullValue()); err != nil {
					return guest.NullValue(), err
				}
			}
			return guest.NullValue(), call.Host.RegisterRoute(call, "/shared", "serve", "GET", guest.NullValue())
		},
		"live.serve": func(call *bridge.Call) (guest.Value, error) {
			return guest.StringOf(call.Invocation.Request.Path), nil
		},
	})

	version.Store(1)
	f.put(t, "live")
	shared, has := f.d.Routes().Lookup("/shared", "GET")
	require.True(t, has)

	version.Store(2)
	done := make(chan error, 1)
	go func() {
		_, err := f.scripts.Put(context.Background(), "live", "", "// live v2", nil)
		done <- err
	}()
	<-entered

	// the published version serves while the new init runs
	assert.Equal(t, 200, f.do("GET", "/v1", "").Code)
	assert.Equal(t, 200, f.do("GET", "/shared", "").Code)
	assert.Equal(t, 404, f.do("GET", "/v2", "").Code)
	_, has = f.d.Scheduler().Select("tick")
	assert.True(t, has)

	close(resume)
	require.NoError(t, <-done)

	assert.Equal(t, 404, f.do("GET", "/v1", "").Code)
	assert.Equal(t, 200, f.do("GET", "/v2", "").Code)
	assert.Equal(t, 200, f.do("GET", "/shared", "").Code)
	assert.Equal(t, 2, f.d.Routes().Len())
	again, has := f.d.Routes().Lookup("/shared", "GET")
	require.True(t, has)
	assert.Equal(t, shared.ID, again.ID)
	_, has = f.d.Scheduler().Select("tick")
	assert.False(t, has)
	_, has = f.d.Scheduler().Select("tock")
	assert.True(t, has)

	// a failed init excludes the script and publishes nothing it staged
	version.Store(3)
	_, err := f.scripts.Put(context.Background(), "live", "", "// live v3", nil)
	assert.True(t, failure.Is(err, failure.InitializationFailed))
	assert.Equal(t, 404, f.do("GET", "/v3", "").Code)
	assert.Equal(t, 0, f.d.Routes().Len())
}
