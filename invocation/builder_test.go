package invocation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/identity"
)

func TestFromHTTP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/users/42?tab=info&tag=a&tag=b", strings.NewReader(`{"name":"ada"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Trace", "t1")

	ctx, err := FromHTTP(r, HTTPOption{
		ScriptID: "users",
		Handler:  "update",
		Pattern:  "/users/:id",
		Params:   map[string]string{"id": "42"},
		Auth:     identity.Identity{IsAuthenticated: true, UserID: "u1", Roles: []string{"admin"}},
	})
	require.NoError(t, err)

	assert.Equal(t, HTTPRoute, ctx.Kind)
	assert.Equal(t, guest.Map, ctx.Args.Kind())
	assert.Empty(t, ctx.Args.Map())

	v := ctx.Value()
	req := v.Get("request")
	assert.Equal(t, "/users/42", req.Get("path").Str())
	assert.Equal(t, "POST", req.Get("method").Str())
	assert.Equal(t, "t1", req.Get("headers").Get("x-trace").Str())
	assert.Equal(t, "info", req.Get("query").Get("tab").Str())
	assert.Len(t, req.Get("query").Get("tag").List(), 2)
	assert.Equal(t, "ada", req.Get("body").Get("name").Str())
	assert.Equal(t, "42", req.Get("params").Get("id").Str())
	assert.True(t, req.Get("auth").Get("isAuthenticated").Bool())
	assert.Equal(t, "/users/:id", v.Get("meta").Get("route").Get("pattern").Str())
	assert.False(t, v.Has("connectionMetadata"))
}

func TestFromHTTPForm(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("a=1&b=2"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ctx, err := FromHTTP(r, HTTPOption{ScriptID: "s", Handler: "h"})
	require.NoError(t, err)
	assert.Equal(t, "1", ctx.Request.Form.Get("a").Str())
	assert.Equal(t, "2", ctx.Request.Body.Get("b").Str())
	assert.False(t, ctx.Request.Auth.IsAuthenticated)
	assert.Equal(t, "anonymous", ctx.Request.Auth.Provider)
}

func TestFromHTTPBodyLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(strings.Repeat("x", 64)))
	_, err := FromHTTP(r, HTTPOption{MaxBody: 16})
	assert.True(t, failure.Is(err, failure.PayloadTooLarge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, failure.From(err).Status())

	r = httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("a="+strings.Repeat("x", 64)))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = FromHTTP(r, HTTPOption{MaxBody: 16})
	assert.True(t, failure.Is(err, failure.PayloadTooLarge))

	r = httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain text"))
	ctx, err := FromHTTP(r, HTTPOption{MaxBody: 16})
	require.NoError(t, err)
	assert.Equal(t, "plain text", ctx.Request.Body.Str())
}

func TestFromGraphQL(t *testing.T) {
	ctx, err := FromGraphQL(GraphQLOption{ScriptID: "s", Handler: "user", FieldName: "user", Operation: "query"})
	require.NoError(t, err)
	assert.Equal(t, GraphQLQuery, ctx.Kind)
	assert.NotNil(t, ctx.Args.Map())
	assert.Equal(t, "user", ctx.Value().Get("meta").Get("graphql").Get("fieldName").Str())
	assert.Equal(t, "anonymous", ctx.Value().Get("request").Get("auth").Get("provider").Str())

	ctx, err = FromGraphQL(GraphQLOption{FieldName: "addUser", Operation: "mutation", Args: map[string]interface{}{"name": "ada"}})
	require.NoError(t, err)
	assert.Equal(t, GraphQLMutation, ctx.Kind)
	assert.Equal(t, "ada", ctx.Args.Get("name").Str())
}

func TestFromSubscription(t *testing.T) {
	ctx, err := FromSubscription(GraphQLOption{FieldName: "messages", Args: map[string]interface{}{"channelId": "c1"}},
		Connection{ID: "conn-1", Channel: "graphql:messages"})
	require.NoError(t, err)
	assert.Equal(t, GraphQLSubscription, ctx.Kind)
	assert.True(t, ctx.Kind.LongLived())

	v := ctx.Value()
	assert.Equal(t, "c1", v.Get("args").Get("channelId").Str())
	assert.Equal(t, "conn-1", v.Get("connectionMetadata").Get("connectionId").Str())
	assert.Equal(t, "subscription", v.Get("meta").Get("graphql").Get("operation").Str())
}

func TestFromStream(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/live/rooms/r1?since=10&room=ignored", nil)
	req, err := NewRequest(r, map[string]string{"room": "r1"}, identity.Anonymous(), 0)
	require.NoError(t, err)

	ctx, err := FromStream(StreamOption{ScriptID: "s", Handler: "setup", Pattern: "/live/rooms/:room", Params: req.Params, Request: req},
		Connection{ID: "c", Channel: "/live/rooms/:room"})
	require.NoError(t, err)
	assert.Equal(t, StreamCustomization, ctx.Kind)
	assert.Equal(t, "r1", ctx.Args.Get("room").Str())
	assert.Equal(t, "10", ctx.Args.Get("since").Str())
	assert.Equal(t, "/live/rooms/r1", ctx.Value().Get("meta").Get("stream").Get("path").Str())
}

func TestForInit(t *testing.T) {
	ctx := ForInit("s", true)
	v := ctx.Value()
	assert.Equal(t, "init", v.Get("kind").Str())
	assert.True(t, v.Get("meta").Get("isStartup").Bool())
	assert.Greater(t, v.Get("meta").Get("timestamp").Number(), float64(0))
	assert.NotNil(t, v.Get("args").Map())
	assert.False(t, v.Has("request"))
}

func TestForSchedule(t *testing.T) {
	fired := time.UnixMilli(1700000000000)
	v := ForSchedule("s", "tick", "nightly", "0 0 * * *", fired).Value()
	assert.Equal(t, "scheduledJob", v.Get("kind").Str())
	assert.Equal(t, "nightly", v.Get("meta").Get("schedule").Get("name").Str())
	assert.Equal(t, float64(1700000000000), v.Get("meta").Get("schedule").Get("firedAt").Number())
	assert.NotNil(t, v.Get("args").Map())
}
