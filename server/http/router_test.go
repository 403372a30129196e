package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaoapp/kun/exception"
	"github.com/yaoapp/weave/config"
	"github.com/yaoapp/weave/engine"
)

const greeter = `
function init() {
	routes.registerRoute("/greet/:name", "greet", "GET");
}

function greet(ctx) {
	return { greeting: "hello " + ctx.request.params.name };
}
`

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const proxySecret = "router-proxy-secret"

type client struct {
	t      *testing.T
	router *gin.Engine
	engine *engine.Engine
}

func prepareRouter(t *testing.T) *client {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Server.Mode = "development"
	cfg.Store.Driver = "memory"
	cfg.Secrets.Key = "router-test-key"
	cfg.Sandbox.MinSize = 1
	cfg.Sandbox.MaxSize = 2
	cfg.Identity.Provider = "header"
	cfg.Identity.Secret = proxySecret
	cfg.Validate()

	e, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)

	router, err := Router(e)
	require.NoError(t, err)
	return &client{t: t, router: router, engine: e}
}

func (c *client) do(method string, path string, body string, admin bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Weave-Proxy-Secret", proxySecret)
		req.Header.Set("X-Weave-User", "root")
		req.Header.Set("X-Weave-Roles", "admin")
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	c := prepareRouter(t)
	w := c.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"scripts":0`)
}

func TestAdminRequiresRole(t *testing.T) {
	c := prepareRouter(t)
	w := c.do(http.MethodGet, "/admin/scripts", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Unauthorized")
}

func TestAdminForgedHeaders(t *testing.T) {
	c := prepareRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/scripts", nil)
	req.Header.Set("X-Weave-User", "root")
	req.Header.Set("X-Weave-Roles", "admin")
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = c.do(http.MethodGet, "/admin/scripts", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminScripts(t *testing.T) {
	c := prepareRouter(t)

	body, err := json.MarshalToString(map[string]interface{}{"source": greeter, "privileged": true})
	require.NoError(t, err)
	w := c.do(http.MethodPut, "/admin/scripts/greeter", body, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"initialized":true`)

	w = c.do(http.MethodGet, "/greet/weave", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"greeting":"hello weave"}`, w.Body.String())

	w = c.do(http.MethodGet, "/admin/routes", "", true)
	assert.Contains(t, w.Body.String(), `"pattern":"/greet/:name"`)

	w = c.do(http.MethodGet, "/admin/scripts", "", true)
	assert.Contains(t, w.Body.String(), `"greeter"`)

	w = c.do(http.MethodPut, "/admin/scripts/greeter/privileged", `{"privileged":true}`, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"privileged":true`)

	w = c.do(http.MethodPost, "/admin/scripts/missing/reinit", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = c.do(http.MethodPut, "/admin/scripts/broken", `{"source":"function ( {"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = c.do(http.MethodDelete, "/admin/scripts/greeter", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	w = c.do(http.MethodDelete, "/admin/scripts/greeter", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = c.do(http.MethodGet, "/greet/weave", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminInitFailure(t *testing.T) {
	c := prepareRouter(t)
	w := c.do(http.MethodPut, "/admin/scripts/failing", `{"source":"function init() { throw new Error('nope') }"}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"initialized":false`)
	assert.Contains(t, w.Body.String(), "InitializationFailed")
}

func TestAdminSecrets(t *testing.T) {
	c := prepareRouter(t)

	w := c.do(http.MethodPut, "/admin/secrets/api_key", `{"value":"sk-123"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = c.do(http.MethodGet, "/admin/secrets", "", true)
	assert.JSONEq(t, `["api_key"]`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "sk-123")

	w = c.do(http.MethodPut, "/admin/secrets/bad%20id", `{"value":"x"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = c.do(http.MethodDelete, "/admin/secrets/api_key", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	w = c.do(http.MethodDelete, "/admin/secrets/api_key", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminAssets(t *testing.T) {
	c := prepareRouter(t)

	w := c.do(http.MethodPut, "/admin/assets/docs/readme.txt", "hello", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = c.do(http.MethodGet, "/admin/assets", "", true)
	assert.JSONEq(t, `["docs/readme.txt"]`, w.Body.String())

	w = c.do(http.MethodDelete, "/admin/assets/docs/readme.txt", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminSchedules(t *testing.T) {
	c := prepareRouter(t)
	w := c.do(http.MethodGet, "/admin/schedules", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = c.do(http.MethodPost, "/admin/schedules/nightly/trigger", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery(true))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })
	router.GET("/throw", func(c *gin.Context) { exception.New("bad input", 400).Throw() })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "RuntimeError")
	assert.NotContains(t, w.Body.String(), "boom")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/throw", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "BadRequest")
}
