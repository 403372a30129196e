package http

import (
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/engine"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/route"
	"github.com/yaoapp/weave/script"
)

// scriptBody the body of PUT /scripts/:id
type scriptBody struct {
	File       string `json:"file"`
	Source     string `json:"source" binding:"required"`
	Privileged *bool  `json:"privileged"`
}

// routeInfo one entry of GET /routes
type routeInfo struct {
	ID       route.ID `json:"id"`
	Table    string   `json:"table"`
	Method   string   `json:"method"`
	Pattern  string   `json:"pattern"`
	ScriptID string   `json:"scriptId"`
	Handler  string   `json:"handler,omitempty"`
	Asset    string   `json:"asset,omitempty"`
}

type admin struct {
	*engine.Engine
	production bool
}

// Admin the admin API
//
// GET    /scripts                   PUT    /scripts/:id
// GET    /scripts/:id               DELETE /scripts/:id
// PUT    /scripts/:id/privileged    POST   /scripts/:id/reinit
// GET    /secrets                   PUT|DELETE /secrets/:id
// GET    /assets                    PUT|DELETE /assets/*name
// GET    /routes                    GET    /connections
// GET    /schedules                 POST   /schedules/:name/trigger
func Admin(group *gin.RouterGroup, e *engine.Engine) {
	a := &admin{Engine: e, production: e.Config.Production()}

	group.GET("/scripts", a.listScripts)
	group.GET("/scripts/:id", a.getScript)
	group.PUT("/scripts/:id", a.putScript)
	group.DELETE("/scripts/:id", a.deleteScript)
	group.PUT("/scripts/:id/privileged", a.setPrivileged)
	group.POST("/scripts/:id/reinit", a.reinit)

	group.GET("/secrets", a.listSecrets)
	group.PUT("/secrets/:id", a.putSecret)
	group.DELETE("/secrets/:id", a.deleteSecret)

	group.GET("/assets", a.listAssets)
	group.PUT("/assets/*name", a.putAsset)
	group.DELETE("/assets/*name", a.deleteAsset)

	group.GET("/routes", a.listRoutes)
	group.GET("/connections", a.listConnections)

	group.GET("/schedules", a.listSchedules)
	group.POST("/schedules/:name/trigger", a.trigger)
}

func (a *admin) listScripts(c *gin.Context) {
	c.JSON(http.StatusOK, a.Scripts.List())
}

func (a *admin) getScript(c *gin.Context) {
	entry, has := a.Scripts.Get(c.Param("id"))
	if !has {
		a.notFound(c, "script", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, entry.Script)
}

func (a *admin) putScript(c *gin.Context) {
	body := scriptBody{}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, failure.New(failure.BadRequest, "%s", err.Error()), a.production)
		return
	}
	if int64(len(body.Source)) > a.Config.Server.MaxBody {
		fail(c, failure.New(failure.ScriptTooLarge, "the source exceeds %d bytes", a.Config.Server.MaxBody), a.production)
		return
	}

	s, err := a.Scripts.Put(c.Request.Context(), c.Param("id"), body.File, body.Source, body.Privileged)
	a.respond(c, s, err)
}

func (a *admin) deleteScript(c *gin.Context) {
	deleted, err := a.Scripts.Delete(c.Param("id"))
	if err != nil {
		fail(c, failure.Wrap(failure.RuntimeError, err), a.production)
		return
	}
	if !deleted {
		a.notFound(c, "script", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (a *admin) setPrivileged(c *gin.Context) {
	body := struct {
		Privileged *bool `json:"privileged" binding:"required"`
	}{}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, failure.New(failure.BadRequest, "%s", err.Error()), a.production)
		return
	}

	s, err := a.Scripts.SetPrivileged(c.Request.Context(), c.Param("id"), *body.Privileged)
	if s == nil && err == nil {
		a.notFound(c, "script", c.Param("id"))
		return
	}
	a.respond(c, s, err)
}

func (a *admin) reinit(c *gin.Context) {
	s, err := a.Scripts.Reinit(c.Request.Context(), c.Param("id"))
	if s == nil && err == nil {
		a.notFound(c, "script", c.Param("id"))
		return
	}
	a.respond(c, s, err)
}

func (a *admin) listSecrets(c *gin.Context) {
	ids, err := a.Secrets.List()
	if err != nil {
		fail(c, failure.Wrap(failure.RuntimeError, err), a.production)
		return
	}
	c.JSON(http.StatusOK, ids)
}

func (a *admin) putSecret(c *gin.Context) {
	body := struct {
		Value string `json:"value" binding:"required"`
	}{}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, failure.New(failure.BadRequest, "%s", err.Error()), a.production)
		return
	}
	if err := a.Secrets.Put(c.Param("id"), body.Value); err != nil {
		fail(c, failure.Wrap(failure.BadRequest, err), a.production)
		return
	}
	log.Info("[Admin] secret %s updated", c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
}

func (a *admin) deleteSecret(c *gin.Context) {
	deleted, err := a.Secrets.Delete(c.Param("id"))
	if err != nil {
		fail(c, failure.Wrap(failure.BadRequest, err), a.production)
		return
	}
	if !deleted {
		a.notFound(c, "secret", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (a *admin) listAssets(c *gin.Context) {
	names, err := a.Repo.Assets.Keys("")
	if err != nil {
		fail(c, failure.Wrap(failure.RuntimeError, err), a.production)
		return
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, names)
}

func (a *admin) putAsset(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	if name == "" {
		fail(c, failure.New(failure.BadRequest, "the asset name is required"), a.production)
		return
	}

	limit := a.Config.Server.MaxBody
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		fail(c, failure.Wrap(failure.BadRequest, err), a.production)
		return
	}
	if int64(len(data)) > limit {
		fail(c, failure.New(failure.BadRequest, "the asset exceeds %d bytes", limit), a.production)
		return
	}

	if err := a.Repo.Assets.Set(name, data, 0); err != nil {
		fail(c, failure.Wrap(failure.RuntimeError, err), a.production)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "size": len(data)})
}

func (a *admin) deleteAsset(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	deleted, err := a.Repo.Assets.Del(name)
	if err != nil {
		fail(c, failure.Wrap(failure.RuntimeError, err), a.production)
		return
	}
	if !deleted {
		a.notFound(c, "asset", name)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

func (a *admin) listRoutes(c *gin.Context) {
	routes := []routeInfo{}
	for _, table := range []*route.Table{a.Dispatcher.Routes(), a.Dispatcher.Streams()} {
		for _, entry := range table.Entries() {
			routes = append(routes, routeInfo{
				ID:       entry.ID,
				Table:    table.Name(),
				Method:   entry.Method,
				Pattern:  entry.Pattern.Raw,
				ScriptID: entry.ScriptID,
				Handler:  entry.Handler,
				Asset:    entry.Asset,
			})
		}
	}
	c.JSON(http.StatusOK, routes)
}

func (a *admin) listConnections(c *gin.Context) {
	hub := a.Dispatcher.Hub()
	channels := map[string]int{}
	for _, channel := range hub.Channels() {
		channels[channel] = hub.Count(channel)
	}
	c.JSON(http.StatusOK, gin.H{"total": hub.Len(), "channels": channels})
}

func (a *admin) listSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, a.Dispatcher.Scheduler().List())
}

func (a *admin) trigger(c *gin.Context) {
	if !a.Dispatcher.Scheduler().Trigger(c.Param("name")) {
		a.notFound(c, "schedule", c.Param("name"))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"triggered": c.Param("name")})
}

// respond a script mutation. A failed init still returns the stored script.
func (a *admin) respond(c *gin.Context, s *script.Script, err error) {
	if err == nil {
		c.JSON(http.StatusOK, s)
		return
	}

	f := failure.From(err)
	if f.Kind == failure.InitializationFailed && s != nil {
		c.JSON(f.Status(), gin.H{"script": s, "error": f.Body(a.production)["error"]})
		return
	}
	fail(c, f, a.production)
}

func (a *admin) notFound(c *gin.Context, kind string, id string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "NotFound", "message": kind + " " + id + " not found"}})
}
