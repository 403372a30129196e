package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/go-errors/errors"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/engine"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/identity"
)

// Router the host routes
//
// GET   /health            liveness and resource usage
// *     <admin>/...        the admin API, requires the admin role
// *     <graphql>[/...]    the composed GraphQL endpoint
// *     everything else    the script route tables
func Router(e *engine.Engine) (*gin.Engine, error) {
	production := e.Config.Production()

	router := gin.New()
	router.Use(Recovery(production), Logger(production))
	router.Use(identity.Middleware(e.Identity))

	router.GET("/health", Health(e))

	admin := router.Group(e.Config.Server.AdminPath, RequireRole(e.Config.Identity.AdminRole, production))
	Admin(admin, e)

	if err := e.Dispatcher.GraphQL().Mount(router, e.Config.Server.GraphQLPath); err != nil {
		return nil, err
	}

	router.NoRoute(e.Dispatcher.Handler())
	return router, nil
}

// Recovery turns a panic into a failure response and logs the stack. Thrown
// failures and kun exceptions keep their kind; anything else is a RuntimeError.
func Recovery(production bool) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := errors.Wrap(recovered, 3)
		log.With(log.F{"method": c.Request.Method, "path": c.Request.URL.Path}).
			Error("[Server] panic: %s\n%s", err.Error(), err.ErrorStack())
		fail(c, failure.From(recovered), production)
	})
}

// Logger the access log. Development mode colors the status.
func Logger(production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		text := strconv.Itoa(status)
		if !production {
			switch {
			case status >= 500:
				text = color.RedString("%d", status)
			case status >= 400:
				text = color.YellowString("%d", status)
			default:
				text = color.GreenString("%d", status)
			}
		}
		log.Debug("[Server] %s %s %s %s", c.Request.Method, c.Request.URL.Path, text, time.Since(start))
	}
}

// RequireRole rejects callers without the role
func RequireRole(role string, production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity.FromContext(c)
		if !id.IsAuthenticated || !id.HasRole(role) {
			fail(c, failure.New(failure.Unauthorized, "the %s role is required", role), production)
			return
		}
		c.Next()
	}
}

func fail(c *gin.Context, f *failure.Error, production bool) {
	if len(f.Allow) > 0 {
		c.Header("Allow", strings.Join(f.Allow, ", "))
	}
	c.AbortWithStatusJSON(f.Status(), f.Body(production))
}
