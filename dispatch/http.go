package dispatch

import (
	"math"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/filter"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/identity"
	"github.com/yaoapp/weave/invocation"
	"github.com/yaoapp/weave/route"
	"github.com/yaoapp/weave/stream"
)

// envelope the keys of an explicit HTTP response
var envelope = map[string]bool{"status": true, "headers": true, "body": true, "contentType": true}

// response a handler result translated for the wire
type response struct {
	status      int
	headers     map[string]string
	contentType string
	body        []byte
}

// Handler serves every path the host itself does not: stream routes first for
// GET, then HTTP and asset routes. Mount it as the gin NoRoute handler.
func (d *Dispatcher) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method

		if method == http.MethodGet {
			if match, err := d.streams.Resolve(path, method); err == nil {
				d.stream(c, match)
				return
			}
		}

		match, err := d.routes.Resolve(path, method)
		if err != nil {
			d.fail(c, err)
			return
		}

		if match.Asset != "" {
			d.asset(c, match)
			return
		}
		d.route(c, match)
	}
}

// route runs the handler of an HTTP route
func (d *Dispatcher) route(c *gin.Context, match *route.Match) {
	inv, err := invocation.FromHTTP(c.Request, invocation.HTTPOption{
		ScriptID: match.ScriptID,
		Handler:  match.Handler,
		Pattern:  match.Pattern.Raw,
		Params:   match.Params,
		Metadata: match.Metadata,
		Auth:     identity.FromContext(c),
		MaxBody:  d.option.MaxBody,
	})
	if err != nil {
		d.fail(c, failure.Wrap(failure.BadRequest, err))
		return
	}

	value, err := d.run(c.Request.Context(), inv)
	if err != nil {
		d.fail(c, err)
		return
	}

	res, err := translate(value)
	if err != nil {
		log.With(log.F{"script": match.ScriptID, "handler": match.Handler}).Error("[Dispatch] %s", err.Error())
		d.fail(c, err)
		return
	}
	write(c, res)
}

// asset serves a stored asset
func (d *Dispatcher) asset(c *gin.Context, match *route.Match) {
	if d.assets == nil {
		d.fail(c, failure.New(failure.RouteNotFound, "asset %s not found", match.Asset))
		return
	}
	data, has, err := d.assets.Get(match.Asset)
	if err != nil {
		d.fail(c, failure.New(failure.RuntimeError, "read asset %s: %s", match.Asset, err.Error()))
		return
	}
	if !has {
		d.fail(c, failure.New(failure.RouteNotFound, "asset %s not found", match.Asset))
		return
	}
	c.Data(http.StatusOK, ContentType(match.Asset, data), data)
}

// stream runs the setup handler of a stream route once, then holds the
// connection open as an event stream until the client leaves
func (d *Dispatcher) stream(c *gin.Context, match *route.Match) {
	conn := invocation.Connection{ID: uuid.NewString(), Channel: match.Pattern.Raw}
	attrs := filter.Attributes{}

	if match.Handler != "" {
		req, err := invocation.NewRequest(c.Request, match.Params, identity.FromContext(c), d.option.MaxBody)
		if err != nil {
			d.fail(c, failure.Wrap(failure.BadRequest, err))
			return
		}
		inv, err := invocation.FromStream(invocation.StreamOption{
			ScriptID: match.ScriptID,
			Handler:  match.Handler,
			Pattern:  match.Pattern.Raw,
			Params:   match.Params,
			Request:  req,
		}, conn)
		if err != nil {
			d.fail(c, failure.Wrap(failure.BadRequest, err))
			return
		}

		value, err := d.run(c.Request.Context(), inv)
		if err != nil {
			d.fail(c, err)
			return
		}

		attrs, err = filter.Coerce(value)
		if err != nil {
			log.With(log.F{"script": match.ScriptID, "handler": match.Handler}).Error("[Stream] %s", err.Error())
			d.fail(c, err)
			return
		}
	}

	sc := d.hub.OpenID(conn.ID, conn.Channel, attrs)
	log.Trace("[Stream] %s open on %s %v", conn.ID, conn.Channel, attrs)
	if err := stream.Serve(c.Request.Context(), c.Writer, sc, d.option.KeepAlive); err != nil {
		log.Warn("[Stream] %s: %s", conn.ID, err.Error())
	}
	log.Trace("[Stream] %s closed", conn.ID)
}

// fail writes the JSON error body of err
func (d *Dispatcher) fail(c *gin.Context, err error) {
	f := failure.From(err)
	if len(f.Allow) > 0 {
		c.Header("Allow", strings.Join(f.Allow, ", "))
	}
	c.AbortWithStatusJSON(f.Status(), f.Body(d.Production()))
}

// ContentType the content type of an asset: by extension, sniffed otherwise
func ContentType(name string, data []byte) string {
	if contentType := mime.TypeByExtension(filepath.Ext(name)); contentType != "" {
		return contentType
	}
	return mimetype.Detect(data).String()
}

// translate a handler result. A map made of status, headers, body and
// contentType is an explicit response; anything else is the body: a string is
// text/plain, null is 204 and every other value is JSON.
func translate(value guest.Value) (*response, error) {
	if !isEnvelope(value) {
		return body(http.StatusOK, value)
	}

	status := http.StatusOK
	if v := value.Get("status"); !v.IsNull() {
		n := v.Number()
		if v.Kind() != guest.Number || n != math.Trunc(n) || n < 100 || n > 599 {
			return nil, failure.New(failure.InvalidResponse, "status must be an integer between 100 and 599, got %s", v.String())
		}
		status = int(n)
	}

	res, err := body(status, value.Get("body"))
	if err != nil {
		return nil, err
	}
	if value.Has("status") {
		res.status = status
	}

	if headers := value.Get("headers"); !headers.IsNull() {
		if headers.Kind() != guest.Map {
			return nil, failure.New(failure.InvalidResponse, "headers must be an object")
		}
		for name, v := range headers.Map() {
			text, ok := v.Text()
			if !ok {
				return nil, failure.New(failure.InvalidResponse, "header %s must be a string", name)
			}
			if strings.EqualFold(name, "Content-Type") {
				res.contentType = text
				continue
			}
			res.headers[name] = text
		}
	}

	if v := value.Get("contentType"); !v.IsNull() {
		text, ok := v.Text()
		if !ok {
			return nil, failure.New(failure.InvalidResponse, "contentType must be a string")
		}
		res.contentType = text
	}
	return res, nil
}

func isEnvelope(value guest.Value) bool {
	if value.Kind() != guest.Map || (!value.Has("status") && !value.Has("body")) {
		return false
	}
	for _, key := range value.Keys() {
		if !envelope[key] {
			return false
		}
	}
	return true
}

func body(status int, value guest.Value) (*response, error) {
	res := &response{status: status, headers: map[string]string{}}
	switch value.Kind() {
	case guest.Null:
		if status == http.StatusOK {
			res.status = http.StatusNoContent
		}
	case guest.String:
		res.contentType = "text/plain; charset=utf-8"
		res.body = []byte(value.Str())
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, failure.New(failure.InvalidResponse, "%s", err.Error())
		}
		res.contentType = "application/json; charset=utf-8"
		res.body = data
	}
	return res, nil
}

func write(c *gin.Context, res *response) {
	for name, value := range res.headers {
		c.Header(name, value)
	}
	if res.body == nil {
		if res.contentType != "" {
			c.Header("Content-Type", res.contentType)
		}
		c.Status(res.status)
		return
	}
	c.Data(res.status, res.contentType, res.body)
}
