package graphql

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/stream"
)

// Mount the GraphQL endpoints on the router group
//
// POST|GET  <path>         queries and mutations (GET runs queries only)
// POST|GET  <path>/sse     every operation, subscriptions as an event stream
// GET       <path>/ws      graphql-transport-ws
// GET       <path>/schema  the composed SDL
func (exec *Executor) Mount(router gin.IRouter, path string) error {
	ws, err := exec.WebSocket()
	if err != nil {
		return err
	}

	router.POST(path, exec.Handler())
	router.GET(path, exec.Handler())
	router.POST(path+"/sse", exec.SSE())
	router.GET(path+"/sse", exec.SSE())
	router.GET(path+"/ws", func(c *gin.Context) {
		if _, err := ws.UpgradeGin(c, nil); err != nil {
			log.Warn("[GraphQL] websocket upgrade: %s", err.Error())
		}
	})
	router.GET(path+"/schema", exec.SchemaHandler())
	return nil
}

// Handler serves queries and mutations as application/json
func (exec *Executor) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := exec.decode(c)
		if err != nil {
			respond(c, http.StatusBadRequest, Failed(requestError(failure.BadRequest, err)))
			return
		}

		resp := exec.Execute(c.Request.Context(), req, Carrier{
			Transport: "http",
			Request:   c.Request,
			ReadOnly:  c.Request.Method == http.MethodGet,
		})

		status := http.StatusOK
		if resp.Failed() {
			status = http.StatusBadRequest
			if kind, _ := resp.Errors[0].Extensions["kind"].(string); kind == string(failure.MethodNotAllowed) {
				status = http.StatusMethodNotAllowed
			}
		}
		respond(c, status, resp)
	}
}

// SSE serves any operation as server sent events: every result is a `next`
// event and the stream ends with `complete`. Queries and mutations send one
// result; subscriptions send one per matching publish until the client leaves.
func (exec *Executor) SSE() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := exec.decode(c)
		if err != nil {
			respond(c, http.StatusBadRequest, Failed(requestError(failure.BadRequest, err)))
			return
		}

		carrier := Carrier{Transport: "sse", Request: c.Request}
		op, err := OperationOf(req)
		if err != nil || op != ast.Subscription {
			resp := exec.Execute(c.Request.Context(), req, carrier)
			stream.SetHeaders(c.Writer.Header())
			c.Status(http.StatusOK)
			exec.event(c, "next", resp)
			exec.event(c, "complete", nil)
			return
		}

		sub, resp := exec.Subscribe(c.Request.Context(), req, carrier)
		if resp != nil {
			stream.SetHeaders(c.Writer.Header())
			c.Status(http.StatusOK)
			exec.event(c, "next", resp)
			exec.event(c, "complete", nil)
			return
		}
		defer sub.Close()

		stream.SetHeaders(c.Writer.Header())
		c.Status(http.StatusOK)
		c.Writer.Flush()

		ticker := time.NewTicker(exec.option.KeepAlive)
		defer ticker.Stop()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false

			case msg, ok := <-sub.Messages():
				if !ok {
					exec.event(c, "complete", nil)
					return false
				}
				exec.event(c, "next", sub.Result(msg))
				return true

			case <-ticker.C:
				if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
					return false
				}
				return true
			}
		})
		log.Trace("[GraphQL] sse subscription %s closed", sub.ID)
	}
}

// SchemaHandler serves the composed SDL
func (exec *Executor) SchemaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(exec.registry.Schema().SDL))
	}
}

func (exec *Executor) event(c *gin.Context, name string, resp *Response) {
	if resp == nil {
		c.SSEvent(name, "")
		c.Writer.Flush()
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error("[GraphQL] encode %s event: %s", name, err.Error())
		return
	}
	c.SSEvent(name, string(data))
	c.Writer.Flush()
}

// decode a request: GET reads the query string, POST reads application/json or
// application/graphql bodies
func (exec *Executor) decode(c *gin.Context) (*Request, error) {
	req := &Request{}
	if c.Request.Method == http.MethodGet {
		req.Query = c.Query("query")
		req.OperationName = c.Query("operationName")
		if vars := c.Query("variables"); vars != "" {
			if err := json.UnmarshalFromString(vars, &req.Variables); err != nil {
				return nil, fmt.Errorf("variables: %s", err.Error())
			}
		}
		if extensions := c.Query("extensions"); extensions != "" {
			if err := json.UnmarshalFromString(extensions, &req.Extensions); err != nil {
				return nil, fmt.Errorf("extensions: %s", err.Error())
			}
		}
		return req, nil
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, exec.option.MaxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > exec.option.MaxBody {
		return nil, fmt.Errorf("the request body exceeds %d bytes", exec.option.MaxBody)
	}

	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "application/graphql" {
		req.Query = string(data)
		return req, nil
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("the body is not a GraphQL request: %s", err.Error())
	}
	return req, nil
}

func respond(c *gin.Context, status int, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error("[GraphQL] encode response: %s", err.Error())
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json; charset=utf-8", data)
}
