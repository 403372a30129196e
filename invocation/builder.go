package invocation

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/identity"
)

// DefaultMaxBody the default request body ceiling (4M)
const DefaultMaxBody int64 = 4 << 20

// HTTPOption the route-side inputs of an HTTP invocation
type HTTPOption struct {
	ScriptID string
	Handler  string
	Pattern  string
	Params   map[string]string
	Metadata guest.Value
	Auth     identity.Identity
	MaxBody  int64
}

// FromHTTP builds the context of an HTTP route invocation. args is {}.
func FromHTTP(r *http.Request, option HTTPOption) (*Context, error) {
	req, err := NewRequest(r, option.Params, option.Auth, option.MaxBody)
	if err != nil {
		return nil, err
	}

	metadata := option.Metadata
	if metadata.IsNull() {
		metadata = guest.EmptyMap()
	}

	return &Context{
		Kind:     HTTPRoute,
		ScriptID: option.ScriptID,
		Handler:  option.Handler,
		Request:  req,
		Args:     guest.EmptyMap(),
		Meta: guest.MapOf(map[string]guest.Value{
			"route": guest.MapOf(map[string]guest.Value{
				"pattern":  guest.StringOf(option.Pattern),
				"metadata": metadata,
			}),
		}),
		CreatedAt: time.Now(),
	}, nil
}

// GraphQLOption the resolver-side inputs of a GraphQL invocation
type GraphQLOption struct {
	ScriptID  string
	Handler   string
	FieldName string
	Operation string // query | mutation | subscription
	Args      map[string]interface{}
	Transport *Request // mirrors the carrying request, may be nil
}

// FromGraphQL builds the context of a query or mutation field resolver
func FromGraphQL(option GraphQLOption) (*Context, error) {
	kind := GraphQLQuery
	if option.Operation == "mutation" {
		kind = GraphQLMutation
	}
	return graphql(kind, option, nil)
}

// FromSubscription builds the context of the single setup invocation of a subscription
func FromSubscription(option GraphQLOption, conn Connection) (*Context, error) {
	option.Operation = "subscription"
	return graphql(GraphQLSubscription, option, &conn)
}

func graphql(kind Kind, option GraphQLOption, conn *Connection) (*Context, error) {
	args, err := argsOf(option.Args)
	if err != nil {
		return nil, fmt.Errorf("%s arguments: %s", option.FieldName, err.Error())
	}

	req := Synthetic("POST", "/graphql", identity.Anonymous())
	if option.Transport != nil {
		req = option.Transport.normalized()
	}

	return &Context{
		Kind:       kind,
		ScriptID:   option.ScriptID,
		Handler:    option.Handler,
		Request:    req,
		Args:       args,
		Connection: conn,
		Meta: guest.MapOf(map[string]guest.Value{
			"graphql": guest.MapOf(map[string]guest.Value{
				"fieldName": guest.StringOf(option.FieldName),
				"operation": guest.StringOf(option.Operation),
			}),
		}),
		CreatedAt: time.Now(),
	}, nil
}

// StreamOption the inputs of a stream connection setup
type StreamOption struct {
	ScriptID string
	Handler  string
	Pattern  string
	Params   map[string]string
	Request  *Request
}

// FromStream builds the context of the single setup invocation of a stream connection.
// args holds the query string merged with the path parameters (parameters win).
func FromStream(option StreamOption, conn Connection) (*Context, error) {
	req := option.Request
	if req == nil {
		req = Synthetic("GET", conn.Channel, identity.Anonymous())
	}
	req = req.normalized()

	args := map[string]guest.Value{}
	for key, value := range req.Query.Map() {
		args[key] = value
	}
	for key, value := range option.Params {
		args[key] = guest.StringOf(value)
	}

	return &Context{
		Kind:       StreamCustomization,
		ScriptID:   option.ScriptID,
		Handler:    option.Handler,
		Request:    req,
		Args:       guest.MapOf(args),
		Connection: &conn,
		Meta: guest.MapOf(map[string]guest.Value{
			"stream": guest.MapOf(map[string]guest.Value{
				"path":    guest.StringOf(req.Path),
				"pattern": guest.StringOf(option.Pattern),
			}),
		}),
		CreatedAt: time.Now(),
	}, nil
}

// ForInit builds the init hook context. There is no request.
func ForInit(scriptID string, isStartup bool) *Context {
	now := time.Now()
	return &Context{
		Kind:     Init,
		ScriptID: scriptID,
		Handler:  "init",
		Args:     guest.EmptyMap(),
		Meta: guest.MapOf(map[string]guest.Value{
			"timestamp": guest.NumberOf(float64(now.UnixMilli())),
			"isStartup": guest.BoolOf(isStartup),
		}),
		CreatedAt: now,
	}
}

// ForSchedule builds a cron trigger context. There is no request.
func ForSchedule(scriptID, handler, name, expression string, firedAt time.Time) *Context {
	return &Context{
		Kind:     ScheduledJob,
		ScriptID: scriptID,
		Handler:  handler,
		Args:     guest.EmptyMap(),
		Meta: guest.MapOf(map[string]guest.Value{
			"schedule": guest.MapOf(map[string]guest.Value{
				"name":       guest.StringOf(name),
				"expression": guest.StringOf(expression),
				"firedAt":    guest.NumberOf(float64(firedAt.UnixMilli())),
			}),
		}),
		CreatedAt: time.Now(),
	}
}

// NewRequest copies an HTTP request: headers, query, form and the decoded body
func NewRequest(r *http.Request, params map[string]string, auth identity.Identity, maxBody int64) (*Request, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}

	req := &Request{
		Path:    r.URL.Path,
		Method:  r.Method,
		Headers: map[string]string{},
		Params:  params,
		Auth:    auth,
	}

	for name, values := range r.Header {
		req.Headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}

	query, err := guest.Of(map[string][]string(r.URL.Query()))
	if err != nil {
		return nil, err
	}
	req.Query = query

	req.Form = guest.EmptyMap()
	req.Body = guest.NullValue()
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return req.normalized(), nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(nil, r.Body, maxBody)
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxBody)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
				return nil, failure.New(failure.PayloadTooLarge, "request body exceeds %d bytes", maxBody)
			}
			return nil, fmt.Errorf("parse form: %s", err.Error())
		}
		form, err := guest.Of(map[string][]string(r.PostForm))
		if err != nil {
			return nil, err
		}
		req.Form = form
		req.Body = form

	default:
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("read body: %s", err.Error())
		}
		if int64(len(data)) > maxBody {
			return nil, failure.New(failure.PayloadTooLarge, "request body exceeds %d bytes", maxBody)
		}
		if len(data) == 0 {
			break
		}
		if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
			body, err := guest.FromJSON(data)
			if err != nil {
				return nil, fmt.Errorf("decode json body: %s", err.Error())
			}
			req.Body = body
			break
		}
		req.Body = guest.StringOf(string(data))
	}

	return req.normalized(), nil
}

// Synthetic a request that mirrors a transport without being a real HTTP request
func Synthetic(method, path string, auth identity.Identity) *Request {
	return (&Request{Method: method, Path: path, Auth: auth}).normalized()
}

// normalized fills every absent field with its neutral default
func (req *Request) normalized() *Request {
	out := *req
	if out.Headers == nil {
		out.Headers = map[string]string{}
	}
	if out.Query.IsNull() {
		out.Query = guest.EmptyMap()
	}
	if out.Form.IsNull() {
		out.Form = guest.EmptyMap()
	}
	if out.Params == nil {
		out.Params = map[string]string{}
	}
	if out.Auth.Roles == nil {
		if !out.Auth.IsAuthenticated && out.Auth.Provider == "" {
			out.Auth = identity.Anonymous()
		} else {
			out.Auth.Roles = []string{}
		}
	}
	return &out
}

func argsOf(args map[string]interface{}) (guest.Value, error) {
	if args == nil {
		return guest.EmptyMap(), nil
	}
	return guest.Of(args)
}
