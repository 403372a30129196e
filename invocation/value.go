package invocation

import "github.com/yaoapp/weave/guest"

// Value the context as the single argument the guest handler receives
func (ctx *Context) Value() guest.Value {
	args := ctx.Args
	if args.Kind() != guest.Map {
		args = guest.EmptyMap()
	}
	meta := ctx.Meta
	if meta.Kind() != guest.Map {
		meta = guest.EmptyMap()
	}

	m := map[string]guest.Value{
		"kind":        guest.StringOf(string(ctx.Kind)),
		"scriptId":    guest.StringOf(ctx.ScriptID),
		"handlerName": guest.StringOf(ctx.Handler),
		"args":        args,
		"meta":        meta,
	}

	if ctx.Request != nil {
		m["request"] = ctx.Request.Value()
	}

	if ctx.Connection != nil {
		m["connectionMetadata"] = guest.MapOf(map[string]guest.Value{
			"connectionId": guest.StringOf(ctx.Connection.ID),
			"channel":      guest.StringOf(ctx.Connection.Channel),
			"createdAt":    guest.NumberOf(float64(ctx.CreatedAt.UnixMilli())),
		})
	}

	return guest.MapOf(m)
}

// Value the request as a guest map
func (req *Request) Value() guest.Value {
	req = req.normalized()

	headers := make(map[string]guest.Value, len(req.Headers))
	for name, value := range req.Headers {
		headers[name] = guest.StringOf(value)
	}
	params := make(map[string]guest.Value, len(req.Params))
	for name, value := range req.Params {
		params[name] = guest.StringOf(value)
	}

	return guest.MapOf(map[string]guest.Value{
		"path":    guest.StringOf(req.Path),
		"method":  guest.StringOf(req.Method),
		"headers": guest.MapOf(headers),
		"query":   req.Query,
		"form":    req.Form,
		"body":    req.Body,
		"params":  guest.MapOf(params),
		"auth":    req.Auth.Value(),
	})
}
