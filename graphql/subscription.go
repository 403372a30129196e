package graphql

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/filter"
	"github.com/yaoapp/weave/invocation"
	"github.com/yaoapp/weave/stream"
)

// Subscribe sets up a subscription. The setup resolver runs exactly once; its
// return value becomes the connection filter. On failure the response holds the
// errors and no connection is registered.
func (exec *Executor) Subscribe(ctx context.Context, req *Request, carrier Carrier) (*Live, *Response) {
	e, errs := exec.prepare(req, carrier)
	if len(errs) > 0 {
		return nil, &Response{Errors: errs}
	}
	if e.op.Operation != ast.Subscription {
		return nil, Failed(requestError(failure.BadRequest, fmt.Errorf("the operation is a %s, not a subscription", e.op.Operation)))
	}

	def := e.schema.Subscription
	groups := e.collect(def, e.op.SelectionSet)
	if len(groups) != 1 {
		return nil, Failed(requestError(failure.BadRequest, fmt.Errorf("a subscription selects exactly one root field")))
	}

	g := groups[0]
	f := g.fields[0]
	path := ast.Path{ast.PathName(g.key)}
	fd := def.Fields.ForName(f.Name)
	field, has := e.schema.Field(Subscription, f.Name)
	if fd == nil || !has {
		return nil, Failed(fieldError(failure.New(failure.HandlerNotFound, "Subscription.%s has no resolver", f.Name), path, g.fields, exec.production()))
	}

	conn := invocation.Connection{ID: uuid.NewString(), Channel: Channel(f.Name)}
	call := &Call{
		Field:     field,
		Alias:     g.key,
		Args:      f.ArgumentMap(e.vars),
		Transport: carrier.Transport,
		Request:   carrier.Request,
	}

	value, err := exec.resolver.Subscribe(ctx, call, conn)
	if err != nil {
		log.Warn("[GraphQL] subscription %s: %s", f.Name, err.Error())
		return nil, Failed(fieldError(err, path, g.fields, exec.production()))
	}

	attrs, err := filter.Coerce(value)
	if err != nil {
		log.Error("[GraphQL] subscription %s of %s: %s", f.Name, field.ScriptID, err.Error())
		return nil, Failed(fieldError(err, path, g.fields, exec.production()))
	}

	sub := &Live{
		ID:     conn.ID,
		Field:  field,
		exec:   e,
		conn:   exec.hub.OpenID(conn.ID, conn.Channel, attrs),
		key:    g.key,
		typ:    fd.Type,
		fields: g.fields,
	}
	log.Trace("[GraphQL] subscription %s open %s %v", f.Name, sub.ID, attrs)
	return sub, nil
}

// Messages the published events; closed when the subscription is closed
func (sub *Live) Messages() <-chan stream.Message {
	return sub.conn.Messages()
}

// Filter the connection filter the setup resolver returned
func (sub *Live) Filter() filter.Attributes {
	return sub.conn.Filter
}

// Result completes a published payload against the selection set of the subscription
func (sub *Live) Result(msg stream.Message) *Response {
	e := *sub.exec
	e.errors = nil
	path := ast.Path{ast.PathName(sub.key)}

	var payload interface{}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		e.fail(path, sub.fields, failure.New(failure.InvalidResponse, "the published payload is not JSON: %s", err.Error()))
		return &Response{Errors: e.errors}
	}

	value, err := e.complete(path, sub.typ, sub.fields, payload)
	if err != nil {
		return &Response{Errors: e.errors}
	}
	data := NewObject()
	data.Set(sub.key, value)
	return &Response{Data: data, Errors: e.errors}
}

// Close the subscription. Idempotent.
func (sub *Live) Close() bool {
	return sub.conn.Close()
}

// Failed reports a response without data
func (resp *Response) Failed() bool {
	return resp.Data == nil && len(resp.Errors) > 0
}
