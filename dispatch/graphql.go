package dispatch

import (
	"context"
	"net/http"
	"strings"

	"github.com/yaoapp/weave/graphql"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/identity"
	"github.com/yaoapp/weave/invocation"
)

var _ graphql.Resolver = (*Dispatcher)(nil)

// Resolve implements graphql.Resolver, one root field of a query or mutation
func (d *Dispatcher) Resolve(ctx context.Context, call *graphql.Call) (guest.Value, error) {
	inv, err := invocation.FromGraphQL(invocation.GraphQLOption{
		ScriptID:  call.Field.ScriptID,
		Handler:   call.Field.Resolver,
		FieldName: call.Field.Name,
		Operation: string(call.Field.Operation),
		Args:      call.Args,
		Transport: transport(call.Request),
	})
	if err != nil {
		return guest.NullValue(), err
	}
	return d.run(ctx, inv)
}

// Subscribe implements graphql.Resolver, the single setup of a subscription
func (d *Dispatcher) Subscribe(ctx context.Context, call *graphql.Call, conn invocation.Connection) (guest.Value, error) {
	inv, err := invocation.FromSubscription(invocation.GraphQLOption{
		ScriptID:  call.Field.ScriptID,
		Handler:   call.Field.Resolver,
		FieldName: call.Field.Name,
		Args:      call.Args,
		Transport: transport(call.Request),
	}, conn)
	if err != nil {
		return guest.NullValue(), err
	}
	return d.run(ctx, inv)
}

// transport mirrors the carrying request without its body, the body was the GraphQL document
func transport(r *http.Request) *invocation.Request {
	if r == nil {
		return nil
	}
	req := invocation.Synthetic(r.Method, r.URL.Path, identity.FromRequest(r))
	for name, values := range r.Header {
		req.Headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return req
}
