package graphql

import (
	"context"
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/websocket"
)

// Protocol the WebSocket subprotocol spoken for subscriptions
const Protocol = "graphql-transport-ws"

// graphql-transport-ws close codes
const (
	closeInvalidMessage  = 4400
	closeUnauthorized    = 4401
	closeDuplicateID     = 4409
	closeTooManyInitReqs = 4429
)

// message one graphql-transport-ws frame
type message struct {
	ID      string      `json:"id,omitempty"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// inbound the frames a client sends; the payload is decoded by type
type inbound struct {
	ID      string   `json:"id,omitempty"`
	Type    string   `json:"type"`
	Payload *Request `json:"payload,omitempty"`
}

// session the protocol state of one client
type session struct {
	mu          sync.Mutex
	initialized bool
	operations  map[string]context.CancelFunc
}

// transport the graphql-transport-ws handler
type transport struct {
	exec *Executor
}

// WebSocket the upgrader of the graphql-transport-ws endpoint
func (exec *Executor) WebSocket() (*websocket.Upgrader, error) {
	return websocket.NewUpgrader(websocket.Upgrader{
		Name:      "graphql",
		Protocols: []string{Protocol},
	}, &transport{exec: exec})
}

// Open implements websocket.Handler
func (t *transport) Open(client *websocket.Client) error {
	client.Set("graphql", &session{operations: map[string]context.CancelFunc{}})
	return nil
}

// Close implements websocket.Handler, every running operation is stopped
func (t *transport) Close(client *websocket.Client) {
	s := sessionOf(client)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.operations {
		cancel()
		delete(s.operations, id)
	}
}

// Message implements websocket.Handler
func (t *transport) Message(client *websocket.Client, data []byte) error {
	s := sessionOf(client)
	if s == nil {
		return fmt.Errorf("no graphql session")
	}

	msg := inbound{}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		client.Close(closeInvalidMessage, "Invalid message received")
		return nil
	}

	switch msg.Type {
	case "connection_init":
		s.mu.Lock()
		again := s.initialized
		s.initialized = true
		s.mu.Unlock()
		if again {
			client.Close(closeTooManyInitReqs, "Too many initialisation requests")
			return nil
		}
		send(client, message{Type: "connection_ack"})

	case "ping":
		send(client, message{Type: "pong"})

	case "pong":

	case "subscribe":
		if msg.ID == "" || msg.Payload == nil {
			client.Close(closeInvalidMessage, "Invalid message received")
			return nil
		}

		s.mu.Lock()
		if !s.initialized {
			s.mu.Unlock()
			client.Close(closeUnauthorized, "Unauthorized")
			return nil
		}
		if _, has := s.operations[msg.ID]; has {
			s.mu.Unlock()
			client.Close(closeDuplicateID, fmt.Sprintf("Subscriber for %s already exists", msg.ID))
			return nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.operations[msg.ID] = cancel
		s.mu.Unlock()

		go t.run(ctx, client, s, msg.ID, msg.Payload)

	case "complete":
		s.mu.Lock()
		cancel, has := s.operations[msg.ID]
		delete(s.operations, msg.ID)
		s.mu.Unlock()
		if has {
			cancel()
		}

	default:
		client.Close(closeInvalidMessage, "Invalid message received")
	}
	return nil
}

// run one operation, sending next and complete frames unless the client
// completed it first
func (t *transport) run(ctx context.Context, client *websocket.Client, s *session, id string, req *Request) {
	carrier := Carrier{Transport: "websocket", Request: client.Request}
	defer func() {
		s.mu.Lock()
		cancel, active := s.operations[id]
		delete(s.operations, id)
		s.mu.Unlock()
		if active {
			cancel()
			send(client, message{ID: id, Type: "complete"})
		}
	}()

	op, err := OperationOf(req)
	if err != nil || op != ast.Subscription {
		resp := t.exec.Execute(ctx, req, carrier)
		if resp.Failed() {
			s.fail(client, id, resp)
			return
		}
		send(client, message{ID: id, Type: "next", Payload: resp})
		return
	}

	sub, resp := t.exec.Subscribe(ctx, req, carrier)
	if resp != nil {
		s.fail(client, id, resp)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			send(client, message{ID: id, Type: "next", Payload: sub.Result(msg)})
		}
	}
}

// fail ends the operation with an error frame, no complete follows
func (s *session) fail(client *websocket.Client, id string, resp *Response) {
	s.mu.Lock()
	if cancel, has := s.operations[id]; has {
		cancel()
		delete(s.operations, id)
	}
	s.mu.Unlock()
	send(client, message{ID: id, Type: "error", Payload: resp.Errors})
}

func send(client *websocket.Client, msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("[GraphQL] encode %s: %s", msg.Type, err.Error())
		return
	}
	client.Send(data)
}

func sessionOf(client *websocket.Client) *session {
	value, has := client.Get("graphql")
	if !has {
		return nil
	}
	s, _ := value.(*session)
	return s
}
