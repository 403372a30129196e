package stream

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/filter"
)

// DefaultBuffer the default per-connection queue length
const DefaultBuffer = 64

// NewHub create an empty registry
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	hub := &Hub{buffer: buffer}
	hub.snap.Store(&registry{
		channels: map[string][]*Connection{},
		byID:     map[string]*Connection{},
	})
	return hub
}

// SetRelay attach a cross-node relay
func (hub *Hub) SetRelay(relay Relay) {
	hub.mu.Lock()
	hub.relay = relay
	hub.mu.Unlock()
}

// Open registers a connection on the channel with its filter
func (hub *Hub) Open(channel string, attrs filter.Attributes) *Connection {
	return hub.OpenID(uuid.NewString(), channel, attrs)
}

// OpenID registers a connection under an id chosen by the caller, the one its
// setup handler already saw
func (hub *Hub) OpenID(id string, channel string, attrs filter.Attributes) *Connection {
	if attrs == nil {
		attrs = filter.Attributes{}
	}
	conn := &Connection{
		ID:        id,
		Channel:   channel,
		Filter:    attrs.Clone(),
		CreatedAt: time.Now(),
		hub:       hub,
		send:      make(chan Message, hub.buffer),
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	current := hub.snap.Load()
	next := current.clone()
	list := make([]*Connection, len(current.channels[channel]), len(current.channels[channel])+1)
	copy(list, current.channels[channel])
	next.channels[channel] = append(list, conn)
	next.byID[conn.ID] = conn
	hub.snap.Store(next)

	log.Trace("[Stream] open %s on %s", conn.ID, channel)
	return conn
}

// Close removes a connection. Unknown or already closed ids are a no-op.
func (hub *Hub) Close(id string) bool {
	hub.mu.Lock()
	current := hub.snap.Load()
	conn, has := current.byID[id]
	if !has {
		hub.mu.Unlock()
		return false
	}

	next := current.clone()
	delete(next.byID, id)
	list := make([]*Connection, 0, len(current.channels[conn.Channel]))
	for _, c := range current.channels[conn.Channel] {
		if c.ID != id {
			list = append(list, c)
		}
	}
	if len(list) == 0 {
		delete(next.channels, conn.Channel)
	} else {
		next.channels[conn.Channel] = list
	}
	hub.snap.Store(next)
	hub.mu.Unlock()

	conn.shutdown()
	log.Trace("[Stream] close %s on %s", id, conn.Channel)
	return true
}

// CloseChannel closes every connection on the channel
func (hub *Hub) CloseChannel(channel string) int {
	conns := hub.snap.Load().channels[channel]
	closed := 0
	for _, conn := range conns {
		if hub.Close(conn.ID) {
			closed++
		}
	}
	return closed
}

// Publish delivers to every local connection on the channel whose filter contains
// publishFilter, then forwards to the relay. It returns the local delivery count.
func (hub *Hub) Publish(channel string, event string, data []byte, publishFilter filter.Attributes) int {
	delivered := hub.PublishLocal(channel, event, data, publishFilter)

	hub.mu.Lock()
	relay := hub.relay
	hub.mu.Unlock()
	if relay != nil {
		if err := relay.Forward(channel, event, data, publishFilter); err != nil {
			log.Error("[Stream] relay %s: %s", channel, err.Error())
		}
	}
	return delivered
}

// PublishLocal delivers to the connections of this node only. A connection that
// cannot take the message is logged and closed; the others are unaffected.
func (hub *Hub) PublishLocal(channel string, event string, data []byte, publishFilter filter.Attributes) int {
	conns := hub.snap.Load().channels[channel]
	if len(conns) == 0 {
		return 0
	}

	msg := Message{
		ID:      hub.nextID.Add(1),
		Channel: channel,
		Event:   event,
		Data:    data,
		At:      time.Now(),
	}

	delivered := 0
	for _, conn := range conns {
		if !filter.Match(conn.Filter, publishFilter) {
			continue
		}
		ok, closed := conn.deliver(msg)
		if ok {
			delivered++
			continue
		}
		if closed {
			continue
		}
		log.Warn("[Stream] %s on %s dropped message %d, closing", conn.ID, channel, msg.ID)
		go hub.Close(conn.ID)
	}
	return delivered
}

// Get a connection by id
func (hub *Hub) Get(id string) (*Connection, bool) {
	conn, has := hub.snap.Load().byID[id]
	return conn, has
}

// Count the connections on the channel
func (hub *Hub) Count(channel string) int {
	return len(hub.snap.Load().channels[channel])
}

// Len the number of connections
func (hub *Hub) Len() int {
	return len(hub.snap.Load().byID)
}

// Channels the channels with at least one connection
func (hub *Hub) Channels() []string {
	snap := hub.snap.Load()
	channels := make([]string, 0, len(snap.channels))
	for channel := range snap.channels {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}

// Shutdown closes every connection and the relay
func (hub *Hub) Shutdown() {
	for id := range hub.snap.Load().byID {
		hub.Close(id)
	}
	hub.mu.Lock()
	relay := hub.relay
	hub.relay = nil
	hub.mu.Unlock()
	if relay != nil {
		relay.Close()
	}
}

func (r *registry) clone() *registry {
	next := &registry{
		channels: make(map[string][]*Connection, len(r.channels)),
		byID:     make(map[string]*Connection, len(r.byID)),
	}
	for channel, list := range r.channels {
		next.channels[channel] = list
	}
	for id, conn := range r.byID {
		next.byID[id] = conn
	}
	return next
}

// Messages the queue of delivered messages; closed when the connection closes
func (conn *Connection) Messages() <-chan Message {
	return conn.send
}

// Close the connection
func (conn *Connection) Close() bool {
	return conn.hub.Close(conn.ID)
}

// Closed reports whether the connection was closed
func (conn *Connection) Closed() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.closed
}

func (conn *Connection) deliver(msg Message) (ok bool, closed bool) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return false, true
	}
	select {
	case conn.send <- msg:
		return true, false
	default:
		return false, false
	}
}

func (conn *Connection) shutdown() {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return
	}
	conn.closed = true
	close(conn.send)
}
