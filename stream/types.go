package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yaoapp/weave/filter"
)

// Message one published payload on its way to a connection
type Message struct {
	ID      int64     `json:"id"`
	Channel string    `json:"channel"`
	Event   string    `json:"event,omitempty"`
	Data    []byte    `json:"data"` // JSON payload
	At      time.Time `json:"at"`
}

// Connection a live stream or subscription connection
type Connection struct {
	ID        string
	Channel   string
	Filter    filter.Attributes // fixed at setup
	CreatedAt time.Time

	hub    *Hub
	send   chan Message
	mu     sync.Mutex
	closed bool
}

// Hub the connection registry. Publishing reads an immutable snapshot;
// open and close copy it under the writer lock.
type Hub struct {
	mu     sync.Mutex
	snap   atomic.Pointer[registry]
	nextID atomic.Int64
	buffer int
	relay  Relay
}

type registry struct {
	channels map[string][]*Connection
	byID     map[string]*Connection
}

// Relay forwards publishes to other host nodes
type Relay interface {
	Forward(channel string, event string, data []byte, publishFilter filter.Attributes) error
	Close() error
}

// Option the hub settings
type Option struct {
	Buffer    int           `json:"buffer,omitempty" mapstructure:"buffer"`       // per connection queue, default 64
	KeepAlive time.Duration `json:"keepAlive,omitempty" mapstructure:"keepAlive"` // SSE comment interval, default 15s
}
