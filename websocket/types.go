package websocket

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Upgrader the upgrader setting
// {
// 		"name": "graphql",
// 		"protocols": ["graphql-transport-ws"],
// 		"buffer": { "read": 1024, "write": 1024 },
// 		"limit": { "write-wait": 10, "pong-wait": 60, "max-message": 1048576 },
// 		"timeout": 5,
// }
type Upgrader struct {
	Name      string     `json:"name,omitempty"`
	Protocols []string   `json:"protocols,omitempty"`
	Buffer    BufferSize `json:"buffer,omitempty"`
	Limit     Limit      `json:"limit,omitempty"`
	Timeout   int        `json:"timeout,omitempty"` // handshake, seconds
	Queue     int        `json:"queue,omitempty"`   // outbound messages buffered per client
	handler   Handler
	up        *websocket.Upgrader
}

// Handler the protocol spoken over the upgraded connections
type Handler interface {
	Open(client *Client) error
	Message(client *Client, message []byte) error
	Close(client *Client)
}

// Client one upgraded connection. All writes go through the write pump.
type Client struct {
	ID       string
	Request  *http.Request // the upgrade request
	upgrader *Upgrader
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	data     map[string]interface{}
}

// BufferSize read and write buffer sizes
type BufferSize struct {
	Read  int `json:"read,omitempty"`
	Write int `json:"write,omitempty"`
}

// Limit the limit of session
type Limit struct {
	WriteWait  int `json:"write-wait,omitempty"`  // Time allowed to write a message to the peer.
	PongWait   int `json:"pong-wait,omitempty"`   // Time allowed to read the next pong message from the peer.
	MaxMessage int `json:"max-message,omitempty"` // Maximum message size allowed from peer. bytes
	pingPeriod int // Send pings to peer with this period. Must be less than pongWait. (pongWait * 9) / 10
}
