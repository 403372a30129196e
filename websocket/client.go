package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/yaoapp/kun/log"
)

const (
	readBufferSize  = 1024
	writeBufferSize = 1024
	timeout         = 5 * time.Second
)

// Dial open a client connection, used by tests and node to node tooling
func Dial(url string, protocols []string) (*websocket.Conn, error) {

	var dialer = websocket.Dialer{
		Subprotocols:     protocols,
		ReadBufferSize:   readBufferSize,
		WriteBufferSize:  writeBufferSize,
		HandshakeTimeout: timeout,
	}

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		log.Error("[WebSocket] dial %s: %v", url, err)
		return nil, err
	}

	return conn, nil
}

// Send queue a message for the write pump. It reports false when the client is
// closed or its queue is full; a full queue closes the client.
func (c *Client) Send(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	case <-c.done:
		return false
	default:
		log.Warn("[WebSocket] %s %s outbound queue is full, closing", c.upgrader.Name, c.ID)
		c.Close(websocket.CloseTryAgainLater, "slow consumer")
		return false
	}
}

// Close the connection with a close code, once
func (c *Client) Close(code int, reason string) {
	c.once.Do(func() {
		writeWait := time.Duration(c.upgrader.Limit.WriteWait) * time.Second
		c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		close(c.done)
		c.conn.Close()
	})
}

// Done closed when the client is gone
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Protocol the negotiated subprotocol
func (c *Client) Protocol() string {
	return c.conn.Subprotocol()
}

// Set attach a value to the client
func (c *Client) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Get a value attached to the client
func (c *Client) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, has := c.data[key]
	return value, has
}
