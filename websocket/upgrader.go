package websocket

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yaoapp/kun/log"
)

// NewUpgrader create a new WebSocket upgrader speaking the handler's protocol
func NewUpgrader(option Upgrader, handler Handler) (*Upgrader, error) {
	if handler == nil {
		return nil, fmt.Errorf("the websocket %s has no handler", option.Name)
	}

	upgrader := &option
	upgrader.handler = handler

	// the default values
	if upgrader.Buffer.Read == 0 {
		upgrader.Buffer.Read = readBufferSize
	}
	if upgrader.Buffer.Write == 0 {
		upgrader.Buffer.Write = writeBufferSize
	}
	if upgrader.Limit.WriteWait == 0 {
		upgrader.Limit.WriteWait = 10
	}
	if upgrader.Limit.PongWait == 0 {
		upgrader.Limit.PongWait = 60
	}
	if upgrader.Limit.MaxMessage == 0 {
		upgrader.Limit.MaxMessage = 1048576
	}
	if upgrader.Timeout == 0 {
		upgrader.Timeout = 5
	}
	if upgrader.Queue == 0 {
		upgrader.Queue = 256
	}

	upgrader.Limit.pingPeriod = (upgrader.Limit.PongWait * 9) / 10
	name := upgrader.Name
	upgrader.up = &websocket.Upgrader{
		ReadBufferSize:   upgrader.Buffer.Read,
		WriteBufferSize:  upgrader.Buffer.Write,
		HandshakeTimeout: time.Duration(upgrader.Timeout) * time.Second,
		Subprotocols:     upgrader.Protocols,
		CheckOrigin:      func(r *http.Request) bool { return true },
		Error: func(w http.ResponseWriter, _ *http.Request, status int, reason error) {
			log.Error("[WebSocket] %s [%d]%s", name, status, reason.Error())
			http.Error(w, reason.Error(), status)
		},
		EnableCompression: true,
	}

	return upgrader, nil
}

// UpgradeGin upgrades the Gin server connection to the WebSocket protocol.
func (upgrader *Upgrader) UpgradeGin(c *gin.Context, responseHeader http.Header) (*Client, error) {
	return upgrader.Upgrade(c.Writer, c.Request, responseHeader)
}

// Upgrade upgrades the HTTP server connection to the WebSocket protocol.
//
// A client that does not offer one of the upgrader protocols is closed with
// CloseProtocolError right after the handshake.
func (upgrader *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*Client, error) {
	conn, err := upgrader.up.Upgrade(w, r, responseHeader)
	if err != nil {
		return nil, err
	}

	client := &Client{
		ID:       uuid.NewString(),
		Request:  r,
		upgrader: upgrader,
		conn:     conn,
		send:     make(chan []byte, upgrader.Queue),
		done:     make(chan struct{}),
		data:     map[string]interface{}{},
	}

	if len(upgrader.Protocols) > 0 && conn.Subprotocol() == "" {
		client.Close(websocket.CloseProtocolError, "unsupported subprotocol")
		return nil, fmt.Errorf("the client offered none of %v", upgrader.Protocols)
	}

	if err := upgrader.handler.Open(client); err != nil {
		client.Close(websocket.CloseInternalServerErr, err.Error())
		return nil, err
	}

	log.Trace("[WebSocket] %s open %s", upgrader.Name, client.ID)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	return client, nil
}

// writePump pumps queued messages to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {

	pingPeriod := time.Duration(c.upgrader.Limit.pingPeriod) * time.Second
	writeWait := time.Duration(c.upgrader.Limit.WriteWait) * time.Second

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			log.Trace("[WebSocket] %s write %s", c.upgrader.Name, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the websocket connection to the handler.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.upgrader.handler.Close(c)
		c.Close(websocket.CloseNormalClosure, "")
		log.Trace("[WebSocket] %s close %s", c.upgrader.Name, c.ID)
	}()

	pongWait := time.Duration(c.upgrader.Limit.PongWait) * time.Second
	c.conn.SetReadLimit(int64(c.upgrader.Limit.MaxMessage))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error("[WebSocket] %s %s", c.upgrader.Name, err.Error())
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := c.upgrader.handler.Message(c, message); err != nil {
			log.Warn("[WebSocket] %s %s: %s", c.upgrader.Name, c.ID, err.Error())
			return
		}
	}
}
