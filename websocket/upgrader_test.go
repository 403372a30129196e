package websocket

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (e *echo) Open(client *Client) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened++
	return nil
}

func (e *echo) Message(client *Client, message []byte) error {
	client.Send(append([]byte("echo:"), message...))
	return nil
}

func (e *echo) Close(client *Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
}

func serve(t *testing.T, protocols []string) (*echo, string) {
	gin.SetMode(gin.TestMode)
	handler := &echo{}
	upgrader, err := NewUpgrader(Upgrader{Name: "echo", Protocols: protocols}, handler)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) { upgrader.UpgradeGin(c, nil) })
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return handler, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestUpgradeEcho(t *testing.T) {
	handler, url := serve(t, []string{"echo-v1"})
	conn, err := Dial(url, []string{"echo-v1"})
	require.NoError(t, err)
	assert.Equal(t, "echo-v1", conn.Subprotocol())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(message))

	conn.Close()
	assert.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.opened == 1 && handler.closed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpgradeWithoutProtocol(t *testing.T) {
	handler, url := serve(t, []string{"echo-v1"})
	conn, err := Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseProtocolError))

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, 0, handler.opened)
}

func TestNewUpgraderWithoutHandler(t *testing.T) {
	_, err := NewUpgrader(Upgrader{Name: "none"}, nil)
	assert.Error(t, err)
}
