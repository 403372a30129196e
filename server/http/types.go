package http

import (
	"net"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// CREATED the server instance was created
	CREATED = uint8(iota)
	// STARTING the server instance is starting
	STARTING
	// READY the server instance is ready
	READY
	// RESTARTING the server instance is restarting
	RESTARTING
	// CLOSED the server instance was stopped
	CLOSED
)

// signals and events share the channel value space with the statuses
const (
	// CLOSE close signal
	CLOSE = uint8(iota + 16)
	// RESTART restart signal
	RESTART
	// ERROR error signal
	ERROR
)

// Option the http server option
type Option struct {
	Port    int           `json:"port,omitempty"`
	Host    string        `json:"host,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"` // start and graceful shutdown deadline
}

// Server the http server
type Server struct {
	router *gin.Engine
	option *Option
	signal chan uint8
	event  chan uint8

	mu     sync.Mutex
	addr   net.Addr
	status uint8
	err    error
}
