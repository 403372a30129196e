package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yaoapp/kun/log"
)

// New create a new http server
func New(router *gin.Engine, option Option) *Server {

	if option.Timeout == 0 {
		option.Timeout = 5 * time.Second
	}

	return &Server{
		router: router,
		option: &option,
		signal: make(chan uint8, 1),
		event:  make(chan uint8, 4),
		status: CREATED,
	}
}

// Event get event signal
func (server *Server) Event() chan uint8 {
	return server.event
}

// Port get server port
func (server *Server) Port() (int, error) {
	server.mu.Lock()
	defer server.mu.Unlock()
	addr, ok := server.addr.(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("the server is not listening")
	}
	return addr.Port, nil
}

// Ready check if the status is ready
func (server *Server) Ready() bool {
	return server.Status() == READY
}

// Status the current status
func (server *Server) Status() uint8 {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.status
}

// Start a http server, blocks until the server is stopped
func (server *Server) Start() error {

	server.mu.Lock()
	switch server.status {
	case READY:
		server.mu.Unlock()
		return fmt.Errorf("server already started")

	case STARTING:
		server.mu.Unlock()
		return fmt.Errorf("server is starting")
	}
	server.status = STARTING
	server.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", server.option.Host, server.option.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("[Server] %s %s", addr, err.Error())
		server.set(CREATED, nil)
		server.notify(ERROR)
		return err
	}

	srv := &http.Server{
		Handler:           server.router,
		ReadHeaderTimeout: server.option.Timeout,
	}

	server.mu.Lock()
	server.addr = listener.Addr()
	server.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("[Server] %s %s", listener.Addr().String(), err.Error())
			server.mu.Lock()
			server.err = err
			server.mu.Unlock()
			server.signal <- ERROR
		}
	}()

	server.set(READY, nil)
	log.Info("[Server] %s is ready", listener.Addr().String())
	server.notify(READY)

	signal := <-server.signal
	switch signal {
	case CLOSE:
		server.shutdown(srv)
		log.Info("[Server] %s was closed", listener.Addr().String())
		server.set(CLOSED, nil)
		server.notify(CLOSE)
		return nil

	case RESTART:
		server.shutdown(srv)
		log.Info("[Server] %s was closed (for restarting)", listener.Addr().String())
		server.set(RESTARTING, nil)
		return server.Start()

	case ERROR:
		srv.Close()
		server.mu.Lock()
		err = server.err
		server.status = CLOSED
		server.mu.Unlock()
		server.notify(ERROR)
		return err
	}

	log.Error("[Server] %s was closed (unknown signal %d)", listener.Addr().String(), signal)
	return fmt.Errorf("get an unknown signal %d", signal)
}

// Stop a http server, in-flight requests get Timeout to finish
func (server *Server) Stop() error {
	if !server.Ready() {
		return fmt.Errorf("server is not ready")
	}
	server.signal <- CLOSE
	return nil
}

// Restart a http server
func (server *Server) Restart() error {
	if !server.Ready() {
		return fmt.Errorf("server is not ready")
	}
	server.signal <- RESTART
	return nil
}

// With middlewares
func (server *Server) With(middlewares ...func(ctx *gin.Context)) *Server {
	for _, middleware := range middlewares {
		server.router.Use(middleware)
	}
	return server
}

func (server *Server) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), server.option.Timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("[Server] graceful shutdown: %s, closing", err.Error())
		srv.Close()
	}
}

func (server *Server) set(status uint8, err error) {
	server.mu.Lock()
	defer server.mu.Unlock()
	server.status = status
	server.err = err
}

// notify never blocks the server loop; events nobody reads are dropped
func (server *Server) notify(event uint8) {
	select {
	case server.event <- event:
	default:
	}
}
