package http

import (
	"net/http"
	"time"
)

// Request HTTP Request
type Request struct {
	url      string
	method   string
	headers  http.Header
	body     []byte
	timeout  time.Duration
	maxBytes int64
	redact   func([]byte) []byte
}

// Response HTTP Response
type Response struct {
	Status  int         `json:"status"`
	Data    interface{} `json:"data"`
	Body    []byte      `json:"-"`
	Headers http.Header `json:"headers"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
}

// Option the client limits
type Option struct {
	Timeout  time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`   // default 10s
	MaxBytes int64         `json:"maxBytes,omitempty" mapstructure:"maxBytes"` // response ceiling, default 5M
}
