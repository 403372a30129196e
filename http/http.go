package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/yaoapp/weave/secret"
)

// DefaultOption the default client limits
var DefaultOption = Option{Timeout: 10 * time.Second, MaxBytes: 5 << 20}

var transport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
}

var client = &http.Client{Transport: transport}

// New make a new http Request
func New(url string) *Request {
	return &Request{
		url:      url,
		method:   "GET",
		headers:  http.Header{},
		timeout:  DefaultOption.Timeout,
		maxBytes: DefaultOption.MaxBytes,
	}
}

// FromConcrete make a request from a resolved outbound descriptor. Response
// bodies are redacted of the values the injector substituted.
func FromConcrete(c *secret.Concrete) *Request {
	r := New(c.URL)
	if c.Method != "" {
		r.method = strings.ToUpper(c.Method)
	}
	for name, value := range c.Headers {
		r.headers.Set(name, value)
	}
	if c.Body != "" {
		r.body = []byte(c.Body)
	}
	if c.Injected() {
		r.redact = c.RedactBytes
	}
	return r
}

// ResponseError return new error response
func ResponseError(code int, message string) *Response {
	return &Response{
		Code:    code,
		Status:  code,
		Message: message,
		Headers: http.Header{},
		Data:    nil,
	}
}

// SetHeader set the request header
func (r *Request) SetHeader(name string, value string) *Request {
	r.headers.Set(name, value)
	return r
}

// GetHeader get the request header
func (r *Request) GetHeader(name string) string {
	return r.headers.Get(name)
}

// HasHeader check if the header name is exists
func (r *Request) HasHeader(name string) bool {
	return r.headers.Get(name) != ""
}

// WithBody set the request body
func (r *Request) WithBody(body []byte) *Request {
	r.body = body
	return r
}

// WithOption apply the client limits; zero fields keep the defaults
func (r *Request) WithOption(option Option) *Request {
	if option.Timeout > 0 {
		r.timeout = option.Timeout
	}
	if option.MaxBytes > 0 {
		r.maxBytes = option.MaxBytes
	}
	return r
}

// WithTimeout set the request timeout
func (r *Request) WithTimeout(timeout time.Duration) *Request {
	if timeout > 0 {
		r.timeout = timeout
	}
	return r
}

// Send send the request. Transport failures are returned as a Response with status 0.
func (r *Request) Send(ctx context.Context, method string) *Response {
	if method != "" {
		r.method = strings.ToUpper(method)
	}

	if r.body != nil && r.method != "GET" && r.method != "HEAD" && !r.HasHeader("Content-Type") {
		if jsoniter.Valid(r.body) {
			r.headers.Set("Content-Type", "application/json; charset=utf-8")
		} else {
			r.headers.Set("Content-Type", "text/plain; charset=utf-8")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bytes.NewReader(r.body))
	if err != nil {
		return ResponseError(0, r.scrub(fmt.Sprintf("http.NewRequest: %s", err.Error())))
	}
	req.Header = r.headers

	resp, err := client.Do(req)
	if err != nil {
		return ResponseError(0, r.scrub(err.Error()))
	}
	defer resp.Body.Close()

	res := &Response{
		Status:  resp.StatusCode,
		Code:    resp.StatusCode,
		Headers: resp.Header,
	}

	if r.method == "HEAD" {
		return res
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return ResponseError(resp.StatusCode, r.scrub(err.Error()))
	}
	if int64(len(body)) > r.maxBytes {
		return ResponseError(resp.StatusCode, fmt.Sprintf("response body exceeds %d bytes", r.maxBytes))
	}
	if r.redact != nil {
		body = r.redact(body)
	}

	res.Body = body
	if len(body) == 0 {
		return res
	}

	res.Data = string(body)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var data interface{}
		if err := jsoniter.Unmarshal(body, &data); err == nil {
			res.Data = data
			if value, ok := data.(map[string]interface{}); ok {
				if message, ok := value["message"].(string); ok {
					res.Message = message
				}
			}
		}
	}

	return res
}

func (r *Request) scrub(message string) string {
	if r.redact == nil {
		return message
	}
	return string(r.redact([]byte(message)))
}
