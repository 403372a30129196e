package failure

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/yaoapp/kun/exception"
)

// Kind the error taxonomy
type Kind string

const (
	// RouteNotFound no pattern matches the path
	RouteNotFound Kind = "RouteNotFound"
	// MethodNotAllowed a pattern matches but not for the method
	MethodNotAllowed Kind = "MethodNotAllowed"
	// ScriptTooLarge the source exceeds the size ceiling
	ScriptTooLarge Kind = "ScriptTooLarge"
	// PayloadTooLarge the request body exceeds the body ceiling
	PayloadTooLarge Kind = "PayloadTooLarge"
	// SyntaxError the source could not be parsed
	SyntaxError Kind = "SyntaxError"
	// SecurityPolicyViolation the source references a forbidden construct
	SecurityPolicyViolation Kind = "SecurityPolicyViolation"
	// Timeout the invocation ran past its deadline or was cancelled
	Timeout Kind = "Timeout"
	// MemoryLimitExceeded the heap ceiling was reached
	MemoryLimitExceeded Kind = "MemoryLimitExceeded"
	// StackOverflow the call stack ceiling was reached
	StackOverflow Kind = "StackOverflow"
	// RuntimeError the guest threw
	RuntimeError Kind = "RuntimeError"
	// SecretNotFound an outbound request references an unknown secret
	SecretNotFound Kind = "SecretNotFound"
	// InvalidFilterShape a connection setup handler returned something other than a flat string map
	InvalidFilterShape Kind = "InvalidFilterShape"
	// InitializationFailed the script init hook failed
	InitializationFailed Kind = "InitializationFailed"
	// PrivilegeRequired a restricted script called a privileged registration
	PrivilegeRequired Kind = "PrivilegeRequired"
	// InvalidResponse the handler returned a malformed response
	InvalidResponse Kind = "InvalidResponse"
	// HandlerNotFound the registered handler is not defined by the script
	HandlerNotFound Kind = "HandlerNotFound"
	// Unauthorized the caller lacks the required identity
	Unauthorized Kind = "Unauthorized"
	// BadRequest the input is malformed
	BadRequest Kind = "BadRequest"
)

var statuses = map[Kind]int{
	RouteNotFound:           http.StatusNotFound,
	MethodNotAllowed:        http.StatusMethodNotAllowed,
	ScriptTooLarge:          http.StatusRequestEntityTooLarge,
	PayloadTooLarge:         http.StatusRequestEntityTooLarge,
	SyntaxError:             http.StatusUnprocessableEntity,
	SecurityPolicyViolation: http.StatusUnprocessableEntity,
	Timeout:                 http.StatusGatewayTimeout,
	MemoryLimitExceeded:     http.StatusServiceUnavailable,
	StackOverflow:           http.StatusInternalServerError,
	RuntimeError:            http.StatusInternalServerError,
	SecretNotFound:          http.StatusBadGateway,
	InvalidFilterShape:      http.StatusInternalServerError,
	InitializationFailed:    http.StatusServiceUnavailable,
	PrivilegeRequired:       http.StatusForbidden,
	InvalidResponse:         http.StatusInternalServerError,
	HandlerNotFound:         http.StatusInternalServerError,
	Unauthorized:            http.StatusUnauthorized,
	BadRequest:              http.StatusBadRequest,
}

// Status the HTTP status of the kind
func (kind Kind) Status() int {
	if status, has := statuses[kind]; has {
		return status
	}
	return http.StatusInternalServerError
}

// Error a structured failure
type Error struct {
	Kind          Kind
	Message       string
	Stack         string
	CorrelationID string
	Allow         []string // MethodNotAllowed only
	cause         error
}

// New create a failure with a formatted message
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:          kind,
		Message:       fmt.Sprintf(format, args...),
		CorrelationID: uuid.NewString(),
	}
}

// Wrap converts an error into a failure of the given kind, keeping an existing failure as-is
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	if f, ok := As(err); ok {
		return f
	}
	e := New(kind, "%s", err.Error())
	e.cause = err
	return e
}

// From converts any error or recovered value into a failure; unknown errors are RuntimeError
func From(v interface{}) *Error {
	switch value := v.(type) {
	case nil:
		return nil
	case *Error:
		return value
	case exception.Exception:
		return fromException(&value)
	case *exception.Exception:
		return fromException(value)
	case error:
		return Wrap(RuntimeError, value)
	case string:
		return New(RuntimeError, "%s", value)
	}
	return New(RuntimeError, "%v", v)
}

func fromException(ex *exception.Exception) *Error {
	kind := RuntimeError
	for k, status := range statuses {
		if status == ex.Code && (k == RouteNotFound || k == MethodNotAllowed || k == BadRequest || k == Unauthorized || k == PrivilegeRequired) {
			kind = k
			break
		}
	}
	return New(kind, "%s", ex.Message)
}

// As unwraps err into a failure
func As(err error) (*Error, bool) {
	var f *Error
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Is reports whether err is a failure of kind
func Is(err error, kind Kind) bool {
	f, ok := As(err)
	return ok && f.Kind == kind
}

// KindOf the kind of err, RuntimeError for foreign errors
func KindOf(err error) Kind {
	if f, ok := As(err); ok {
		return f.Kind
	}
	return RuntimeError
}

// Error implements error
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap the underlying cause
func (e *Error) Unwrap() error { return e.cause }

// Status the HTTP status
func (e *Error) Status() int { return e.Kind.Status() }

// WithStack attaches a stack trace
func (e *Error) WithStack(stack string) *Error {
	e.Stack = stack
	return e
}

// Redact rewrites the message and the stack through fn
func (e *Error) Redact(fn func(string) string) *Error {
	if fn == nil {
		return e
	}
	e.Message = fn(e.Message)
	e.Stack = fn(e.Stack)
	return e
}

// Exception converts the failure into a kun exception
func (e *Error) Exception() *exception.Exception {
	return exception.New("%s", e.Status(), e.Error())
}

// Body the JSON error body. Production bodies carry the kind and correlation id only.
func (e *Error) Body(production bool) map[string]interface{} {
	body := map[string]interface{}{
		"kind":          string(e.Kind),
		"correlationId": e.CorrelationID,
	}
	if !production {
		body["message"] = e.Message
		if e.Stack != "" {
			body["stack"] = e.Stack
		}
	}
	if len(e.Allow) > 0 {
		body["allow"] = e.Allow
	}
	return map[string]interface{}{"error": body}
}
