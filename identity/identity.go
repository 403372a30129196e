package identity

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/guest"
	"github.com/yaoapp/weave/store"
)

// ContextKey the gin context key holding the resolved identity
const ContextKey = "__weave_identity"

// Identity a pre-resolved caller identity
type Identity struct {
	IsAuthenticated bool     `json:"isAuthenticated"`
	UserID          string   `json:"userId"`
	Email           string   `json:"email"`
	DisplayName     string   `json:"displayName"`
	Provider        string   `json:"provider"`
	Roles           []string `json:"roles"`
}

// Provider resolves the identity of a request. Authentication itself happens upstream.
type Provider interface {
	Resolve(r *http.Request) (Identity, error)
}

// Anonymous the unauthenticated identity
func Anonymous() Identity {
	return Identity{Provider: "anonymous", Roles: []string{}}
}

// HasRole reports whether the identity carries the role
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Value the identity as a guest map; roles is always a list
func (id Identity) Value() guest.Value {
	roles := make([]guest.Value, 0, len(id.Roles))
	for _, role := range id.Roles {
		roles = append(roles, guest.StringOf(role))
	}
	return guest.MapOf(map[string]guest.Value{
		"isAuthenticated": guest.BoolOf(id.IsAuthenticated),
		"userId":          guest.StringOf(id.UserID),
		"email":           guest.StringOf(id.Email),
		"displayName":     guest.StringOf(id.DisplayName),
		"provider":        guest.StringOf(id.Provider),
		"roles":           guest.ListOf(roles...),
	})
}

// Header trusts identity headers set by an authenticating proxy in front of the host.
// With a Secret, only requests carrying <Prefix>Proxy-Secret equal to it are trusted.
type Header struct {
	Prefix string // default X-Weave-
	Secret string
}

// Resolve reads <Prefix>User, Email, Name, Provider and Roles (comma separated)
func (h Header) Resolve(r *http.Request) (Identity, error) {
	prefix := h.Prefix
	if prefix == "" {
		prefix = "X-Weave-"
	}

	if h.Secret != "" {
		given := r.Header.Get(prefix + "Proxy-Secret")
		if subtle.ConstantTimeCompare([]byte(given), []byte(h.Secret)) != 1 {
			return Anonymous(), nil
		}
	}

	user := r.Header.Get(prefix + "User")
	if user == "" {
		return Anonymous(), nil
	}

	id := Identity{
		IsAuthenticated: true,
		UserID:          user,
		Email:           r.Header.Get(prefix + "Email"),
		DisplayName:     r.Header.Get(prefix + "Name"),
		Provider:        r.Header.Get(prefix + "Provider"),
		Roles:           []string{},
	}
	if id.Provider == "" {
		id.Provider = "proxy"
	}
	for _, role := range strings.Split(r.Header.Get(prefix+"Roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			id.Roles = append(id.Roles, role)
		}
	}
	return id, nil
}

// Session resolves a session token (bearer token or cookie) against the sessions namespace
type Session struct {
	Sessions *store.Namespace
	Cookie   string // default weave_session
}

// Resolve looks the token up; unknown tokens are anonymous
func (s Session) Resolve(r *http.Request) (Identity, error) {
	token := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if token == "" {
		name := s.Cookie
		if name == "" {
			name = "weave_session"
		}
		if cookie, err := r.Cookie(name); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return Anonymous(), nil
	}

	data, ok, err := s.Sessions.Get(token)
	if err != nil {
		return Anonymous(), err
	}
	if !ok {
		return Anonymous(), nil
	}

	var id Identity
	if err := jsoniter.Unmarshal(data, &id); err != nil {
		return Anonymous(), err
	}
	id.IsAuthenticated = id.UserID != ""
	if id.Roles == nil {
		id.Roles = []string{}
	}
	return id, nil
}

// Middleware resolves the identity once per request. Resolution errors fall back to anonymous.
func Middleware(provider Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := Anonymous()
		if provider != nil {
			resolved, err := provider.Resolve(c.Request)
			if err != nil {
				log.Warn("[Identity] %s %s: %s", c.Request.Method, c.Request.URL.Path, err.Error())
			} else {
				id = resolved
			}
		}
		c.Set(ContextKey, id)
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), id))
		c.Next()
	}
}

type contextKey struct{}

// NewContext carries the identity on a request context, for handlers that only see the *http.Request
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromRequest the identity carried by the request context, anonymous when absent
func FromRequest(r *http.Request) Identity {
	if r == nil {
		return Anonymous()
	}
	if id, ok := r.Context().Value(contextKey{}).(Identity); ok {
		return id
	}
	return Anonymous()
}

// FromContext the identity resolved by Middleware, anonymous when absent
func FromContext(c *gin.Context) Identity {
	if v, has := c.Get(ContextKey); has {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Anonymous()
}
