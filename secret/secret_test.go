package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaoapp/weave/failure"
	"github.com/yaoapp/weave/store"
	"github.com/yaoapp/weave/store/memory"
)

func newStore(t *testing.T) (*Store, *store.Namespace) {
	ns := store.NewNamespace(memory.New(), store.Secrets)
	s, err := NewStore(ns, "test-master-key")
	require.NoError(t, err)
	return s, ns
}

func TestStoreEncryptsAtRest(t *testing.T) {
	s, ns := newStore(t)
	require.NoError(t, s.Put("STRIPE_KEY", "sk_live_123456"))

	raw, ok, err := ns.Get("STRIPE_KEY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "sk_live_123456")

	value, ok, err := s.Get("STRIPE_KEY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk_live_123456", value)

	other, err := NewStore(ns, "another-key")
	require.NoError(t, err)
	_, _, err = other.Get("STRIPE_KEY")
	assert.Error(t, err)
}

func TestStoreExistsListDelete(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Put("b", "value-b"))
	require.NoError(t, s.Put("a", "value-a"))
	assert.Error(t, s.Put("bad id", "x"))

	assert.True(t, s.Exists("a"))
	assert.False(t, s.Exists("c"))
	assert.False(t, s.Exists("../a"))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	existed, err := s.Delete("a")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete("a")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStoreRedact(t *testing.T) {
	s, ns := newStore(t)
	require.NoError(t, s.Put("TOKEN", "tok-abcdef"))

	assert.Equal(t, "bearer [REDACTED] rejected", s.Redact("bearer tok-abcdef rejected"))

	// values written by another process are found on first load
	fresh, err := NewStore(ns, "test-master-key")
	require.NoError(t, err)
	assert.Equal(t, "x [REDACTED]", fresh.Redact("x tok-abcdef"))
}

func TestRedactor(t *testing.T) {
	r := NewRedactor("abc", "secret-1", "secret-1-long")
	assert.Equal(t, "[REDACTED] and [REDACTED]", r.Redact("secret-1-long and secret-1"))
	assert.Equal(t, "abc", r.Redact("abc"))
	assert.True(t, NewRedactor().Empty())

	var nilRedactor *Redactor
	assert.Equal(t, "x", nilRedactor.Redact("x"))
}

func TestInjectorResolve(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Put("API_KEY", "key-987654"))
	inj := NewInjector(s)

	d := Descriptor{
		Method:  "POST",
		URL:     "https://api.example.com/v1",
		Headers: map[string]string{"Authorization": "Bearer {{secret:API_KEY}}", "X-Plain": "1"},
		Body:    `{"key":"{{ secret:API_KEY }}"}`,
	}
	assert.Equal(t, []string{"API_KEY"}, d.References())

	concrete, err := inj.Resolve(d)
	require.NoError(t, err)
	assert.Equal(t, "Bearer key-987654", concrete.Headers["Authorization"])
	assert.Equal(t, "1", concrete.Headers["X-Plain"])
	assert.Equal(t, `{"key":"key-987654"}`, concrete.Body)
	assert.True(t, concrete.Injected())
	assert.Equal(t, "echo [REDACTED]", concrete.Redact("echo key-987654"))

	// the descriptor is untouched
	assert.Equal(t, "Bearer {{secret:API_KEY}}", d.Headers["Authorization"])
}

func TestInjectorShortValue(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Put("PIN", "k9"))

	concrete, err := NewInjector(s).Resolve(Descriptor{
		Method:  "GET",
		URL:     "https://api.example.com/v1",
		Headers: map[string]string{"X-Pin": "{{secret:PIN}}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "k9", concrete.Headers["X-Pin"])
	assert.True(t, concrete.Injected())
	assert.Equal(t, "pin=[REDACTED]", concrete.Redact("pin=k9"))
	assert.Equal(t, []byte("[REDACTED]"), concrete.RedactBytes([]byte("k9")))

	// the store-wide redactor keeps the floor
	assert.Equal(t, "pin=k9", s.Redact("pin=k9"))
	assert.Equal(t, "[REDACTED]", NewExactRedactor("k9").Redact("k9"))
}

func TestInjectorMissing(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Put("KNOWN", "known-value"))
	inj := NewInjector(s)

	_, err := inj.Resolve(Descriptor{
		Headers: map[string]string{"A": "{{secret:KNOWN}}"},
		Body:    "{{secret:MISSING}}",
	})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.SecretNotFound))
	assert.Contains(t, err.Error(), "MISSING")
	assert.NotContains(t, err.Error(), "KNOWN")
	assert.False(t, strings.Contains(err.Error(), "known-value"))
}
