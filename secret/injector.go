package secret

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yaoapp/weave/failure"
)

// Placeholder matches {{secret:identifier}}
var Placeholder = regexp.MustCompile(`\{\{\s*secret:([A-Za-z0-9_.\-]+)\s*\}\}`)

// Lookup resolves secret values on the host side
type Lookup interface {
	Get(id string) (string, bool, error)
}

// Descriptor an outbound request as guest code describes it
type Descriptor struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Concrete the request about to leave the process, with secret values substituted.
// It must never be handed back to guest code.
type Concrete struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     string
	redactor *Redactor
}

// Injector substitutes placeholders in outbound requests
type Injector struct {
	lookup Lookup
}

// NewInjector create an injector over a secret lookup
func NewInjector(lookup Lookup) *Injector {
	return &Injector{lookup: lookup}
}

// References the identifiers referenced by the descriptor's headers and body
func (d Descriptor) References() []string {
	seen := map[string]bool{}
	collect := func(text string) {
		for _, m := range Placeholder.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = true
		}
	}
	for _, value := range d.Headers {
		collect(value)
	}
	collect(d.Body)

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve substitutes every placeholder. A missing identifier fails with
// SecretNotFound naming only that identifier; no network I/O happens before this returns.
func (inj *Injector) Resolve(d Descriptor) (*Concrete, error) {
	values := map[string]string{}
	for _, id := range d.References() {
		value, ok, err := inj.lookup.Get(id)
		if err != nil {
			return nil, failure.New(failure.SecretNotFound, "secret %s could not be read", id)
		}
		if !ok {
			return nil, failure.New(failure.SecretNotFound, "secret %s is not defined", id)
		}
		values[id] = value
	}

	replace := func(text string) string {
		if !strings.Contains(text, "{{") {
			return text
		}
		return Placeholder.ReplaceAllStringFunc(text, func(match string) string {
			id := Placeholder.FindStringSubmatch(match)[1]
			return values[id]
		})
	}

	concrete := &Concrete{
		Method:  d.Method,
		URL:     d.URL,
		Headers: make(map[string]string, len(d.Headers)),
		Body:    replace(d.Body),
	}
	for name, value := range d.Headers {
		concrete.Headers[name] = replace(value)
	}

	injected := make([]string, 0, len(values))
	for _, value := range values {
		injected = append(injected, value)
	}
	concrete.redactor = NewExactRedactor(injected...)
	return concrete, nil
}

// Redact masks the injected values in text coming back from the remote side
func (c *Concrete) Redact(text string) string {
	return c.redactor.Redact(text)
}

// RedactBytes masks the injected values in data
func (c *Concrete) RedactBytes(data []byte) []byte {
	return c.redactor.RedactBytes(data)
}

// Injected reports whether any secret was substituted
func (c *Concrete) Injected() bool {
	return !c.redactor.Empty()
}
