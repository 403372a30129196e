package secret

import (
	"sort"
	"strings"
)

// Mask replaces redacted values
const Mask = "[REDACTED]"

// Redactor masks a fixed set of values
type Redactor struct {
	values []string
}

// NewRedactor values shorter than 4 bytes are ignored to avoid masking common text
func NewRedactor(values ...string) *Redactor {
	return newRedactor(4, values)
}

// NewExactRedactor masks every non-empty value whatever its length
func NewExactRedactor(values ...string) *Redactor {
	return newRedactor(1, values)
}

func newRedactor(min int, values []string) *Redactor {
	r := &Redactor{values: []string{}}
	seen := map[string]bool{}
	for _, value := range values {
		if len(value) < min || seen[value] {
			continue
		}
		seen[value] = true
		r.values = append(r.values, value)
	}
	// longest first, so a value containing another is masked whole
	sort.Slice(r.values, func(i, j int) bool { return len(r.values[i]) > len(r.values[j]) })
	return r
}

// Redact masks every value in text
func (r *Redactor) Redact(text string) string {
	if r == nil || text == "" {
		return text
	}
	for _, value := range r.values {
		if strings.Contains(text, value) {
			text = strings.ReplaceAll(text, value, Mask)
		}
	}
	return text
}

// RedactBytes masks every value in data
func (r *Redactor) RedactBytes(data []byte) []byte {
	if r == nil || len(r.values) == 0 {
		return data
	}
	return []byte(r.Redact(string(data)))
}

// Empty reports whether nothing would be masked
func (r *Redactor) Empty() bool {
	return r == nil || len(r.values) == 0
}
