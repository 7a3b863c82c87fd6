// Package redaction scrubs credential-shaped values out of log lines, event
// details, and metric labels before they leave the process.
package redaction

import (
	"strings"
)

// RedactedValue is substituted for any value whose field name matches a
// redaction term.
const RedactedValue = "<redacted>"

// DefaultTerms returns the default redaction term list:
// any field whose name contains one of these substrings (case-insensitive)
// is redacted.
func DefaultTerms() []string {
	return []string{"password", "token", "secret", "key", "credential"}
}

// Redactor scrubs values by field name against a configurable term list.
// It is the sole gate between driver/config data and any external surface
// (log line, event detail, metric label, HTTP response).
type Redactor struct {
	terms []string
}

// New builds a Redactor from the configured redaction term list. An empty
// list falls back to DefaultTerms so redaction can never be silently
// disabled by a blank config.
func New(terms []string) *Redactor {
	if len(terms) == 0 {
		terms = DefaultTerms()
	}
	lower := make([]string, len(terms))
	for i, t := range terms {
		lower[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return &Redactor{terms: lower}
}

// IsSensitiveField reports whether fieldName matches a redaction term.
func (r *Redactor) IsSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, term := range r.terms {
		if term != "" && strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// RedactMap returns a copy of m with every sensitive field replaced by
// RedactedValue, recursing into nested maps and slices.
func (r *Redactor) RedactMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch {
		case r.IsSensitiveField(k):
			out[k] = RedactedValue
		case v == nil:
			out[k] = nil
		default:
			out[k] = r.redactValue(v)
		}
	}
	return out
}

func (r *Redactor) redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return r.RedactMap(val)
	case []interface{}:
		return r.RedactSlice(val)
	default:
		return val
	}
}

// RedactSlice applies RedactMap/redaction recursively across a slice.
func (r *Redactor) RedactSlice(s []interface{}) []interface{} {
	if s == nil {
		return nil
	}
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = r.redactValue(v)
	}
	return out
}
