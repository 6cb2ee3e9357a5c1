// Package template substitutes ${Key} placeholders in bundle text.
package template

import (
	"net/http"
	"regexp"
	"sort"
)

// Engine replaces ${Key} placeholders with values from a lookup table
type Engine struct {
	values map[string]string
}

// NewEngine creates a template engine bound to values. A nil map behaves like
// an empty one.
func NewEngine(values map[string]string) *Engine {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Engine{values: copied}
}

// placeholderPattern matches ${Key}; keys are taken verbatim
var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Process replaces every resolvable placeholder. Unknown keys are left as
// written so a missing value stays visible in the output.
func (e *Engine) Process(s string) string {
	if len(e.values) == 0 {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := e.values[key]; ok {
			return val
		}
		return match
	})
}

// ProcessHeaders returns a copy of headers with every value processed
func (e *Engine) ProcessHeaders(headers map[string][]string) http.Header {
	if headers == nil {
		return nil
	}
	result := make(http.Header, len(headers))
	for name, values := range headers {
		processed := make([]string, len(values))
		for i, v := range values {
			processed[i] = e.Process(v)
		}
		result[http.CanonicalHeaderKey(name)] = append(result[http.CanonicalHeaderKey(name)], processed...)
	}
	return result
}

// Unresolved lists the distinct placeholder keys in s that have no value
func (e *Engine) Unresolved(s string) []string {
	seen := map[string]struct{}{}
	var keys []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		key := m[1]
		if _, ok := e.values[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
