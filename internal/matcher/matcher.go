// Package matcher selects the match rule that answers an outgoing request.
package matcher

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/prasenjit/go-intercept/internal/models"
)

// Match returns the best rule for req, or nil. rules must be in registration
// order: among rules of equal priority the last one wins.
func Match(rules []*models.MatchRule, req *http.Request) *models.MatchRule {
	if req == nil || req.URL == nil {
		return nil
	}

	var best *models.MatchRule
	for _, rule := range rules {
		if !Matches(rule, req) {
			continue
		}
		if best == nil || rule.Priority >= best.Priority {
			best = rule
		}
	}
	return best
}

// Matches reports whether a single rule accepts req. The custom predicate is
// only evaluated once every other criterion passed.
func Matches(rule *models.MatchRule, req *http.Request) bool {
	if rule.Skip {
		return false
	}
	if !strings.EqualFold(rule.Method, req.Method) {
		return false
	}
	if !URIMatches(rule.URI, req.URL, rule.IgnorePath, rule.IgnoreQuery) {
		return false
	}
	if !HeadersMatch(rule.RequestHeaders, req.Header) {
		return false
	}
	if rule.Predicate != nil {
		Rewind(req)
		if !rule.Predicate(req) {
			return false
		}
	}
	return true
}

// Rewind restores the request body from GetBody so every reader starts at
// the beginning
func Rewind(req *http.Request) {
	if req.GetBody == nil {
		return
	}
	if body, err := req.GetBody(); err == nil {
		req.Body = body
	}
}

// URIMatches compares scheme, host and port always, the path unless
// ignorePath and the query unless ignoreQuery
func URIMatches(expected, actual *url.URL, ignorePath, ignoreQuery bool) bool {
	if expected == nil || actual == nil {
		return false
	}

	if !strings.EqualFold(expected.Scheme, actual.Scheme) {
		return false
	}

	expHost, expPort := hostPort(expected)
	actHost, actPort := hostPort(actual)
	if !strings.EqualFold(expHost, actHost) || expPort != actPort {
		return false
	}

	if !ignorePath && normalizePath(expected.Path) != normalizePath(actual.Path) {
		return false
	}

	if !ignoreQuery && !QueryEqual(expected.RawQuery, actual.RawQuery) {
		return false
	}

	return true
}

// QueryEqual compares two raw queries as multisets of decoded key/value pairs
func QueryEqual(a, b string) bool {
	if a == b {
		return true
	}

	qa, errA := url.ParseQuery(a)
	qb, errB := url.ParseQuery(b)
	if errA != nil || errB != nil {
		return false
	}

	if len(qa) != len(qb) {
		return false
	}

	for key, va := range qa {
		vb, ok := qb[key]
		if !ok || len(va) != len(vb) {
			return false
		}
		sa := append([]string(nil), va...)
		sb := append([]string(nil), vb...)
		sort.Strings(sa)
		sort.Strings(sb)
		for i := range sa {
			if sa[i] != sb[i] {
				return false
			}
		}
	}

	return true
}

// HeadersMatch reports whether actual carries every required header value.
// Names and values compare case-insensitively. Headers not listed in required
// are ignored.
func HeadersMatch(required models.HeaderMatchers, actual http.Header) bool {
	for name, values := range required {
		present := headerTokens(actual.Values(name))
		if len(present) == 0 {
			return false
		}
		for _, want := range values {
			if _, ok := present[strings.ToLower(want)]; !ok {
				return false
			}
		}
	}
	return true
}

// headerTokens collects lower-cased header values plus their comma separated
// parts
func headerTokens(values []string) map[string]struct{} {
	tokens := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(v)
		tokens[v] = struct{}{}
		if !strings.Contains(v, ",") {
			continue
		}
		for _, part := range strings.Split(v, ",") {
			tokens[strings.TrimSpace(part)] = struct{}{}
		}
	}
	return tokens
}

func hostPort(u *url.URL) (string, string) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = models.DefaultPort(u.Scheme)
	}
	return strings.TrimSuffix(host, "."), port
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// RequestURL renders the absolute URL of an outgoing request
func RequestURL(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	if req.URL.IsAbs() {
		return req.URL.String()
	}
	u := *req.URL
	if u.Host == "" {
		u.Host = req.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if _, port, err := net.SplitHostPort(u.Host); err == nil && port == "443" {
			u.Scheme = "https"
		}
	}
	return u.String()
}
