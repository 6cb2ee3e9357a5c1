package models

import (
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/prasenjit/go-intercept/internal/content"
)

// Predicate is an additional test over the full request
type Predicate func(r *http.Request) bool

// HeaderMatchers maps a canonical header name to the values a request must carry
type HeaderMatchers map[string][]string

// MatchRule describes how to recognize a request and what to answer it with
type MatchRule struct {
	ID      string `json:"id,omitempty"`
	Comment string `json:"comment,omitempty"`

	Method         string         `json:"method"`
	URI            *url.URL       `json:"-"`
	IgnorePath     bool           `json:"ignorePath,omitempty"`
	IgnoreQuery    bool           `json:"ignoreQuery,omitempty"`
	RequestHeaders HeaderMatchers `json:"requestHeaders,omitempty"`
	Predicate      Predicate      `json:"-"`
	Priority       int            `json:"priority"`
	Skip           bool           `json:"skip,omitempty"`

	Status          int             `json:"status"`
	ResponseHeaders http.Header     `json:"responseHeaders,omitempty"`
	ContentHeaders  http.Header     `json:"contentHeaders,omitempty"`
	Content         *content.Source `json:"-"`
}

// Fingerprint identifies the same logical registration
type Fingerprint struct {
	Method      string
	URI         string
	IgnorePath  bool
	IgnoreQuery bool
}

// String renders the fingerprint as a stable key
func (f Fingerprint) String() string {
	return f.Method + " " + f.URI + " path=" + strconv.FormatBool(!f.IgnorePath) + " query=" + strconv.FormatBool(!f.IgnoreQuery)
}

// NewFingerprint builds a fingerprint from its parts. URIs the matcher treats
// as equivalent produce the same fingerprint.
func NewFingerprint(method string, uri *url.URL, ignorePath, ignoreQuery bool) Fingerprint {
	return Fingerprint{
		Method:      strings.ToUpper(method),
		URI:         CanonicalURI(uri, ignorePath, ignoreQuery),
		IgnorePath:  ignorePath,
		IgnoreQuery: ignoreQuery,
	}
}

// CanonicalURI renders the parts of uri that take part in matching: scheme
// and host lower-cased, default port dropped, empty path as "/" and query
// pairs sorted. Path and query are left out when ignored.
func CanonicalURI(uri *url.URL, ignorePath, ignoreQuery bool) string {
	if uri == nil {
		return ""
	}

	scheme := strings.ToLower(uri.Scheme)
	host := strings.TrimSuffix(strings.ToLower(uri.Hostname()), ".")
	if port := uri.Port(); port != "" && port != DefaultPort(scheme) {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteString("://")
	sb.WriteString(host)
	if !ignorePath {
		if uri.Path == "" {
			sb.WriteByte('/')
		} else {
			sb.WriteString(uri.Path)
		}
	}
	if !ignoreQuery && uri.RawQuery != "" {
		sb.WriteByte('?')
		sb.WriteString(canonicalQuery(uri.RawQuery))
	}
	return sb.String()
}

// DefaultPort returns the implicit port of a scheme, or "" when it has none
func DefaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	default:
		return ""
	}
}

func canonicalQuery(raw string) string {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	for _, v := range values {
		sort.Strings(v)
	}
	return values.Encode()
}

// Fingerprint returns the rule's fingerprint
func (r *MatchRule) Fingerprint() Fingerprint {
	return NewFingerprint(r.Method, r.URI, r.IgnorePath, r.IgnoreQuery)
}

// Key is the replacement key of the rule: its fingerprint plus the required
// request headers. Rules that differ only by required headers coexist.
func (r *MatchRule) Key() string {
	return r.Fingerprint().String() + " headers=" + r.RequestHeaders.Signature()
}

// URL returns the rule URI as a string
func (r *MatchRule) URL() string {
	if r.URI == nil {
		return ""
	}
	return r.URI.String()
}

// Clone returns a deep copy of the rule. The content source and predicate are
// shared since both are immutable.
func (r *MatchRule) Clone() *MatchRule {
	cp := *r
	if r.URI != nil {
		u := *r.URI
		if r.URI.User != nil {
			user := *r.URI.User
			u.User = &user
		}
		cp.URI = &u
	}
	cp.RequestHeaders = r.RequestHeaders.Clone()
	cp.ResponseHeaders = r.ResponseHeaders.Clone()
	cp.ContentHeaders = r.ContentHeaders.Clone()
	return &cp
}

// Add appends required values for a header
func (h HeaderMatchers) Add(name string, values ...string) {
	key := textproto.CanonicalMIMEHeaderKey(name)
	h[key] = append(h[key], values...)
}

// Clone returns a deep copy
func (h HeaderMatchers) Clone() HeaderMatchers {
	if h == nil {
		return nil
	}
	cp := make(HeaderMatchers, len(h))
	for k, v := range h {
		cp[k] = append([]string(nil), v...)
	}
	return cp
}

// Signature renders the matchers independent of map order, value order and
// case
func (h HeaderMatchers) Signature() string {
	if len(h) == 0 {
		return ""
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(';')
		}
		values := make([]string, 0, len(h[name]))
		for _, v := range h[name] {
			values = append(values, strings.ToLower(v))
		}
		sort.Strings(values)
		sb.WriteString(strings.ToLower(name))
		sb.WriteByte('=')
		sb.WriteString(strings.Join(values, ","))
	}
	return sb.String()
}
