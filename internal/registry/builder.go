package registry

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prasenjit/go-intercept/internal/content"
	"github.com/prasenjit/go-intercept/internal/models"
)

// Builder assembles a match rule with a fluent API. The first error
// encountered is kept and returned by Build.
type Builder struct {
	rule      models.MatchRule
	mediaType string
	err       error
}

// NewBuilder starts a GET rule answering 200 with an empty body
func NewBuilder() *Builder {
	return &Builder{
		rule: models.MatchRule{
			Method:  http.MethodGet,
			Status:  http.StatusOK,
			Content: content.Empty(),
		},
	}
}

// setError records the first error encountered during building
func (b *Builder) setError(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns any error encountered during building
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) uri() *url.URL {
	if b.rule.URI == nil {
		b.rule.URI = &url.URL{}
	}
	return b.rule.URI
}

// ForMethod sets the request method
func (b *Builder) ForMethod(method string) *Builder {
	b.rule.Method = strings.ToUpper(method)
	return b
}

// ForGet matches GET requests
func (b *Builder) ForGet() *Builder { return b.ForMethod(http.MethodGet) }

// ForPost matches POST requests
func (b *Builder) ForPost() *Builder { return b.ForMethod(http.MethodPost) }

// ForPut matches PUT requests
func (b *Builder) ForPut() *Builder { return b.ForMethod(http.MethodPut) }

// ForDelete matches DELETE requests
func (b *Builder) ForDelete() *Builder { return b.ForMethod(http.MethodDelete) }

// ForPatch matches PATCH requests
func (b *Builder) ForPatch() *Builder { return b.ForMethod(http.MethodPatch) }

// ForURL sets the whole request URI from a string
func (b *Builder) ForURL(rawURL string) *Builder {
	u, err := url.Parse(rawURL)
	if err != nil {
		b.setError(&models.ConfigError{ItemID: b.rule.ID, Field: "uri", Err: err})
		return b
	}
	b.rule.URI = u
	return b
}

// ForURI sets the whole request URI
func (b *Builder) ForURI(u *url.URL) *Builder {
	if u == nil {
		b.setError(&models.ConfigError{ItemID: b.rule.ID, Field: "uri", Err: fmt.Errorf("uri is nil")})
		return b
	}
	cp := *u
	b.rule.URI = &cp
	return b
}

// ForScheme sets the URI scheme
func (b *Builder) ForScheme(scheme string) *Builder {
	b.uri().Scheme = scheme
	return b
}

// ForHTTP matches plain HTTP requests
func (b *Builder) ForHTTP() *Builder { return b.ForScheme("http") }

// ForHTTPS matches HTTPS requests
func (b *Builder) ForHTTPS() *Builder { return b.ForScheme("https") }

// ForHost sets the host, keeping any port already set
func (b *Builder) ForHost(host string) *Builder {
	u := b.uri()
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	return b
}

// ForPort sets the port
func (b *Builder) ForPort(port int) *Builder {
	if port <= 0 || port > 65535 {
		b.setError(&models.ConfigError{ItemID: b.rule.ID, Field: "uri", Err: fmt.Errorf("invalid port %d", port)})
		return b
	}
	u := b.uri()
	u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	return b
}

// ForPath sets the path
func (b *Builder) ForPath(path string) *Builder {
	b.uri().Path = path
	return b
}

// ForQuery adds a query parameter
func (b *Builder) ForQuery(key string, values ...string) *Builder {
	u := b.uri()
	q := u.Query()
	for _, v := range values {
		q.Add(key, v)
	}
	u.RawQuery = q.Encode()
	return b
}

// IgnoringPath matches any path
func (b *Builder) IgnoringPath() *Builder {
	b.rule.IgnorePath = true
	return b
}

// IgnoringQuery matches any query
func (b *Builder) IgnoringQuery() *Builder {
	b.rule.IgnoreQuery = true
	return b
}

// ForRequestHeader requires the request to carry every value of a header
func (b *Builder) ForRequestHeader(name string, values ...string) *Builder {
	if len(values) == 0 {
		b.setError(&models.ConfigError{ItemID: b.rule.ID, Field: "requestHeaders", Err: fmt.Errorf("header %q needs at least one value", name)})
		return b
	}
	if b.rule.RequestHeaders == nil {
		b.rule.RequestHeaders = models.HeaderMatchers{}
	}
	b.rule.RequestHeaders.Add(name, values...)
	return b
}

// When adds a predicate evaluated after every other criterion
func (b *Builder) When(p models.Predicate) *Builder {
	b.rule.Predicate = p
	return b
}

// WithPriority sets the rule priority. Higher wins.
func (b *Builder) WithPriority(priority int) *Builder {
	b.rule.Priority = priority
	return b
}

// WithID names the rule
func (b *Builder) WithID(id string) *Builder {
	b.rule.ID = id
	return b
}

// WithComment attaches a description
func (b *Builder) WithComment(comment string) *Builder {
	b.rule.Comment = comment
	return b
}

// Skipped keeps the rule registered but out of matching
func (b *Builder) Skipped() *Builder {
	b.rule.Skip = true
	return b
}

// Responds sets the response status code
func (b *Builder) Responds(status int) *Builder {
	b.rule.Status = status
	return b
}

// WithStatus is an alias of Responds
func (b *Builder) WithStatus(status int) *Builder {
	return b.Responds(status)
}

// WithResponseHeader adds response header values
func (b *Builder) WithResponseHeader(name string, values ...string) *Builder {
	if b.rule.ResponseHeaders == nil {
		b.rule.ResponseHeaders = http.Header{}
	}
	for _, v := range values {
		b.rule.ResponseHeaders.Add(name, v)
	}
	return b
}

// WithContentHeader adds content header values
func (b *Builder) WithContentHeader(name string, values ...string) *Builder {
	if b.rule.ContentHeaders == nil {
		b.rule.ContentHeaders = http.Header{}
	}
	for _, v := range values {
		b.rule.ContentHeaders.Add(name, v)
	}
	return b
}

// WithMediaType overrides the media type of the content
func (b *Builder) WithMediaType(mediaType string) *Builder {
	b.mediaType = mediaType
	return b
}

// WithContent sets the response body source
func (b *Builder) WithContent(src *content.Source) *Builder {
	if src == nil {
		b.setError(&models.ConfigError{ItemID: b.rule.ID, Field: "content", Err: fmt.Errorf("content is nil")})
		return b
	}
	b.rule.Content = src
	return b
}

// WithContentString answers with a text body
func (b *Builder) WithContentString(s string) *Builder {
	return b.WithContent(content.String(s, content.MediaTypeText))
}

// WithContentBytes answers with a binary body
func (b *Builder) WithContentBytes(data []byte) *Builder {
	return b.WithContent(content.Bytes(data, content.MediaTypeOctet))
}

// WithJSONContent answers with v serialized as JSON
func (b *Builder) WithJSONContent(v any) *Builder {
	src, err := content.JSON(v)
	if err != nil {
		b.setError(&models.ConfigError{ItemID: b.rule.ID, Field: "content", Err: err})
		return b
	}
	return b.WithContent(src)
}

// WithContentFactory answers with bytes produced on every request
func (b *Builder) WithContentFactory(fn content.BytesFunc) *Builder {
	if fn == nil {
		b.setError(&models.ConfigError{ItemID: b.rule.ID, Field: "content", Err: fmt.Errorf("content factory is nil")})
		return b
	}
	return b.WithContent(content.Factory(fn, ""))
}

// WithContentStream answers with a stream opened on every request
func (b *Builder) WithContentStream(fn content.StreamFunc) *Builder {
	if fn == nil {
		b.setError(&models.ConfigError{ItemID: b.rule.ID, Field: "content", Err: fmt.Errorf("content stream is nil")})
		return b
	}
	return b.WithContent(content.Stream(fn, ""))
}

// Build validates and returns an independent copy of the rule
func (b *Builder) Build() (*models.MatchRule, error) {
	if b.err != nil {
		return nil, b.err
	}

	rule := b.rule.Clone()
	if b.mediaType != "" {
		rule.Content = rule.Content.WithMediaType(b.mediaType)
	}
	if err := Validate(rule); err != nil {
		return nil, err
	}
	return rule, nil
}
