// Package transport answers outgoing HTTP requests from a registry of match
// rules instead of the network.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prasenjit/go-intercept/internal/condition"
	"github.com/prasenjit/go-intercept/internal/logging"
	"github.com/prasenjit/go-intercept/internal/matcher"
	"github.com/prasenjit/go-intercept/internal/models"
	"github.com/prasenjit/go-intercept/internal/registry"
	"github.com/prasenjit/go-intercept/internal/stats"
	"github.com/prasenjit/go-intercept/internal/tracing"
)

// maxTracedBody caps the body text kept in journal entries
const maxTracedBody = 64 << 10

// Interceptor is an http.RoundTripper backed by a registry
type Interceptor struct {
	registry       *registry.Registry
	inner          http.RoundTripper
	logger         logrus.FieldLogger
	statsCollector *stats.Collector
	journal        *tracing.Journal
}

// Option configures an Interceptor
type Option func(i *Interceptor)

// WithInner sets the transport unmatched requests fall through to
func WithInner(rt http.RoundTripper) Option {
	return func(i *Interceptor) {
		i.inner = rt
	}
}

// WithLogger overrides the default discarding logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(i *Interceptor) {
		i.logger = l
	}
}

// WithStats records every exchange in c
func WithStats(c *stats.Collector) Option {
	return func(i *Interceptor) {
		i.statsCollector = c
	}
}

// WithTracing journals every exchange in j
func WithTracing(j *tracing.Journal) Option {
	return func(i *Interceptor) {
		i.journal = j
	}
}

// New creates an interceptor reading rules from reg
func New(reg *registry.Registry, opts ...Option) *Interceptor {
	i := &Interceptor{
		registry: reg,
		logger:   logging.Discard(),
	}
	for _, apply := range opts {
		apply(i)
	}
	return i
}

// Client returns an HTTP client whose requests go through the interceptor
func (i *Interceptor) Client() *http.Client {
	return &http.Client{Transport: i}
}

// RoundTrip answers req from the registry. Unmatched requests fail, fall
// through to the inner transport, or fail with ErrTransportNotConfigured
// depending on the registry policy.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	// The clone carries a replayable body; req itself is never modified
	out := req.Clone(req.Context())
	body, err := condition.PeekBody(out)
	if err != nil {
		return nil, err
	}

	requestURL := matcher.RequestURL(out)
	log := i.logger.WithFields(logrus.Fields{
		"method": out.Method,
		"url":    requestURL,
	})

	rule, ok := i.registry.Match(out)
	if !ok {
		return i.unmatched(out, body, requestURL, startTime, log)
	}

	log = log.WithField("rule", stats.RuleKey(rule))
	resp, respBody, err := i.respond(out, rule)
	duration := time.Since(startTime)

	if err != nil {
		err = fmt.Errorf("interception %s: %w", stats.RuleKey(rule), err)
		log.WithError(err).Debug("failed to materialize content")
		if i.statsCollector != nil {
			i.statsCollector.RecordMatch(rule, duration, true)
			i.statsCollector.RecordError(stats.RuleKey(rule), out.Method, requestURL, err)
		}
		i.trace(out, body, rule, models.OutcomeFailed, nil, nil, err, startTime)
		return nil, err
	}

	log.WithField("status", rule.Status).Debug("intercepted request")
	if i.statsCollector != nil {
		i.statsCollector.RecordMatch(rule, duration, false)
	}
	i.trace(out, body, rule, models.OutcomeMatched, resp, respBody, nil, startTime)
	return resp, nil
}

func (i *Interceptor) unmatched(req *http.Request, body []byte, requestURL string, startTime time.Time, log logrus.FieldLogger) (*http.Response, error) {
	if i.registry.ThrowsOnMissingRegistration() {
		err := &models.UnmatchedRequestError{Method: req.Method, URL: requestURL}
		log.Debug("no interception registered")
		if i.statsCollector != nil {
			i.statsCollector.RecordUnmatched(false)
		}
		i.trace(req, body, nil, models.OutcomeUnmatched, nil, nil, err, startTime)
		return nil, err
	}

	if i.inner == nil {
		log.Debug("no interception registered and no inner transport")
		if i.statsCollector != nil {
			i.statsCollector.RecordUnmatched(false)
		}
		i.trace(req, body, nil, models.OutcomeUnmatched, nil, nil, models.ErrTransportNotConfigured, startTime)
		return nil, models.ErrTransportNotConfigured
	}

	log.Debug("passing request through")
	if i.statsCollector != nil {
		i.statsCollector.RecordUnmatched(true)
	}

	matcher.Rewind(req)
	resp, err := i.inner.RoundTrip(req)
	if err != nil {
		i.trace(req, body, nil, models.OutcomePassthrough, nil, nil, err, startTime)
		return nil, err
	}
	i.trace(req, body, nil, models.OutcomePassthrough, resp, nil, nil, startTime)
	return resp, nil
}

// respond materializes the rule content and builds the response
func (i *Interceptor) respond(req *http.Request, rule *models.MatchRule) (*http.Response, []byte, error) {
	c, err := rule.Content.Materialize(req.Context())
	if err != nil {
		return nil, nil, err
	}

	header := make(http.Header)
	for name, values := range rule.ResponseHeaders {
		header[name] = append([]string(nil), values...)
	}
	for name, values := range rule.ContentHeaders {
		header[name] = append(header[name], values...)
	}
	if header.Get("Content-Type") == "" && c.MediaType != "" {
		header.Set("Content-Type", c.MediaType)
	}
	header.Set("Content-Length", strconv.Itoa(len(c.Data)))

	resp := &http.Response{
		Status:        fmt.Sprintf("%d %s", rule.Status, http.StatusText(rule.Status)),
		StatusCode:    rule.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Data)),
		ContentLength: int64(len(c.Data)),
		Request:       req,
	}
	if req.Method == http.MethodHead {
		resp.Body = http.NoBody
	}
	return resp, c.Data, nil
}

// trace journals an exchange when tracing is enabled
func (i *Interceptor) trace(req *http.Request, body []byte, rule *models.MatchRule, outcome models.Outcome, resp *http.Response, respBody []byte, err error, startTime time.Time) {
	if i.journal == nil {
		return
	}

	trace := &models.Trace{
		Outcome:   outcome,
		Timestamp: startTime,
		Duration:  time.Since(startTime).Nanoseconds(),
		Request: models.TraceRequest{
			Method:  req.Method,
			URL:     matcher.RequestURL(req),
			Host:    req.URL.Host,
			Path:    req.URL.Path,
			Query:   req.URL.Query(),
			Headers: req.Header.Clone(),
			Body:    truncate(body),
		},
	}
	if trace.Request.Host == "" {
		trace.Request.Host = req.Host
	}
	if rule != nil {
		trace.RuleID = stats.RuleKey(rule)
		trace.RuleComment = rule.Comment
	}
	if resp != nil {
		trace.Response = &models.TraceResponse{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header.Clone(),
			Body:       truncate(respBody),
		}
	}
	if err != nil {
		trace.Error = err.Error()
	}

	i.journal.Record(trace)
}

func truncate(b []byte) string {
	if len(b) > maxTracedBody {
		return string(b[:maxTracedBody])
	}
	return string(b)
}
