// Package registry holds the match rules of an interception fixture.
//
// Readers work on immutable snapshots swapped in atomically, so matching never
// blocks on registration and never observes a partially applied change.
package registry

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpguts"

	"github.com/prasenjit/go-intercept/internal/content"
	"github.com/prasenjit/go-intercept/internal/logging"
	"github.com/prasenjit/go-intercept/internal/matcher"
	"github.com/prasenjit/go-intercept/internal/models"
)

// Registry is an ordered set of match rules
type Registry struct {
	mu          sync.Mutex
	rules       atomic.Pointer[[]*models.MatchRule]
	throwOnMiss atomic.Bool
	logger      logrus.FieldLogger
}

type options struct {
	logger      logrus.FieldLogger
	throwOnMiss bool
}

// Option configures a Registry
type Option func(o *options)

// WithLogger overrides the default discarding logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithThrowOnMissingRegistration sets the initial missing registration policy
func WithThrowOnMissingRegistration(throw bool) Option {
	return func(o *options) {
		o.throwOnMiss = throw
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	o := &options{logger: logging.Discard()}
	for _, apply := range opts {
		apply(o)
	}

	r := &Registry{logger: o.logger}
	r.throwOnMiss.Store(o.throwOnMiss)
	empty := []*models.MatchRule{}
	r.rules.Store(&empty)
	return r
}

// Register validates and adds rules. A rule whose replacement key is already
// present replaces the existing one and counts as the latest registration.
// When any rule is invalid nothing is registered.
func (r *Registry) Register(rules ...*models.MatchRule) error {
	frozen, err := freeze(rules)
	if err != nil {
		return err
	}
	if len(frozen) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.rules.Load()
	next := make([]*models.MatchRule, 0, len(current)+len(frozen))
	next = append(next, current...)
	next = r.insert(next, frozen)

	r.rules.Store(&next)
	return nil
}

// Replace swaps every registered rule for rules in a single step, so
// concurrent matches see either the old set or the new one. When any rule is
// invalid the current rules are kept.
func (r *Registry) Replace(rules ...*models.MatchRule) error {
	frozen, err := freeze(rules)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.insert(make([]*models.MatchRule, 0, len(frozen)), frozen)
	r.rules.Store(&next)
	r.logger.WithField("count", len(next)).Debug("replaced interceptions")
	return nil
}

func freeze(rules []*models.MatchRule) ([]*models.MatchRule, error) {
	frozen := make([]*models.MatchRule, 0, len(rules))
	for _, rule := range rules {
		if err := Validate(rule); err != nil {
			return nil, err
		}
		frozen = append(frozen, normalize(rule))
	}
	return frozen, nil
}

// insert appends rules to next, dropping earlier rules with the same key
func (r *Registry) insert(next, rules []*models.MatchRule) []*models.MatchRule {
	for _, rule := range rules {
		key := rule.Key()
		replaced := false
		for i, existing := range next {
			if existing.Key() == key {
				next = append(next[:i], next[i+1:]...)
				replaced = true
				break
			}
		}
		next = append(next, rule)

		r.logger.WithFields(logrus.Fields{
			"method":   rule.Method,
			"url":      rule.URL(),
			"rule":     rule.ID,
			"replaced": replaced,
		}).Debug("registered interception")
	}
	return next
}

// RegisterBuilder builds and registers every builder
func (r *Registry) RegisterBuilder(builders ...*Builder) error {
	rules := make([]*models.MatchRule, 0, len(builders))
	for _, b := range builders {
		rule, err := b.Build()
		if err != nil {
			return err
		}
		rules = append(rules, rule)
	}
	return r.Register(rules...)
}

// RegisterBytes registers a rule answering with bytes produced by fn on every
// intercepted request
func (r *Registry) RegisterBytes(method, rawURL string, fn content.BytesFunc, opts ...func(*Builder)) error {
	b := NewBuilder().ForMethod(method).ForURL(rawURL).WithContentFactory(fn)
	for _, apply := range opts {
		apply(b)
	}
	return r.RegisterBuilder(b)
}

// RegisterStream registers a rule answering with the content of a stream
// opened by fn on every intercepted request
func (r *Registry) RegisterStream(method, rawURL string, fn content.StreamFunc, opts ...func(*Builder)) error {
	b := NewBuilder().ForMethod(method).ForURL(rawURL).WithContentStream(fn)
	for _, apply := range opts {
		apply(b)
	}
	return r.RegisterBuilder(b)
}

// Deregister removes every rule with the given fingerprint, whatever request
// headers it requires. Removing an absent fingerprint is a no-op.
func (r *Registry) Deregister(method string, uri *url.URL, ignorePath, ignoreQuery bool) int {
	fp := models.NewFingerprint(method, uri, ignorePath, ignoreQuery)
	return r.remove(func(rule *models.MatchRule) bool {
		return rule.Fingerprint() == fp
	})
}

// DeregisterBuilder removes the rule the builder would register
func (r *Registry) DeregisterBuilder(b *Builder) (int, error) {
	rule, err := b.Build()
	if err != nil {
		return 0, err
	}
	key := normalize(rule).Key()
	return r.remove(func(existing *models.MatchRule) bool {
		return existing.Key() == key
	}), nil
}

// Remove deletes the rules with the given id
func (r *Registry) Remove(id string) int {
	return r.remove(func(rule *models.MatchRule) bool {
		return rule.ID == id
	})
}

func (r *Registry) remove(drop func(*models.MatchRule) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.rules.Load()
	next := make([]*models.MatchRule, 0, len(current))
	for _, rule := range current {
		if !drop(rule) {
			next = append(next, rule)
		}
	}

	removed := len(current) - len(next)
	if removed > 0 {
		r.rules.Store(&next)
		r.logger.WithField("count", removed).Debug("deregistered interceptions")
	}
	return removed
}

// Clear removes all rules
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	empty := []*models.MatchRule{}
	r.rules.Store(&empty)
	r.logger.Debug("cleared interceptions")
}

// SetMissingRegistrationPolicy chooses between failing unmatched requests
// (true) and letting them through to the inner transport (false)
func (r *Registry) SetMissingRegistrationPolicy(throwOnMiss bool) {
	r.throwOnMiss.Store(throwOnMiss)
}

// ThrowsOnMissingRegistration reports the current missing registration policy
func (r *Registry) ThrowsOnMissingRegistration() bool {
	return r.throwOnMiss.Load()
}

// Match returns the rule answering req
func (r *Registry) Match(req *http.Request) (*models.MatchRule, bool) {
	rule := matcher.Match(*r.rules.Load(), req)
	return rule, rule != nil
}

// Rules returns the registered rules in registration order
func (r *Registry) Rules() []*models.MatchRule {
	current := *r.rules.Load()
	out := make([]*models.MatchRule, len(current))
	copy(out, current)
	return out
}

// Get returns the rule with the given id
func (r *Registry) Get(id string) (*models.MatchRule, bool) {
	for _, rule := range *r.rules.Load() {
		if rule.ID == id {
			return rule, true
		}
	}
	return nil, false
}

// Len returns the number of registered rules
func (r *Registry) Len() int {
	return len(*r.rules.Load())
}

// Validate checks that a rule can be registered
func Validate(rule *models.MatchRule) error {
	if rule == nil {
		return &models.ConfigError{Err: fmt.Errorf("rule is nil")}
	}
	id := rule.ID

	if rule.Method == "" {
		return &models.ConfigError{ItemID: id, Field: "method", Err: fmt.Errorf("method is required")}
	}
	if !httpguts.ValidHeaderFieldName(rule.Method) {
		return &models.ConfigError{ItemID: id, Field: "method", Err: fmt.Errorf("invalid method %q", rule.Method)}
	}
	if rule.URI == nil {
		return &models.ConfigError{ItemID: id, Field: "uri", Err: fmt.Errorf("uri is required")}
	}
	if !rule.URI.IsAbs() || rule.URI.Host == "" {
		return &models.ConfigError{ItemID: id, Field: "uri", Err: fmt.Errorf("uri %q is not absolute", rule.URI.String())}
	}
	if rule.Status < 100 || rule.Status > 999 {
		return &models.ConfigError{ItemID: id, Field: "status", Err: fmt.Errorf("invalid status code %d", rule.Status)}
	}
	for name, values := range rule.RequestHeaders {
		if !httpguts.ValidHeaderFieldName(name) {
			return &models.ConfigError{ItemID: id, Field: "requestHeaders", Err: fmt.Errorf("invalid header name %q", name)}
		}
		if len(values) == 0 {
			return &models.ConfigError{ItemID: id, Field: "requestHeaders", Err: fmt.Errorf("header %q has no values", name)}
		}
	}
	for field, headers := range map[string]http.Header{"responseHeaders": rule.ResponseHeaders, "contentHeaders": rule.ContentHeaders} {
		for name, values := range headers {
			if !httpguts.ValidHeaderFieldName(name) {
				return &models.ConfigError{ItemID: id, Field: field, Err: fmt.Errorf("invalid header name %q", name)}
			}
			for _, v := range values {
				if !httpguts.ValidHeaderFieldValue(v) {
					return &models.ConfigError{ItemID: id, Field: field, Err: fmt.Errorf("invalid value for header %q", name)}
				}
			}
		}
	}
	if rule.Content == nil {
		return &models.ConfigError{ItemID: id, Field: "content", Err: fmt.Errorf("content is required")}
	}
	return nil
}

// normalize returns the frozen copy stored by the registry
func normalize(rule *models.MatchRule) *models.MatchRule {
	frozen := rule.Clone()
	frozen.Method = strings.ToUpper(frozen.Method)
	if len(frozen.RequestHeaders) > 0 {
		canonical := models.HeaderMatchers{}
		for name, values := range frozen.RequestHeaders {
			canonical.Add(name, values...)
		}
		frozen.RequestHeaders = canonical
	}
	return frozen
}
