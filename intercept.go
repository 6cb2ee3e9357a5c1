// Package intercept answers outgoing HTTP client requests from registered
// match rules instead of the network.
//
// Rules are registered in a Registry, either built in code with a Builder or
// loaded from JSON/YAML bundles. An Interceptor plugged into an http.Client
// matches each request against the registry and synthesizes the response of
// the best rule: highest priority first, then the latest registration.
//
//	reg := intercept.NewRegistry(intercept.ThrowOnMissingRegistration(true))
//	err := reg.RegisterBuilder(intercept.NewBuilder().
//		ForGet().
//		ForURL("https://api.example.com/health").
//		WithJSONContent(map[string]string{"status": "up"}))
//	client := intercept.NewClient(reg)
package intercept

import (
	"context"
	"io"
	"net/http"

	"github.com/prasenjit/go-intercept/internal/bundle"
	"github.com/prasenjit/go-intercept/internal/content"
	"github.com/prasenjit/go-intercept/internal/models"
	"github.com/prasenjit/go-intercept/internal/registry"
	"github.com/prasenjit/go-intercept/internal/stats"
	"github.com/prasenjit/go-intercept/internal/tracing"
	"github.com/prasenjit/go-intercept/internal/transport"
)

type (
	// Registry is an ordered set of match rules safe for concurrent use
	Registry = registry.Registry
	// RegistryOption configures a Registry
	RegistryOption = registry.Option
	// Builder assembles a Rule fluently
	Builder = registry.Builder
	// Rule describes how to recognize a request and what to answer it with
	Rule = models.MatchRule
	// Predicate is a custom request test evaluated after every other criterion
	Predicate = models.Predicate

	// Interceptor is the http.RoundTripper answering from a Registry
	Interceptor = transport.Interceptor
	// TransportOption configures an Interceptor
	TransportOption = transport.Option

	// Source is a lazily evaluated response body
	Source = content.Source

	// Loader reads bundle documents
	Loader = bundle.Loader
	// LoaderOption configures a Loader
	LoaderOption = bundle.Option
	// BundleResult holds the rules a bundle produced
	BundleResult = bundle.Result
	// Bundle is the declarative document form of a set of rules
	Bundle = models.Bundle

	// Stats counts hits per rule
	Stats = stats.Collector
	// Journal keeps a bounded list of intercepted exchanges
	Journal = tracing.Journal
	// Trace is one journaled exchange
	Trace = models.Trace

	// ConfigError reports an invalid rule or bundle item
	ConfigError = models.ConfigError
	// UnmatchedRequestError is returned when no rule matches and the registry
	// fails on missing registrations
	UnmatchedRequestError = models.UnmatchedRequestError
)

var (
	// ErrTransportNotConfigured is returned for unmatched requests when no
	// inner transport is available
	ErrTransportNotConfigured = models.ErrTransportNotConfigured
	// ErrUnsupportedContentFormat is wrapped by ConfigError for unknown
	// bundle content formats
	ErrUnsupportedContentFormat = models.ErrUnsupportedContentFormat
)

// Registry options
var (
	ThrowOnMissingRegistration = registry.WithThrowOnMissingRegistration
	RegistryLogger             = registry.WithLogger
)

// Transport options
var (
	PassThrough     = transport.WithInner
	TransportLogger = transport.WithLogger
	WithStats       = transport.WithStats
	WithJournal     = transport.WithTracing
)

// Loader options
var (
	TemplateValues = bundle.WithTemplateValues
	LoaderLogger   = bundle.WithLogger
)

// Content sources
var (
	Bytes   = content.Bytes
	String  = content.String
	JSON    = content.JSON
	Factory = content.Factory
	Stream  = content.Stream
	Empty   = content.Empty
)

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	return registry.New(opts...)
}

// NewBuilder starts a GET rule answering 200 with an empty body
func NewBuilder() *Builder {
	return registry.NewBuilder()
}

// NewTransport creates an interceptor reading rules from reg
func NewTransport(reg *Registry, opts ...TransportOption) *Interceptor {
	return transport.New(reg, opts...)
}

// NewClient returns an http.Client whose requests are answered from reg
func NewClient(reg *Registry, opts ...TransportOption) *http.Client {
	return transport.New(reg, opts...).Client()
}

// NewLoader creates a bundle loader
func NewLoader(opts ...LoaderOption) *Loader {
	return bundle.NewLoader(opts...)
}

// NewStats creates an empty hit counter
func NewStats() *Stats {
	return stats.NewCollector()
}

// NewJournal creates a journal keeping at most maxTraces exchanges
func NewJournal(maxTraces int) *Journal {
	return tracing.NewJournal(maxTraces)
}

// RegisterBundle loads one bundle document and registers its rules. Nothing
// is registered when any item is invalid.
func RegisterBundle(ctx context.Context, reg *Registry, r io.Reader, opts ...LoaderOption) (*BundleResult, error) {
	return bundle.NewLoader(opts...).Register(ctx, reg, r)
}

// RegisterBundleFiles loads every bundle matched by the glob patterns and
// registers their rules
func RegisterBundleFiles(ctx context.Context, reg *Registry, patterns ...string) (*BundleResult, error) {
	return bundle.NewLoader().RegisterFiles(ctx, reg, patterns...)
}
