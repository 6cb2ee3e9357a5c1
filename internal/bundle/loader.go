// Package bundle loads declarative interception bundles written as JSON or
// YAML and converts their items into match rules.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/prasenjit/go-intercept/internal/logging"
	"github.com/prasenjit/go-intercept/internal/models"
	"github.com/prasenjit/go-intercept/internal/registry"
)

// Result is the outcome of loading one or more bundles
type Result struct {
	Bundles []models.Bundle
	// Rules are the live rules in declaration order
	Rules []*models.MatchRule
	// Skipped are items marked skip; they are converted but never registered
	Skipped []*models.MatchRule
}

// Loader parses bundles
type Loader struct {
	logger         logrus.FieldLogger
	templateValues map[string]string
}

// Option configures a Loader
type Option func(l *Loader)

// WithLogger overrides the default discarding logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithTemplateValues sets placeholder values shared by every item. Values an
// item declares itself win.
func WithTemplateValues(values map[string]string) Option {
	return func(l *Loader) {
		for k, v := range values {
			l.templateValues[k] = v
		}
	}
}

// NewLoader creates a bundle loader
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		logger:         logging.Discard(),
		templateValues: map[string]string{},
	}
	for _, apply := range opts {
		apply(l)
	}
	return l
}

// Load reads one bundle document. It does not touch any registry.
func (l *Loader) Load(ctx context.Context, r io.Reader) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	return l.LoadBytes(ctx, data)
}

// LoadBytes parses and converts a bundle document held in memory
func (l *Loader) LoadBytes(ctx context.Context, data []byte) (*Result, error) {
	b, err := Parse(data)
	if err != nil {
		return nil, err
	}

	result := &Result{Bundles: []models.Bundle{*b}}
	for i, item := range b.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rule, err := Convert(item, l.templateValues)
		if err != nil {
			return nil, err
		}

		if rule.Skip {
			result.Skipped = append(result.Skipped, rule)
		} else {
			result.Rules = append(result.Rules, rule)
		}

		l.logger.WithFields(logrus.Fields{
			"bundle": b.ID,
			"item":   item.ItemID(),
			"index":  i,
			"method": rule.Method,
			"url":    rule.URL(),
			"skip":   rule.Skip,
		}).Debug("loaded bundle item")
	}

	return result, nil
}

// LoadFile loads a bundle from disk
func (l *Loader) LoadFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle file: %w", err)
	}
	result, err := l.LoadBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return result, nil
}

// LoadFiles loads every bundle matching the patterns. Patterns may use
// doublestar globs such as testdata/**/*.yaml. Files are read concurrently;
// rules keep the order of the files and of the items within them.
func (l *Loader) LoadFiles(ctx context.Context, patterns ...string) (*Result, error) {
	paths, err := Expand(patterns...)
	if err != nil {
		return nil, err
	}

	contents := make([][]byte, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read bundle file: %w", err)
			}
			contents[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &Result{}
	for i, data := range contents {
		result, err := l.LoadBytes(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", paths[i], err)
		}
		merged.Bundles = append(merged.Bundles, result.Bundles...)
		merged.Rules = append(merged.Rules, result.Rules...)
		merged.Skipped = append(merged.Skipped, result.Skipped...)
	}
	return merged, nil
}

// Register loads a bundle and registers its live rules. Nothing is
// registered when loading fails or ctx is cancelled.
func (l *Loader) Register(ctx context.Context, reg *registry.Registry, r io.Reader) (*Result, error) {
	result, err := l.Load(ctx, r)
	if err != nil {
		return nil, err
	}
	return result, l.register(ctx, reg, result)
}

// RegisterFiles loads bundle files and registers their live rules
func (l *Loader) RegisterFiles(ctx context.Context, reg *registry.Registry, patterns ...string) (*Result, error) {
	result, err := l.LoadFiles(ctx, patterns...)
	if err != nil {
		return nil, err
	}
	return result, l.register(ctx, reg, result)
}

func (l *Loader) register(ctx context.Context, reg *registry.Registry, result *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := reg.Register(result.Rules...); err != nil {
		return err
	}
	l.logger.WithFields(logrus.Fields{
		"rules":   len(result.Rules),
		"skipped": len(result.Skipped),
	}).Info("registered bundle")
	return nil
}

// Expand resolves glob patterns into a sorted, de-duplicated file list.
// A pattern that matches nothing is an error.
func Expand(patterns ...string) ([]string, error) {
	seen := map[string]struct{}{}
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid bundle pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no bundle files match %q", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	return paths, nil
}

// Parse decodes and validates a JSON or YAML bundle document
func Parse(data []byte) (*models.Bundle, error) {
	doc, canonical, err := decodeDocument(data)
	if err != nil {
		return nil, &models.ConfigError{Field: "document", Err: err}
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.UseNumber()
	var b models.Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, &models.ConfigError{Field: "document", Err: err}
	}
	if b.Version == 0 {
		b.Version = 1
	}
	return &b, nil
}

// decodeDocument returns the document as generic JSON values plus its
// canonical JSON encoding. YAML is converted to JSON first.
func decodeDocument(data []byte) (any, []byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("bundle document is empty")
	}

	if trimmed[0] != '{' {
		converted, err := yamlToJSON(trimmed)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		trimmed = converted
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if dec.More() {
		return nil, nil, fmt.Errorf("unexpected data after bundle document")
	}
	return doc, trimmed, nil
}
