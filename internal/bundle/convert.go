package bundle

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/prasenjit/go-intercept/internal/condition"
	"github.com/prasenjit/go-intercept/internal/content"
	"github.com/prasenjit/go-intercept/internal/models"
	"github.com/prasenjit/go-intercept/internal/registry"
	"github.com/prasenjit/go-intercept/internal/template"
)

// Convert turns a bundle item into a match rule. globals are template values
// shared by every item; the item's own values take precedence. Convert has
// no side effects.
func Convert(item models.BundleItem, globals map[string]string) (*models.MatchRule, error) {
	id := item.ID
	fail := func(field string, err error) error {
		return &models.ConfigError{ItemID: id, Field: field, Err: err}
	}

	values := make(map[string]string, len(globals)+len(item.TemplateValues))
	for k, v := range globals {
		values[k] = v
	}
	for k, v := range item.TemplateValues {
		values[k] = v
	}
	engine := template.NewEngine(values)

	rawURI := engine.Process(strings.TrimSpace(item.URI))
	if rawURI == "" {
		return nil, fail("uri", fmt.Errorf("uri is required"))
	}
	uri, err := url.Parse(rawURI)
	if err != nil {
		return nil, fail("uri", err)
	}
	if !uri.IsAbs() || uri.Host == "" {
		return nil, fail("uri", fmt.Errorf("uri %q is not absolute", rawURI))
	}

	if item.Version != "" {
		if err := ValidateVersion(string(item.Version)); err != nil {
			return nil, fail("version", err)
		}
	}

	status, err := ParseStatus(string(item.Status))
	if err != nil {
		return nil, fail("status", err)
	}

	body, mediaType, err := resolveContent(item)
	if err != nil {
		return nil, fail("content", err)
	}
	body = engine.Process(body)

	method := item.Method
	if method == "" {
		method = http.MethodGet
	}

	b := registry.NewBuilder().
		WithID(item.ID).
		WithComment(item.Comment).
		ForMethod(method).
		ForURI(uri).
		Responds(status).
		WithContent(content.String(body, mediaType))

	if item.IgnorePath {
		b.IgnoringPath()
	}
	if item.IgnoreQuery {
		b.IgnoringQuery()
	}
	if item.Priority != nil {
		b.WithPriority(*item.Priority)
	}
	if item.Skip {
		b.Skipped()
	}

	for name, vals := range engine.ProcessHeaders(item.RequestHeaders) {
		b.ForRequestHeader(name, vals...)
	}
	for name, vals := range engine.ProcessHeaders(item.ResponseHeaders) {
		b.WithResponseHeader(name, vals...)
	}
	for name, vals := range engine.ProcessHeaders(item.ContentHeaders) {
		b.WithContentHeader(name, vals...)
	}

	pred, err := predicate(item)
	if err != nil {
		return nil, err
	}
	if pred != nil {
		b.When(pred)
	}

	return b.Build()
}

// resolveContent returns the body text and media type selected by contentFormat
func resolveContent(item models.BundleItem) (string, string, error) {
	switch item.ContentFormat {
	case "", models.ContentFormatString:
		return item.ContentString, content.MediaTypeText, nil

	case models.ContentFormatBase64:
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(item.ContentString))
		if err != nil {
			return "", "", fmt.Errorf("invalid base64 content: %w", err)
		}
		if !utf8.Valid(decoded) {
			return "", "", fmt.Errorf("base64 content is not valid UTF-8 text")
		}
		return string(decoded), content.MediaTypeText, nil

	case models.ContentFormatJSON:
		if item.ContentJSON == nil {
			return "", "", fmt.Errorf("contentJson is required when contentFormat is %q", models.ContentFormatJSON)
		}
		data, err := json.Marshal(item.ContentJSON)
		if err != nil {
			return "", "", fmt.Errorf("failed to serialize contentJson: %w", err)
		}
		return string(data), content.MediaTypeJSON, nil

	default:
		return "", "", fmt.Errorf("%w %q", models.ErrUnsupportedContentFormat, item.ContentFormat)
	}
}

// predicate combines conditions and the match expression of an item
func predicate(item models.BundleItem) (models.Predicate, error) {
	var preds []models.Predicate

	if len(item.Conditions) > 0 {
		p, err := condition.NewEvaluator().Predicate(item.Conditions)
		if err != nil {
			return nil, &models.ConfigError{ItemID: item.ID, Field: "conditions", Err: err}
		}
		preds = append(preds, p)
	}

	if expr := strings.TrimSpace(item.Match); expr != "" {
		p, err := condition.Compile(expr)
		if err != nil {
			return nil, &models.ConfigError{ItemID: item.ID, Field: "match", Err: err}
		}
		preds = append(preds, p)
	}

	switch len(preds) {
	case 0:
		return nil, nil
	case 1:
		return preds[0], nil
	default:
		return func(r *http.Request) bool {
			for _, p := range preds {
				if !p(r) {
					return false
				}
			}
			return true
		}, nil
	}
}
