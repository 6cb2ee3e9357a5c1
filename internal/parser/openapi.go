// Package parser turns OpenAPI 3 documents into interception bundles.
package parser

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/prasenjit/go-intercept/internal/models"
)

// Parser converts OpenAPI 3 documents into bundles
type Parser struct{}

// NewParser creates a new OpenAPI parser
func NewParser() *Parser {
	return &Parser{}
}

// pathParamPattern matches OpenAPI path parameters such as {id}
var pathParamPattern = regexp.MustCompile(`\{([^}]+)\}`)

// successCodes are tried in order when picking the example response
var successCodes = []int{200, 201, 202, 204}

// Parse converts every operation of an OpenAPI document into a bundle item
// answering with the operation's example response. baseURL prefixes each
// path; when empty the first absolute server URL of the document is used.
// Operations with path parameters become skipped items whose URI holds
// ${param} placeholders to be filled through templateValues.
func (p *Parser) Parse(content []byte, baseURL string) (*models.Bundle, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI spec: %w", err)
	}

	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	base, err := resolveBaseURL(doc, baseURL)
	if err != nil {
		return nil, err
	}

	bundle := &models.Bundle{
		ID:      sanitizeID(doc.Info.Title),
		Comment: strings.TrimSpace(doc.Info.Title + " " + doc.Info.Version),
		Version: 1,
		Items:   p.extractItems(doc, base),
	}
	return bundle, nil
}

// resolveBaseURL picks the URL every path is appended to
func resolveBaseURL(doc *openapi3.T, baseURL string) (string, error) {
	if baseURL == "" {
		for _, server := range doc.Servers {
			if server == nil {
				continue
			}
			if u, err := url.Parse(server.URL); err == nil && u.IsAbs() && u.Host != "" {
				baseURL = server.URL
				break
			}
		}
	}
	if baseURL == "" {
		return "", fmt.Errorf("no base URL given and the document declares no absolute server URL")
	}

	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("base URL %q is not absolute", baseURL)
	}
	return strings.TrimSuffix(baseURL, "/"), nil
}

// extractItems converts operations in path then method order
func (p *Parser) extractItems(doc *openapi3.T, base string) []models.BundleItem {
	items := make([]models.BundleItem, 0)

	paths := doc.Paths.InMatchingOrder()
	sort.Strings(paths)

	for _, pathPattern := range paths {
		pathItem := doc.Paths.Value(pathPattern)
		if pathItem == nil {
			continue
		}

		operations := pathItem.Operations()
		methods := make([]string, 0, len(operations))
		for method := range operations {
			methods = append(methods, method)
		}
		sort.Strings(methods)

		for _, method := range methods {
			op := operations[method]
			if op == nil {
				continue
			}
			items = append(items, buildItem(base, method, pathPattern, op))
		}
	}

	return items
}

// buildItem converts one operation
func buildItem(base, method, pathPattern string, op *openapi3.Operation) models.BundleItem {
	id := op.OperationID
	if id == "" {
		id = fmt.Sprintf("%s_%s", strings.ToLower(method), sanitizePath(pathPattern))
	}

	item := models.BundleItem{
		ID:      id,
		Comment: op.Summary,
		Method:  method,
		URI:     base + pathParamPattern.ReplaceAllString(pathPattern, "$${$1}"),
	}

	if params := pathParamPattern.FindAllStringSubmatch(pathPattern, -1); len(params) > 0 {
		item.Skip = true
		names := make([]string, len(params))
		for i, m := range params {
			names[i] = m[1]
		}
		item.Comment = strings.TrimSpace(item.Comment + " (set templateValues for " + strings.Join(names, ", ") + ")")
	}

	applyExampleResponse(&item, op)
	return item
}

// applyExampleResponse fills status, headers and content from the first
// documented success response
func applyExampleResponse(item *models.BundleItem, op *openapi3.Operation) {
	if op.Responses == nil {
		return
	}

	for _, statusCode := range successCodes {
		response := op.Responses.Status(statusCode)
		if response == nil || response.Value == nil {
			continue
		}

		item.Status = models.Scalar(strconv.Itoa(statusCode))

		for name, header := range response.Value.Headers {
			if header.Value != nil && header.Value.Example != nil {
				if item.ResponseHeaders == nil {
					item.ResponseHeaders = map[string][]string{}
				}
				item.ResponseHeaders[http.CanonicalHeaderKey(name)] = []string{fmt.Sprintf("%v", header.Value.Example)}
			}
		}

		mediaTypes := make([]string, 0, len(response.Value.Content))
		for mediaType := range response.Value.Content {
			mediaTypes = append(mediaTypes, mediaType)
		}
		sort.Strings(mediaTypes)

		for _, mediaType := range mediaTypes {
			mt := response.Value.Content[mediaType]
			example, ok := exampleValue(mt)
			if !ok {
				continue
			}

			if strings.Contains(mediaType, "json") {
				item.ContentFormat = models.ContentFormatJSON
				item.ContentJSON = example
				if mediaType != "application/json" {
					item.ContentHeaders = map[string][]string{"Content-Type": {mediaType}}
				}
			} else {
				item.ContentFormat = models.ContentFormatString
				item.ContentString = fmt.Sprintf("%v", example)
				item.ContentHeaders = map[string][]string{"Content-Type": {mediaType}}
			}
			break
		}
		return
	}
}

// exampleValue returns the direct example, the first named example in name
// order, or a value derived from the schema
func exampleValue(mt *openapi3.MediaType) (any, bool) {
	if mt == nil {
		return nil, false
	}
	if mt.Example != nil {
		return mt.Example, true
	}
	if len(mt.Examples) > 0 {
		names := make([]string, 0, len(mt.Examples))
		for name := range mt.Examples {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ex := mt.Examples[name]
			if ex != nil && ex.Value != nil && ex.Value.Value != nil {
				return ex.Value.Value, true
			}
		}
	}
	if mt.Schema != nil && mt.Schema.Value != nil {
		return exampleFromSchema(mt.Schema.Value), true
	}
	return nil, false
}

// exampleFromSchema derives a placeholder value from a schema
func exampleFromSchema(schema *openapi3.Schema) any {
	if schema.Example != nil {
		return schema.Example
	}
	if schema.Type == nil || len(schema.Type.Slice()) == 0 {
		return map[string]any{}
	}

	switch schema.Type.Slice()[0] {
	case openapi3.TypeObject:
		obj := map[string]any{}
		for name, prop := range schema.Properties {
			if prop != nil && prop.Value != nil {
				obj[name] = exampleFromSchema(prop.Value)
			}
		}
		return obj
	case openapi3.TypeArray:
		if schema.Items != nil && schema.Items.Value != nil {
			return []any{exampleFromSchema(schema.Items.Value)}
		}
		return []any{}
	case openapi3.TypeString:
		return "string"
	case openapi3.TypeInteger:
		return 0
	case openapi3.TypeNumber:
		return 0.0
	case openapi3.TypeBoolean:
		return false
	default:
		return nil
	}
}

// sanitizePath converts a path to a valid identifier
func sanitizePath(pathPattern string) string {
	result := strings.ReplaceAll(pathPattern, "{", "")
	result = strings.ReplaceAll(result, "}", "")
	result = strings.ReplaceAll(result, "/", "_")
	result = strings.TrimPrefix(result, "_")
	result = strings.TrimSuffix(result, "_")
	return result
}

// sanitizeID turns a title into a lower-case dashed id
func sanitizeID(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return strings.Join(fields, "-")
}
