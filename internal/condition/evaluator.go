package condition

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/prasenjit/go-intercept/internal/models"
	"github.com/tidwall/gjson"
)

// Evaluator evaluates conditions against request data
type Evaluator struct{}

// NewEvaluator creates a new condition evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// RequestData contains all request data for condition evaluation
type RequestData struct {
	Method      string
	Path        string
	QueryParams map[string][]string
	Headers     map[string][]string
	Body        string
}

// NewRequestData captures r for evaluation. The request body is read and
// replaced so later readers still see it.
func NewRequestData(r *http.Request) (*RequestData, error) {
	body, err := PeekBody(r)
	if err != nil {
		return nil, err
	}

	data := &RequestData{
		Method:  r.Method,
		Headers: r.Header,
		Body:    string(body),
	}
	if r.URL != nil {
		data.Path = r.URL.Path
		data.QueryParams = r.URL.Query()
	}
	return data, nil
}

// PeekBody reads the request body and puts an identical reader back
func PeekBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return body, nil
}

// Validate checks that every condition uses a known source and operator and
// that regex values compile
func (e *Evaluator) Validate(conditions []models.Condition) error {
	for i, cond := range conditions {
		if !slices.Contains(models.ValidSources(), cond.Source) {
			return fmt.Errorf("condition %d: unknown source %q", i, cond.Source)
		}
		if !slices.Contains(models.ValidOperators(), cond.Operator) {
			return fmt.Errorf("condition %d: unknown operator %q", i, cond.Operator)
		}
		if cond.Operator == models.OpRegex {
			if _, err := regexp.Compile(cond.Value); err != nil {
				return fmt.Errorf("condition %d: invalid regex: %w", i, err)
			}
		}
		if (cond.Source == models.SourceQuery || cond.Source == models.SourceHeader) && cond.Key == "" {
			return fmt.Errorf("condition %d: %s conditions need a key", i, cond.Source)
		}
	}
	return nil
}

// Predicate compiles conditions into a request predicate (AND logic)
func (e *Evaluator) Predicate(conditions []models.Condition) (models.Predicate, error) {
	if err := e.Validate(conditions); err != nil {
		return nil, err
	}
	conds := append([]models.Condition(nil), conditions...)

	return func(r *http.Request) bool {
		data, err := NewRequestData(r)
		if err != nil {
			return false
		}
		return e.EvaluateAll(conds, data)
	}, nil
}

// EvaluateAll evaluates all conditions against request data
// All conditions must match (AND logic)
func (e *Evaluator) EvaluateAll(conditions []models.Condition, data *RequestData) bool {
	if len(conditions) == 0 {
		return true
	}

	for _, cond := range conditions {
		if !e.Evaluate(cond, data) {
			return false
		}
	}

	return true
}

// Evaluate evaluates a single condition against request data
func (e *Evaluator) Evaluate(cond models.Condition, data *RequestData) bool {
	value := e.extractValue(cond.Source, cond.Key, data)
	return e.compare(value, cond.Operator, cond.Value)
}

// extractValue extracts a value from request data based on source and key
func (e *Evaluator) extractValue(source, key string, data *RequestData) string {
	switch source {
	case models.SourceMethod:
		return data.Method
	case models.SourcePath:
		return data.Path
	case models.SourceQuery:
		if vals, ok := data.QueryParams[key]; ok && len(vals) > 0 {
			return vals[0]
		}
		return ""
	case models.SourceHeader:
		// Headers are case-insensitive
		for k, vals := range data.Headers {
			if strings.EqualFold(k, key) && len(vals) > 0 {
				return vals[0]
			}
		}
		return ""
	case models.SourceBody:
		if key == "" {
			return data.Body
		}
		result := gjson.Get(data.Body, key)
		if result.Exists() {
			return result.String()
		}
		return ""
	default:
		return ""
	}
}

// compare compares a value against an expected value using the specified operator
func (e *Evaluator) compare(actual, operator, expected string) bool {
	switch operator {
	case models.OpEquals:
		return actual == expected
	case models.OpNotEquals:
		return actual != expected
	case models.OpContains:
		return strings.Contains(actual, expected)
	case models.OpNotContains:
		return !strings.Contains(actual, expected)
	case models.OpStartsWith:
		return strings.HasPrefix(actual, expected)
	case models.OpEndsWith:
		return strings.HasSuffix(actual, expected)
	case models.OpRegex:
		re, err := regexp.Compile(expected)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	case models.OpExists:
		return actual != ""
	case models.OpNotExists:
		return actual == ""
	case models.OpGreaterThan:
		return compareNumeric(actual, expected) > 0
	case models.OpLessThan:
		return compareNumeric(actual, expected) < 0
	case models.OpGTE:
		return compareNumeric(actual, expected) >= 0
	case models.OpLTE:
		return compareNumeric(actual, expected) <= 0
	default:
		return false
	}
}

// compareNumeric compares two values numerically
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func compareNumeric(a, b string) int {
	aFloat, aErr := strconv.ParseFloat(a, 64)
	bFloat, bErr := strconv.ParseFloat(b, 64)

	if aErr != nil || bErr != nil {
		// Fall back to string comparison
		return strings.Compare(a, b)
	}

	if aFloat < bFloat {
		return -1
	} else if aFloat > bFloat {
		return 1
	}
	return 0
}
