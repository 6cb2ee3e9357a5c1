package tracing

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/prasenjit/go-intercept/internal/models"
)

// DefaultLimit caps listings that do not ask for a limit
const DefaultLimit = 100

// ParseFilter reads a trace filter from query parameters: ruleId, method,
// host, outcome, statusCode, limit and since (RFC 3339)
func ParseFilter(q url.Values) (*models.TraceFilter, error) {
	filter := &models.TraceFilter{
		Limit:   DefaultLimit,
		RuleID:  q.Get("ruleId"),
		Method:  q.Get("method"),
		Host:    q.Get("host"),
		Outcome: models.Outcome(q.Get("outcome")),
	}

	switch filter.Outcome {
	case "", models.OutcomeMatched, models.OutcomeUnmatched, models.OutcomePassthrough, models.OutcomeFailed:
	default:
		return nil, fmt.Errorf("unknown outcome %q", filter.Outcome)
	}

	if v := q.Get("statusCode"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("statusCode must be an integer")
		}
		filter.StatusCode = code
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("since must be an RFC 3339 time")
		}
		filter.StartTime = since
	}

	return filter, nil
}
