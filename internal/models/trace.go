package models

import (
	"strings"
	"time"
)

// Outcome describes how an intercepted request was handled
type Outcome string

const (
	OutcomeMatched     Outcome = "matched"
	OutcomeUnmatched   Outcome = "unmatched"
	OutcomePassthrough Outcome = "passthrough"
	OutcomeFailed      Outcome = "failed"
)

// Trace represents a captured intercepted exchange
type Trace struct {
	ID          string         `json:"id"`
	RuleID      string         `json:"ruleId,omitempty"`
	RuleComment string         `json:"ruleComment,omitempty"`
	Outcome     Outcome        `json:"outcome"`
	Timestamp   time.Time      `json:"timestamp"`
	Duration    int64          `json:"duration"` // Duration in nanoseconds
	Request     TraceRequest   `json:"request"`
	Response    *TraceResponse `json:"response,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// TraceRequest represents the captured request
type TraceRequest struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Host    string              `json:"host"`
	Path    string              `json:"path"`
	Query   map[string][]string `json:"query"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

// TraceResponse represents the synthesized or passed-through response
type TraceResponse struct {
	StatusCode int                 `json:"statusCode"`
	Headers    map[string][]string `json:"headers"`
	Body       string              `json:"body,omitempty"`
}

// TraceFilter represents filters for querying traces
type TraceFilter struct {
	RuleID     string    `json:"ruleId,omitempty"`
	Method     string    `json:"method,omitempty"`
	Host       string    `json:"host,omitempty"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	StartTime  time.Time `json:"startTime,omitempty"`
	EndTime    time.Time `json:"endTime,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

// Accepts reports whether a trace passes the filter. A nil filter accepts
// everything.
func (f *TraceFilter) Accepts(t *Trace) bool {
	if f == nil {
		return true
	}
	if f.RuleID != "" && t.RuleID != f.RuleID {
		return false
	}
	if f.Method != "" && !strings.EqualFold(t.Request.Method, f.Method) {
		return false
	}
	if f.Host != "" && !strings.EqualFold(t.Request.Host, f.Host) {
		return false
	}
	if f.Outcome != "" && t.Outcome != f.Outcome {
		return false
	}
	if f.StatusCode != 0 && (t.Response == nil || t.Response.StatusCode != f.StatusCode) {
		return false
	}
	if !f.StartTime.IsZero() && t.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && t.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
