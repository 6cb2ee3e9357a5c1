package models

import (
	"sync/atomic"
	"time"
)

// GlobalStats represents interception statistics across all rules
type GlobalStats struct {
	TotalRequests     int64       `json:"totalRequests"`
	TotalMatched      int64       `json:"totalMatched"`
	TotalUnmatched    int64       `json:"totalUnmatched"`
	TotalPassthrough  int64       `json:"totalPassthrough"`
	TotalErrors       int64       `json:"totalErrors"`
	ActiveRules       int         `json:"activeRules"`
	AvgResponseTimeMs float64     `json:"avgResponseTimeMs"`
	StartTime         time.Time   `json:"startTime"`
	Uptime            string      `json:"uptime"`
	TopRules          []RuleStat  `json:"topRules"`
	RecentErrors      []ErrorStat `json:"recentErrors"`
}

// RuleStat represents statistics for a single match rule
type RuleStat struct {
	RuleID            string  `json:"ruleId"`
	Method            string  `json:"method"`
	URL               string  `json:"url"`
	TotalRequests     int64   `json:"totalRequests"`
	TotalErrors       int64   `json:"totalErrors"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	MinResponseTimeMs float64 `json:"minResponseTimeMs"`
	MaxResponseTimeMs float64 `json:"maxResponseTimeMs"`
	LastRequestTime   string  `json:"lastRequestTime,omitempty"`
}

// ErrorStat represents a failed interception
type ErrorStat struct {
	Timestamp time.Time `json:"timestamp"`
	RuleID    string    `json:"ruleId,omitempty"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Error     string    `json:"error"`
}

// AtomicRuleStat is a thread-safe version of rule statistics
type AtomicRuleStat struct {
	RuleID          string
	Method          string
	URL             string
	TotalRequests   atomic.Int64
	TotalErrors     atomic.Int64
	TotalTimeNs     atomic.Int64
	MinTimeNs       atomic.Int64
	MaxTimeNs       atomic.Int64
	LastRequestTime atomic.Value // stores time.Time
}

// ToRuleStat converts to a regular RuleStat
func (a *AtomicRuleStat) ToRuleStat() RuleStat {
	totalReqs := a.TotalRequests.Load()
	totalTimeNs := a.TotalTimeNs.Load()
	var avgMs float64
	if totalReqs > 0 {
		avgMs = float64(totalTimeNs) / float64(totalReqs) / 1e6
	}

	var lastReqTime string
	if t, ok := a.LastRequestTime.Load().(time.Time); ok && !t.IsZero() {
		lastReqTime = t.Format(time.RFC3339)
	}

	return RuleStat{
		RuleID:            a.RuleID,
		Method:            a.Method,
		URL:               a.URL,
		TotalRequests:     totalReqs,
		TotalErrors:       a.TotalErrors.Load(),
		AvgResponseTimeMs: avgMs,
		MinResponseTimeMs: float64(a.MinTimeNs.Load()) / 1e6,
		MaxResponseTimeMs: float64(a.MaxTimeNs.Load()) / 1e6,
		LastRequestTime:   lastReqTime,
	}
}
