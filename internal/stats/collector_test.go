package stats

import (
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/prasenjit/go-intercept/internal/models"
)

func testRule(id, rawURL string) *models.MatchRule {
	u, _ := url.Parse(rawURL)
	return &models.MatchRule{ID: id, Method: "GET", URI: u, Status: 200}
}

func TestRecordMatch(t *testing.T) {
	c := NewCollector()
	users := testRule("users", "https://api.example.com/users")

	c.RecordMatch(users, 100*time.Millisecond, false)

	stats := c.GetGlobalStats(1)
	if stats.TotalRequests != 1 || stats.TotalMatched != 1 {
		t.Errorf("Expected 1 matched request, got %+v", stats)
	}
	if stats.ActiveRules != 1 {
		t.Errorf("Expected 1 active rule, got %d", stats.ActiveRules)
	}

	c.RecordMatch(users, 50*time.Millisecond, true)

	ruleStats := c.GetRuleStats("users")
	if ruleStats == nil {
		t.Fatal("Expected rule stats")
	}
	if ruleStats.TotalRequests != 2 {
		t.Errorf("Expected 2 requests, got %d", ruleStats.TotalRequests)
	}
	if ruleStats.TotalErrors != 1 {
		t.Errorf("Expected 1 error, got %d", ruleStats.TotalErrors)
	}
	if ruleStats.URL != "https://api.example.com/users" {
		t.Errorf("Unexpected URL %q", ruleStats.URL)
	}
}

func TestRecordMatch_MinMaxTime(t *testing.T) {
	c := NewCollector()
	r := testRule("r", "https://x/y")

	c.RecordMatch(r, 100*time.Millisecond, false)
	c.RecordMatch(r, 50*time.Millisecond, false)
	c.RecordMatch(r, 200*time.Millisecond, false)

	stats := c.GetRuleStats("r")
	if stats.MinResponseTimeMs != 50 {
		t.Errorf("Expected min 50ms, got %f", stats.MinResponseTimeMs)
	}
	if stats.MaxResponseTimeMs != 200 {
		t.Errorf("Expected max 200ms, got %f", stats.MaxResponseTimeMs)
	}
	if stats.LastRequestTime == "" {
		t.Error("Expected last request time")
	}
}

func TestRuleKey_FallsBackToReplacementKey(t *testing.T) {
	c := NewCollector()
	anonymous := testRule("", "https://x/y")

	c.RecordMatch(anonymous, time.Millisecond, false)

	if hits := c.Hits(anonymous.Key()); hits != 1 {
		t.Errorf("Expected 1 hit, got %d", hits)
	}
	if hits := c.Hits("missing"); hits != 0 {
		t.Errorf("Expected 0 hits, got %d", hits)
	}
}

func TestRecordUnmatched(t *testing.T) {
	c := NewCollector()

	c.RecordUnmatched(false)
	c.RecordUnmatched(false)
	c.RecordUnmatched(true)

	stats := c.GetGlobalStats(0)
	if stats.TotalUnmatched != 2 {
		t.Errorf("Expected 2 unmatched, got %d", stats.TotalUnmatched)
	}
	if stats.TotalPassthrough != 1 {
		t.Errorf("Expected 1 passthrough, got %d", stats.TotalPassthrough)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("Expected 3 requests, got %d", stats.TotalRequests)
	}
	if c.Misses() != 2 {
		t.Errorf("Expected 2 misses, got %d", c.Misses())
	}
}

func TestRecordError(t *testing.T) {
	c := NewCollector()

	c.RecordError("r", "GET", "https://x/y", errors.New("boom"))

	stats := c.GetGlobalStats(0)
	if stats.TotalErrors != 1 {
		t.Errorf("Expected 1 error, got %d", stats.TotalErrors)
	}
	if len(stats.RecentErrors) != 1 {
		t.Fatalf("Expected 1 recent error, got %d", len(stats.RecentErrors))
	}
	if stats.RecentErrors[0].Error != "boom" || stats.RecentErrors[0].RuleID != "r" {
		t.Errorf("Unexpected error stat %+v", stats.RecentErrors[0])
	}
}

func TestRecordError_MaxLimit(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 150; i++ {
		c.RecordError("r", "GET", "https://x/y", fmt.Errorf("error %d", i))
	}

	stats := c.GetGlobalStats(0)
	if len(stats.RecentErrors) != 100 {
		t.Errorf("Expected 100 recent errors, got %d", len(stats.RecentErrors))
	}
	if stats.RecentErrors[0].Error != "error 50" {
		t.Errorf("Expected oldest kept error to be 'error 50', got %q", stats.RecentErrors[0].Error)
	}
}

func TestGetGlobalStats_TopRules(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 15; i++ {
		r := testRule(fmt.Sprintf("rule-%02d", i), fmt.Sprintf("https://x/%d", i))
		for j := 0; j <= i; j++ {
			c.RecordMatch(r, time.Millisecond, false)
		}
	}

	stats := c.GetGlobalStats(15)
	if len(stats.TopRules) != 10 {
		t.Fatalf("Expected top 10 rules, got %d", len(stats.TopRules))
	}
	if stats.TopRules[0].RuleID != "rule-14" {
		t.Errorf("Expected busiest rule first, got %s", stats.TopRules[0].RuleID)
	}
	if stats.AvgResponseTimeMs != 1 {
		t.Errorf("Expected 1ms average, got %f", stats.AvgResponseTimeMs)
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()
	c.RecordMatch(testRule("r", "https://x/y"), time.Millisecond, false)
	c.RecordUnmatched(true)
	c.RecordError("r", "GET", "https://x/y", errors.New("boom"))

	c.Reset()

	stats := c.GetGlobalStats(0)
	if stats.TotalRequests != 0 || stats.TotalErrors != 0 || len(stats.RecentErrors) != 0 {
		t.Errorf("Expected empty stats after reset, got %+v", stats)
	}
	if c.GetRuleStats("r") != nil {
		t.Error("Expected rule stats to be cleared")
	}
}

func TestConcurrentStatsAccess(t *testing.T) {
	c := NewCollector()
	r := testRule("r", "https://x/y")

	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			c.RecordMatch(r, time.Duration(i)*time.Millisecond, i%5 == 0)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			c.RecordError("r", "GET", "https://x/y", errors.New("error"))
			c.RecordUnmatched(i%2 == 0)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = c.GetGlobalStats(1)
			_ = c.Hits("r")
		}
		done <- true
	}()

	for i := 0; i < 3; i++ {
		<-done
	}

	stats := c.GetGlobalStats(1)
	if stats.TotalMatched != 100 {
		t.Errorf("Expected 100 matched requests, got %d", stats.TotalMatched)
	}
	if stats.TotalRequests != 200 {
		t.Errorf("Expected 200 requests, got %d", stats.TotalRequests)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{1500 * time.Microsecond, "2ms"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 10*time.Second, "2h0m0s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := formatDuration(tt.duration); result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}
