package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prasenjit/go-intercept/internal/models"
)

// Collector aggregates interception statistics
type Collector struct {
	mu           sync.RWMutex
	startTime    time.Time
	rules        map[string]*models.AtomicRuleStat // rule key -> stats
	recentErrors []models.ErrorStat
	maxErrors    int

	unmatched   atomic.Int64
	passthrough atomic.Int64
	failures    atomic.Int64
}

// NewCollector creates a new statistics collector
func NewCollector() *Collector {
	return &Collector{
		startTime:    time.Now(),
		rules:        make(map[string]*models.AtomicRuleStat),
		recentErrors: make([]models.ErrorStat, 0),
		maxErrors:    100,
	}
}

// RuleKey identifies a rule in statistics: its id, or its replacement key
// when it has none
func RuleKey(rule *models.MatchRule) string {
	if rule.ID != "" {
		return rule.ID
	}
	return rule.Key()
}

// RecordMatch records a request answered by rule
func (c *Collector) RecordMatch(rule *models.MatchRule, duration time.Duration, failed bool) {
	key := RuleKey(rule)

	c.mu.Lock()
	ruleStats, ok := c.rules[key]
	if !ok {
		ruleStats = &models.AtomicRuleStat{
			RuleID: key,
			Method: rule.Method,
			URL:    rule.URL(),
		}
		ruleStats.MinTimeNs.Store(duration.Nanoseconds())
		c.rules[key] = ruleStats
	}
	c.mu.Unlock()

	ruleStats.TotalRequests.Add(1)
	ruleStats.TotalTimeNs.Add(duration.Nanoseconds())
	ruleStats.LastRequestTime.Store(time.Now())

	durationNs := duration.Nanoseconds()
	for {
		currentMin := ruleStats.MinTimeNs.Load()
		if durationNs >= currentMin || ruleStats.MinTimeNs.CompareAndSwap(currentMin, durationNs) {
			break
		}
	}
	for {
		currentMax := ruleStats.MaxTimeNs.Load()
		if durationNs <= currentMax || ruleStats.MaxTimeNs.CompareAndSwap(currentMax, durationNs) {
			break
		}
	}

	if failed {
		ruleStats.TotalErrors.Add(1)
	}
}

// RecordUnmatched records a request no rule answered. passthrough tells
// whether it was handed to the inner transport.
func (c *Collector) RecordUnmatched(passthrough bool) {
	if passthrough {
		c.passthrough.Add(1)
		return
	}
	c.unmatched.Add(1)
}

// RecordError remembers a failed interception
func (c *Collector) RecordError(ruleID, method, url string, err error) {
	c.failures.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.recentErrors = append(c.recentErrors, models.ErrorStat{
		Timestamp: time.Now(),
		RuleID:    ruleID,
		Method:    method,
		URL:       url,
		Error:     err.Error(),
	})
	if len(c.recentErrors) > c.maxErrors {
		c.recentErrors = c.recentErrors[1:]
	}
}

// Hits returns how many requests the rule with the given key answered
func (c *Collector) Hits(ruleKey string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if s, ok := c.rules[ruleKey]; ok {
		return s.TotalRequests.Load()
	}
	return 0
}

// Misses returns the number of unmatched requests that were not passed through
func (c *Collector) Misses() int64 {
	return c.unmatched.Load()
}

// GetGlobalStats returns global statistics
func (c *Collector) GetGlobalStats(activeRules int) *models.GlobalStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched, totalTimeNs int64

	ruleStats := make([]models.RuleStat, 0, len(c.rules))
	for _, r := range c.rules {
		stat := r.ToRuleStat()
		ruleStats = append(ruleStats, stat)
		matched += stat.TotalRequests
		totalTimeNs += r.TotalTimeNs.Load()
	}

	sort.Slice(ruleStats, func(i, j int) bool {
		if ruleStats[i].TotalRequests != ruleStats[j].TotalRequests {
			return ruleStats[i].TotalRequests > ruleStats[j].TotalRequests
		}
		return ruleStats[i].RuleID < ruleStats[j].RuleID
	})

	topRules := ruleStats
	if len(topRules) > 10 {
		topRules = topRules[:10]
	}

	var avgResponseTimeMs float64
	if matched > 0 {
		avgResponseTimeMs = float64(totalTimeNs) / float64(matched) / 1e6
	}

	unmatched := c.unmatched.Load()
	passthrough := c.passthrough.Load()

	return &models.GlobalStats{
		TotalRequests:     matched + unmatched + passthrough,
		TotalMatched:      matched,
		TotalUnmatched:    unmatched,
		TotalPassthrough:  passthrough,
		TotalErrors:       c.failures.Load(),
		ActiveRules:       activeRules,
		AvgResponseTimeMs: avgResponseTimeMs,
		StartTime:         c.startTime,
		Uptime:            formatDuration(time.Since(c.startTime)),
		TopRules:          topRules,
		RecentErrors:      append([]models.ErrorStat(nil), c.recentErrors...),
	}
}

// GetRuleStats returns statistics for a single rule
func (c *Collector) GetRuleStats(ruleKey string) *models.RuleStat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if r, ok := c.rules[ruleKey]; ok {
		stat := r.ToRuleStat()
		return &stat
	}

	return nil
}

// Reset resets all statistics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.rules = make(map[string]*models.AtomicRuleStat)
	c.recentErrors = make([]models.ErrorStat, 0)
	c.unmatched.Store(0)
	c.passthrough.Store(0)
	c.failures.Store(0)
}

// formatDuration formats a duration in a human-readable format
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return d.Round(time.Minute).String()
	case d >= time.Minute:
		return d.Round(time.Second).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
