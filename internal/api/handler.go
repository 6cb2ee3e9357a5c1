package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/go-intercept/internal/bundle"
	"github.com/prasenjit/go-intercept/internal/models"
	"github.com/prasenjit/go-intercept/internal/parser"
	"github.com/prasenjit/go-intercept/internal/registry"
	"github.com/prasenjit/go-intercept/internal/stats"
	"github.com/prasenjit/go-intercept/internal/tracing"
)

// maxDocumentSize bounds uploaded bundle and OpenAPI documents
const maxDocumentSize = 8 << 20

// Handler handles API requests
type Handler struct {
	registry       *registry.Registry
	statsCollector *stats.Collector
	journal        *tracing.Journal
	loader         *bundle.Loader
	parser         *parser.Parser
	logger         logrus.FieldLogger
}

// NewHandler creates a new API handler
func NewHandler(reg *registry.Registry, statsCollector *stats.Collector, journal *tracing.Journal, logger logrus.FieldLogger) *Handler {
	return &Handler{
		registry:       reg,
		statsCollector: statsCollector,
		journal:        journal,
		loader:         bundle.NewLoader(bundle.WithLogger(logger)),
		parser:         parser.NewParser(),
		logger:         logger,
	}
}

// RuleView is the JSON form of a registered rule
type RuleView struct {
	ID              string              `json:"id,omitempty"`
	Key             string              `json:"key"`
	Comment         string              `json:"comment,omitempty"`
	Method          string              `json:"method"`
	URI             string              `json:"uri"`
	IgnorePath      bool                `json:"ignorePath,omitempty"`
	IgnoreQuery     bool                `json:"ignoreQuery,omitempty"`
	Priority        int                 `json:"priority"`
	HasPredicate    bool                `json:"hasPredicate,omitempty"`
	RequestHeaders  map[string][]string `json:"requestHeaders,omitempty"`
	Status          int                 `json:"status"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ContentHeaders  map[string][]string `json:"contentHeaders,omitempty"`
	ContentKind     string              `json:"contentKind,omitempty"`
	MediaType       string              `json:"mediaType,omitempty"`
	Hits            int64               `json:"hits"`
}

func (h *Handler) view(rule *models.MatchRule) RuleView {
	v := RuleView{
		ID:              rule.ID,
		Key:             rule.Key(),
		Comment:         rule.Comment,
		Method:          rule.Method,
		URI:             rule.URL(),
		IgnorePath:      rule.IgnorePath,
		IgnoreQuery:     rule.IgnoreQuery,
		Priority:        rule.Priority,
		HasPredicate:    rule.Predicate != nil,
		RequestHeaders:  rule.RequestHeaders,
		Status:          rule.Status,
		ResponseHeaders: rule.ResponseHeaders,
		ContentHeaders:  rule.ContentHeaders,
		Hits:            h.statsCollector.Hits(stats.RuleKey(rule)),
	}
	if rule.Content != nil {
		v.ContentKind = rule.Content.Kind().String()
		v.MediaType = rule.Content.MediaType()
	}
	return v
}

// ListRules returns all registered rules in registration order
func (h *Handler) ListRules(c *gin.Context) {
	rules := h.registry.Rules()

	result := make([]RuleView, len(rules))
	for i, rule := range rules {
		result[i] = h.view(rule)
	}

	c.JSON(http.StatusOK, result)
}

// GetRule returns a single rule
func (h *Handler) GetRule(c *gin.Context) {
	rule, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}

	c.JSON(http.StatusOK, h.view(rule))
}

// DeleteRule removes every rule carrying the id
func (h *Handler) DeleteRule(c *gin.Context) {
	id := c.Param("id")

	if removed := h.registry.Remove(id); removed == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}

	h.journal.ClearRule(id)
	c.Status(http.StatusNoContent)
}

// ClearRules removes every rule
func (h *Handler) ClearRules(c *gin.Context) {
	h.registry.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Rules cleared"})
}

// LoadBundle registers a bundle document posted as JSON or YAML
func (h *Handler) LoadBundle(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.registerDocument(c, data)
}

// ImportOpenAPI converts an OpenAPI document into a bundle and registers it.
// The baseUrl query parameter overrides the document servers.
func (h *Handler) ImportOpenAPI(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.parser.Parse(data, c.Query("baseUrl"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OpenAPI spec: " + err.Error()})
		return
	}

	doc, err := json.Marshal(b)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.registerDocument(c, doc)
}

// BundleSchema returns the JSON schema bundle documents are validated against
func (h *Handler) BundleSchema(c *gin.Context) {
	c.Data(http.StatusOK, "application/schema+json", bundle.SchemaDocument())
}

func (h *Handler) registerDocument(c *gin.Context, data []byte) {
	result, err := h.loader.LoadBytes(c.Request.Context(), data)
	if err == nil {
		if c.Query("replace") == "true" {
			err = h.registry.Replace(result.Rules...)
		} else {
			err = h.registry.Register(result.Rules...)
		}
	}
	if err != nil {
		writeConfigError(c, err)
		return
	}

	ids := make([]string, 0, len(result.Bundles))
	for _, b := range result.Bundles {
		ids = append(ids, b.ID)
	}

	c.JSON(http.StatusCreated, gin.H{
		"bundles":    ids,
		"registered": len(result.Rules),
		"skipped":    len(result.Skipped),
	})
}

func writeConfigError(c *gin.Context, err error) {
	var cfgErr *models.ConfigError
	if errors.As(err, &cfgErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  err.Error(),
			"itemId": cfgErr.ItemID,
			"field":  cfgErr.Field,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// MatchInput describes a request to evaluate without sending it
type MatchInput struct {
	Method  string              `json:"method"`
	URL     string              `json:"url" binding:"required"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

// MatchRequest reports which rule would answer the described request
func (h *Handler) MatchRequest(c *gin.Context) {
	var input MatchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	method := strings.ToUpper(input.Method)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), method, input.URL, strings.NewReader(input.Body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for name, values := range input.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	rule, ok := h.registry.Match(req)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"matched": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"matched": true, "rule": h.view(rule)})
}

// PolicyInput changes the missing registration policy
type PolicyInput struct {
	ThrowOnMissingRegistration *bool `json:"throwOnMissingRegistration"`
}

// GetPolicy returns the missing registration policy
func (h *Handler) GetPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"throwOnMissingRegistration": h.registry.ThrowsOnMissingRegistration()})
}

// SetPolicy updates the missing registration policy
func (h *Handler) SetPolicy(c *gin.Context) {
	var input PolicyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.ThrowOnMissingRegistration == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "throwOnMissingRegistration is required"})
		return
	}

	h.registry.SetMissingRegistrationPolicy(*input.ThrowOnMissingRegistration)
	h.logger.WithField("throwOnMissingRegistration", *input.ThrowOnMissingRegistration).Info("missing registration policy changed")
	h.GetPolicy(c)
}

// GetGlobalStats returns global statistics
func (h *Handler) GetGlobalStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.statsCollector.GetGlobalStats(h.registry.Len()))
}

// GetRuleStats returns statistics for a rule
func (h *Handler) GetRuleStats(c *gin.Context) {
	stat := h.statsCollector.GetRuleStats(c.Param("id"))
	if stat == nil {
		c.JSON(http.StatusOK, gin.H{"message": "No statistics available"})
		return
	}

	c.JSON(http.StatusOK, stat)
}

// ResetStats resets all statistics
func (h *Handler) ResetStats(c *gin.Context) {
	h.statsCollector.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "Statistics reset"})
}

// ListTraces returns traces, newest first
func (h *Handler) ListTraces(c *gin.Context) {
	filter, err := tracing.ParseFilter(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.journal.List(filter))
}

// GetTrace returns a single trace
func (h *Handler) GetTrace(c *gin.Context) {
	trace, ok := h.journal.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trace not found"})
		return
	}

	c.JSON(http.StatusOK, trace)
}

// TraceSummary returns journal counts per outcome
func (h *Handler) TraceSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.journal.Summary())
}

// ClearTraces clears all traces, or those of one rule
func (h *Handler) ClearTraces(c *gin.Context) {
	if ruleID := c.Query("ruleId"); ruleID != "" {
		removed := h.journal.ClearRule(ruleID)
		c.JSON(http.StatusOK, gin.H{"message": "Traces cleared", "removed": removed})
		return
	}
	h.journal.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Traces cleared"})
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"rules":     h.registry.Len(),
		"traces":    h.journal.Summary().Total,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
