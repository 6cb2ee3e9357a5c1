package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prasenjit/go-intercept/internal/logging"
	"github.com/prasenjit/go-intercept/internal/models"
	"github.com/prasenjit/go-intercept/internal/registry"
	"github.com/prasenjit/go-intercept/internal/stats"
	"github.com/prasenjit/go-intercept/internal/tracing"
	"github.com/prasenjit/go-intercept/internal/transport"
)

const pingBundle = `{
	"id": "ping",
	"items": [
		{
			"id": "ping",
			"comment": "liveness",
			"uri": "http://api.example.com/v1/ping",
			"status": "OK",
			"contentFormat": "json",
			"contentJson": {"pong": true}
		},
		{
			"id": "later",
			"uri": "http://api.example.com/v1/later",
			"skip": true
		}
	]
}`

type testServer struct {
	router    *Router
	registry  *registry.Registry
	collector *stats.Collector
	traces    *tracing.Journal
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := registry.New()
	collector := stats.NewCollector()
	traces := tracing.NewJournal(100)
	interceptor := transport.New(reg,
		transport.WithStats(collector),
		transport.WithTracing(traces),
	)

	return &testServer{
		router:    NewRouter(reg, interceptor, collector, traces, logging.Discard()),
		registry:  reg,
		collector: collector,
		traces:    traces,
	}
}

func (s *testServer) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	return w
}

func (s *testServer) loadPing(t *testing.T) {
	t.Helper()
	w := s.do("POST", "/_api/bundles", strings.NewReader(pingBundle))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNewHandler(t *testing.T) {
	handler := NewHandler(registry.New(), stats.NewCollector(), tracing.NewJournal(10), logging.Discard())

	if handler == nil {
		t.Fatal("Expected handler to be created")
	}
	if handler.parser == nil {
		t.Error("Expected parser to be initialized")
	}
	if handler.loader == nil {
		t.Error("Expected loader to be initialized")
	}
}

func TestListRules_Empty(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("GET", "/_api/rules", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	if result := decode[[]RuleView](t, w); len(result) != 0 {
		t.Errorf("Expected empty array, got %d items", len(result))
	}
}

func TestLoadBundle(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("POST", "/_api/bundles", strings.NewReader(pingBundle))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	result := decode[map[string]any](t, w)
	if result["registered"] != float64(1) || result["skipped"] != float64(1) {
		t.Errorf("Unexpected load result %v", result)
	}

	rules := decode[[]RuleView](t, s.do("GET", "/_api/rules", nil))
	if len(rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(rules))
	}
	if rules[0].ID != "ping" || rules[0].Status != 200 || rules[0].Method != "GET" {
		t.Errorf("Unexpected rule %+v", rules[0])
	}
	if rules[0].MediaType != "application/json" {
		t.Errorf("Expected json media type, got %q", rules[0].MediaType)
	}
}

func TestLoadBundle_YAML(t *testing.T) {
	s := setupTestServer(t)

	doc := `
items:
  - id: teapot
    method: post
    uri: https://api.example.com/brew
    status: 418
`
	w := s.do("POST", "/_api/bundles", strings.NewReader(doc))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	rule, ok := s.registry.Get("teapot")
	if !ok {
		t.Fatal("Expected teapot rule to be registered")
	}
	if rule.Method != http.MethodPost || rule.Status != http.StatusTeapot {
		t.Errorf("Unexpected rule %s %d", rule.Method, rule.Status)
	}
}

func TestLoadBundle_Replace(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	doc := `{"items": [{"id": "other", "uri": "https://other.example.com/"}]}`
	w := s.do("POST", "/_api/bundles?replace=true", strings.NewReader(doc))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	if s.registry.Len() != 1 {
		t.Fatalf("Expected 1 rule after replace, got %d", s.registry.Len())
	}
	if _, ok := s.registry.Get("ping"); ok {
		t.Error("Expected ping rule to be replaced")
	}
}

func TestLoadBundle_ReplaceRejectedKeepsRules(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	doc := `{"items": [{"id": "broken", "uri": "/relative"}]}`
	w := s.do("POST", "/_api/bundles?replace=true", strings.NewReader(doc))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}

	if _, ok := s.registry.Get("ping"); !ok {
		t.Error("Expected ping rule to survive a rejected replace")
	}
}

func TestBundleSchema(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("GET", "/_api/bundles/schema", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/schema+json" {
		t.Errorf("Unexpected content type %q", ct)
	}

	schema := decode[map[string]any](t, w)
	if schema["title"] != "Interception bundle" {
		t.Errorf("Unexpected schema title %v", schema["title"])
	}
}

func TestLoadBundle_InvalidItem(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	doc := `{"items": [{"id": "ok", "uri": "https://x/"}, {"id": "broken", "uri": "/relative"}]}`
	w := s.do("POST", "/_api/bundles", strings.NewReader(doc))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}

	result := decode[map[string]any](t, w)
	if result["itemId"] != "broken" || result["field"] != "uri" {
		t.Errorf("Expected error naming item broken and field uri, got %v", result)
	}
	if s.registry.Len() != 1 {
		t.Errorf("Expected registry to be unchanged, got %d rules", s.registry.Len())
	}
}

func TestLoadBundle_Malformed(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("POST", "/_api/bundles", strings.NewReader(`{"items": `))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestGetRule(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	w := s.do("GET", "/_api/rules/ping", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if rule := decode[RuleView](t, w); rule.URI != "http://api.example.com/v1/ping" {
		t.Errorf("Unexpected URI %q", rule.URI)
	}

	if w := s.do("GET", "/_api/rules/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestDeleteRule(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	if w := s.do("DELETE", "/_api/rules/ping", nil); w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}
	if s.registry.Len() != 0 {
		t.Errorf("Expected no rules, got %d", s.registry.Len())
	}
	if w := s.do("DELETE", "/_api/rules/ping", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestClearRules(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	if w := s.do("DELETE", "/_api/rules", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if s.registry.Len() != 0 {
		t.Errorf("Expected no rules, got %d", s.registry.Len())
	}
}

func TestMatchRequest(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	body, _ := json.Marshal(MatchInput{URL: "http://api.example.com/v1/ping"})
	w := s.do("POST", "/_api/match", bytes.NewReader(body))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	result := decode[map[string]any](t, w)
	if result["matched"] != true {
		t.Errorf("Expected a match, got %v", result)
	}

	body, _ = json.Marshal(MatchInput{Method: "delete", URL: "http://api.example.com/v1/ping"})
	result = decode[map[string]any](t, s.do("POST", "/_api/match", bytes.NewReader(body)))
	if result["matched"] != false {
		t.Errorf("Expected no match for DELETE, got %v", result)
	}

	if w := s.do("POST", "/_api/match", strings.NewReader(`{}`)); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without url, got %d", w.Code)
	}

	if s.collector.Hits("ping") != 0 {
		t.Error("Expected match evaluation not to count as a hit")
	}
}

func TestPolicy(t *testing.T) {
	s := setupTestServer(t)

	result := decode[map[string]bool](t, s.do("GET", "/_api/policy", nil))
	if result["throwOnMissingRegistration"] {
		t.Error("Expected policy to start disabled")
	}

	w := s.do("PUT", "/_api/policy", strings.NewReader(`{"throwOnMissingRegistration": true}`))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !s.registry.ThrowsOnMissingRegistration() {
		t.Error("Expected registry policy to be updated")
	}

	if w := s.do("PUT", "/_api/policy", strings.NewReader(`{}`)); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty policy, got %d", w.Code)
	}
}

func TestStub_AnswersFromRegistry(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	req := httptest.NewRequest("GET", "/v1/ping", nil)
	req.Host = "api.example.com"
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"pong":true}` {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}
	if s.collector.Hits("ping") != 1 {
		t.Errorf("Expected 1 hit, got %d", s.collector.Hits("ping"))
	}
}

func TestStub_AbsoluteFormRequest(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	req := httptest.NewRequest("GET", "http://api.example.com/v1/ping", nil)
	req.Host = "proxy.local:8080"
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStub_Unmatched(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest("GET", "/nothing", nil)
	req.Host = "api.example.com"

	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502 without inner transport, got %d", w.Code)
	}

	s.registry.SetMissingRegistrationPolicy(true)
	w = httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no HTTP request interception is registered") {
		t.Errorf("Unexpected body %q", w.Body.String())
	}
}

func TestStub_LoopDetected(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	req := httptest.NewRequest("GET", "/v1/ping", nil)
	req.Host = "api.example.com"
	req.Header.Set("Via", "1.0 corp-proxy, 1.1 go-intercept")
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusLoopDetected {
		t.Errorf("Expected status 508, got %d", w.Code)
	}

	req.Header.Set("Via", "1.1 corp-proxy")
	w = httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected foreign Via to pass, got %d", w.Code)
	}
}

func TestStub_PassThroughMarkedOnlyUpstream(t *testing.T) {
	var upstreamVia string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamVia = r.Header.Get("Via")
		w.Write([]byte("real"))
	}))
	defer upstream.Close()

	reg := registry.New()
	traces := tracing.NewJournal(10)
	interceptor := transport.New(reg,
		transport.WithTracing(traces),
		transport.WithInner(Forwarder(http.DefaultTransport)),
	)
	router := NewRouter(reg, interceptor, stats.NewCollector(), traces, logging.Discard())

	req := httptest.NewRequest("GET", upstream.URL+"/data", nil)
	w := httptest.NewRecorder()
	router.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "real" {
		t.Fatalf("Expected pass-through response, got %d %q", w.Code, w.Body.String())
	}
	if upstreamVia != "1.1 go-intercept" {
		t.Errorf("Expected upstream to see Via mark, got %q", upstreamVia)
	}

	list := traces.List(nil)
	if len(list) != 1 {
		t.Fatalf("Expected 1 trace, got %d", len(list))
	}
	if _, ok := list[0].Request.Headers["Via"]; ok {
		t.Error("Expected traced request without Via mark")
	}
}

func TestOutboundRequest_NoMarker(t *testing.T) {
	in := httptest.NewRequest("GET", "/v1/ping", nil)
	in.Host = "api.example.com"

	out, err := OutboundRequest(in)
	if err != nil {
		t.Fatalf("OutboundRequest failed: %v", err)
	}
	for name := range out.Header {
		if strings.HasPrefix(name, "X-Intercept") || name == "Via" {
			t.Errorf("Unexpected marker header %s", name)
		}
	}
}

func TestOutboundRequest(t *testing.T) {
	in := httptest.NewRequest("POST", "/v1/items?page=2", strings.NewReader("payload"))
	in.Host = "api.example.com"
	in.Header.Set("X-Forwarded-Proto", "https")
	in.Header.Set("Connection", "X-Drop")
	in.Header.Set("X-Drop", "1")
	in.Header.Set("Authorization", "Bearer T")

	out, err := OutboundRequest(in)
	if err != nil {
		t.Fatalf("OutboundRequest failed: %v", err)
	}
	if out.URL.String() != "https://api.example.com/v1/items?page=2" {
		t.Errorf("Unexpected URL %s", out.URL)
	}
	if out.RequestURI != "" {
		t.Error("Expected client request without RequestURI")
	}
	if out.Header.Get("X-Drop") != "" || out.Header.Get("Connection") != "" {
		t.Error("Expected hop-by-hop headers to be removed")
	}
	if out.Header.Get("Authorization") != "Bearer T" {
		t.Error("Expected end-to-end headers to be kept")
	}
	body, _ := io.ReadAll(out.Body)
	if string(body) != "payload" {
		t.Errorf("Expected body to be forwarded, got %q", body)
	}

	in = httptest.NewRequest("GET", "/", nil)
	in.Host = ""
	if _, err := OutboundRequest(in); err == nil {
		t.Error("Expected error without host")
	}
}

func TestStatsAndTraces(t *testing.T) {
	s := setupTestServer(t)
	s.loadPing(t)

	req := httptest.NewRequest("GET", "/v1/ping", nil)
	req.Host = "api.example.com"
	s.router.Handler().ServeHTTP(httptest.NewRecorder(), req)

	global := decode[models.GlobalStats](t, s.do("GET", "/_api/stats", nil))
	if global.TotalMatched != 1 || global.ActiveRules != 1 {
		t.Errorf("Unexpected global stats %+v", global)
	}

	rule := decode[models.RuleStat](t, s.do("GET", "/_api/stats/rules/ping", nil))
	if rule.TotalRequests != 1 {
		t.Errorf("Expected 1 request for ping, got %d", rule.TotalRequests)
	}

	traces := decode[[]models.Trace](t, s.do("GET", "/_api/traces?outcome=matched&statusCode=200", nil))
	if len(traces) != 1 {
		t.Fatalf("Expected 1 trace, got %d", len(traces))
	}
	if traces[0].RuleID != "ping" {
		t.Errorf("Expected trace for ping, got %q", traces[0].RuleID)
	}

	if w := s.do("GET", "/_api/traces/"+traces[0].ID, nil); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w := s.do("GET", "/_api/traces/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w := s.do("GET", "/_api/traces?limit=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad limit, got %d", w.Code)
	}

	summary := decode[map[string]any](t, s.do("GET", "/_api/traces/summary", nil))
	if summary["total"] != float64(1) {
		t.Errorf("Expected 1 journaled trace, got %v", summary["total"])
	}

	s.do("DELETE", "/_api/traces?ruleId=ping", nil)
	if got := s.traces.List(nil); len(got) != 0 {
		t.Errorf("Expected traces to be cleared, got %d", len(got))
	}

	s.do("POST", "/_api/stats/reset", nil)
	if s.collector.Hits("ping") != 0 {
		t.Error("Expected stats to be reset")
	}
}

func TestImportOpenAPI(t *testing.T) {
	s := setupTestServer(t)

	spec := `
openapi: "3.0.0"
info:
  title: Test API
  version: "1.0.0"
paths:
  /users:
    get:
      operationId: listUsers
      responses:
        "200":
          description: Success
          content:
            application/json:
              example:
                users: []
`
	w := s.do("POST", "/_api/bundles/openapi?baseUrl=https://users.example.com", strings.NewReader(spec))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	rule, ok := s.registry.Get("listUsers")
	if !ok {
		t.Fatal("Expected listUsers to be registered")
	}
	if rule.URL() != "https://users.example.com/users" {
		t.Errorf("Unexpected URL %q", rule.URL())
	}

	if w := s.do("POST", "/_api/bundles/openapi", strings.NewReader(spec)); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without base URL, got %d", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("GET", "/_api/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	result := decode[map[string]any](t, w)
	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", result["status"])
	}
	if result["rules"] != float64(0) {
		t.Errorf("Expected 0 rules, got %v", result["rules"])
	}
}

func TestCORS_Preflight(t *testing.T) {
	s := setupTestServer(t)

	w := s.do("OPTIONS", "/_api/rules", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header on admin API")
	}
}
