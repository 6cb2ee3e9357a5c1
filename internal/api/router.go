// Package api exposes the admin API and the stub endpoint of the intercept
// server.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/go-intercept/internal/registry"
	"github.com/prasenjit/go-intercept/internal/stats"
	"github.com/prasenjit/go-intercept/internal/tracing"
	"github.com/prasenjit/go-intercept/internal/transport"
)

// Router handles HTTP routing
type Router struct {
	engine         *gin.Engine
	journal        *tracing.Journal
	handler        *Handler
	stub           *Stub
	logger         logrus.FieldLogger
}

// NewRouter creates a new router. Requests outside /_api are answered by the
// interceptor.
func NewRouter(reg *registry.Registry, interceptor *transport.Interceptor, statsCollector *stats.Collector, journal *tracing.Journal, logger logrus.FieldLogger) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:         gin.New(),
		journal:        journal,
		handler:        NewHandler(reg, statsCollector, journal, logger),
		stub:           NewStub(interceptor, logger),
		logger:         logger,
	}

	// Setup middleware
	r.engine.Use(gin.Recovery())
	r.engine.Use(corsMiddleware())
	r.engine.Use(loggerMiddleware(logger))

	// Setup routes
	r.setupRoutes()

	return r
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	// Admin API routes
	api := r.engine.Group("/_api")
	{
		// Rules
		api.GET("/rules", r.handler.ListRules)
		api.DELETE("/rules", r.handler.ClearRules)
		api.GET("/rules/:id", r.handler.GetRule)
		api.DELETE("/rules/:id", r.handler.DeleteRule)

		// Bundles
		api.POST("/bundles", r.handler.LoadBundle)
		api.GET("/bundles/schema", r.handler.BundleSchema)
		api.POST("/bundles/openapi", r.handler.ImportOpenAPI)

		// Matching
		api.POST("/match", r.handler.MatchRequest)
		api.GET("/policy", r.handler.GetPolicy)
		api.PUT("/policy", r.handler.SetPolicy)

		// Statistics
		api.GET("/stats", r.handler.GetGlobalStats)
		api.GET("/stats/rules/:id", r.handler.GetRuleStats)
		api.POST("/stats/reset", r.handler.ResetStats)

		// Tracing
		api.GET("/traces", r.handler.ListTraces)
		api.GET("/traces/summary", r.handler.TraceSummary)
		api.GET("/traces/:id", r.handler.GetTrace)
		api.DELETE("/traces", r.handler.ClearTraces)

		// Health
		api.GET("/health", r.handler.HealthCheck)
	}

	// WebSocket for live tracing
	streamHandler := tracing.NewStreamHandler(r.journal, r.logger)
	r.engine.GET("/_api/traces/stream", gin.WrapH(streamHandler))

	// Everything else is stubbed
	r.engine.NoRoute(gin.WrapH(r.stub))
	r.engine.NoMethod(gin.WrapH(r.stub))
}

// Handler returns the http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// corsMiddleware adds CORS headers to admin API responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdminPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// loggerMiddleware logs one line per served request
func loggerMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "stub"
		}

		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"route":    route,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}

func isAdminPath(path string) bool {
	return path == "/_api" || strings.HasPrefix(path, "/_api/")
}
