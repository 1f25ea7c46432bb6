// Package api is the HTTP surface of the server: liveness, readiness, the
// welcome endpoints and the /api group.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/zarigata/CHAOSV3/docs" // register generated Swagger docs
)

const (
	tracerName = "chaos-server"
	corsMaxAge = 10 * time.Minute
)

// Options configures NewRouter.
type Options struct {
	Info        ServiceInfo
	APIPrefix   string
	CORSOrigins []string
	// RateLimiter guards the API group; nil disables rate limiting.
	RateLimiter *RateLimiter
	// Metrics serves GET /metrics; nil leaves the route unregistered.
	Metrics http.Handler
	// EnableDocs registers the Swagger UI. Off in production.
	EnableDocs bool
	Logger     *slog.Logger
}

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router with the full middleware chain and all routes
// registered. Middleware order:
//  1. Recovery: panic → 500
//  2. Admission: 503 once draining, probes exempt
//  3. Tracing: trace context per request
//  4. RequestID: X-Request-ID propagation
//  5. RequestLogger: structured request/response logging
//  6. CORS: configured origins
//
// The API group additionally runs the rate limiter.
func NewRouter(svc lifecycleService, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := "/" + strings.Trim(opts.APIPrefix, "/")
	if prefix == "/" {
		prefix = "/api"
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(logger))
	engine.Use(Admission(svc, "/health", "/health/deep", "/ready", "/metrics"))
	engine.Use(Tracing(tracerName))
	engine.Use(RequestID())
	engine.Use(RequestLogger(logger))
	engine.Use(CORS(opts.CORSOrigins, corsMaxAge))

	h := &Handler{svc: svc, info: opts.Info}

	engine.GET("/", h.Root)
	engine.GET("/health", h.Health)
	engine.GET("/health/deep", h.DeepHealth)
	engine.GET("/ready", h.Ready)

	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := engine.Group(prefix)
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Middleware())
	}
	api.GET("/test", h.APITest)

	if opts.EnableDocs {
		// API docs: http://localhost:8000/api/docs/index.html
		api.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
