package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zarigata/CHAOSV3/internal/lifecycle"
)

// lifecycleService is the subset of *lifecycle.Service used by the HTTP
// handlers. Declaring it as an interface allows test doubles to be injected.
type lifecycleService interface {
	RunDeepHealth(ctx context.Context) map[string]lifecycle.ProbeResult
	IsReady() bool
	Admitting() bool
	DatabaseReady() bool
	Uptime() time.Duration
}

// ServiceInfo is the static identity reported by the root endpoints.
type ServiceInfo struct {
	Name        string
	Version     string
	Environment string
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	svc  lifecycleService
	info ServiceInfo
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status        string  `json:"status" example:"healthy"`
	DatabaseReady bool    `json:"database_ready" example:"true"`
	UptimeSeconds float64 `json:"uptime_seconds" example:"42.5"`
}

// RootResponse is the welcome payload.
type RootResponse struct {
	Message     string `json:"message" example:"Welcome to C.H.A.O.S. API"`
	Status      string `json:"status" example:"operational"`
	Version     string `json:"version" example:"1.0.0"`
	Environment string `json:"environment" example:"development"`
}

// Health handles GET /health.
// It always returns 200; this is the liveness probe.
//
// @Summary  Liveness probe
// @Tags     Health
// @Produce  json
// @Success  200 {object} HealthResponse
// @Router   /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        lifecycle.StatusHealthy,
		DatabaseReady: h.svc.DatabaseReady(),
		UptimeSeconds: h.svc.Uptime().Seconds(),
	})
}

// DeepHealth handles GET /health/deep.
// It probes the database and every configured dependency and returns 200 only
// when every probe is OK.
//
// @Summary  Dependency health
// @Tags     Health
// @Produce  json
// @Success  200 {object} map[string]any
// @Failure  503 {object} map[string]any
// @Router   /health/deep [get]
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.svc.RunDeepHealth(c.Request.Context())

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	status := lifecycle.StatusHealthy
	code := http.StatusOK
	if !allOK {
		status = lifecycle.StatusUnhealthy
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// Ready handles GET /ready.
// It returns 200 while the database is READY and the server admits work; 503
// otherwise.
//
// @Summary  Readiness probe
// @Tags     Health
// @Produce  json
// @Success  200 {object} map[string]bool
// @Failure  503 {object} map[string]bool
// @Router   /ready [get]
func (h *Handler) Ready(c *gin.Context) {
	if h.svc.IsReady() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}

// Root handles GET /.
//
// @Summary  Welcome message
// @Tags     Health
// @Produce  json
// @Success  200 {object} RootResponse
// @Router   / [get]
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, RootResponse{
		Message:     "Welcome to " + h.info.Name + " API",
		Status:      "operational",
		Version:     h.info.Version,
		Environment: h.info.Environment,
	})
}

// APITest handles GET /api/test.
//
// @Summary  API smoke test
// @Tags     Test
// @Produce  json
// @Success  200 {object} map[string]string
// @Failure  429 {object} map[string]string
// @Router   /api/test [get]
func (h *Handler) APITest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": h.info.Name + " API is functioning correctly",
		"version": h.info.Version,
	})
}
