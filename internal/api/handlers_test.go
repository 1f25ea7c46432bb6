package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarigata/CHAOSV3/internal/config"
	"github.com/zarigata/CHAOSV3/internal/lifecycle"
	"github.com/zarigata/CHAOSV3/internal/telemetry"
)

// noopLogger returns a slog.Logger that discards all output, keeping test output clean.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeService is a test double that implements lifecycleService.
type fakeService struct {
	ready      bool
	dbReady    bool
	uptime     time.Duration
	deepProbes map[string]lifecycle.ProbeResult
	draining   atomic.Bool
}

func (f *fakeService) IsReady() bool         { return f.ready && !f.draining.Load() }
func (f *fakeService) Admitting() bool       { return !f.draining.Load() }
func (f *fakeService) DatabaseReady() bool   { return f.dbReady }
func (f *fakeService) Uptime() time.Duration { return f.uptime }

func (f *fakeService) RunDeepHealth(_ context.Context) map[string]lifecycle.ProbeResult {
	if f.deepProbes != nil {
		return f.deepProbes
	}
	return map[string]lifecycle.ProbeResult{}
}

var testInfo = ServiceInfo{Name: "C.H.A.O.S.", Version: "1.0.0", Environment: "test"}

// newTestEngine builds a minimal Gin engine with only the given handler, no
// middleware, for isolated handler testing.
func newTestEngine(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Handle(method, path, h)
	return r
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, http.NoBody)
	h.ServeHTTP(w, req)
	return w
}

// --- Health handler ---

func TestHealth_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dbReady bool
	}{
		{name: "database ready", dbReady: true},
		{name: "database not ready", dbReady: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			handler := &Handler{svc: &fakeService{dbReady: tc.dbReady, uptime: 90 * time.Second}}
			w := serve(newTestEngine(http.MethodGet, "/health", handler.Health), http.MethodGet, "/health")

			assert.Equal(t, http.StatusOK, w.Code)

			var body HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, "healthy", body.Status)
			assert.Equal(t, tc.dbReady, body.DatabaseReady)
			assert.InDelta(t, 90.0, body.UptimeSeconds, 0.001)
		})
	}
}

// --- DeepHealth handler ---

func TestDeepHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		probes     map[string]lifecycle.ProbeResult
		wantCode   int
		wantStatus string
	}{
		{
			name: "all healthy",
			probes: map[string]lifecycle.ProbeResult{
				"postgres": {Name: "postgres", OK: true},
				"redis":    {Name: "redis", OK: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "one unhealthy",
			probes: map[string]lifecycle.ProbeResult{
				"postgres": {Name: "postgres", OK: true},
				"ollama":   {Name: "ollama", OK: false, Error: "connection refused"},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name: "database circuit open",
			probes: map[string]lifecycle.ProbeResult{
				"postgres": {Name: "postgres", OK: false, Error: "circuit open"},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			handler := &Handler{svc: &fakeService{deepProbes: tc.probes}}
			w := serve(newTestEngine(http.MethodGet, "/health/deep", handler.DeepHealth), http.MethodGet, "/health/deep")

			assert.Equal(t, tc.wantCode, w.Code)

			var body struct {
				Status       string                           `json:"status"`
				Dependencies map[string]lifecycle.ProbeResult `json:"dependencies"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tc.wantStatus, body.Status)
			assert.Len(t, body.Dependencies, len(tc.probes))
		})
	}
}

// --- Ready handler ---

func TestReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ready    bool
		wantCode int
	}{
		{name: "database READY", ready: true, wantCode: http.StatusOK},
		{name: "database not READY", ready: false, wantCode: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			handler := &Handler{svc: &fakeService{ready: tc.ready}}
			w := serve(newTestEngine(http.MethodGet, "/ready", handler.Ready), http.MethodGet, "/ready")

			assert.Equal(t, tc.wantCode, w.Code)

			var body map[string]any
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tc.ready, body["ready"])
		})
	}
}

// --- Root and API test handlers ---

func TestRoot(t *testing.T) {
	t.Parallel()

	handler := &Handler{svc: &fakeService{}, info: testInfo}
	w := serve(newTestEngine(http.MethodGet, "/", handler.Root), http.MethodGet, "/")

	assert.Equal(t, http.StatusOK, w.Code)

	var body RootResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "operational", body.Status)
	assert.Equal(t, "test", body.Environment)
	assert.Equal(t, "1.0.0", body.Version)
	assert.Equal(t, "Welcome to C.H.A.O.S. API", body.Message)
}

func TestAPITest(t *testing.T) {
	t.Parallel()

	handler := &Handler{svc: &fakeService{}, info: testInfo}
	w := serve(newTestEngine(http.MethodGet, "/api/test", handler.APITest), http.MethodGet, "/api/test")

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
}

// --- NewRouter smoke tests ---

func TestNewRouter_RoutesRegistered(t *testing.T) {
	t.Parallel()

	svc := &fakeService{ready: true, dbReady: true, deepProbes: map[string]lifecycle.ProbeResult{
		"postgres": {Name: "postgres", OK: true},
	}}
	router := NewRouter(svc, Options{
		Info:       testInfo,
		APIPrefix:  "/api",
		Metrics:    http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") }),
		EnableDocs: true,
		Logger:     noopLogger(),
	})

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/health/deep", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/test", http.StatusOK},
		{http.MethodGet, "/api/docs/index.html", http.StatusOK},
		{http.MethodGet, "/api/docs/doc.json", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tc := range cases {
		w := serve(router.Handler(), tc.method, tc.path)
		assert.Equal(t, tc.want, w.Code, "route %s %s", tc.method, tc.path)
	}
}

func TestNewRouter_DocsDisabled(t *testing.T) {
	t.Parallel()

	router := NewRouter(&fakeService{}, Options{Info: testInfo, Logger: noopLogger()})

	assert.Equal(t, http.StatusNotFound, serve(router.Handler(), http.MethodGet, "/api/docs/index.html").Code)
	assert.Equal(t, http.StatusNotFound, serve(router.Handler(), http.MethodGet, "/metrics").Code)
}

func TestNewRouter_CustomAPIPrefix(t *testing.T) {
	t.Parallel()

	router := NewRouter(&fakeService{}, Options{Info: testInfo, APIPrefix: "/v1/", Logger: noopLogger()})

	assert.Equal(t, http.StatusOK, serve(router.Handler(), http.MethodGet, "/v1/test").Code)
	assert.Equal(t, http.StatusNotFound, serve(router.Handler(), http.MethodGet, "/api/test").Code)
}

func TestNewRouter_DrainingRejectsNewWork(t *testing.T) {
	t.Parallel()

	svc := &fakeService{ready: true, dbReady: true}
	router := NewRouter(svc, Options{Info: testInfo, Logger: noopLogger()})

	require.Equal(t, http.StatusOK, serve(router.Handler(), http.MethodGet, "/api/test").Code)

	svc.draining.Store(true)

	w := serve(router.Handler(), http.MethodGet, "/api/test")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(router.Handler(), http.MethodGet, "/").Code)

	// Probes keep answering while draining.
	assert.Equal(t, http.StatusOK, serve(router.Handler(), http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(router.Handler(), http.MethodGet, "/ready").Code)
}

func TestNewRouter_RateLimitsAPIGroup(t *testing.T) {
	t.Parallel()

	rl, err := NewRateLimiter(config.RateLimitConfig{Limit: 2, Period: time.Minute, Prefix: "test"}, nil, noopLogger())
	require.NoError(t, err)

	router := NewRouter(&fakeService{dbReady: true}, Options{Info: testInfo, RateLimiter: rl, Logger: noopLogger()})

	for i := range 2 {
		assert.Equal(t, http.StatusOK, serve(router.Handler(), http.MethodGet, "/api/test").Code, "request %d", i+1)
	}
	w := serve(router.Handler(), http.MethodGet, "/api/test")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// Routes outside the API group are not limited.
	assert.Equal(t, http.StatusOK, serve(router.Handler(), http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, serve(router.Handler(), http.MethodGet, "/").Code)
}

func TestNewRouter_RequestID(t *testing.T) {
	t.Parallel()

	router := NewRouter(&fakeService{}, Options{Info: testInfo, Logger: noopLogger()})

	w := serve(router.Handler(), http.MethodGet, "/health")
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	req.Header.Set("X-Request-ID", "trace-me")
	w = httptest.NewRecorder()
	router.Handler().ServeHTTP(w, req)
	assert.Equal(t, "trace-me", w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	w = httptest.NewRecorder()
	router.Handler().ServeHTTP(w, req)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestRequestID_ReachesLogContext(t *testing.T) {
	t.Parallel()

	var seen string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) {
		seen, _ = telemetry.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", http.NoBody)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "req-42", seen)
}
