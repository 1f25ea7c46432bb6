package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/zarigata/CHAOSV3/internal/api"
	"github.com/zarigata/CHAOSV3/internal/clients"
	"github.com/zarigata/CHAOSV3/internal/config"
	"github.com/zarigata/CHAOSV3/internal/database"
	"github.com/zarigata/CHAOSV3/internal/lifecycle"
)

// AppContext holds the dependencies wired by buildAppContext.
type AppContext struct {
	cfg      *config.Config
	db       *database.Bootstrap
	redis    *clients.RedisClient
	svc      *lifecycle.Service
	registry *prometheus.Registry
	router   *api.Router
}

// buildAppContext constructs all application dependencies from cfg:
//  1. The database bootstrap (not yet initialized)
//  2. Optional redis and AI clients, each behind its own breaker
//  3. The lifecycle service
//  4. The Prometheus registry
//  5. The rate limiter and HTTP router
//
// Nothing here performs I/O; Service.Start does.
func buildAppContext(cfg *config.Config, logger *slog.Logger) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	app.db = database.New(cfg.Database, nil, logger.With("component", "database"))

	// One breaker per client so each dependency trips independently.
	var probers []lifecycle.Prober
	if cfg.RateLimit.RedisAddr != "" {
		app.redis = clients.NewRedisClient(cfg.RateLimit, clients.NewCircuitBreaker("redis"))
		probers = append(probers, app.redis)
	}
	if cfg.AI.Enabled {
		probers = append(probers, clients.NewAIClient(cfg.AI, clients.NewCircuitBreaker("ollama")))
	}

	app.svc = lifecycle.New(app.db, probers...)

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		database.NewCollector(app.db),
	)

	var limiter *api.RateLimiter
	if cfg.RateLimit.Enabled {
		var err error
		limiter, err = api.NewRateLimiter(cfg.RateLimit, app.redisClient(), logger.With("component", "ratelimit"))
		if err != nil {
			return nil, errors.Join(err, app.close())
		}
	}

	app.router = api.NewRouter(app.svc, api.Options{
		Info: api.ServiceInfo{
			Name:        cfg.ProjectName,
			Version:     cfg.Version,
			Environment: cfg.Environment,
		},
		APIPrefix:   cfg.Server.APIPrefix,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimiter: limiter,
		Metrics:     app.metricsHandler(),
		EnableDocs:  !cfg.IsProduction(),
		Logger:      logger.With("component", "http"),
	})

	return app, nil
}

func (a *AppContext) redisClient() *redis.Client {
	if a.redis == nil {
		return nil
	}
	return a.redis.Client()
}

func (a *AppContext) metricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// close releases client connections. The database is closed by Service.Shutdown.
func (a *AppContext) close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
