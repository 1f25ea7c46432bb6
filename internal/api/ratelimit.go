package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zarigata/CHAOSV3/internal/config"
)

const (
	memoryCleanupInterval = time.Minute
	redisMaxRetry         = 3
)

// RateLimiter throttles /api requests per client IP. Counters live in redis
// when a client is supplied so that every replica shares them, and in process
// memory otherwise.
type RateLimiter struct {
	limiter *limiter.Limiter
	blocked metric.Int64Counter
	logger  *slog.Logger
}

// NewRateLimiter builds a RateLimiter from cfg. client may be nil.
func NewRateLimiter(cfg config.RateLimitConfig, client *redis.Client, logger *slog.Logger) (*RateLimiter, error) {
	opts := limiter.StoreOptions{
		Prefix:          cfg.Prefix,
		MaxRetry:        redisMaxRetry,
		CleanUpInterval: memoryCleanupInterval,
	}

	var store limiter.Store
	if client != nil {
		s, err := sredis.NewStoreWithOptions(client, opts)
		if err != nil {
			return nil, fmt.Errorf("creating redis rate-limit store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStoreWithOptions(opts)
	}

	blocked, err := otel.Meter(tracerName).Int64Counter(
		"chaos.ratelimit.blocked",
		metric.WithDescription("Requests rejected by the rate limiter"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rate-limit counter: %w", err)
	}

	rate := limiter.Rate{Period: cfg.Period, Limit: cfg.Limit}
	return &RateLimiter{
		limiter: limiter.New(store, rate),
		blocked: blocked,
		logger:  logger,
	}, nil
}

// Middleware returns the gin middleware enforcing the limit. A store failure
// lets the request through: availability wins over throttling.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return mgin.NewMiddleware(r.limiter,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			r.blocked.Add(c.Request.Context(), 1,
				metric.WithAttributes(attribute.String("route", c.FullPath())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status": "error",
				"error":  "rate limit exceeded",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			r.logger.WarnContext(c.Request.Context(), "rate limiter unavailable", "error", err)
			c.Next()
		}),
	)
}
