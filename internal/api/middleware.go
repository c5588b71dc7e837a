package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/behzadon/flashpoll/internal/metrics"
	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultRateLimit   = 60
	DefaultRateWindow  = time.Minute
	DefaultBurstLimit  = 10
	DefaultGlobalRPS   = 100
	DefaultGlobalBurst = 200
)

type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
	GlobalRPS         float64
	GlobalBurst       int
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = DefaultRateLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultRateWindow
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurstLimit
	}
	if c.GlobalRPS <= 0 {
		c.GlobalRPS = DefaultGlobalRPS
	}
	if c.GlobalBurst <= 0 {
		c.GlobalBurst = DefaultGlobalBurst
	}
	return c
}

// RateLimiter throttles anonymous callers by client IP using fixed windows in
// Redis, and caps the whole process with an in-memory token bucket. Redis
// failures let the request through.
type RateLimiter struct {
	redis  RedisClient
	clock  clock.Clock
	cfg    RateLimitConfig
	global *rate.Limiter
	logger *zap.Logger
}

func NewRateLimiter(redis RedisClient, clk clock.Clock, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	cfg = cfg.withDefaults()
	return &RateLimiter{
		redis:  redis,
		clock:  clk,
		cfg:    cfg,
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		logger: logger,
	}
}

func (rl *RateLimiter) GlobalLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.global.AllowN(rl.clock.Now(), 1) {
			tooManyRequests(c, "Server is busy")
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := rl.clock.Now()
		windowStart := now.Truncate(rl.cfg.Window)
		key := fmt.Sprintf("rate_limit:%s:%d", c.ClientIP(), windowStart.Unix())

		count, ok := rl.hit(c, key, rl.cfg.Window)
		if !ok {
			c.Next()
			return
		}

		limit := int64(rl.cfg.RequestsPerWindow)
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(windowStart.Add(rl.cfg.Window).Unix(), 10))

		if count > limit {
			tooManyRequests(c, "Rate limit exceeded")
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) BurstLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("burst_limit:%s:%d", c.ClientIP(), rl.clock.Now().Unix())

		count, ok := rl.hit(c, key, time.Second)
		if !ok {
			c.Next()
			return
		}

		if count > int64(rl.cfg.Burst) {
			tooManyRequests(c, "Burst limit exceeded")
			return
		}
		c.Next()
	}
}

// hit counts one request against key and reports the new total. ok is false
// when Redis could not be reached.
func (rl *RateLimiter) hit(c *gin.Context, key string, ttl time.Duration) (int64, bool) {
	ctx := c.Request.Context()
	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error("failed to update rate limit",
			zap.Error(err),
			zap.String("key", key),
			zap.String("path", c.Request.URL.Path),
		)
		return 0, false
	}
	return incr.Val(), true
}

func tooManyRequests(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"status":  "error",
		"message": message,
	})
}

// NewRouter assembles the engine: recovery, CORS, metrics, request logging,
// the poll routes, a liveness probe and the Prometheus endpoint.
func NewRouter(h *Handler, requestLogger gin.HandlerFunc, corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(corsOrigins)))
	r.Use(metrics.MetricsMiddleware())
	if requestLogger != nil {
		r.Use(requestLogger)
	}

	h.RegisterRoutes(r)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	cfg.MaxAge = 12 * time.Hour
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
