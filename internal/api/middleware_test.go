package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupLimiter(t *testing.T, cfg RateLimitConfig) (*gin.Engine, *clock.Mock, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(client, clk, cfg, zap.NewNop())

	r := gin.New()
	r.Use(rl.GlobalLimit(), rl.RateLimit(), rl.BurstLimit())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, clk, mr
}

func ping(r http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_WindowPerClient(t *testing.T) {
	r, clk, _ := setupLimiter(t, RateLimitConfig{RequestsPerWindow: 3, Window: time.Minute, Burst: 100})

	for i := 0; i < 3; i++ {
		clk.Add(time.Second)
		w := ping(r, "10.0.0.1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, strconv.Itoa(2-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	clk.Add(time.Second)
	w := ping(r, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, ping(r, "10.0.0.3").Code, "other clients are unaffected")

	clk.Add(time.Minute)
	assert.Equal(t, http.StatusOK, ping(r, "10.0.0.1").Code, "a new window resets the count")
}

func TestBurstLimit(t *testing.T) {
	r, clk, _ := setupLimiter(t, RateLimitConfig{RequestsPerWindow: 100, Window: time.Minute, Burst: 2})

	assert.Equal(t, http.StatusOK, ping(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, ping(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, ping(r, "10.0.0.1").Code)

	clk.Add(time.Second)
	assert.Equal(t, http.StatusOK, ping(r, "10.0.0.1").Code)
}

func TestGlobalLimit(t *testing.T) {
	r, _, _ := setupLimiter(t, RateLimitConfig{RequestsPerWindow: 100, Window: time.Minute, Burst: 100, GlobalRPS: 1, GlobalBurst: 2})

	assert.Equal(t, http.StatusOK, ping(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, ping(r, "10.0.0.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, ping(r, "10.0.0.3").Code)
}

func TestRateLimit_RedisDownLetsRequestsThrough(t *testing.T) {
	r, _, mr := setupLimiter(t, RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 1})
	mr.Close()

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, ping(r, "10.0.0.1").Code)
	}
}

func TestCORSConfig(t *testing.T) {
	assert.True(t, corsConfig(nil).AllowAllOrigins)
	assert.True(t, corsConfig([]string{"*"}).AllowAllOrigins)

	cfg := corsConfig([]string{"https://flashpoll.example"})
	assert.False(t, cfg.AllowAllOrigins)
	assert.Equal(t, []string{"https://flashpoll.example"}, cfg.AllowOrigins)
}
