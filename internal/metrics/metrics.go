package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method", "path"},
	)

	PollOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_operations_total",
			Help: "Total number of poll operations",
		},
		[]string{"operation", "status"},
	)

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"operation", "status"},
	)

	PollsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "polls_swept_total",
			Help: "Total number of expired polls removed by the sweeper",
		},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of sweep passes",
		},
		[]string{"status"},
	)
)

var routeOperations = map[string]string{
	"POST /api/polls":             "create",
	"GET /api/polls/recent":       "list_recent",
	"GET /api/polls/link/:link":   "get",
	"POST /api/polls/:id/vote":    "vote",
	"POST /api/polls/:id/react":   "react",
	"POST /api/polls/:id/comment": "comment",
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		method := c.Request.Method
		start := time.Now()

		ActiveRequests.WithLabelValues(method, path).Inc()
		defer ActiveRequests.WithLabelValues(method, path).Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		RequestDuration.WithLabelValues(method, path, status).Observe(duration)
		RequestTotal.WithLabelValues(method, path, status).Inc()

		if op, ok := routeOperations[method+" "+path]; ok {
			PollOperations.WithLabelValues(op, status).Inc()
		}
	}
}

func RecordCacheOperation(operation string, hit bool) {
	status := "miss"
	if hit {
		status = "hit"
	}
	CacheOperations.WithLabelValues(operation, status).Inc()
}

func RecordSweep(deleted int64, err error) {
	if err != nil {
		SweepRuns.WithLabelValues("error").Inc()
		return
	}
	SweepRuns.WithLabelValues("ok").Inc()
	PollsSwept.Add(float64(deleted))
}
