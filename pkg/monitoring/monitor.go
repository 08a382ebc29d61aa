package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	TurnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_turns_total",
			Help: "Total number of tutoring turns by outcome",
		},
		[]string{"outcome"},
	)

	TurnTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_turn_tokens_total",
			Help: "Total LLM tokens consumed by tutoring turns",
		},
		[]string{"direction"},
	)

	TurnCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutor_turn_cost_usd_total",
			Help: "Estimated cumulative LLM cost in USD",
		},
	)

	PromotionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutor_promotions_total",
			Help: "Total number of node promotions to operational",
		},
	)

	StreamErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutor_stream_errors_total",
			Help: "Total number of LLM stream failures",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(TurnCounter)
	prometheus.MustRegister(TurnTokens)
	prometheus.MustRegister(TurnCost)
	prometheus.MustRegister(PromotionCounter)
	prometheus.MustRegister(StreamErrorCounter)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
