package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carehub_gateway_requests_total",
		Help: "ゲートウェイが処理したHTTPリクエスト数",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carehub_gateway_request_duration_seconds",
		Help:    "HTTPリクエストの処理時間",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carehub_gateway_rate_limited_total",
		Help: "レート制限で拒否したリクエスト数",
	}, []string{"route"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carehub_gateway_upstream_duration_seconds",
		Help:    "下流サービス呼び出しの所要時間",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	upstreamFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carehub_gateway_upstream_failures_total",
		Help: "下流サービス呼び出しの失敗数（kind: timeout / unavailable / status）",
	}, []string{"service", "kind"})
)

// metricsMiddleware はリクエスト数と処理時間を記録するGinミドルウェアを返す。
// ErrorHandlerより前に適用し、最終的なステータスを記録する。
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		requestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		if status == http.StatusTooManyRequests {
			rateLimitedTotal.WithLabelValues(route).Inc()
		}
	}
}
