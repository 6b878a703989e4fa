package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_http_requests_total",
		Help: "Total HTTP requests handled by the gateway.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_submissions_total",
		Help: "Document submissions sent upstream, by kind and outcome.",
	}, []string{"kind", "outcome"})

	submissionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_submission_duration_seconds",
		Help:    "Latency of upstream document submissions.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})

	validationRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_validation_rejections_total",
		Help: "Document operations rejected locally before reaching the backend.",
	}, []string{"reason"})

	previewsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portal_previews_live",
		Help: "Pending-file previews currently held in object storage.",
	})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_rate_limited_total",
		Help: "Requests rejected by the per-principal rate limiter.",
	}, []string{"group"})

	upstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_upstream_retries_total",
		Help: "Backend calls retried after a retryable failure, by operation.",
	}, []string{"operation"})

	upstreamBreakerOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "portal_upstream_breaker_open",
		Help: "1 while the circuit breaker for a backend operation is open.",
	}, []string{"operation"})

	workspacesLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portal_workspaces_live",
		Help: "Document workspaces currently held in memory.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		httpRequestsTotal,
		httpRequestDuration,
		submissionsTotal,
		submissionDuration,
		validationRejections,
		previewsLive,
		rateLimited,
		upstreamRetries,
		upstreamBreakerOpen,
		workspacesLive,
	)
}

// Registry returns the registry all gateway collectors are registered on.
func Registry() *prometheus.Registry {
	return registry
}

// Middleware records request counts and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveSubmission records one upstream submission attempt.
func ObserveSubmission(kind, outcome string, elapsed time.Duration) {
	submissionsTotal.WithLabelValues(kind, outcome).Inc()
	submissionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// IncValidationRejection counts a locally rejected operation.
func IncValidationRejection(reason string) {
	validationRejections.WithLabelValues(reason).Inc()
}

// IncRateLimited counts a request throttled in group.
func IncRateLimited(group string) {
	rateLimited.WithLabelValues(group).Inc()
}

// IncUpstreamRetry counts one retried backend call for operation.
func IncUpstreamRetry(operation string) {
	upstreamRetries.WithLabelValues(operation).Inc()
}

// SetUpstreamBreaker records whether the breaker for operation is open.
func SetUpstreamBreaker(operation string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	upstreamBreakerOpen.WithLabelValues(operation).Set(v)
}

// AddPreviews adjusts the live preview gauge by delta.
func AddPreviews(delta int) {
	previewsLive.Add(float64(delta))
}

// SetWorkspaces sets the live workspace gauge.
func SetWorkspaces(n int) {
	workspacesLive.Set(float64(n))
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
}
