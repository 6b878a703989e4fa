package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"portal-gateway/internal/shared/telemetry"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		reqID := RequestIDFromContext(c)

		userID, _ := c.Get(userIDKey)
		outcome := ""
		if raw, ok := c.Get("submissionOutcome"); ok {
			if s, ok := raw.(string); ok {
				outcome = s
			}
		}

		telemetry.Info("request.complete", map[string]any{
			"request_id":         reqID,
			"method":             c.Request.Method,
			"path":               c.Request.URL.Path,
			"route":              c.FullPath(),
			"status":             status,
			"submission_outcome": outcome,
			"duration_ms":        float64(latency.Microseconds()) / 1000.0,
			"user_id":            userID,
			"job_id":             c.Param("jobId"),
			"scope_id":           c.Param("scopeId"),
			"client_ip":          c.ClientIP(),
			"user_agent":         c.Request.UserAgent(),
		})
	}
}
