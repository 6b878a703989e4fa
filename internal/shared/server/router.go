package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"portal-gateway/internal/attrition"
	"portal-gateway/internal/authflow"
	"portal-gateway/internal/services/health"
	"portal-gateway/internal/shared/config"
	"portal-gateway/internal/shared/metrics"
	"portal-gateway/internal/shared/server/middleware"
	"portal-gateway/internal/shared/server/respond"
	"portal-gateway/internal/submissions"
	"portal-gateway/internal/workspaces"
)

const (
	rateGroupRead   = "READ"
	rateGroupWrite  = "WRITE"
	rateGroupUpload = "UPLOAD"
	rateGroupAuth   = "AUTH"
)

// RouterDeps carries the handlers the router mounts. Nil handlers are skipped.
type RouterDeps struct {
	Config      config.Config
	Health      *health.Service
	Workspaces  *workspaces.Handler
	Submissions *submissions.Handler
	Auth        *authflow.Handler
	Attrition   *attrition.Handler
	RateLimiter *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		metrics.Middleware(),
		middleware.Auth(deps.Config.Env),
		middleware.RateLimit(rateLimitConfig(deps.RateLimiter)),
	)

	r.GET("/metrics", metrics.Handler())

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}
	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, healthSvc.Status())
	})
	api.GET("/health/ready", func(c *gin.Context) {
		report := healthSvc.Ready(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	registerMeRoutes(api)

	if deps.Auth != nil {
		deps.Auth.RegisterRoutes(api)
	}
	if deps.Workspaces != nil {
		deps.Workspaces.RegisterRoutes(api)
	}
	if deps.Submissions != nil {
		deps.Submissions.RegisterRoutes(api)
	}
	if deps.Attrition != nil {
		deps.Attrition.RegisterRoutes(api)
	}

	return r
}

func rateLimitConfig(limiter *middleware.RateLimiter) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			rateGroupRead:   {Rate: 10, Burst: 40},
			rateGroupWrite:  {Rate: 3, Burst: 15},
			rateGroupUpload: {Rate: 1, Burst: 10},
			rateGroupAuth:   {Rate: 0.5, Burst: 5},
		},
		DefaultGroup: rateGroupRead,
		GroupFor:     rateGroupFor,
		Limiter:      limiter,
	}
}

func rateGroupFor(c *gin.Context) string {
	route := c.FullPath()
	switch {
	case strings.HasPrefix(route, "/api/v1/auth/"):
		return rateGroupAuth
	case c.Request.Method == http.MethodPost && (route == "/api/v1/jobs/:jobId/scopes/:scopeId/files" || route == "/api/v1/jobs/:jobId/scopes/:scopeId/submit"):
		return rateGroupUpload
	case c.Request.Method == http.MethodGet, c.Request.Method == http.MethodHead:
		return rateGroupRead
	default:
		return rateGroupWrite
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
