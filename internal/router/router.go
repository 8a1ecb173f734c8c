package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/arogyalock/consent-api/internal/middleware"
	"github.com/arogyalock/consent-api/internal/model"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type PublicEmergencyHandler interface {
	Handler
	RegisterPublicRoutes(*gin.RouterGroup)
}

type HealthHandler interface {
	RegisterRoutes(*gin.Engine)
}

type Router struct {
	engine     *gin.Engine
	auth       *middleware.AuthMiddleware
	healthH    HealthHandler
	authH      Handler
	consentH   Handler
	accessH    Handler
	emergencyH PublicEmergencyHandler
	auditH     Handler
	adminH     Handler
	publicRate middleware.RateLimiterConfig
	metrics    *routerMetrics
}

// Config tunes the middleware chain. RateLimit and RateBurst apply per
// client IP on the public routes only.
type Config struct {
	RateLimit  rate.Limit
	RateBurst  int
	Timeout    time.Duration
	CORSConfig middleware.CORSConfig
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	healthH HealthHandler,
	authH Handler,
	consentH Handler,
	accessH Handler,
	emergencyH PublicEmergencyHandler,
	auditH Handler,
	adminH Handler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 10
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 20
	}

	r := &Router{
		engine:     engine,
		auth:       auth,
		healthH:    healthH,
		authH:      authH,
		consentH:   consentH,
		accessH:    accessH,
		emergencyH: emergencyH,
		auditH:     auditH,
		adminH:     adminH,
		publicRate: middleware.RateLimiterConfig{Rate: config.RateLimit, Burst: config.RateBurst},
		metrics:    initRouterMetrics(),
	}

	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
		middleware.Timeout(config.Timeout),
	)

	return r
}

func (r *Router) Setup() {
	r.healthH.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api/v1")

	// Public routes: credential exchange and the anonymous break-glass
	// path. Both are rate-limited per client IP.
	public := api.Group("")
	public.Use(middleware.NewRateLimiter(r.publicRate).RateLimit())
	r.authH.RegisterRoutes(public)
	r.emergencyH.RegisterPublicRoutes(public)

	// Everything else requires a verified actor.
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.consentH.RegisterRoutes(protected)
	r.accessH.RegisterRoutes(protected)
	r.emergencyH.RegisterRoutes(protected)

	// Operator surface.
	privileged := api.Group("")
	privileged.Use(r.auth.Authenticate(), r.auth.RequireRole(model.RoleSystemIntegrator))
	r.auditH.RegisterRoutes(privileged)
	r.adminH.RegisterRoutes(privileged)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics() *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "consent_api_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consent_api_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
