package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/arogyalock/consent-api/internal/middleware"
	"github.com/arogyalock/consent-api/pkg/auth"
)

type stubHandler struct{ route string }

func (s stubHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET(s.route, func(c *gin.Context) { c.Status(http.StatusOK) })
}

type stubEmergencyHandler struct{}

func (stubEmergencyHandler) RegisterRoutes(*gin.RouterGroup) {}

func (stubEmergencyHandler) RegisterPublicRoutes(g *gin.RouterGroup) {
	g.GET("/glass", func(c *gin.Context) { c.Status(http.StatusOK) })
}

type stubHealthHandler struct{}

func (stubHealthHandler) RegisterRoutes(e *gin.Engine) {
	e.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
}

// One Router per test binary: the request metrics register on the
// process-wide prometheus registerer.
func newTestRouter() *Router {
	tokenSvc := auth.NewJWTService("test-secret-test-secret", time.Hour, "consent-core-test")
	r := NewRouter(
		middleware.NewAuthMiddleware(tokenSvc),
		stubHealthHandler{},
		stubHandler{route: "/ping"},
		stubHandler{route: "/consent-stub"},
		stubHandler{route: "/access-stub"},
		stubEmergencyHandler{},
		stubHandler{route: "/audit-stub"},
		stubHandler{route: "/admin-stub"},
		Config{
			// Negligible refill, so only the burst admits requests.
			RateLimit: rate.Limit(0.001),
			RateBurst: 2,
			Timeout:   time.Second,
		},
	)
	r.Setup()
	return r
}

func get(engine *gin.Engine, path string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.9:40000"
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w.Code
}

func TestRouterGroups(t *testing.T) {
	r := newTestRouter()

	// Health and metrics sit outside the API groups.
	assert.Equal(t, http.StatusOK, get(r.Engine(), "/health"))
	assert.Equal(t, http.StatusOK, get(r.Engine(), "/metrics"))

	// Protected routes refuse anonymous callers.
	assert.Equal(t, http.StatusUnauthorized, get(r.Engine(), "/api/v1/consent-stub"))

	// Public routes honor the configured per-IP budget: the burst of two
	// admits two requests, the third is shed.
	assert.Equal(t, http.StatusOK, get(r.Engine(), "/api/v1/ping"))
	assert.Equal(t, http.StatusOK, get(r.Engine(), "/api/v1/glass"))
	assert.Equal(t, http.StatusTooManyRequests, get(r.Engine(), "/api/v1/ping"))

	// The budget is per client, not global.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.RemoteAddr = "198.51.100.7:40000"
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
