package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolattendance/internal/auth"
	"schoolattendance/internal/httpmiddleware"
)

// Router wires the handlers behind recovery, logging, CORS, security
// headers, auth and the request limiter.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	limiter := httpmiddleware.NewRequestLimiter(h.cfg.RateLimitPerMin, h.cfg.RateLimitPerMin)

	terminals := r.Group("/v1/terminals", limiter.Middleware())
	terminals.POST("/register", h.RegisterTerminal)
	terminals.POST("/refresh", h.RefreshTerminal)

	v1 := r.Group("/v1", auth.Authenticate(h.cfg.SigningKey, h.cfg.Issuer), limiter.Middleware())
	v1.POST("/scans", auth.RequireRole(auth.RoleTerminal, auth.RoleAdmin), h.RecordScan)
	v1.GET("/attendance", auth.RequireRole(auth.RoleAdmin), h.ListAttendance)
	v1.POST("/audits", auth.RequireRole(auth.RoleAdmin), h.RunAudit)

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Enroll-Key")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
