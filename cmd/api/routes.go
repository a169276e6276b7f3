package main

import (
	"log/slog"
	"net/http"
	"time"

	"medical-ai-platform/internal/config"
	"medical-ai-platform/internal/httpapi"
	"medical-ai-platform/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// newRouter builds the engine and its middleware chain.
// Keep this file free of business logic. Handlers delegate to internal modules.
func newRouter(cfg config.Config, log *slog.Logger, h httpapi.Handlers, authMW gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg.CORS))
	if cfg.Telemetry.Enabled {
		r.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}
	r.Use(logger.Middleware(log))

	// dev tokens only outside production
	h.Register(r, authMW, !cfg.IsProduction())
	return r
}

func corsMiddleware(c config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-Id"},
		ExposeHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	origins := c.Origins()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
		cc.AllowCredentials = true
	}
	return cors.New(cc)
}
