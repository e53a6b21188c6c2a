package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "streamfilter/internal/api/docs"
	"streamfilter/internal/config"
	"streamfilter/internal/constants"
	"streamfilter/internal/filtering"
	"streamfilter/internal/logger"
	"streamfilter/pkg/health"
	"streamfilter/pkg/middleware"
	"streamfilter/pkg/ratelimit"
	"streamfilter/pkg/tracing"
)

type RouterDeps struct {
	Config   *config.Config
	Registry *filtering.Registry
	Health   *health.CheckerRegistry
	Logger   logger.Logger
}

// NewRouter assembles the HTTP surface. ctx bounds background work started
// by middleware.
func NewRouter(ctx context.Context, deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if deps.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.LoggerMiddleware(deps.Logger))
	router.Use(middleware.BodyLimitMiddleware(constants.MaxRequestBodyBytes))

	healthRegistry := deps.Health
	if healthRegistry == nil {
		healthRegistry = health.NewCheckerRegistry()
	}
	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("")
	if deps.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(deps.Config.RateLimit)
		api.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		deps.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	NewHandler(deps.Registry, deps.Logger).RegisterRoutes(api)
	return router
}
