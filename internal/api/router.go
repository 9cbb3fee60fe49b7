package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/api/handlers"
	"github.com/postpilot/postpilot/internal/api/middleware"
	"github.com/postpilot/postpilot/internal/config"
	"github.com/postpilot/postpilot/internal/ratelimit"
)

type Server struct {
	Router *gin.Engine
}

func NewServer(cfg *config.Config, h *handlers.Handler, limiter *ratelimit.Limiter, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthRequired(cfg.Server.JWTSecret))
	{
		api.GET("/tenants", h.ListTenants)
		api.POST("/tenants", h.CreateTenant)
		api.GET("/tenants/:id", h.GetTenant)
		api.PUT("/tenants/:id", h.UpdateTenant)
		api.DELETE("/tenants/:id", h.DeleteTenant)
		api.GET("/tenants/:id/jobs", h.ListTenantJobs)
		api.GET("/jobs/:jobId", h.GetJob)

		// Preview spends provider quota, so it sits behind the shared
		// per-tenant limiter.
		api.POST("/tenants/:id/generate", middleware.RateLimit(limiter), h.GeneratePreview)
		api.GET("/tenants/:id/ratelimit", h.RateLimitStatus)

		api.GET("/cache/stats", h.CacheStats)
		api.DELETE("/cache", h.ClearCache)

		api.POST("/knowledge", h.AddKnowledge)
		api.POST("/knowledge/search", h.SearchKnowledge)
		api.DELETE("/knowledge/:id", h.RemoveKnowledge)
	}

	return &Server{Router: router}
}
