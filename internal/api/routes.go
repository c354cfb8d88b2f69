package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/auth"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/config"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/handler"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/middleware"
)

// Dependencies are the handlers the route table wires up.
type Dependencies struct {
	Public *handler.PublicHandler
	Admin  *handler.AdminHandler
	Health *handler.HealthHandler
}

// setupRoutes configures all API routes. The public group is unauthenticated
// but bot-filtered and rate-limited; the admin group requires a bearer token.
func setupRoutes(router *gin.Engine, cfg *config.Config, deps Dependencies, stop <-chan struct{}) {
	router.GET("/health", deps.Health.HealthCheck)

	rateLimitWindow := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second

	public := router.Group("/api/public/generated-link")
	public.Use(middleware.BotFilter())
	public.Use(middleware.RateLimiter(cfg.RateLimit.MaxRequestsPerMinute, rateLimitWindow, stop))
	public.GET("/validate/:token", deps.Public.Validate)
	public.POST("/mark-used", deps.Public.MarkUsed)

	admin := router.Group("/api/activities/:id/generated-links")
	admin.Use(auth.Middleware(cfg.Service.JWTSecret))
	admin.POST("", deps.Admin.Generate)
	admin.GET("", deps.Admin.List)
	admin.GET("/statistics", deps.Admin.Statistics)
	admin.GET("/groups", deps.Admin.ListGroups)
	admin.POST("/groups", deps.Admin.CreateGroup)
	admin.GET("/export", deps.Admin.Export)
	admin.POST("/urls", deps.Admin.ResolveURLs)
	admin.PATCH("/:linkId", deps.Admin.UpdateStatus)
	admin.DELETE("/:linkId", deps.Admin.Delete)
}
