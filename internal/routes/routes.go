package routes

import (
	"fmt"
	"net/http"

	"salon_backend/internal/handlers"
	"salon_backend/internal/logger"
	"salon_backend/internal/middleware"
	"salon_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

// Options - инфраструктурные маршруты и лимитер, которые собирает app.
type Options struct {
	Limiter        *middleware.LimiterPool
	OnRateLimited  func()
	MetricsHandler http.Handler
	Health         gin.HandlerFunc
}

// RegisterRoutes регистрирует все HTTP и WebSocket маршруты.
func RegisterRoutes(ginRouter *gin.Engine, appHandlers *handlers.AppHandlers, opts Options) {
	if opts.Health != nil {
		ginRouter.GET("/healthz", opts.Health)
	}
	if opts.MetricsHandler != nil {
		ginRouter.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	authed := []gin.HandlerFunc{middleware.IdentityMiddleware()}
	if opts.Limiter != nil {
		authed = append(authed, middleware.RateLimitMiddleware(opts.Limiter, opts.OnRateLimited))
	}

	// Регистрация HTTP API v1
	api := ginRouter.Group("/api/v1", authed...)
	{
		appHandlers.ChatHandler.RegisterRoutes(api)
	}

	// WebSocket: лимитер только на установку соединения
	wsGroup := ginRouter.Group("", authed...)
	appHandlers.WSHandler.RegisterRoutes(wsGroup)
	logger.Info("WebSocket route /ws/chat/:channel registered")

	ginRouter.NoRoute(func(c *gin.Context) {
		apperrors.HandleError(c, apperrors.ErrNotFound(fmt.Errorf("no route for %s %s", c.Request.Method, c.Request.URL.Path)))
	})
}
