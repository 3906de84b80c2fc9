package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salon_backend/internal/config"
	"salon_backend/internal/handlers"
	"salon_backend/internal/logger"
	"salon_backend/internal/metrics"
	"salon_backend/internal/middleware"
	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/routes"
	servicesChat "salon_backend/internal/services/chat"
	"salon_backend/internal/store"
	"salon_backend/internal/validator"
	"salon_backend/internal/workers"
	"salon_backend/pkg/apperrors"
	"salon_backend/ws"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// App - собранное приложение: хранилище, сервис чата, websocket и роутер.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	store   store.MessageStore
	metrics *metrics.ChatMetrics
	limiter *middleware.LimiterPool

	wsManager *ws.WebSocketManager
	bgCancel  context.CancelFunc
	bgDone    []<-chan struct{}

	router  *gin.Engine
	closers []closer
}

func Run() {
	cfg := config.GetConfig()
	logger.Init(cfg.Server.Env)
	logger.Info("Logger initialized", "env", cfg.Server.Env)
	apperrors.Debug = cfg.Server.Env != "production"
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, logger.GetLogger())
	if err != nil {
		logger.Fatal("Failed to initialize application", "error", err)
	}
	if err := a.Serve(ctx); err != nil {
		logger.Fatal("Server error", "error", err)
	}
}

// New собирает зависимости в порядке: хранилище -> сервис -> websocket -> роутер.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	st, closers, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		store:   st,
		metrics: metrics.New(),
		limiter: middleware.NewLimiterPool(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		closers: closers,
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.bgCancel = bgCancel

	chatService := servicesChat.NewService(st, nil, servicesChat.Config{
		MaxAttachmentBytes:  cfg.Chat.MaxAttachmentBytes,
		IndexConcurrency:    cfg.Chat.IndexConcurrency,
		MarkSeenConcurrency: cfg.Chat.MarkSeenConcurrency,
		SessionIdleTTL:      cfg.Chat.SessionIdleTTL,
	}, log, a.metrics)

	a.wsManager = ws.NewWebSocketManager(log, a.metrics)
	wsDone := make(chan struct{})
	go func() {
		defer close(wsDone)
		a.wsManager.Run(bgCtx)
	}()
	a.bgDone = append(a.bgDone, wsDone)

	if notifier, ok := st.(workers.Notifier); ok && cfg.Database.Driver != "memory" && cfg.Chat.ResyncInterval > 0 {
		resync := workers.NewResyncWorker(notifier, []string{
			modelChat.PartitionBranchToCustomer,
			modelChat.PartitionCustomerToBranch,
			modelChat.PartitionBranchToSuperAdmin,
			modelChat.PartitionSuperAdminToBranch,
		}, cfg.Chat.ResyncInterval, log)
		a.bgDone = append(a.bgDone, resync.Start(bgCtx))
	}

	baseHandler := handlers.NewBaseHandler(validator.New())
	appHandlers := &handlers.AppHandlers{
		ChatHandler: handlers.NewChatHandler(baseHandler, chatService, a.wsManager),
		// base64 раздувает вложение на треть, плюс запас на поля кадра
		WSHandler: handlers.NewWSHandler(baseHandler, a.wsManager, chatService, cfg.Chat.MaxAttachmentBytes*2+64<<10),
	}

	a.router = initializeGinRouter()
	routes.RegisterRoutes(a.router, appHandlers, routes.Options{
		Limiter:        a.limiter,
		OnRateLimited:  a.metrics.RateLimited,
		MetricsHandler: a.metrics.Handler(),
		Health:         a.health,
	})
	return a, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Serve слушает порт до отмены ctx, затем мягко останавливает сервер.
func (a *App) Serve(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              address,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info(fmt.Sprintf("Server starting on %s", address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutting down server...")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("Server shutdown error", "error", err)
	}
	a.Close()
	return serveErr
}

// Close останавливает websocket-клиентов, воркеры, лимитер и хранилище.
func (a *App) Close() {
	a.bgCancel()
	for _, done := range a.bgDone {
		<-done
	}
	a.limiter.Shutdown()
	runClosers(a.closers, a.log)
	a.log.Info("Application stopped")
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"driver":     a.cfg.Database.Driver,
		"ws_clients": a.wsManager.GetClientCount(),
	})
}

func initializeGinRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	return router
}
