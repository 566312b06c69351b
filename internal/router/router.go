package router

import (
	"time"

	"github.com/anonto42/dogpark/backend/internal/auth"
	"github.com/anonto42/dogpark/backend/internal/handlers"
	"github.com/anonto42/dogpark/backend/internal/middleware"
	"github.com/anonto42/dogpark/backend/internal/realtime"
	"github.com/anonto42/dogpark/backend/internal/repositories"
	"github.com/labstack/echo/v4"
	eMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies are the collaborators the HTTP surface is built from
type Dependencies struct {
	Notifications  repositories.NotificationRepository
	Dispatcher     handlers.Dispatcher
	PushTokens     repositories.PushTokenRepository
	Registry       *realtime.Registry
	Verifier       auth.CredentialVerifier
	WSWriteTimeout time.Duration
}

// SetupMiddleware configures global Echo middleware
func SetupMiddleware(e *echo.Echo, log *zap.Logger) {
	e.Use(eMiddleware.Recover())
	e.Use(eMiddleware.CORS())
	e.Use(eMiddleware.RequestLoggerWithConfig(eMiddleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v eMiddleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	}))
	log.Info("Global middleware configured")
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, deps Dependencies, log *zap.Logger) {
	// Health check and metrics - always accessible
	e.GET("/health", handlers.HealthCheck(deps.Registry))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Live connections authenticate inside the upgrade so rejections carry a close code
	wsHandler := handlers.NewWebSocketHandler(deps.Registry, deps.WSWriteTimeout, log)
	wsHandler.RegisterWebSocketRoutes(e)
	log.Info("WebSocket route configured")

	// --- Protected routes ---
	api := e.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(deps.Verifier))

	notificationHandler := handlers.NewNotificationHandler(deps.Notifications, deps.Dispatcher, log)
	notificationHandler.RegisterNotificationRoutes(api)
	log.Info("Notification routes configured")

	pushTokenHandler := handlers.NewPushTokenHandler(deps.PushTokens, log)
	pushTokenHandler.RegisterPushTokenRoutes(api)
	log.Info("Push token routes configured")

	log.Info("All routes configured")
}
