package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonto42/dogpark/backend/internal/auth"
	"github.com/anonto42/dogpark/backend/internal/dispatch"
	"github.com/anonto42/dogpark/backend/internal/jobs"
	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/internal/push"
	"github.com/anonto42/dogpark/backend/internal/realtime"
	"github.com/anonto42/dogpark/backend/internal/repositories"
	"github.com/anonto42/dogpark/backend/internal/router"
	"github.com/anonto42/dogpark/backend/pkg/config"
	"github.com/anonto42/dogpark/backend/pkg/firebase"
	"github.com/anonto42/dogpark/backend/pkg/logger"
	"github.com/anonto42/dogpark/backend/validators"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connections
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to initialize databases", zap.Error(err))
	}
	defer db.CloseDB() // Ensure database connections are closed when main exits

	mongoDB := db.Mongo.Database(cfg.MongoDatabase)
	tokenRepo := repositories.NewMongoPushTokenRepository(mongoDB)
	if err := tokenRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("Failed to create push token indexes", zap.Error(err))
	}

	var notificationRepo repositories.NotificationRepository
	if db.Postgres != nil {
		if err := db.Postgres.AutoMigrate(&models.Notification{}); err != nil {
			log.Fatal("Failed to auto migrate notifications", zap.Error(err))
		}
		notificationRepo = repositories.NewPostgresNotificationRepository(db.Postgres)
		log.Info("Notification records stored in PostgreSQL")
	} else {
		mongoNotifications := repositories.NewMongoNotificationRepository(mongoDB)
		if err := mongoNotifications.EnsureIndexes(ctx); err != nil {
			log.Fatal("Failed to create notification indexes", zap.Error(err))
		}
		notificationRepo = mongoNotifications
		log.Info("Notification records stored in MongoDB")
	}

	// Initialize Firebase; push and Firebase auth are unavailable without it
	firebaseApp, err := firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, log)
	if err != nil {
		log.Warn("Firebase disabled", zap.Error(err))
	}

	var verifier auth.CredentialVerifier
	switch {
	case cfg.AuthProvider == "firebase" && firebaseApp != nil:
		verifier = auth.NewFirebaseVerifier(firebaseApp.AuthClient)
	case cfg.AuthProvider == "firebase":
		log.Fatal("AUTH_PROVIDER=firebase requires Firebase credentials")
	default:
		verifier = auth.NewJWTVerifier(cfg.JWTSecret)
	}

	var attempts realtime.AttemptCounter
	if db.Redis != nil {
		attempts = realtime.NewRedisAttempts(db.Redis, cfg.Realtime.SweepInterval)
		log.Info("Reconnect attempts tracked in Redis")
	}

	registry := realtime.NewRegistry(realtime.Config{
		MaxConnections:       cfg.Realtime.MaxConnections,
		HeartbeatInterval:    cfg.Realtime.HeartbeatInterval,
		IdleTimeout:          cfg.Realtime.IdleTimeout,
		SweepInterval:        cfg.Realtime.SweepInterval,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
	}, verifier, attempts, log)
	registry.Start(ctx)

	var pusher dispatch.Pusher
	if firebaseApp != nil {
		pusher = push.NewEngine(tokenRepo, push.NewFCMGateway(firebaseApp.Messaging), push.Config{
			BatchSize:    cfg.Push.BatchSize,
			BatchTimeout: cfg.Push.BatchTimeout,
			RatePerSec:   cfg.Push.RatePerSec,
		}, log)
	} else {
		log.Warn("Push delivery disabled, notifications reach devices only over live connections")
	}
	orchestrator := dispatch.New(notificationRepo, registry, pusher, dispatch.Options{}, log)

	retention := jobs.NewRetention(notificationRepo, cfg.Retention.Schedule, cfg.Retention.ReadRetention, log)
	if err := retention.Start(); err != nil {
		log.Fatal("Failed to schedule retention job", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()

	// Setup global middleware
	router.SetupMiddleware(e, log)

	// Setup routes and dependencies
	router.SetupRoutes(e, router.Dependencies{
		Notifications:  notificationRepo,
		Dispatcher:     orchestrator,
		PushTokens:     tokenRepo,
		Registry:       registry,
		Verifier:       verifier,
		WSWriteTimeout: cfg.Realtime.WriteTimeout,
	}, log)

	// Start server
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server stopped", zap.Error(err))
		}
	}()
	log.Info("Server started", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown", zap.Error(err))
	}
	registry.Close()
	retention.Stop(shutdownCtx)
	orchestrator.Wait()
}
