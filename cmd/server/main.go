package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"simats-hub/internal/auth"
	"simats-hub/internal/config"
	"simats-hub/internal/database"
	"simats-hub/internal/handlers"
	"simats-hub/internal/logging"
	"simats-hub/internal/notify"
	"simats-hub/internal/repository"
	"simats-hub/internal/router"
	"simats-hub/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env (ignore error in production, env vars set directly)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("❌ Invalid logging configuration: %v", err)
	}

	// Connect to the KV backend
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := database.OpenStore(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.WithError(err).Fatalf("❌ Failed to connect to %s", cfg.KVBackend)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("⚠️  Failed to close store")
		}
	}()

	feedbackRepo := repository.NewFeedbackRepo(store, logger)
	feedbackService := service.NewFeedbackService(feedbackRepo, logger, service.WithCacheTTL(cfg.FeedbackCacheTTL))

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.NotificationsEnabled() {
		notifier = notify.NewResendNotifier(cfg.ResendAPIKey, cfg.FromEmail, cfg.NotifyEmail, logger)
	}

	feedbackHandler := handlers.NewFeedbackHandler(feedbackService, notifier, logger, cfg.ExposeErrorDetails())
	r := router.New(router.Config{
		Prefix:         cfg.APIPrefix,
		AllowedOrigins: cfg.AllowedOrigins,
	}, feedbackHandler, auth.NewVerifier(cfg.JWTSecret), logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Infof("🚀 SIMATS hub starting on port %s (prefix %s)", cfg.Port, cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("❌ Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("❌ Forced shutdown")
		return
	}
	logger.Info("Server stopped")
}
