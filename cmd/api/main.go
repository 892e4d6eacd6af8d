package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/rerasync/internal/api"
	"github.com/timmy/rerasync/internal/api/handler"
	"github.com/timmy/rerasync/internal/config"
	"github.com/timmy/rerasync/internal/logger"
	"github.com/timmy/rerasync/internal/replica"
	"github.com/timmy/rerasync/internal/repository"
	"github.com/timmy/rerasync/internal/service"
	"github.com/timmy/rerasync/internal/storage"
)

func main() {
	appLogger := logger.New(logger.LoadFromEnv("rerasync-api"))
	logger.SetDefaultLogger(appLogger)

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if cfg.Log.Level != "" && os.Getenv("LOG_LEVEL") == "" {
		logCfg := logger.LoadFromEnv("rerasync-api")
		logCfg.Level = cfg.Log.Level
		appLogger = logger.New(logCfg)
		logger.SetDefaultLogger(appLogger)
	}
	defer logger.Sync()

	ctx := context.Background()

	// Pull the latest published replica when this host has none yet
	if cfg.Storage.Enabled {
		if _, err := os.Stat(cfg.Replica.Path); errors.Is(err, os.ErrNotExist) {
			restoreReplica(ctx, cfg, appLogger)
		}
	}

	reader := replica.NewReader(cfg.Replica.Path)
	defer reader.Close()

	// Run history is served only when the canonical store is reachable
	var runs handler.RunLister
	if db, err := repository.InitDB(&cfg.Database); err != nil {
		appLogger.WithError(err).Warn("Canonical store unavailable, run history disabled")
	} else {
		runs = repository.NewRunRepository(db)
	}

	router := api.SetupRouter(reader, runs, &cfg.Server, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port":    cfg.Server.Port,
			"mode":    cfg.Server.Mode,
			"replica": cfg.Replica.Path,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

func restoreReplica(ctx context.Context, cfg *config.Config, log *logger.Logger) {
	objectStorage, err := storage.NewStorage(ctx, &cfg.Storage)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize storage, serving without replica")
		return
	}
	ok, err := service.NewPublisher(objectStorage, 0, log).RestoreReplica(ctx, cfg.Replica.Path)
	if err != nil {
		log.WithError(err).Warn("Failed to restore replica")
		return
	}
	if !ok {
		log.Info("No published replica yet")
	}
}
