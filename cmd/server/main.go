package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pdm-pipeline/api/rest/routes"
	"pdm-pipeline/config"
	"pdm-pipeline/core/monitoring"
	"pdm-pipeline/core/repository"
	"pdm-pipeline/pkg/logger"
	"pdm-pipeline/storage"
)

func main() {
	cfg := config.Load()

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx := context.Background()

	// Initialize the run store
	var store repository.Store
	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			zapLogger.Fatal("Failed to connect to database", zap.Error(err))
		}
		store = repository.NewPostgresStore(db)
		zapLogger.Info("Database connected successfully")
	} else {
		store = repository.NewMemoryStore()
		zapLogger.Warn("DATABASE_URL not set, runs are kept in memory only")
	}
	defer store.Close()

	// Initialize artifact storage
	artifacts, err := storage.NewArtifactStore(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize artifact store", zap.Error(err))
	}

	metrics := monitoring.NewMetrics()

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, store, artifacts, metrics, zapLogger)
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Start server
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		zapLogger.Info("Starting tracking server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited")
}
