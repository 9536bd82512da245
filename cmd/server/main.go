package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "shelfshare-backend/internal/api/http"
	"shelfshare-backend/internal/app"
	"shelfshare-backend/internal/config"
	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/scheduler"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting ShelfShare Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress(), "storage", cfg.Storage.Type)
	logger.Info("Lending configuration", "request_ttl", cfg.Lending.RequestTTL, "store_timeout", cfg.Lending.StoreTimeout, "max_attempts", cfg.Lending.Retry.MaxAttempts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	// Notifications are delivered until shutdown, independent of request contexts
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	a.Dispatcher.Start(dispatchCtx)

	var cronScheduler *scheduler.Scheduler
	if cfg.Server.EmbedScheduler {
		cronScheduler, err = scheduler.NewScheduler(a.Jobs)
		if err != nil {
			logger.Error("Failed to initialize scheduler", "error", err)
			log.Fatalf("Failed to initialize scheduler: %v", err)
		}
		cronScheduler.Start()
	}

	handler := httpapi.NewHandler(a.Lending, a.Notes, a.Notifications, a.Store.Repos().Users)
	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           httpapi.NewRouter(handler, a.Tokens),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	// Graceful shutdown
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if cronScheduler != nil {
		cronScheduler.Stop()
	}
	stopDispatch()
	a.Dispatcher.Wait()
	logger.Info("Server stopped", "notifications_delivered", a.Dispatcher.Delivered(), "notifications_dropped", a.Dispatcher.Dropped())
}
