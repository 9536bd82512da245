// Package app wires configuration, storage and services into a running backend.
package app

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"shelfshare-backend/internal/clock"
	"shelfshare-backend/internal/config"
	"shelfshare-backend/internal/jobs"
	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/repository"
	"shelfshare-backend/internal/repository/memory"
	"shelfshare-backend/internal/repository/postgres"
	"shelfshare-backend/internal/security"
	"shelfshare-backend/internal/service"
)

// App holds the wired components shared by the server and the cron runner.
type App struct {
	Config        *config.Config
	Store         repository.Store
	Lending       service.LendingService
	Notes         *service.NoteService
	Notifications service.NotificationService
	Dispatcher    *service.NotificationDispatcher
	Sweeper       *service.ExpirySweeper
	Jobs          *jobs.JobRunner
	// Tokens is nil when no JWT secret is configured.
	Tokens security.TokenManager
}

// New opens the configured store and builds every service on top of it.
// The dispatcher is built but not started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	clk := clock.Real{}
	repos := store.Repos()

	var sender service.EmailSender = service.LogSender{}
	if cfg.Email.SendGridAPIKey != "" {
		sender = service.NewSendGridSender(cfg.Email.SendGridAPIKey, cfg.Email.FromName, cfg.Email.FromEmail)
		logger.Info("Email delivery via SendGrid", "from", cfg.Email.FromEmail)
	} else {
		logger.Info("No SendGrid key configured, emails will only be logged")
	}

	dispatcher := service.NewNotificationDispatcher(repos, sender, service.DispatcherOptions{
		Workers:         cfg.Notifications.Workers,
		QueueSize:       cfg.Notifications.QueueSize,
		MaxRetries:      cfg.Notifications.MaxRetries,
		RetryBase:       cfg.Notifications.RetryBase,
		EmailsPerSecond: cfg.Notifications.EmailsPerSecond,
		EmailBurst:      cfg.Notifications.EmailBurst,
	})
	notes := service.NewNoteService(repos.Notes)
	lending := service.NewLendingService(store, notes, dispatcher, clk, service.LendingOptions{
		MaxAttempts:  cfg.Lending.Retry.MaxAttempts,
		BaseDelay:    cfg.Lending.Retry.BaseDelay,
		JitterFactor: cfg.Lending.Retry.JitterFactor,
		StoreTimeout: cfg.Lending.StoreTimeout,
	})
	sweeper := service.NewExpirySweeper(lending, clk, cfg.Lending.RequestTTL)

	var tokens security.TokenManager
	if cfg.JWT.Secret != "" {
		tokens = security.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)
	} else {
		logger.Warn("No JWT secret configured, trusting the X-Username header")
	}

	return &App{
		Config:        cfg,
		Store:         store,
		Lending:       lending,
		Notes:         notes,
		Notifications: service.NewNotificationService(repos.Users, repos.Notifications),
		Dispatcher:    dispatcher,
		Sweeper:       sweeper,
		Jobs:          jobs.NewJobRunner(sweeper, cfg),
		Tokens:        tokens,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.Storage.Type == config.StorageMemory {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return memory.NewStore(clock.Real{}), nil
	}

	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("Database connection established")

	if cfg.Database.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("Database schema ensured")
	}
	return postgres.NewStore(db), nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
