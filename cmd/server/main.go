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

	"chatrelay-backend/internal/api"
	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/logging"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/store"
	"chatrelay-backend/internal/store/memory"
	"chatrelay-backend/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("FATAL: Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting chat relay backend", zap.String("env", cfg.Environment))

	// 2. Initialize the conversation store
	convStore, closeStore := openStore(cfg, logger)
	defer closeStore()

	// 3. Initialize Dependencies (Relay, Services, Handlers)
	client := relay.NewClient(cfg.BackendURL, relay.ClientOptions{
		Timeout:   cfg.BackendTimeout,
		RateLimit: cfg.BackendRateLimit,
	}, logger)
	adapter := relay.NewAdapter(client, cfg.ChunkDelay, logger)
	logger.Info("Relay adapter initialized",
		zap.String("backend_url", client.URL()),
		zap.Duration("chunk_delay", cfg.ChunkDelay),
		zap.Duration("backend_timeout", cfg.BackendTimeout))

	chatService := services.NewChatService(convStore, adapter, logger)
	conversationService := services.NewConversationService(convStore, logger)

	chatHandler := handlers.NewChatHandlers(adapter, chatService, logger)
	conversationHandler := handlers.NewConversationHandlers(conversationService, logger)

	// 4. Setup Router & Inject Dependencies
	router := api.NewRouter(api.RouterDependencies{
		ChatHandler:         chatHandler,
		ConversationHandler: conversationHandler,
		Config:              cfg,
		Logger:              logger,
	})

	// 5. Configure and Start HTTP Server
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streamed replies run as long as the backend keeps producing; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Server listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Could not listen", zap.String("port", cfg.HTTPPort), zap.Error(err))
		}
		logger.Info("Server listener routine stopped")
	}()

	<-stopChan
	logger.Info("Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server graceful shutdown failed", zap.Error(err))
	}

	logger.Info("Server shutdown complete")
}

// openStore returns the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, func()) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, using in-memory conversation store")
		return memory.New(), func() {}
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	dbpool, err := pgxpool.New(dbCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Unable to create database connection pool", zap.Error(err))
	}
	if err := dbpool.Ping(dbCtx); err != nil {
		dbpool.Close()
		logger.Fatal("Unable to ping database", zap.Error(err))
	}

	pgStore := postgres.NewPostgresStore(dbpool, logger)
	if err := pgStore.EnsureSchema(dbCtx); err != nil {
		dbpool.Close()
		logger.Fatal("Unable to prepare database schema", zap.Error(err))
	}
	logger.Info("Postgres conversation store initialized")

	return pgStore, dbpool.Close
}
