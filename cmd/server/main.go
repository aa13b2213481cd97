package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/api"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/config"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/database"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/provider"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/queue"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/service"
	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/worker"

	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Settlement Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_host", cfg.Database.Host),
		zap.Int("num_chains", len(cfg.Chains)))

	// Connect to database
	db, err := database.Connect(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Run migrations
	migrationPath := "internal/database/migrations/001_schema.sql"
	if err := database.RunMigrations(db, migrationPath); err != nil {
		logger.Warn("Failed to run migrations (may already be applied)", zap.Error(err))
	} else {
		logger.Info("Database migrations applied successfully")
	}

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	logger.Info("Database health check passed")

	// Select the job queue. Redis gives durable delayed delivery; the
	// in-memory queue is for single-instance and local runs.
	var jobQueue queue.Queue
	if cfg.Redis.Addr != "" {
		rq, err := queue.NewRedisQueue(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rq.Close()
		jobQueue = rq
		logger.Info("Using Redis job queue", zap.String("addr", cfg.Redis.Addr))
	} else {
		jobQueue = queue.NewMemory(logger)
		logger.Info("Using in-memory job queue")
	}

	// Initialize provider client and services
	providerClient := provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.SecretKey, logger)
	syncService := service.NewSyncService(db, providerClient, cfg.Provider.WebhookSecret, logger)
	initiateService := service.NewInitiateService(db, cfg, logger)
	accountService := service.NewAccountService(db, providerClient, cfg, logger)
	feeService := service.NewFeeService(cfg, logger)

	logger.Info("Services initialized")

	// Initialize API handlers
	apiHandler := api.NewHandler(db, syncService, initiateService, accountService, logger)
	router := api.SetupRouter(apiHandler, logger)

	// Create HTTP server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Initialize the reconciliation manager
	manager, err := worker.NewManager(db, cfg, jobQueue, syncService, providerClient, feeService, logger)
	if err != nil {
		logger.Fatal("Failed to initialize worker manager", zap.Error(err))
	}

	manager.Start()
	logger.Info("Workers started")

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		logger.Fatal("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown workers first so in-flight settlements finish their transitions
	if err := manager.Shutdown(10 * time.Second); err != nil {
		logger.Error("Worker shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	logger.Info("Service stopped successfully")
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
