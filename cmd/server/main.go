package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sepsis-sentinel/dashboard/internal/api"
	"github.com/sepsis-sentinel/dashboard/internal/config"
	"github.com/sepsis-sentinel/dashboard/internal/logging"
	"github.com/sepsis-sentinel/dashboard/internal/service"
	"github.com/sepsis-sentinel/dashboard/internal/session"
	"github.com/sepsis-sentinel/dashboard/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	predictor := external.NewPredictorClient(cfg.Predictor, logger)

	var redisClient *redis.Client
	if cfg.Session.Backend == session.BackendRedis {
		redisClient, err = session.NewRedisClient(cfg.Cache)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
	}
	sessions := session.NewManager(cfg.Session, cfg.Cache.KeyPrefix, redisClient, logger)

	server, err := api.NewServer(configManager, predictor, sessions, service.NewHistoryAggregator(logger), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	logger.WithFields(logrus.Fields{
		"host":            cfg.Server.Host,
		"port":            cfg.Server.Port,
		"predictor":       predictor.BaseURL(),
		"session_backend": sessions.Backend(),
		"environment":     cfg.Environment,
	}).Info("Starting Sepsis Sentinel dashboard")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return
	}

	logger.Info("Server stopped")
}
