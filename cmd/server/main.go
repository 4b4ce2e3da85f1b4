// Package main provides the API server entry point for the chain ledger
// service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chain-ledger/internal/api"
	"github.com/chain-ledger/internal/config"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/service"
	"github.com/chain-ledger/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	statsCache := storage.NewStatsCache(redis, cfg.Cache.TTL)
	eventsRepo := storage.NewHistoryEventsRepository(postgres, statsCache, cfg.Processor.FreeEventsLimit)
	validatorsRepo := storage.NewValidatorsRepository(postgres)
	metricsRepo := storage.NewMetricsRepository(clickhouse)
	kvRepo := storage.NewKVRepository(postgres)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := metricsRepo.EnsureSchema(ctx); err != nil {
		cancel()
		logger.WithError(err).Fatal("Failed to ensure metrics schema")
	}
	cancel()

	notifier := service.NewChannelNotifier(64)
	processor := service.NewBalanceProcessor(
		eventsRepo,
		metricsRepo,
		kvRepo,
		notifier,
		cfg.Processor.FlushBatchSize,
	)

	go func() {
		for msg := range notifier.Messages() {
			switch msg.Type {
			case service.MessageNegativeBalance:
				logger.WithFields(map[string]interface{}{
					"event_identifier": msg.EventIdentifier,
					"group_identifier": msg.GroupIdentifier,
					"asset":            msg.Asset,
					"protocol":         msg.Protocol,
					"location":         msg.Location,
				}).Error("Negative balance detected")
			default:
				logger.WithFields(map[string]interface{}{
					"processed": msg.Processed,
					"total":     msg.Total,
				}).Info("Balance processing progress")
			}
		}
	}()

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		FreeEventsLimit: cfg.Processor.FreeEventsLimit,
	}

	server := api.NewServer(serverConfig, eventsRepo, validatorsRepo, processor)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
