// Package main provides a CLI tool for running the historical balance
// aggregation once, optionally resuming from a checkpoint timestamp.
package main

import (
	"context"
	"flag"

	"github.com/chain-ledger/internal/config"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/service"
	"github.com/chain-ledger/internal/storage"
	"github.com/chain-ledger/internal/types"
)

func main() {
	fromTsFlag := flag.Int64("from-ts", 0, "Resume checkpoint in millisecond timestamp (0 = full run)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

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

	eventsRepo := storage.NewHistoryEventsRepository(postgres, nil, cfg.Processor.FreeEventsLimit)
	metricsRepo := storage.NewMetricsRepository(clickhouse)
	kvRepo := storage.NewKVRepository(postgres)

	ctx := context.Background()
	if err := metricsRepo.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to ensure metrics schema")
	}

	processor := service.NewBalanceProcessor(
		eventsRepo,
		metricsRepo,
		kvRepo,
		service.LogNotifier{},
		cfg.Processor.FlushBatchSize,
	)

	var fromTs *types.TimestampMS
	if *fromTsFlag > 0 {
		ts := types.TimestampMS(*fromTsFlag)
		fromTs = &ts
	}

	if err := processor.Run(ctx, fromTs); err != nil {
		logger.WithError(err).Fatal("Balance aggregation failed")
	}
	logger.Info("Balance aggregation finished")
}
