// Package main provides the validator staleness poller entry point. It
// periodically refreshes stale validator daily stats and withdrawals from
// the beacon chain API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chain-ledger/internal/adapter"
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

	validatorsRepo := storage.NewValidatorsRepository(postgres)
	eventsRepo := storage.NewHistoryEventsRepository(postgres, nil, cfg.Processor.FreeEventsLimit)
	fetcher := adapter.NewBeaconChainClient(cfg.Poller.BeaconAPIURL, cfg.Poller.BeaconAPIKey)

	scheduler := service.NewPollScheduler(
		validatorsRepo,
		fetcher,
		eventsRepo,
		cfg.Poller.Interval,
		cfg.Poller.RequestsPerSec,
		cfg.Poller.Burst,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down poller...")
		cancel()
	}()

	logger.WithField("interval", cfg.Poller.Interval.String()).Info("Validator poller started")
	if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
		logger.WithError(err).Fatal("Poller exited with error")
	}
	logger.Info("Poller exited")
}
