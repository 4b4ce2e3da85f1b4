package service

import (
	"context"
	"fmt"
	"time"

	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/retry"
	"github.com/chain-ledger/internal/types"
	"golang.org/x/time/rate"
)

// ValidatorSource answers which validators are due for a refresh.
type ValidatorSource interface {
	GetValidatorsToQueryForStats(ctx context.Context, upTo types.Timestamp) ([]models.ValidatorQueryTarget, error)
	GetValidatorsToQueryForWithdrawals(ctx context.Context, upTo types.Timestamp) ([]models.ValidatorQueryTarget, error)
	AddDailyStats(ctx context.Context, stats []*models.ValidatorDailyStats) error
}

// StatsFetcher pulls validator data from an external beacon chain API.
type StatsFetcher interface {
	FetchDailyStats(ctx context.Context, validatorIndex uint64, since types.Timestamp) ([]*models.ValidatorDailyStats, error)
	FetchWithdrawals(ctx context.Context, validatorIndex uint64, since types.Timestamp) ([]*models.HistoryEvent, error)
}

// EventSink persists fetched withdrawal events.
type EventSink interface {
	AddEvents(ctx context.Context, events []*models.HistoryEvent) error
}

// PollScheduler periodically refreshes stale validator data. Staleness
// queries decide what to fetch, a shared rate limiter keeps the external
// API happy, and per-validator failures are retried then skipped so one
// bad validator never stalls the rest.
type PollScheduler struct {
	validators ValidatorSource
	fetcher    StatsFetcher
	events     EventSink
	limiter    *rate.Limiter
	interval   time.Duration
	retryCfg   *retry.Config
	nowFunc    func() types.Timestamp
}

// NewPollScheduler creates a scheduler polling every interval, issuing at
// most requestsPerSec external calls with the given burst.
func NewPollScheduler(validators ValidatorSource, fetcher StatsFetcher, events EventSink, interval time.Duration, requestsPerSec float64, burst int) *PollScheduler {
	return &PollScheduler{
		validators: validators,
		fetcher:    fetcher,
		events:     events,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), burst),
		interval:   interval,
		retryCfg:   retry.DefaultConfig(),
		nowFunc:    types.Now,
	}
}

// Run polls until the context is cancelled. One cycle runs immediately.
func (s *PollScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			logging.WithError(err).Error("Validator poll cycle failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single poll cycle: refresh stale daily stats, then
// stale withdrawals.
func (s *PollScheduler) RunOnce(ctx context.Context) error {
	now := s.nowFunc()

	statsTargets, err := s.validators.GetValidatorsToQueryForStats(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to determine validators needing stats: %w", err)
	}
	for _, target := range statsTargets {
		if err := s.refreshStats(ctx, target); err != nil {
			logging.WithError(err).WithField("validator_index", target.ValidatorIndex).
				Warn("Skipping validator stats refresh")
		}
	}

	withdrawalTargets, err := s.validators.GetValidatorsToQueryForWithdrawals(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to determine validators needing withdrawals: %w", err)
	}
	for _, target := range withdrawalTargets {
		if err := s.refreshWithdrawals(ctx, target); err != nil {
			logging.WithError(err).WithField("validator_index", target.ValidatorIndex).
				Warn("Skipping validator withdrawal refresh")
		}
	}

	logging.WithFields(map[string]interface{}{
		"stats_targets":      len(statsTargets),
		"withdrawal_targets": len(withdrawalTargets),
	}).Info("Validator poll cycle finished")
	return nil
}

func (s *PollScheduler) refreshStats(ctx context.Context, target models.ValidatorQueryTarget) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	var stats []*models.ValidatorDailyStats
	err := retry.WithBackoff(ctx, s.retryCfg, func(ctx context.Context, _ int) error {
		var err error
		stats, err = s.fetcher.FetchDailyStats(ctx, target.ValidatorIndex, target.LastTimestamp)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch daily stats: %w", err)
	}
	if len(stats) == 0 {
		return nil
	}
	return s.validators.AddDailyStats(ctx, stats)
}

func (s *PollScheduler) refreshWithdrawals(ctx context.Context, target models.ValidatorQueryTarget) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	var events []*models.HistoryEvent
	err := retry.WithBackoff(ctx, s.retryCfg, func(ctx context.Context, _ int) error {
		var err error
		events, err = s.fetcher.FetchWithdrawals(ctx, target.ValidatorIndex, target.LastTimestamp)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch withdrawals: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	return s.events.AddEvents(ctx, events)
}
