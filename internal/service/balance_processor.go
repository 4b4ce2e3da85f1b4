package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/chain-ledger/internal/filters"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// Checkpoint keys in the durable key-value store. A completed stamp means
// snapshots are consistent up to that time; an attempted stamp without a
// matching completed stamp means the last run was interrupted or halted.
const (
	CheckpointLastAttempted = "balances_last_attempted_ts"
	CheckpointLastCompleted = "balances_last_completed_ts"
	CheckpointStaleMarker   = "balances_stale"
)

// EventSource streams history events for processing.
type EventSource interface {
	ForEachEvent(ctx context.Context, q *filters.HistoryEventQuery, fn func(*models.HistoryEvent) error) error
	GetEventsCount(ctx context.Context, q *filters.HistoryEventQuery, entriesLimit int) (int64, int64, error)
}

// MetricsStore persists per-event balance snapshots.
type MetricsStore interface {
	InsertSnapshots(ctx context.Context, snapshots []*models.BalanceSnapshot) error
	DeleteFrom(ctx context.Context, from types.TimestampMS) error
	LatestBalancesBefore(ctx context.Context, before types.TimestampMS) (map[models.BucketKey]decimal.Decimal, error)
}

// CheckpointStore is durable bookkeeping that survives restarts.
type CheckpointStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Notifier receives progress updates and the negative-balance anomaly.
type Notifier interface {
	NotifyProgress(processed, total int64)
	NotifyNegativeBalance(event *models.HistoryEvent, bucket models.BucketKey)
}

// BalanceProcessor walks history events in chronological order and records
// a per-bucket running balance snapshot after each one, so balance-at-time
// queries never re-sum from scratch.
type BalanceProcessor struct {
	events      EventSource
	metrics     MetricsStore
	checkpoints CheckpointStore
	notifier    Notifier
	batchSize   int
}

// NewBalanceProcessor creates a balance processor flushing snapshots in
// batches of batchSize rows.
func NewBalanceProcessor(events EventSource, metrics MetricsStore, checkpoints CheckpointStore, notifier Notifier, batchSize int) *BalanceProcessor {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &BalanceProcessor{
		events:      events,
		metrics:     metrics,
		checkpoints: checkpoints,
		notifier:    notifier,
		batchSize:   batchSize,
	}
}

// errNegativeBalance stops the event walk; the offending event and bucket
// ride along for the notification.
type negativeBalanceError struct {
	event  *models.HistoryEvent
	bucket models.BucketKey
}

func (e *negativeBalanceError) Error() string {
	return fmt.Sprintf("balance of bucket %v would turn negative at event %d", e.bucket, e.event.Identifier)
}

// Run processes all events from the given checkpoint forward, or the full
// history when fromTs is nil. Resuming deletes every snapshot at or after
// the checkpoint and recomputes; balances seed from the latest surviving
// snapshot per bucket. A negative running balance halts the run before the
// offending event commits, leaving the attempted stamp so the next run
// retries.
func (p *BalanceProcessor) Run(ctx context.Context, fromTs *types.TimestampMS) error {
	balances := make(map[models.BucketKey]decimal.Decimal)
	var fromBound *int64

	if fromTs != nil {
		if err := p.metrics.DeleteFrom(ctx, *fromTs); err != nil {
			return fmt.Errorf("failed to clear snapshots for reprocessing: %w", err)
		}
		seed, err := p.metrics.LatestBalancesBefore(ctx, *fromTs)
		if err != nil {
			return fmt.Errorf("failed to seed balances: %w", err)
		}
		balances = seed
		bound := int64(*fromTs)
		fromBound = &bound
	}

	now := types.NowMS()
	if err := p.checkpoints.Set(ctx, CheckpointLastAttempted, strconv.FormatInt(int64(now), 10)); err != nil {
		return fmt.Errorf("failed to stamp attempted checkpoint: %w", err)
	}

	query := p.buildQuery(fromBound)
	total, _, err := p.events.GetEventsCount(ctx, query, 0)
	if err != nil {
		return fmt.Errorf("failed to count events to process: %w", err)
	}
	stride := total / 20
	if stride == 0 {
		stride = 1
	}

	logging.WithFields(map[string]interface{}{
		"total":   total,
		"resume":  fromTs != nil,
		"buckets": len(balances),
	}).Info("Starting historical balance processing")

	batch := make([]*models.BalanceSnapshot, 0, p.batchSize)
	var processed int64

	err = p.events.ForEachEvent(ctx, query, func(event *models.HistoryEvent) error {
		bucket := BucketForEvent(event)
		balance := balances[bucket]

		switch event.Direction() {
		case types.DirectionIn:
			balance = balance.Add(event.Amount)
		case types.DirectionOut:
			next := balance.Sub(event.Amount)
			if next.IsNegative() {
				return &negativeBalanceError{event: event, bucket: bucket}
			}
			balance = next
		}
		balances[bucket] = balance

		batch = append(batch, &models.BalanceSnapshot{
			EventIdentifier: event.Identifier,
			Timestamp:       event.Timestamp,
			Bucket:          bucket,
			Balance:         balance,
		})
		if len(batch) >= p.batchSize {
			if err := p.metrics.InsertSnapshots(ctx, batch); err != nil {
				return fmt.Errorf("failed to flush snapshot batch: %w", err)
			}
			batch = batch[:0]
		}

		processed++
		if processed%stride == 0 {
			p.notifier.NotifyProgress(processed, total)
		}
		return nil
	})
	if err != nil {
		var halt *negativeBalanceError
		if errors.As(err, &halt) {
			logging.WithFields(map[string]interface{}{
				"event_identifier": halt.event.Identifier,
				"group_identifier": halt.event.EventIdentifier,
				"asset":            halt.bucket.Asset,
			}).Warn("Negative balance detected, halting balance processing")
			p.notifier.NotifyNegativeBalance(halt.event, halt.bucket)
			return nil
		}
		return err
	}

	if len(batch) > 0 {
		if err := p.metrics.InsertSnapshots(ctx, batch); err != nil {
			return fmt.Errorf("failed to flush final snapshot batch: %w", err)
		}
	}
	p.notifier.NotifyProgress(total, total)

	if err := p.checkpoints.Set(ctx, CheckpointLastCompleted, strconv.FormatInt(int64(types.NowMS()), 10)); err != nil {
		return fmt.Errorf("failed to stamp completed checkpoint: %w", err)
	}
	if err := p.checkpoints.Delete(ctx, CheckpointStaleMarker); err != nil {
		return fmt.Errorf("failed to clear stale marker: %w", err)
	}

	logging.WithField("processed", processed).Info("Historical balance processing completed")
	return nil
}

// buildQuery assembles the event walk filter: everything from the optional
// checkpoint forward, excluding ignored assets and the protocol-internal
// transfer subtypes already represented by the protocol bucket split.
func (p *BalanceProcessor) buildQuery(fromTs *int64) *filters.HistoryEventQuery {
	q := filters.NewHistoryEventQuery(filters.HistoryEventParams{
		FromTs:               fromTs,
		ExcludeIgnoredAssets: true,
	})
	q.Filters = append(q.Filters, &filters.NotValuesFilter{
		Column: "subtype",
		Values: []interface{}{string(types.SubTypeDepositAsset), string(types.SubTypeRemoveAsset)},
	})
	return q
}

// BucketForEvent classifies an event into its balance bucket. Funds moving
// into or out of a protocol position get a position-specific bucket keyed
// by the counterparty; everything else lands in the plain wallet bucket.
func BucketForEvent(event *models.HistoryEvent) models.BucketKey {
	bucket := models.BucketKey{
		Location:      event.Location,
		LocationLabel: event.LocationLabel,
		Asset:         event.Asset,
	}
	if event.Counterparty == "" {
		return bucket
	}
	switch event.Direction() {
	case types.DirectionIn:
		if event.SubType == types.SubTypeReceiveWrapped || event.SubType == types.SubTypeGenerateDebt {
			bucket.Protocol = event.Counterparty
		}
	case types.DirectionOut:
		if event.SubType == types.SubTypeReturnWrapped || event.SubType == types.SubTypePaybackDebt {
			bucket.Protocol = event.Counterparty
		}
	}
	return bucket
}
