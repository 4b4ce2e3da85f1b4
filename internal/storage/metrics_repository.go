package storage

import (
	"context"
	"fmt"

	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// MetricsRepository stores per-event running balance snapshots in
// ClickHouse. Each row records the balance of one bucket right after one
// event; ReplacingMergeTree deduplicates re-runs of the same range.
type MetricsRepository struct {
	db *ClickHouseDB
}

// NewMetricsRepository creates a new metrics repository.
func NewMetricsRepository(db *ClickHouseDB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// EnsureSchema creates the event_metrics table if it does not exist.
func (r *MetricsRepository) EnsureSchema(ctx context.Context) error {
	err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS event_metrics (
			event_identifier Int64,
			timestamp Int64,
			location LowCardinality(String),
			location_label String,
			protocol LowCardinality(String),
			asset String,
			balance String
		) ENGINE = ReplacingMergeTree()
		ORDER BY (event_identifier, location, location_label, protocol, asset)`)
	if err != nil {
		return fmt.Errorf("failed to create event_metrics table: %w", err)
	}
	return nil
}

// InsertSnapshots writes a batch of balance snapshots.
func (r *MetricsRepository) InsertSnapshots(ctx context.Context, snapshots []*models.BalanceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO event_metrics (event_identifier, timestamp, location, location_label, protocol, asset, balance)`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot batch: %w", err)
	}
	for _, snapshot := range snapshots {
		err = batch.Append(
			snapshot.EventIdentifier,
			int64(snapshot.Timestamp),
			string(snapshot.Bucket.Location),
			snapshot.Bucket.LocationLabel,
			snapshot.Bucket.Protocol,
			snapshot.Bucket.Asset,
			snapshot.Balance.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to append snapshot to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send snapshot batch: %w", err)
	}
	return nil
}

// DeleteFrom removes every snapshot at or after the given timestamp. Used
// before reprocessing a range so stale rows never shadow fresh ones. The
// mutation runs synchronously: the caller reads seed balances right after.
func (r *MetricsRepository) DeleteFrom(ctx context.Context, from types.TimestampMS) error {
	err := r.db.Exec(ctx, `ALTER TABLE event_metrics DELETE WHERE timestamp >= ? SETTINGS mutations_sync = 1`, int64(from))
	if err != nil {
		return fmt.Errorf("failed to delete snapshots from %d: %w", from, err)
	}
	return nil
}

// LatestBalancesBefore reconstructs per-bucket balances as of just before
// the given timestamp, for seeding a processing run that resumes
// mid-history. Rows with a corrupt balance are logged and skipped.
func (r *MetricsRepository) LatestBalancesBefore(ctx context.Context, before types.TimestampMS) (map[models.BucketKey]decimal.Decimal, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT location, location_label, protocol, asset, balance
		FROM event_metrics
		WHERE timestamp < ?
		ORDER BY timestamp DESC, event_identifier DESC`, int64(before))
	if err != nil {
		return nil, fmt.Errorf("failed to query latest balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[models.BucketKey]decimal.Decimal)
	for rows.Next() {
		var (
			location      string
			locationLabel string
			protocol      string
			asset         string
			balanceRaw    string
		)
		if err := rows.Scan(&location, &locationLabel, &protocol, &asset, &balanceRaw); err != nil {
			return nil, fmt.Errorf("failed to scan balance row: %w", err)
		}
		key := models.BucketKey{
			Location:      types.Location(location),
			LocationLabel: locationLabel,
			Protocol:      protocol,
			Asset:         asset,
		}
		if _, seen := balances[key]; seen {
			continue // newest row per bucket wins
		}
		balance, err := decimal.NewFromString(balanceRaw)
		if err != nil {
			logging.WithField("balance", balanceRaw).Error("Skipping snapshot with invalid balance")
			continue
		}
		balances[key] = balance
	}
	return balances, rows.Err()
}
