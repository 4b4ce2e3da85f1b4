package storage

import (
	"testing"

	"github.com/chain-ledger/internal/config"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// newTestMetricsRepo connects to a local ClickHouse, recreates the
// event_metrics table and returns the repository. Tests are skipped when
// ClickHouse is unreachable.
func newTestMetricsRepo(t *testing.T) *MetricsRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewClickHouseDB(&config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "chain_ledger_test",
		User:     "default",
		Password: "",
	})
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return nil
	}
	t.Cleanup(func() { db.Close() })

	ctx := testContext(t)
	if err := db.Exec(ctx, `DROP TABLE IF EXISTS event_metrics`); err != nil {
		t.Fatalf("Failed to drop event_metrics: %v", err)
	}
	repo := NewMetricsRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return repo
}

func snapshot(id int64, ts int64, asset, protocol, balance string) *models.BalanceSnapshot {
	return &models.BalanceSnapshot{
		EventIdentifier: id,
		Timestamp:       types.TimestampMS(ts),
		Bucket: models.BucketKey{
			Location:      types.LocationEthereum,
			LocationLabel: "0xabc",
			Protocol:      protocol,
			Asset:         asset,
		},
		Balance: decimal.RequireFromString(balance),
	}
}

func TestMetricsLatestBalancesBefore(t *testing.T) {
	repo := newTestMetricsRepo(t)
	ctx := testContext(t)

	err := repo.InsertSnapshots(ctx, []*models.BalanceSnapshot{
		snapshot(1, 1000, "ETH", "", "10"),
		snapshot(2, 2000, "ETH", "", "8"),
		snapshot(3, 2500, "aETH", "aave", "2"),
		snapshot(4, 3000, "ETH", "", "12"),
	})
	if err != nil {
		t.Fatalf("InsertSnapshots() error = %v", err)
	}

	balances, err := repo.LatestBalancesBefore(ctx, 3000)
	if err != nil {
		t.Fatalf("LatestBalancesBefore() error = %v", err)
	}

	wallet := models.BucketKey{Location: types.LocationEthereum, LocationLabel: "0xabc", Asset: "ETH"}
	position := models.BucketKey{Location: types.LocationEthereum, LocationLabel: "0xabc", Protocol: "aave", Asset: "aETH"}
	if len(balances) != 2 {
		t.Fatalf("got %d buckets, want 2", len(balances))
	}
	if !balances[wallet].Equal(decimal.RequireFromString("8")) {
		t.Errorf("wallet balance = %s, want 8 (row at the cutoff excluded)", balances[wallet])
	}
	if !balances[position].Equal(decimal.RequireFromString("2")) {
		t.Errorf("protocol position balance = %s, want 2", balances[position])
	}
}

func TestMetricsDeleteFrom(t *testing.T) {
	repo := newTestMetricsRepo(t)
	ctx := testContext(t)

	err := repo.InsertSnapshots(ctx, []*models.BalanceSnapshot{
		snapshot(1, 1000, "ETH", "", "10"),
		snapshot(2, 2000, "ETH", "", "8"),
		snapshot(3, 3000, "ETH", "", "12"),
	})
	if err != nil {
		t.Fatalf("InsertSnapshots() error = %v", err)
	}

	if err := repo.DeleteFrom(ctx, 2000); err != nil {
		t.Fatalf("DeleteFrom() error = %v", err)
	}

	balances, err := repo.LatestBalancesBefore(ctx, 1<<62)
	if err != nil {
		t.Fatalf("LatestBalancesBefore() error = %v", err)
	}
	wallet := models.BucketKey{Location: types.LocationEthereum, LocationLabel: "0xabc", Asset: "ETH"}
	if !balances[wallet].Equal(decimal.RequireFromString("10")) {
		t.Errorf("balance after delete = %s, want 10 (only the first row survives)", balances[wallet])
	}
}

func TestMetricsEmptyBatchIsNoop(t *testing.T) {
	repo := newTestMetricsRepo(t)
	if err := repo.InsertSnapshots(testContext(t), nil); err != nil {
		t.Errorf("InsertSnapshots(nil) error = %v", err)
	}
}
