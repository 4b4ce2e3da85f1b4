package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chain-ledger/internal/config"
	lederrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/filters"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "chain_ledger_test",
		User:           "ledger",
		Password:       "ledger_dev_password",
		MaxConnections: 10,
	}
}

// newTestDB connects to the test database, applies migrations and wipes all
// tables. Tests are skipped when Postgres is unreachable.
func newTestDB(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
		return nil
	}
	t.Cleanup(db.Close)

	databaseURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	if err := RunMigrations(databaseURL, "../../migrations"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	ctx := testContext(t)
	_, err = db.Pool().Exec(ctx, `
		TRUNCATE history_events, history_events_mappings, eth_staking_events_info,
			eth2_validators, eth2_daily_staking_details, key_value_cache, ignored_assets
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
	return db
}

func newTestEventsRepo(t *testing.T) *HistoryEventsRepository {
	t.Helper()
	return NewHistoryEventsRepository(newTestDB(t), nil, 100)
}

func seedEvent(group string, seq int, ts int64, asset, amount string) *models.HistoryEvent {
	return &models.HistoryEvent{
		EventIdentifier: group,
		SequenceIndex:   seq,
		Timestamp:       types.TimestampMS(ts),
		Location:        types.LocationEthereum,
		LocationLabel:   "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
		Asset:           asset,
		Amount:          decimal.RequireFromString(amount),
		USDValue:        decimal.RequireFromString(amount),
		Type:            types.EventTypeReceive,
		SubType:         types.SubTypeNone,
	}
}

func TestAddEventGeneratesGroupIdentifier(t *testing.T) {
	repo := newTestEventsRepo(t)
	ctx := testContext(t)

	event := seedEvent("", 0, 1000, "ETH", "1")
	id, err := repo.AddEvent(ctx, event, nil)
	if err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}
	if id == 0 {
		t.Error("AddEvent() returned zero identifier")
	}

	events, _, err := repo.GetEvents(ctx, filters.NewHistoryEventQuery(filters.HistoryEventParams{}), true)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("GetEvents() returned %d events, want 1", len(events))
	}
	if events[0].EventIdentifier == "" {
		t.Error("empty event identifier was not replaced with a generated one")
	}
}

func TestAddEventDuplicateGroupPairConflicts(t *testing.T) {
	repo := newTestEventsRepo(t)
	ctx := testContext(t)

	if _, err := repo.AddEvent(ctx, seedEvent("group-1", 0, 1000, "ETH", "1"), nil); err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}

	_, err := repo.AddEvent(ctx, seedEvent("group-1", 0, 2000, "BTC", "2"), nil)
	if err == nil {
		t.Fatal("duplicate (event_identifier, sequence_index) insert succeeded, want conflict")
	}
	if code := lederrors.Categorize(err).Code; code != "EVENT_GROUP_CONFLICT" {
		t.Errorf("conflict error code = %s, want EVENT_GROUP_CONFLICT", code)
	}

	// The same group with a different sequence index is fine.
	if _, err := repo.AddEvent(ctx, seedEvent("group-1", 1, 1000, "ETH", "0.1"), nil); err != nil {
		t.Errorf("AddEvent() with fresh sequence index error = %v", err)
	}
}

func TestDeleteRefusesLastEventOfGroup(t *testing.T) {
	repo := newTestEventsRepo(t)
	ctx := testContext(t)

	first, err := repo.AddEvent(ctx, seedEvent("group-1", 0, 1000, "ETH", "1"), nil)
	if err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}
	second, err := repo.AddEvent(ctx, seedEvent("group-1", 1, 1000, "ETH", "0.01"), nil)
	if err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}

	if err := repo.DeleteEventsByIdentifier(ctx, []int64{second}); err != nil {
		t.Fatalf("DeleteEventsByIdentifier() error = %v", err)
	}

	err = repo.DeleteEventsByIdentifier(ctx, []int64{first})
	if err == nil {
		t.Fatal("deleting the last event of a group succeeded, want refusal")
	}
	if code := lederrors.Categorize(err).Code; code != "LAST_EVENT_OF_GROUP" {
		t.Errorf("error code = %s, want LAST_EVENT_OF_GROUP", code)
	}

	// The refused delete must leave the event in place.
	events, _, err := repo.GetEvents(ctx, filters.NewHistoryEventQuery(filters.HistoryEventParams{}), true)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("event count after refused delete = %d, want 1", len(events))
	}
}

func TestDeleteEventsByIdentifierUnknownID(t *testing.T) {
	repo := newTestEventsRepo(t)
	ctx := testContext(t)

	err := repo.DeleteEventsByIdentifier(ctx, []int64{999999})
	if err == nil {
		t.Fatal("deleting an unknown identifier succeeded, want not-found")
	}
	if code := lederrors.Categorize(err).Code; code != "EVENT_NOT_FOUND" {
		t.Errorf("error code = %s, want EVENT_NOT_FOUND", code)
	}
}

func TestEditEventMarksCustomized(t *testing.T) {
	repo := newTestEventsRepo(t)
	ctx := testContext(t)

	txHash := common.HexToHash("0x56a21e4a9060f2e38ea6e7e92cf51018077581a2b40cb1b2d488bbbd700f3a88")
	event := seedEvent("group-1", 0, 1000, "ETH", "1")
	event.TxHash = &txHash
	id, err := repo.AddEvent(ctx, event, nil)
	if err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}
	other := seedEvent("group-2", 0, 2000, "ETH", "2")
	other.TxHash = &txHash
	if _, err := repo.AddEvent(ctx, other, nil); err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}

	event.Identifier = id
	event.Notes = "manually corrected amount"
	event.Amount = decimal.RequireFromString("1.5")
	if err := repo.EditEvent(ctx, event); err != nil {
		t.Fatalf("EditEvent() error = %v", err)
	}

	customized, err := repo.GetCustomizedEventIdentifiers(ctx, nil)
	if err != nil {
		t.Fatalf("GetCustomizedEventIdentifiers() error = %v", err)
	}
	if len(customized) != 1 || customized[0] != id {
		t.Errorf("customized identifiers = %v, want [%d]", customized, id)
	}

	// Redecoding the transaction wipes its events but keeps user edits.
	if err := repo.DeleteEventsByTxHash(ctx, []common.Hash{txHash}); err != nil {
		t.Fatalf("DeleteEventsByTxHash() error = %v", err)
	}
	events, _, err := repo.GetEvents(ctx, filters.NewHistoryEventQuery(filters.HistoryEventParams{}), true)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Identifier != id {
		t.Errorf("events after tx-hash delete = %d, customized event must survive", len(events))
	}
}

func TestEditEventUnknownID(t *testing.T) {
	repo := newTestEventsRepo(t)
	ctx := testContext(t)

	event := seedEvent("group-1", 0, 1000, "ETH", "1")
	event.Identifier = 424242
	err := repo.EditEvent(ctx, event)
	if err == nil {
		t.Fatal("editing an unknown event succeeded, want not-found")
	}
	if code := lederrors.Categorize(err).Code; code != "EVENT_NOT_FOUND" {
		t.Errorf("error code = %s, want EVENT_NOT_FOUND", code)
	}
}

func TestGetEventsFreeWindow(t *testing.T) {
	db := newTestDB(t)
	repo := NewHistoryEventsRepository(db, nil, 2)
	ctx := testContext(t)

	for i := 0; i < 4; i++ {
		event := seedEvent(fmt.Sprintf("group-%d", i), 0, int64(1000*(i+1)), "ETH", "1")
		if _, err := repo.AddEvent(ctx, event, nil); err != nil {
			t.Fatalf("AddEvent() error = %v", err)
		}
	}

	q := filters.NewHistoryEventQuery(filters.HistoryEventParams{})
	privileged, _, err := repo.GetEvents(ctx, q, true)
	if err != nil {
		t.Fatalf("GetEvents(privileged) error = %v", err)
	}
	if len(privileged) != 4 {
		t.Errorf("privileged event count = %d, want 4", len(privileged))
	}

	free, _, err := repo.GetEvents(ctx, filters.NewHistoryEventQuery(filters.HistoryEventParams{}), false)
	if err != nil {
		t.Fatalf("GetEvents(free) error = %v", err)
	}
	if len(free) != 2 {
		t.Fatalf("free event count = %d, want 2", len(free))
	}
	for _, event := range free {
		if event.Timestamp < 3000 {
			t.Errorf("free window returned old event at ts %d, want the most recent rows", event.Timestamp)
		}
	}

	_, _, countAll, countLimited, err := repo.GetEventsAndLimitInfo(ctx,
		filters.NewHistoryEventQuery(filters.HistoryEventParams{}), false, 2)
	if err != nil {
		t.Fatalf("GetEventsAndLimitInfo() error = %v", err)
	}
	if countAll != 4 || countLimited != 2 {
		t.Errorf("counts = (%d, %d), want (4, 2)", countAll, countLimited)
	}
}

func TestGetValueStats(t *testing.T) {
	repo := newTestEventsRepo(t)
	ctx := testContext(t)

	seeds := []*models.HistoryEvent{
		seedEvent("group-1", 0, 1000, "ETH", "2"),
		seedEvent("group-2", 0, 2000, "ETH", "3"),
		seedEvent("group-3", 0, 3000, "DAI", "100"),
	}
	if err := repo.AddEvents(ctx, seeds); err != nil {
		t.Fatalf("AddEvents() error = %v", err)
	}

	stats, err := repo.GetValueStats(ctx, filters.NewHistoryEventQuery(filters.HistoryEventParams{}))
	if err != nil {
		t.Fatalf("GetValueStats() error = %v", err)
	}
	if !stats.TotalUSDValue.Equal(decimal.RequireFromString("105")) {
		t.Errorf("total USD value = %s, want 105", stats.TotalUSDValue)
	}
	if len(stats.ByAsset) != 2 {
		t.Fatalf("per-asset stats = %d entries, want 2", len(stats.ByAsset))
	}

	byAsset := make(map[string]models.AssetValueStat)
	for _, s := range stats.ByAsset {
		byAsset[s.Asset] = s
	}
	if !byAsset["ETH"].Amount.Equal(decimal.RequireFromString("5")) {
		t.Errorf("ETH amount = %s, want 5", byAsset["ETH"].Amount)
	}
}

func TestForEachEventAscendingOrder(t *testing.T) {
	repo := newTestEventsRepo(t)
	ctx := testContext(t)

	seeds := []*models.HistoryEvent{
		seedEvent("group-2", 0, 3000, "ETH", "1"),
		seedEvent("group-1", 1, 1000, "ETH", "1"),
		seedEvent("group-1", 0, 1000, "ETH", "1"),
	}
	if err := repo.AddEvents(ctx, seeds); err != nil {
		t.Fatalf("AddEvents() error = %v", err)
	}

	var seen []string
	err := repo.ForEachEvent(ctx, filters.NewHistoryEventQuery(filters.HistoryEventParams{}), func(event *models.HistoryEvent) error {
		seen = append(seen, fmt.Sprintf("%d/%d", event.Timestamp, event.SequenceIndex))
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachEvent() error = %v", err)
	}

	want := []string{"1000/0", "1000/1", "3000/0"}
	if len(seen) != len(want) {
		t.Fatalf("ForEachEvent visited %d events, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("visit order[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestGetEventAssets(t *testing.T) {
	repo := newTestEventsRepo(t)
	ctx := testContext(t)

	seeds := []*models.HistoryEvent{
		seedEvent("group-1", 0, 1000, "ETH", "1"),
		seedEvent("group-2", 0, 2000, "ETH", "2"),
		seedEvent("group-3", 0, 3000, "DAI", "3"),
	}
	if err := repo.AddEvents(ctx, seeds); err != nil {
		t.Fatalf("AddEvents() error = %v", err)
	}

	assets, err := repo.GetEventAssets(ctx, filters.NewHistoryEventQuery(filters.HistoryEventParams{}))
	if err != nil {
		t.Fatalf("GetEventAssets() error = %v", err)
	}
	if len(assets) != 2 {
		t.Errorf("distinct assets = %v, want 2 entries", assets)
	}
}

func TestEventWritesMarkBalancesStale(t *testing.T) {
	db := newTestDB(t)
	repo := NewHistoryEventsRepository(db, nil, 100)
	kv := NewKVRepository(db)
	ctx := testContext(t)

	if _, found, err := kv.Get(ctx, balancesStaleKey); err != nil || found {
		t.Fatalf("stale marker before any write: found=%v err=%v", found, err)
	}

	id, err := repo.AddEvent(ctx, seedEvent("group-1", 0, 1000, "ETH", "1"), nil)
	if err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}
	value, found, err := kv.Get(ctx, balancesStaleKey)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != "1" {
		t.Errorf("stale marker after AddEvent() = (%q, %v), want (\"1\", true)", value, found)
	}

	// A completed aggregation run clears the marker; the next write must
	// set it again.
	if err := kv.Delete(ctx, balancesStaleKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	edited := seedEvent("group-1", 0, 1000, "ETH", "2")
	edited.Identifier = id
	if err := repo.EditEvent(ctx, edited); err != nil {
		t.Fatalf("EditEvent() error = %v", err)
	}
	if _, found, _ = kv.Get(ctx, balancesStaleKey); !found {
		t.Error("stale marker not set after EditEvent()")
	}
}

func TestKVRepository(t *testing.T) {
	repo := NewKVRepository(newTestDB(t))
	ctx := testContext(t)

	_, found, err := repo.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() found a key that was never set")
	}

	if err := repo.Set(ctx, "cursor", "100"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := repo.Set(ctx, "cursor", "200"); err != nil {
		t.Fatalf("Set() upsert error = %v", err)
	}

	value, found, err := repo.Get(ctx, "cursor")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != "200" {
		t.Errorf("Get() = (%q, %v), want (\"200\", true)", value, found)
	}

	if err := repo.Delete(ctx, "cursor"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, found, _ = repo.Get(ctx, "cursor")
	if found {
		t.Error("key still present after Delete()")
	}
}
