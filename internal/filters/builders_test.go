package filters

import (
	"strings"
	"testing"

	"github.com/chain-ledger/internal/types"
)

func TestTradeQueryBuilder(t *testing.T) {
	open := NewTradeQuery(TradeParams{})
	if suffix, bindings := open.Prepare(false); suffix != "" || len(bindings) != 0 {
		t.Errorf("no-criteria trade query must have no WHERE clause, got %q %v", suffix, bindings)
	}

	from := int64(100)
	to := int64(200)
	location := types.Location("kraken")
	q := NewTradeQuery(TradeParams{
		FromTs:     &from,
		ToTs:       &to,
		BaseAsset:  "ETH",
		QuoteAsset: "EUR",
		Location:   &location,
	})
	suffix, bindings := q.Prepare(false)
	if !strings.Contains(suffix, "time >= ?") || !strings.Contains(suffix, "time <= ?") {
		t.Errorf("trade range must use the time column, got %q", suffix)
	}
	if !strings.Contains(suffix, "base_asset = ?") || !strings.Contains(suffix, "quote_asset = ?") {
		t.Errorf("missing asset constraints in %q", suffix)
	}
	if !strings.Contains(suffix, "location = ?") {
		t.Errorf("missing location constraint in %q", suffix)
	}
	if countPlaceholders(suffix) != len(bindings) {
		t.Errorf("placeholders=%d bindings=%d in %q", countPlaceholders(suffix), len(bindings), suffix)
	}
}

func TestAssetMovementQueryBuilder(t *testing.T) {
	open := NewAssetMovementQuery(AssetMovementParams{})
	if suffix, bindings := open.Prepare(false); suffix != "" || len(bindings) != 0 {
		t.Errorf("no-criteria movement query must have no WHERE clause, got %q %v", suffix, bindings)
	}
	if open.FromTs() != 0 {
		t.Errorf("default FromTs = %d, want 0", open.FromTs())
	}
	if open.ToTs() == 0 {
		t.Error("default ToTs must be now, got 0")
	}

	from := int64(50)
	q := NewAssetMovementQuery(AssetMovementParams{
		FromTs:  &from,
		Asset:   "BTC",
		Actions: []string{"deposit", "withdrawal"},
	})
	suffix, bindings := q.Prepare(false)
	if !strings.Contains(suffix, "time >= ?") {
		t.Errorf("movement range must use the time column, got %q", suffix)
	}
	if !strings.Contains(suffix, "asset = ?") {
		t.Errorf("missing asset constraint in %q", suffix)
	}
	if !strings.Contains(suffix, "category IN (?,?)") {
		t.Errorf("missing category constraint in %q", suffix)
	}
	if countPlaceholders(suffix) != len(bindings) {
		t.Errorf("placeholders=%d bindings=%d in %q", countPlaceholders(suffix), len(bindings), suffix)
	}
}

func TestLedgerActionQueryBuilder(t *testing.T) {
	open := NewLedgerActionQuery(LedgerActionParams{})
	if suffix, bindings := open.Prepare(false); suffix != "" || len(bindings) != 0 {
		t.Errorf("no-criteria action query must have no WHERE clause, got %q %v", suffix, bindings)
	}

	to := int64(900)
	location := types.LocationEthereum
	q := NewLedgerActionQuery(LedgerActionParams{
		ToTs:     &to,
		Asset:    "DAI",
		Types:    []string{"income"},
		Location: &location,
	})
	suffix, bindings := q.Prepare(false)
	if !strings.Contains(suffix, "timestamp <= ?") {
		t.Errorf("action range must use the timestamp column, got %q", suffix)
	}
	if !strings.Contains(suffix, "type = ?") {
		t.Errorf("missing type constraint in %q", suffix)
	}
	if countPlaceholders(suffix) != len(bindings) {
		t.Errorf("placeholders=%d bindings=%d in %q", countPlaceholders(suffix), len(bindings), suffix)
	}
}

func TestReportDataQueryBuilder(t *testing.T) {
	open := NewReportDataQuery(ReportDataParams{})
	if suffix, bindings := open.Prepare(false); suffix != "" || len(bindings) != 0 {
		t.Errorf("no-criteria report query must have no WHERE clause, got %q %v", suffix, bindings)
	}

	reportID := int64(3)
	from := int64(10)
	q := NewReportDataQuery(ReportDataParams{
		FromTs:     &from,
		ReportID:   &reportID,
		Pagination: &Pagination{Limit: 5, Offset: 0},
	})
	suffix, bindings := q.Prepare(true)
	if !strings.Contains(suffix, "report_id = ?") {
		t.Errorf("missing report id constraint in %q", suffix)
	}
	if !strings.HasSuffix(suffix, " LIMIT ? OFFSET ?") {
		t.Errorf("missing pagination tail in %q", suffix)
	}
	if countPlaceholders(suffix) != len(bindings) {
		t.Errorf("placeholders=%d bindings=%d in %q", countPlaceholders(suffix), len(bindings), suffix)
	}
}
