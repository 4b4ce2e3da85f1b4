package filters

import (
	"strings"
	"testing"

	"github.com/chain-ledger/internal/types"
)

func countPlaceholders(s string) int {
	return strings.Count(s, "?")
}

func TestQueryZeroValueMatchesEverything(t *testing.T) {
	q := &Query{And: true}
	suffix, bindings := q.Prepare(true)
	if suffix != "" {
		t.Errorf("empty query suffix = %q, want empty", suffix)
	}
	if len(bindings) != 0 {
		t.Errorf("empty query bindings = %v, want none", bindings)
	}
}

func TestBuilderWithNoCriteriaMatchesExplicitAllTime(t *testing.T) {
	// An all-defaults builder and one with explicit bounds covering
	// everything must produce the same shape of constraint surface.
	open := NewHistoryEventQuery(HistoryEventParams{})
	openSuffix, openBindings := open.Prepare(false)
	if openSuffix != "" || len(openBindings) != 0 {
		t.Errorf("no-criteria query must have no WHERE clause, got %q %v", openSuffix, openBindings)
	}
	if open.FromTs() != 0 {
		t.Errorf("default FromTs = %d, want 0", open.FromTs())
	}
	if open.ToTs() == 0 {
		t.Error("default ToTs must be now, got 0")
	}

	from := int64(0)
	to := open.ToTs()
	bounded := NewHistoryEventQuery(HistoryEventParams{FromTs: &from, ToTs: &to})
	if bounded.FromTs() != 0 || bounded.ToTs() != to {
		t.Errorf("explicit all-time bounds changed: from=%d to=%d", bounded.FromTs(), bounded.ToTs())
	}
}

func TestPaginationIsOnlyDifferenceBetweenPageAndCount(t *testing.T) {
	from := int64(100)
	q := NewHistoryEventQuery(HistoryEventParams{
		FromTs:     &from,
		Assets:     []string{"ETH", "BTC"},
		Pagination: &Pagination{Limit: 10, Offset: 20},
	})

	withPage, pageBindings := q.Prepare(true)
	withoutPage, countBindings := q.Prepare(false)

	if !strings.HasPrefix(withPage, withoutPage) {
		t.Fatalf("paginated suffix %q must extend unpaginated %q", withPage, withoutPage)
	}
	if got := strings.TrimPrefix(withPage, withoutPage); got != " LIMIT ? OFFSET ?" {
		t.Errorf("pagination tail = %q", got)
	}
	if len(pageBindings) != len(countBindings)+2 {
		t.Errorf("bindings: page=%d count=%d", len(pageBindings), len(countBindings))
	}
}

func TestOrderCastsNumericTextColumns(t *testing.T) {
	tests := []struct {
		attribute string
		ascending bool
		want      string
	}{
		{"amount", true, "CAST(amount AS REAL) ASC"},
		{"usd_value", false, "CAST(usd_value AS REAL) DESC"},
		{"pnl", false, "CAST(pnl AS REAL) DESC"},
		{"timestamp", true, "timestamp ASC"},
		{"location", false, "location DESC"},
	}
	for _, tt := range tests {
		o := &Order{Attribute: tt.attribute, Ascending: tt.ascending}
		if got := o.render(); got != tt.want {
			t.Errorf("render(%s) = %q, want %q", tt.attribute, got, tt.want)
		}
	}
}

func TestOrderDropsUnknownAttributes(t *testing.T) {
	// The order attribute is the one piece of caller input that lands in
	// the SQL text itself, so anything outside the sortable column set must
	// never reach the statement.
	attributes := []string{
		"timestamp, (SELECT value FROM key_value_cache LIMIT 1)",
		"amount; DROP TABLE history_events",
		"nonexistent_column",
		"",
	}
	for _, attr := range attributes {
		o := &Order{Attribute: attr, Ascending: true}
		if got := o.render(); got != "" {
			t.Errorf("render(%q) = %q, want empty", attr, got)
		}

		from := int64(1)
		q := &Query{
			And:     true,
			Order:   o,
			Filters: []Filter{&TimestampFilter{FromTs: &from}},
		}
		suffix, bindings := q.Prepare(false)
		if strings.Contains(suffix, "ORDER BY") {
			t.Errorf("suffix %q must not contain ORDER BY for attribute %q", suffix, attr)
		}
		if countPlaceholders(suffix) != len(bindings) {
			t.Errorf("placeholders=%d bindings=%d in %q", countPlaceholders(suffix), len(bindings), suffix)
		}
	}
}

func TestQueryCompositeJoining(t *testing.T) {
	from := int64(1)
	location := "kraken"
	q := &Query{
		And: true,
		Filters: []Filter{
			&TimestampFilter{FromTs: &from},
			&StringFilter{Column: "location", Value: location},
		},
	}
	suffix, bindings := q.Prepare(false)
	want := " WHERE (timestamp >= ?) AND (location = ?)"
	if suffix != want {
		t.Errorf("suffix = %q, want %q", suffix, want)
	}
	if len(bindings) != 2 {
		t.Errorf("bindings = %v", bindings)
	}
}

func TestQueryOrFilterWrappedInParens(t *testing.T) {
	// OR-joined clauses inside a filter must not leak into the AND
	// combination of the surrounding query.
	from := int64(1)
	q := NewTransactionQuery(TransactionParams{FromTs: &from, TxHash: ""})
	q.Filters = append(q.Filters, &MultiStringFilter{Column: "status", Values: []string{"ok"}})

	suffix, _ := q.Prepare(false)
	if !strings.Contains(suffix, "(timestamp >= ?) AND (status = ?)") {
		t.Errorf("unexpected suffix %q", suffix)
	}
}

func TestPlaceholderCountMatchesBindings(t *testing.T) {
	from := int64(5)
	to := int64(50)
	location := types.LocationEthereum

	q := NewEvmEventQuery(EvmEventParams{
		HistoryEventParams: HistoryEventParams{
			FromTs:               &from,
			ToTs:                 &to,
			Assets:               []string{"ETH", "DAI", "USDC"},
			EventTypes:           []types.EventType{types.EventTypeTrade, types.EventTypeStaking},
			Location:             &location,
			ExcludeIgnoredAssets: true,
			Pagination:           &Pagination{Limit: 25, Offset: 0},
		},
		TxHash:         "0x56a21e4a9060f2e38ea6e7e92cf51018077581a2b40cb1b2d488bbbd700f3a88",
		Counterparties: []string{"aave", "uniswap"},
	})

	suffix, bindings := q.Prepare(true)
	if countPlaceholders(suffix) != len(bindings) {
		t.Errorf("placeholders=%d bindings=%d in %q", countPlaceholders(suffix), len(bindings), suffix)
	}
}
