package filters

import (
	"github.com/chain-ledger/internal/types"
	"github.com/ethereum/go-ethereum/common"
)

// TimeRange exposes the bounds of a query's timestamp filter, defaulting a
// missing lower bound to zero and a missing upper bound to now.
type TimeRange struct {
	ts      *TimestampFilter
	nowFunc func() int64
}

// FromTs returns the lower bound, or 0 when unbounded.
func (t TimeRange) FromTs() int64 {
	if t.ts == nil || t.ts.FromTs == nil {
		return 0
	}
	return *t.ts.FromTs
}

// ToTs returns the upper bound, or now when unbounded.
func (t TimeRange) ToTs() int64 {
	if t.ts == nil || t.ts.ToTs == nil {
		return t.nowFunc()
	}
	return *t.ts.ToTs
}

func nowMS() int64 { return int64(types.NowMS()) }
func nowS() int64  { return int64(types.Now()) }

// newTimestampFilter builds the always-present range filter. Both bounds
// nil yields an all-permissive filter that contributes no constraint but
// keeps the range column consistent for the builder.
func newTimestampFilter(fromTs, toTs *int64, column string) *TimestampFilter {
	return &TimestampFilter{FromTs: fromTs, ToTs: toTs, Column: column}
}

// HistoryEventParams are the optional criteria for querying history events.
// A nil or empty criterion applies no constraint.
type HistoryEventParams struct {
	Order                *Order
	Pagination           *Pagination
	FromTs               *int64
	ToTs                 *int64
	Assets               []string
	EventTypes           []types.EventType
	EventSubTypes        []types.EventSubType
	Location             *types.Location
	LocationLabels       []string
	EventIdentifiers     []string
	ExcludeIgnoredAssets bool
}

// HistoryEventQuery is the assembled filter query for the history_events
// table.
type HistoryEventQuery struct {
	Query
	TimeRange
}

// NewHistoryEventQuery assembles a history event query from the supplied
// criteria.
func NewHistoryEventQuery(params HistoryEventParams) *HistoryEventQuery {
	ts := newTimestampFilter(params.FromTs, params.ToTs, "timestamp")
	q := &HistoryEventQuery{
		Query:     Query{And: true, Order: params.Order, Pagination: params.Pagination},
		TimeRange: TimeRange{ts: ts, nowFunc: nowMS},
	}
	q.Filters = append(q.Filters, ts)
	if len(params.Assets) > 0 {
		q.Filters = append(q.Filters, &MultiStringFilter{Column: "asset", Values: params.Assets, And: true})
	}
	if len(params.EventTypes) > 0 {
		values := make([]string, len(params.EventTypes))
		for i, t := range params.EventTypes {
			values[i] = string(t)
		}
		q.Filters = append(q.Filters, &MultiStringFilter{Column: "type", Values: values, And: true})
	}
	if len(params.EventSubTypes) > 0 {
		values := make([]string, len(params.EventSubTypes))
		for i, t := range params.EventSubTypes {
			values[i] = string(t)
		}
		q.Filters = append(q.Filters, &MultiStringFilter{Column: "subtype", Values: values, And: true})
	}
	if params.Location != nil {
		q.Filters = append(q.Filters, &LocationFilter{Location: *params.Location})
	}
	if len(params.LocationLabels) > 0 {
		q.Filters = append(q.Filters, &MultiStringFilter{Column: "location_label", Values: params.LocationLabels, And: true})
	}
	if len(params.EventIdentifiers) > 0 {
		q.Filters = append(q.Filters, &MultiStringFilter{Column: "event_identifier", Values: params.EventIdentifiers, And: true})
	}
	if params.ExcludeIgnoredAssets {
		q.Filters = append(q.Filters, &IgnoredAssetsFilter{})
	}
	return q
}

// EvmEventParams extend the history event criteria with EVM-only ones.
type EvmEventParams struct {
	HistoryEventParams
	TxHash         string
	Counterparties []string
	Products       []string
}

// EvmEventQuery is the assembled filter query for EVM-decoded events.
type EvmEventQuery struct {
	HistoryEventQuery
}

// NewEvmEventQuery assembles an EVM event query from the supplied criteria.
func NewEvmEventQuery(params EvmEventParams) *EvmEventQuery {
	q := &EvmEventQuery{HistoryEventQuery: *NewHistoryEventQuery(params.HistoryEventParams)}
	if params.TxHash != "" {
		q.Filters = append(q.Filters, &TxHashFilter{TxHash: params.TxHash})
	}
	if len(params.Counterparties) > 0 {
		q.Filters = append(q.Filters, &MultiStringFilter{Column: "counterparty", Values: params.Counterparties, And: true})
	}
	if len(params.Products) > 0 {
		q.Filters = append(q.Filters, &MultiStringFilter{Column: "product", Values: params.Products, And: true})
	}
	return q
}

// TransactionParams are the optional criteria for querying EVM transactions.
type TransactionParams struct {
	Order      *Order
	Pagination *Pagination
	FromTs     *int64
	ToTs       *int64
	Addresses  []common.Address
	TxHash     string
}

// TransactionQuery is the assembled filter query for the EVM transactions
// table.
type TransactionQuery struct {
	Query
	TimeRange
}

// NewTransactionQuery assembles a transaction query from the supplied
// criteria.
func NewTransactionQuery(params TransactionParams) *TransactionQuery {
	ts := newTimestampFilter(params.FromTs, params.ToTs, "timestamp")
	q := &TransactionQuery{
		Query:     Query{And: true, Order: params.Order, Pagination: params.Pagination},
		TimeRange: TimeRange{ts: ts, nowFunc: nowS},
	}
	q.Filters = append(q.Filters, ts)
	if len(params.Addresses) > 0 {
		q.Filters = append(q.Filters, &EVMAddressFilter{Addresses: params.Addresses})
	}
	if params.TxHash != "" {
		q.Filters = append(q.Filters, &TxHashFilter{TxHash: params.TxHash})
	}
	return q
}

// TradeParams are the optional criteria for querying exchange trades. The
// trades table keeps its range column named "time".
type TradeParams struct {
	Order      *Order
	Pagination *Pagination
	FromTs     *int64
	ToTs       *int64
	BaseAsset  string
	QuoteAsset string
	Location   *types.Location
}

// TradeQuery is the assembled filter query for the trades table.
type TradeQuery struct {
	Query
	TimeRange
}

// NewTradeQuery assembles a trade query from the supplied criteria.
func NewTradeQuery(params TradeParams) *TradeQuery {
	ts := newTimestampFilter(params.FromTs, params.ToTs, "time")
	q := &TradeQuery{
		Query:     Query{And: true, Order: params.Order, Pagination: params.Pagination},
		TimeRange: TimeRange{ts: ts, nowFunc: nowS},
	}
	q.Filters = append(q.Filters, ts)
	if params.BaseAsset != "" {
		q.Filters = append(q.Filters, &AssetFilter{Column: "base_asset", Asset: params.BaseAsset})
	}
	if params.QuoteAsset != "" {
		q.Filters = append(q.Filters, &AssetFilter{Column: "quote_asset", Asset: params.QuoteAsset})
	}
	if params.Location != nil {
		q.Filters = append(q.Filters, &LocationFilter{Location: *params.Location})
	}
	return q
}

// AssetMovementParams are the optional criteria for querying exchange
// deposits and withdrawals.
type AssetMovementParams struct {
	Order      *Order
	Pagination *Pagination
	FromTs     *int64
	ToTs       *int64
	Asset      string
	Actions    []string
	Location   *types.Location
}

// AssetMovementQuery is the assembled filter query for the asset_movements
// table.
type AssetMovementQuery struct {
	Query
	TimeRange
}

// NewAssetMovementQuery assembles an asset movement query from the supplied
// criteria.
func NewAssetMovementQuery(params AssetMovementParams) *AssetMovementQuery {
	ts := newTimestampFilter(params.FromTs, params.ToTs, "time")
	q := &AssetMovementQuery{
		Query:     Query{And: true, Order: params.Order, Pagination: params.Pagination},
		TimeRange: TimeRange{ts: ts, nowFunc: nowS},
	}
	q.Filters = append(q.Filters, ts)
	if params.Asset != "" {
		q.Filters = append(q.Filters, &AssetFilter{Asset: params.Asset})
	}
	if len(params.Actions) > 0 {
		q.Filters = append(q.Filters, &MultiStringFilter{Column: "category", Values: params.Actions, And: true})
	}
	if params.Location != nil {
		q.Filters = append(q.Filters, &LocationFilter{Location: *params.Location})
	}
	return q
}

// LedgerActionParams are the optional criteria for querying manually
// entered ledger actions (income, airdrop, gift and similar).
type LedgerActionParams struct {
	Order      *Order
	Pagination *Pagination
	FromTs     *int64
	ToTs       *int64
	Asset      string
	Types      []string
	Location   *types.Location
}

// LedgerActionQuery is the assembled filter query for the ledger_actions
// table.
type LedgerActionQuery struct {
	Query
	TimeRange
}

// NewLedgerActionQuery assembles a ledger action query from the supplied
// criteria.
func NewLedgerActionQuery(params LedgerActionParams) *LedgerActionQuery {
	ts := newTimestampFilter(params.FromTs, params.ToTs, "timestamp")
	q := &LedgerActionQuery{
		Query:     Query{And: true, Order: params.Order, Pagination: params.Pagination},
		TimeRange: TimeRange{ts: ts, nowFunc: nowS},
	}
	q.Filters = append(q.Filters, ts)
	if params.Asset != "" {
		q.Filters = append(q.Filters, &AssetFilter{Asset: params.Asset})
	}
	if len(params.Types) > 0 {
		q.Filters = append(q.Filters, &MultiStringFilter{Column: "type", Values: params.Types, And: true})
	}
	if params.Location != nil {
		q.Filters = append(q.Filters, &LocationFilter{Location: *params.Location})
	}
	return q
}

// DailyStatsParams are the optional criteria for querying validator daily
// stats. Timestamps here are seconds, matching the day-bucketed table.
type DailyStatsParams struct {
	Order      *Order
	Pagination *Pagination
	FromTs     *int64
	ToTs       *int64
	Validators []uint64
}

// DailyStatsQuery is the assembled filter query for the
// eth2_daily_staking_details table.
type DailyStatsQuery struct {
	Query
	TimeRange
}

// NewDailyStatsQuery assembles a daily stats query from the supplied
// criteria.
func NewDailyStatsQuery(params DailyStatsParams) *DailyStatsQuery {
	ts := newTimestampFilter(params.FromTs, params.ToTs, "timestamp")
	q := &DailyStatsQuery{
		Query:     Query{And: true, Order: params.Order, Pagination: params.Pagination},
		TimeRange: TimeRange{ts: ts, nowFunc: nowS},
	}
	q.Filters = append(q.Filters, ts)
	if len(params.Validators) > 0 {
		q.Filters = append(q.Filters, &ValidatorIndicesFilter{Indices: params.Validators})
	}
	return q
}

// ReportDataParams are the optional criteria for querying rows of a
// generated profit/loss report.
type ReportDataParams struct {
	Order      *Order
	Pagination *Pagination
	FromTs     *int64
	ToTs       *int64
	ReportID   *int64
}

// ReportDataQuery is the assembled filter query for report data rows.
type ReportDataQuery struct {
	Query
	TimeRange
}

// NewReportDataQuery assembles a report data query from the supplied
// criteria.
func NewReportDataQuery(params ReportDataParams) *ReportDataQuery {
	ts := newTimestampFilter(params.FromTs, params.ToTs, "timestamp")
	q := &ReportDataQuery{
		Query:     Query{And: true, Order: params.Order, Pagination: params.Pagination},
		TimeRange: TimeRange{ts: ts, nowFunc: nowS},
	}
	q.Filters = append(q.Filters, ts)
	if params.ReportID != nil {
		q.Filters = append(q.Filters, &ReportIDFilter{ReportID: *params.ReportID})
	}
	return q
}
