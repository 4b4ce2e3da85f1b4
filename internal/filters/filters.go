// Package filters implements the composable predicate layer used by every
// store accessor. Each filter renders itself into parameterized SQL
// fragments; a Query combines filters with AND/OR, ordering and pagination
// into a suffix the accessor appends to its base SELECT.
package filters

import (
	"strings"

	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Filter is the closed contract every predicate implements. Prepare returns
// zero or more condition fragments with `?` placeholders and the values
// bound to them. A filter returning no fragments contributes no constraint.
// JoinWithAnd controls how the filter's own fragments combine with each
// other; how filters combine with other filters is the Query's concern.
type Filter interface {
	Prepare() (clauses []string, bindings []interface{})
	JoinWithAnd() bool
}

// placeholders returns n comma-separated `?` markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// TimestampFilter constrains a timestamp column to an inclusive range.
// Either bound may be nil. Column defaults to "timestamp"; trade and asset
// movement tables use "time". Bounds are raw integers so tables storing
// milliseconds and tables storing seconds share one filter.
type TimestampFilter struct {
	FromTs *int64
	ToTs   *int64
	Column string
}

// Prepare implements Filter.
func (f *TimestampFilter) Prepare() ([]string, []interface{}) {
	column := f.Column
	if column == "" {
		column = "timestamp"
	}
	var clauses []string
	var bindings []interface{}
	if f.FromTs != nil {
		clauses = append(clauses, column+" >= ?")
		bindings = append(bindings, *f.FromTs)
	}
	if f.ToTs != nil {
		clauses = append(clauses, column+" <= ?")
		bindings = append(bindings, *f.ToTs)
	}
	return clauses, bindings
}

// JoinWithAnd implements Filter.
func (f *TimestampFilter) JoinWithAnd() bool { return true }

// EVMAddressFilter matches transactions whose sender or recipient is in the
// address set. The two membership clauses combine with OR.
type EVMAddressFilter struct {
	Addresses []common.Address
}

// Prepare implements Filter.
func (f *EVMAddressFilter) Prepare() ([]string, []interface{}) {
	if len(f.Addresses) == 0 {
		return nil, nil
	}
	marks := placeholders(len(f.Addresses))
	clauses := []string{
		"from_address IN (" + marks + ")",
		"to_address IN (" + marks + ")",
	}
	bindings := make([]interface{}, 0, 2*len(f.Addresses))
	for range [2]struct{}{} {
		for _, addr := range f.Addresses {
			bindings = append(bindings, addr.Hex())
		}
	}
	return clauses, bindings
}

// JoinWithAnd implements Filter.
func (f *EVMAddressFilter) JoinWithAnd() bool { return false }

// TxHashFilter matches a single transaction hash. Malformed input is logged
// and degrades to no constraint: read paths favor over-inclusive results
// over a hard failure.
type TxHashFilter struct {
	TxHash string
}

// Prepare implements Filter.
func (f *TxHashFilter) Prepare() ([]string, []interface{}) {
	if f.TxHash == "" {
		return nil, nil
	}
	raw, err := hexutil.Decode(f.TxHash)
	if err != nil || len(raw) != common.HashLength {
		logging.WithField("txHash", f.TxHash).Warn("Skipping malformed transaction hash filter")
		return nil, nil
	}
	return []string{"tx_hash = ?"}, []interface{}{common.BytesToHash(raw).Hex()}
}

// JoinWithAnd implements Filter.
func (f *TxHashFilter) JoinWithAnd() bool { return true }

// StringFilter is an exact-match equality constraint on one column.
type StringFilter struct {
	Column string
	Value  string
}

// Prepare implements Filter.
func (f *StringFilter) Prepare() ([]string, []interface{}) {
	return []string{f.Column + " = ?"}, []interface{}{f.Value}
}

// JoinWithAnd implements Filter.
func (f *StringFilter) JoinWithAnd() bool { return true }

// MultiStringFilter is a membership constraint over a string list, used for
// serialized enum values such as event types and subtypes.
type MultiStringFilter struct {
	Column string
	Values []string
	// And controls how the filter's own fragments combine. Single-fragment
	// filters are unaffected but the flag keeps the contract uniform.
	And bool
}

// Prepare implements Filter.
func (f *MultiStringFilter) Prepare() ([]string, []interface{}) {
	if len(f.Values) == 0 {
		return nil, nil
	}
	if len(f.Values) == 1 {
		return []string{f.Column + " = ?"}, []interface{}{f.Values[0]}
	}
	bindings := make([]interface{}, len(f.Values))
	for i, v := range f.Values {
		bindings[i] = v
	}
	return []string{f.Column + " IN (" + placeholders(len(f.Values)) + ")"}, bindings
}

// JoinWithAnd implements Filter.
func (f *MultiStringFilter) JoinWithAnd() bool { return f.And }

// NotValuesFilter excludes rows whose column is in the given set.
type NotValuesFilter struct {
	Column string
	Values []interface{}
}

// Prepare implements Filter.
func (f *NotValuesFilter) Prepare() ([]string, []interface{}) {
	if len(f.Values) == 0 {
		return nil, nil
	}
	return []string{f.Column + " NOT IN (" + placeholders(len(f.Values)) + ")"}, f.Values
}

// JoinWithAnd implements Filter.
func (f *NotValuesFilter) JoinWithAnd() bool { return true }

// LocationFilter matches an exact location code.
type LocationFilter struct {
	Location types.Location
}

// Prepare implements Filter.
func (f *LocationFilter) Prepare() ([]string, []interface{}) {
	return []string{"location = ?"}, []interface{}{string(f.Location)}
}

// JoinWithAnd implements Filter.
func (f *LocationFilter) JoinWithAnd() bool { return true }

// AssetFilter matches an exact asset identifier. Column selects which
// column holds the asset: "asset" for events, "base_asset"/"quote_asset"
// for trades.
type AssetFilter struct {
	Column string
	Asset  string
}

// Prepare implements Filter.
func (f *AssetFilter) Prepare() ([]string, []interface{}) {
	column := f.Column
	if column == "" {
		column = "asset"
	}
	return []string{column + " = ?"}, []interface{}{f.Asset}
}

// JoinWithAnd implements Filter.
func (f *AssetFilter) JoinWithAnd() bool { return true }

// IgnoredAssetsFilter excludes events whose asset the user has marked
// ignored. NULL assets pass so rows without an asset are never hidden.
type IgnoredAssetsFilter struct{}

// Prepare implements Filter.
func (f *IgnoredAssetsFilter) Prepare() ([]string, []interface{}) {
	return []string{"(asset IS NULL OR asset NOT IN (SELECT asset FROM ignored_assets))"}, nil
}

// JoinWithAnd implements Filter.
func (f *IgnoredAssetsFilter) JoinWithAnd() bool { return true }

// ValidatorIndicesFilter constrains staking rows to a validator set.
type ValidatorIndicesFilter struct {
	Indices []uint64
}

// Prepare implements Filter.
func (f *ValidatorIndicesFilter) Prepare() ([]string, []interface{}) {
	if len(f.Indices) == 0 {
		return nil, nil
	}
	bindings := make([]interface{}, len(f.Indices))
	for i, idx := range f.Indices {
		bindings[i] = idx
	}
	return []string{"validator_index IN (" + placeholders(len(f.Indices)) + ")"}, bindings
}

// JoinWithAnd implements Filter.
func (f *ValidatorIndicesFilter) JoinWithAnd() bool { return true }

// ReportIDFilter constrains report data rows to one report.
type ReportIDFilter struct {
	ReportID int64
}

// Prepare implements Filter.
func (f *ReportIDFilter) Prepare() ([]string, []interface{}) {
	return []string{"report_id = ?"}, []interface{}{f.ReportID}
}

// JoinWithAnd implements Filter.
func (f *ReportIDFilter) JoinWithAnd() bool { return true }
