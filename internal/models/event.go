// Package models provides the persisted entities of the chain ledger system.
package models

import (
	"github.com/chain-ledger/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// HistoryEvent is one normalized accounting-relevant occurrence: a trade leg,
// a transfer, a staking action. All sources (exchanges, chain decoders)
// produce events with this schema. Events sharing an EventIdentifier form one
// logical action split into legs, disambiguated by SequenceIndex.
type HistoryEvent struct {
	// Identifier is the surrogate key assigned on insert. Zero means the
	// event has not been persisted yet.
	Identifier      int64                  `json:"identifier"`
	EventIdentifier string                 `json:"eventIdentifier"`
	SequenceIndex   int                    `json:"sequenceIndex"`
	Timestamp       types.TimestampMS      `json:"timestamp"`
	Location        types.Location         `json:"location"`
	LocationLabel   string                 `json:"locationLabel,omitempty"`
	Asset           string                 `json:"asset"`
	Amount          decimal.Decimal        `json:"amount"`
	USDValue        decimal.Decimal        `json:"usdValue"`
	Notes           string                 `json:"notes,omitempty"`
	Type            types.EventType        `json:"type"`
	SubType         types.EventSubType     `json:"subType"`
	Counterparty    string                 `json:"counterparty,omitempty"`
	Product         string                 `json:"product,omitempty"`
	Address         *common.Address        `json:"address,omitempty"`
	TxHash          *common.Hash           `json:"txHash,omitempty"`
	ExtraData       map[string]interface{} `json:"extraData,omitempty"`

	// ValidatorIndex is set for eth staking events and links the event to a
	// tracked validator. ExitOrBlockNumber is 1 for exit events and the
	// block number for block production events.
	ValidatorIndex    *uint64 `json:"validatorIndex,omitempty"`
	ExitOrBlockNumber int64   `json:"exitOrBlockNumber,omitempty"`
}

// Direction returns the net economic direction of the event.
func (e *HistoryEvent) Direction() types.Direction {
	return types.DirectionOf(e.Type, e.SubType)
}

// ValueStats aggregates history events by asset under a filter.
type ValueStats struct {
	TotalUSDValue decimal.Decimal  `json:"totalUsdValue"`
	ByAsset       []AssetValueStat `json:"byAsset"`
}

// AssetValueStat is the per-asset aggregate in a ValueStats result.
type AssetValueStat struct {
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usdValue"`
}

// MissingPriceRow identifies an event whose USD value still needs a price
// lookup: the backfill job re-prices these.
type MissingPriceRow struct {
	Identifier int64
	Amount     decimal.Decimal
	Asset      string
	Timestamp  types.Timestamp
}
