package models

import (
	"github.com/chain-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// BucketKey identifies a running-balance bucket. Protocol is empty for the
// ordinary wallet bucket and holds the counterparty identifier for funds
// locked in a specific protocol position.
type BucketKey struct {
	Location      types.Location `json:"location"`
	LocationLabel string         `json:"locationLabel"`
	Protocol      string         `json:"protocol,omitempty"`
	Asset         string         `json:"asset"`
}

// BalanceSnapshot is the running balance of one bucket immediately after
// processing one history event. Snapshots are keyed by the event identifier
// so re-processing the same event replaces its snapshot.
type BalanceSnapshot struct {
	EventIdentifier int64             `json:"eventIdentifier"`
	Timestamp       types.TimestampMS `json:"timestamp"`
	Bucket          BucketKey         `json:"bucket"`
	Balance         decimal.Decimal   `json:"balance"`
}
