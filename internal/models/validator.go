package models

import (
	"github.com/chain-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// Validator is a tracked eth2 validator. Index is nil until the validator
// has been confirmed on the beacon chain; PublicKey is the stable identity.
// OwnershipProportion scales all derived balances and PnL for partially
// owned validators and is always in (0, 1].
type Validator struct {
	Index               *uint64         `json:"index,omitempty"`
	PublicKey           string          `json:"publicKey"`
	OwnershipProportion decimal.Decimal `json:"ownershipProportion"`
	WithdrawalAddress   string          `json:"withdrawalAddress,omitempty"`
}

// ValidatorDailyStats is one day-bucket of PnL for a validator. Rows are
// immutable once inserted; ownership scaling is applied at read time only.
type ValidatorDailyStats struct {
	ValidatorIndex uint64          `json:"validatorIndex"`
	Timestamp      types.Timestamp `json:"timestamp"`
	PnL            decimal.Decimal `json:"pnl"`
}

// ValidatorQueryTarget pairs a validator index with the timestamp of its
// most recent known data point. Zero means no data point exists yet.
type ValidatorQueryTarget struct {
	ValidatorIndex uint64          `json:"validatorIndex"`
	LastTimestamp  types.Timestamp `json:"lastTimestamp"`
}

// ValidatorsProfit sums withdrawal and execution-layer reward amounts for a
// set of validators over a time range.
type ValidatorsProfit struct {
	Withdrawals      decimal.Decimal `json:"withdrawals"`
	ExecutionRewards decimal.Decimal `json:"executionRewards"`
}
