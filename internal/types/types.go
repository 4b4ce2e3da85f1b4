// Package types provides common type definitions for the chain ledger system.
package types

import "time"

// Location represents where a history event originated: an exchange, a
// blockchain, or an external service.
type Location string

const (
	// LocationKraken represents the Kraken exchange
	LocationKraken Location = "kraken"
	// LocationBitfinex represents the Bitfinex exchange
	LocationBitfinex Location = "bitfinex"
	// LocationBitstamp represents the Bitstamp exchange
	LocationBitstamp Location = "bitstamp"
	// LocationBittrex represents the Bittrex exchange
	LocationBittrex Location = "bittrex"
	// LocationEthereum represents the Ethereum mainnet
	LocationEthereum Location = "ethereum"
	// LocationOptimism represents the Optimism network
	LocationOptimism Location = "optimism"
	// LocationBase represents the Base network
	LocationBase Location = "base"
	// LocationArbitrum represents the Arbitrum One network
	LocationArbitrum Location = "arbitrum_one"
	// LocationGnosis represents the Gnosis chain
	LocationGnosis Location = "gnosis"
	// LocationBlockchain represents a generic on-chain location
	LocationBlockchain Location = "blockchain"
)

// EventType is the top-level classification of a history event.
type EventType string

const (
	EventTypeTrade         EventType = "trade"
	EventTypeStaking       EventType = "staking"
	EventTypeDeposit       EventType = "deposit"
	EventTypeWithdrawal    EventType = "withdrawal"
	EventTypeTransfer      EventType = "transfer"
	EventTypeSpend         EventType = "spend"
	EventTypeReceive       EventType = "receive"
	EventTypeAdjustment    EventType = "adjustment"
	EventTypeInformational EventType = "informational"
	EventTypeMigrate       EventType = "migrate"
)

// EventSubType refines an EventType. The empty subtype is stored as "none".
type EventSubType string

const (
	SubTypeNone            EventSubType = "none"
	SubTypeFee             EventSubType = "fee"
	SubTypeSpend           EventSubType = "spend"
	SubTypeReceive         EventSubType = "receive"
	SubTypeReward          EventSubType = "reward"
	SubTypeDepositAsset    EventSubType = "deposit asset"
	SubTypeRemoveAsset     EventSubType = "remove asset"
	SubTypeReceiveWrapped  EventSubType = "receive wrapped"
	SubTypeReturnWrapped   EventSubType = "return wrapped"
	SubTypeGenerateDebt    EventSubType = "generate debt"
	SubTypePaybackDebt     EventSubType = "payback debt"
	SubTypeApprove         EventSubType = "approve"
	SubTypeAirdrop         EventSubType = "airdrop"
	SubTypeBlockProduction EventSubType = "block production"
	SubTypeMEVReward       EventSubType = "mev reward"
)

// Direction is the net economic direction of an event relative to the
// tracked user: funds coming in, going out, or neither.
type Direction int

const (
	DirectionNeutral Direction = iota
	DirectionIn
	DirectionOut
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "neutral"
	}
}

// directionOverrides refines the per-type default for (type, subtype)
// combinations whose direction differs from their type's usual one.
var directionOverrides = map[EventType]map[EventSubType]Direction{
	EventTypeTrade: {
		SubTypeSpend:   DirectionOut,
		SubTypeReceive: DirectionIn,
		SubTypeFee:     DirectionOut,
	},
	EventTypeStaking: {
		SubTypeDepositAsset: DirectionOut,
		SubTypeRemoveAsset:  DirectionIn,
		SubTypeFee:          DirectionOut,
	},
	EventTypeDeposit: {
		SubTypeGenerateDebt: DirectionIn,
	},
	EventTypeWithdrawal: {
		SubTypePaybackDebt: DirectionOut,
	},
	EventTypeReceive: {
		SubTypeReceiveWrapped: DirectionIn,
		SubTypeGenerateDebt:   DirectionIn,
	},
	EventTypeSpend: {
		SubTypeReturnWrapped: DirectionOut,
		SubTypePaybackDebt:   DirectionOut,
	},
}

// typeDirections is the default direction per event type.
var typeDirections = map[EventType]Direction{
	EventTypeTrade:         DirectionNeutral,
	EventTypeStaking:       DirectionIn,
	EventTypeDeposit:       DirectionOut,
	EventTypeWithdrawal:    DirectionIn,
	EventTypeTransfer:      DirectionNeutral,
	EventTypeSpend:         DirectionOut,
	EventTypeReceive:       DirectionIn,
	EventTypeAdjustment:    DirectionNeutral,
	EventTypeInformational: DirectionNeutral,
	EventTypeMigrate:       DirectionNeutral,
}

// DirectionOf returns the net direction for a (type, subtype) pair.
// Unknown combinations are neutral so they never move a balance.
func DirectionOf(eventType EventType, subType EventSubType) Direction {
	if overrides, ok := directionOverrides[eventType]; ok {
		if d, ok := overrides[subType]; ok {
			return d
		}
	}
	if d, ok := typeDirections[eventType]; ok {
		return d
	}
	return DirectionNeutral
}

// TimestampMS is a timestamp in milliseconds since the epoch. It is the
// primary ordering key for history events.
type TimestampMS int64

// Timestamp is a timestamp in seconds since the epoch, used by tables that
// bucket by day (validator daily stats) and by the key/value cache.
type Timestamp int64

// NowMS returns the current time in milliseconds.
func NowMS() TimestampMS {
	return TimestampMS(time.Now().UnixMilli())
}

// Now returns the current time in seconds.
func Now() Timestamp {
	return Timestamp(time.Now().Unix())
}

// ToSeconds converts a millisecond timestamp to seconds, truncating.
func (t TimestampMS) ToSeconds() Timestamp {
	return Timestamp(t / 1000)
}

// DayInSeconds is the length of a daily stats bucket.
const DayInSeconds = 24 * 60 * 60

// ServiceError represents an error returned across the API boundary.
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return e.Code + ": " + e.Message
}
