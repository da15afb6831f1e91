package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MarketStatus represents the lifecycle state of a bond market.
type MarketStatus string

const (
	MarketStatusLive      MarketStatus = "live"
	MarketStatusConcluded MarketStatus = "concluded"
)

// Market holds the mutable sale state of a single bond market. Capacity is
// denominated in quote-token units when CapacityInQuote is set, base-token
// units otherwise. Once capacity reaches zero the market accepts no further
// deposits regardless of its conclusion timestamp.
type Market struct {
	QuoteToken      common.Address
	Capacity        *uint256.Int
	TotalDebt       *uint256.Int
	MaxPayout       *uint256.Int
	Purchased       *uint256.Int
	Sold            *uint256.Int
	CapacityInQuote bool
}

// Terms holds the immutable-ish sale terms of a market. ControlVariable is
// the price-scaling factor in base-decimal precision; Vesting is either a
// duration from purchase (FixedTerm) or an absolute unix timestamp.
// Conclusion only moves via an explicit close.
type Terms struct {
	ControlVariable *uint256.Int
	Vesting         uint64
	Conclusion      uint64
	MaxDebt         *uint256.Int
	FixedTerm       bool
}

// Metadata holds bookkeeping timestamps and intervals for a market. Only
// LastTune and LastDecay change after creation, and only through the pricing
// and tuning paths.
type Metadata struct {
	LastTune        uint64
	LastDecay       uint64
	Length          uint64
	DepositInterval uint64
	TuneInterval    uint64
	QuoteDecimals   uint8
}

// Adjustment is a pending, smoothed reduction of the control variable. It is
// consumed incrementally on every decay until fully applied or replaced by a
// newer tuning result.
type Adjustment struct {
	Change         *uint256.Int
	LastAdjustment uint64
	TimeToAdjusted uint64
	Active         bool
}

// MarketSnapshot is a full read-model copy of one market, used by queries,
// the persistence journal, and the archiver.
type MarketSnapshot struct {
	ID         uint64
	Market     Market
	Terms      Terms
	Metadata   Metadata
	Adjustment Adjustment
	Status     MarketStatus
}

// MarketParams carries the administrator-supplied inputs for CreateMarket.
type MarketParams struct {
	QuoteToken      common.Address
	Capacity        *uint256.Int
	InitialPrice    *uint256.Int
	DebtBufferBps   uint64
	Vesting         uint64
	Conclusion      uint64
	DepositInterval uint64
	TuneInterval    uint64
	CapacityInQuote bool
	FixedTerm       bool
}
