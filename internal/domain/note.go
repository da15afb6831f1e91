package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Note is a vesting claim issued to a buyer at deposit time. Payout is owed
// in base-token units. Redeemed is the unix timestamp of redemption; zero
// means unredeemed. A note with zero payout is an invalidated slot left
// behind by a transfer-out.
type Note struct {
	Payout   *uint256.Int
	Created  uint64
	Matured  uint64
	Redeemed uint64
	MarketID uint64
}

// NoteRecord pairs a note with its owner and stable per-owner index, as
// stored in the persistence journal.
type NoteRecord struct {
	Owner common.Address
	Index uint64
	Note  Note
}

// DepositParams carries the buyer-supplied inputs for a deposit.
type DepositParams struct {
	MarketID        uint64
	Amount          *uint256.Int
	MaxPrice        *uint256.Int
	PayoutRecipient common.Address
	FeeRecipient    common.Address
}

// DepositResult is returned from a successful deposit. Fee fields are set
// only when a protocol fee note was issued; CircuitBroken reports that this
// deposit pushed total debt past the market's ceiling and concluded it.
type DepositResult struct {
	Payout        *uint256.Int
	Matured       uint64
	NoteIndex     uint64
	Fee           *uint256.Int
	FeeRecipient  common.Address
	FeeNoteIndex  *uint64
	CircuitBroken bool
}
