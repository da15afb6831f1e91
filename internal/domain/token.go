package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenAsset is the capability surface the depository needs from a token.
// The depository never moves value itself; it asks the asset to do so and
// treats any error as a failed, fully-rolled-back operation.
type TokenAsset interface {
	Decimals(ctx context.Context) (uint8, error)
	TotalSupply(ctx context.Context) (*uint256.Int, error)
	// Transfer moves amount from the depository's own pool to `to`.
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	// TransferFrom moves amount between two external holders.
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// TokenResolver looks up the TokenAsset behind an address. Markets refer to
// quote tokens by address only.
type TokenResolver interface {
	Resolve(addr common.Address) (TokenAsset, error)
}

// Clock supplies the current time. The depository treats timestamps with
// one-second resolution and assumes monotonic wall time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// AdministratorCheck authorizes market creation, closure, and treasury
// updates for a ledger instance.
type AdministratorCheck interface {
	IsAdministrator(principal common.Address) bool
}

// SingleAdministrator authorizes exactly one principal.
type SingleAdministrator common.Address

func (a SingleAdministrator) IsAdministrator(principal common.Address) bool {
	return common.Address(a) == principal
}
