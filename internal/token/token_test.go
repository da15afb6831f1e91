package token

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticefi/bonddepot/internal/domain"
)

var (
	tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	poolAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestTransferDebitsPool(t *testing.T) {
	tok := New(tokenAddr, "BASE", 9, uint256.NewInt(1_000_000), poolAddr)

	require.NoError(t, tok.Transfer(context.Background(), alice, uint256.NewInt(400)))
	assert.Equal(t, uint64(400), tok.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(999_600), tok.BalanceOf(poolAddr).Uint64())

	supply, err := tok.TotalSupply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), supply.Uint64(), "transfers must not change supply")
}

func TestTransferFromInsufficientBalance(t *testing.T) {
	tok := New(tokenAddr, "QUOTE", 6, uint256.NewInt(0), poolAddr)
	tok.Mint(alice, uint256.NewInt(10))

	err := tok.TransferFrom(context.Background(), alice, bob, uint256.NewInt(11))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, uint64(10), tok.BalanceOf(alice).Uint64(), "failed transfer must not move funds")
	assert.True(t, tok.BalanceOf(bob).IsZero())
}

func TestMintGrowsSupply(t *testing.T) {
	tok := New(tokenAddr, "QUOTE", 6, uint256.NewInt(100), poolAddr)
	tok.Mint(bob, uint256.NewInt(50))

	supply, err := tok.TotalSupply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(150), supply.Uint64())
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	tok := New(tokenAddr, "BASE", 9, uint256.NewInt(1), poolAddr)
	reg.Register(tok)

	got, err := reg.Resolve(tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenAsset(tok), got)

	_, err = reg.Resolve(bob)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
