// Package token provides an in-memory, ERC-20-shaped ledger token that
// implements the domain.TokenAsset capability. It backs local mode and
// tests; in a deployment the same interface is satisfied by an adapter over
// the real asset.
package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// Token is a fixed-decimals balance ledger. Transfer debits the configured
// pool account, which is the depository's own reserve for the base asset.
type Token struct {
	mu       sync.RWMutex
	address  common.Address
	symbol   string
	decimals uint8
	supply   *uint256.Int
	balances map[common.Address]*uint256.Int
	pool     common.Address
}

// New creates a token with the given initial supply credited to the pool
// account.
func New(address common.Address, symbol string, decimals uint8, supply *uint256.Int, pool common.Address) *Token {
	t := &Token{
		address:  address,
		symbol:   symbol,
		decimals: decimals,
		supply:   supply.Clone(),
		balances: make(map[common.Address]*uint256.Int),
		pool:     pool,
	}
	if !supply.IsZero() {
		t.balances[pool] = supply.Clone()
	}
	return t
}

// Address returns the token's ledger address.
func (t *Token) Address() common.Address { return t.address }

// Symbol returns the token's display symbol.
func (t *Token) Symbol() string { return t.symbol }

// Decimals implements domain.TokenAsset.
func (t *Token) Decimals(_ context.Context) (uint8, error) {
	return t.decimals, nil
}

// TotalSupply implements domain.TokenAsset.
func (t *Token) TotalSupply(_ context.Context) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply.Clone(), nil
}

// Transfer moves amount from the pool account to the recipient.
func (t *Token) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(t.pool, to, amount)
}

// TransferFrom moves amount between two holders.
func (t *Token) TransferFrom(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// Mint credits amount to an account and grows total supply. It exists for
// local-mode seeding and tests.
func (t *Token) Mint(to common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	t.supply.Add(t.supply, amount)
}

// BalanceOf returns the holder's current balance.
func (t *Token) BalanceOf(holder common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[holder]; ok {
		return b.Clone()
	}
	return uint256.NewInt(0)
}

// move debits from and credits to. Caller holds the write lock.
func (t *Token) move(from, to common.Address, amount *uint256.Int) error {
	bal, ok := t.balances[from]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("token %s: transfer %s from %s: %w",
			t.symbol, amount.Dec(), from.Hex(), domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	t.credit(to, amount)
	return nil
}

func (t *Token) credit(to common.Address, amount *uint256.Int) {
	if b, ok := t.balances[to]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[to] = amount.Clone()
}

// Registry resolves token addresses to their in-memory ledgers and
// implements domain.TokenResolver.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]*Token)}
}

// Register adds a token to the registry, replacing any previous entry for
// the same address.
func (r *Registry) Register(t *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Address()] = t
}

// Resolve implements domain.TokenResolver.
func (r *Registry) Resolve(addr common.Address) (domain.TokenAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("token registry: resolve %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return t, nil
}
