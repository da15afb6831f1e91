// Package depository implements the bonding-curve market engine: the market
// ledger, the pricing and decay math, the tuning controller, and the
// deposit/redeem protocol over per-user note ledgers.
//
// A Depository instance is the authoritative store. Every mutating
// operation is serialized behind one write lock, so no two deposits ever
// interleave; read-only queries share a read lock and observe committed
// state only. External value movement goes through the injected
// domain.TokenAsset capabilities and is always the last step of an
// operation: state is committed only after the transfer succeeds.
package depository

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// feeDenominator is the basis-point denominator for the protocol fee.
const feeDenominator = 10_000

// debtBufferDenominator scales DebtBufferBps: 100000 == +100% over target
// debt.
const debtBufferDenominator = 100_000

// Config carries the collaborators and policy for a Depository.
type Config struct {
	// BaseToken is the asset sold by every market and paid out on
	// redemption, drawn from the depository's own reserve pool.
	BaseToken domain.TokenAsset

	// Tokens resolves quote-token addresses supplied at market creation.
	Tokens domain.TokenResolver

	// Treasury receives the quote tokens collected by deposits.
	Treasury common.Address

	// FeeRecipient receives the protocol fee note when a deposit names no
	// recipient of its own. FeeBps is the fee in basis points of payout.
	FeeRecipient common.Address
	FeeBps       uint64

	Clock  domain.Clock
	Admin  domain.AdministratorCheck
	Logger *slog.Logger
}

// marketRecord groups the four per-market record types. The arena index is
// the market ID.
type marketRecord struct {
	market domain.Market
	terms  domain.Terms
	meta   domain.Metadata
	adjust domain.Adjustment
}

// noteKey identifies one slot in one owner's note ledger.
type noteKey struct {
	owner common.Address
	index uint64
}

// Depository is the bond market engine.
type Depository struct {
	mu sync.RWMutex

	base         domain.TokenAsset
	baseDecimals uint8
	tokens       domain.TokenResolver
	treasury     common.Address
	feeRecipient common.Address
	feeBps       uint64
	clock        domain.Clock
	admin        domain.AdministratorCheck
	logger       *slog.Logger

	markets []*marketRecord
	byQuote map[common.Address][]uint64
	notes   map[common.Address][]domain.Note
	pending map[noteKey]common.Address
}

// New creates a Depository. It reads the base token's decimal precision once
// up front; base supply is re-read on every pricing computation.
func New(ctx context.Context, cfg Config) (*Depository, error) {
	if cfg.BaseToken == nil || cfg.Tokens == nil || cfg.Admin == nil {
		return nil, fmt.Errorf("depository: missing collaborator: %w", domain.ErrInvalidConfiguration)
	}
	if cfg.Treasury == (common.Address{}) {
		return nil, fmt.Errorf("depository: zero treasury: %w", domain.ErrInvalidConfiguration)
	}
	if cfg.FeeBps >= feeDenominator {
		return nil, fmt.Errorf("depository: fee %d bps out of range: %w", cfg.FeeBps, domain.ErrInvalidConfiguration)
	}

	decimals, err := cfg.BaseToken.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("depository: base decimals: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Depository{
		base:         cfg.BaseToken,
		baseDecimals: decimals,
		tokens:       cfg.Tokens,
		treasury:     cfg.Treasury,
		feeRecipient: cfg.FeeRecipient,
		feeBps:       cfg.FeeBps,
		clock:        clock,
		admin:        cfg.Admin,
		logger:       logger.With(slog.String("component", "depository")),
		byQuote:      make(map[common.Address][]uint64),
		notes:        make(map[common.Address][]domain.Note),
		pending:      make(map[noteKey]common.Address),
	}, nil
}

// now returns the clock reading as unix seconds.
func (d *Depository) now() uint64 {
	return uint64(d.clock.Now().Unix())
}

// record returns the arena entry for id. Caller holds either lock.
func (d *Depository) record(id uint64) (*marketRecord, error) {
	if id >= uint64(len(d.markets)) {
		return nil, fmt.Errorf("depository: market %d: %w", id, domain.ErrNotFound)
	}
	return d.markets[id], nil
}

// clone deep-copies a record so the deposit path can compute on scratch
// state and commit atomically after the external transfer succeeds.
func (r *marketRecord) clone() *marketRecord {
	c := &marketRecord{
		market: r.market,
		terms:  r.terms,
		meta:   r.meta,
		adjust: r.adjust,
	}
	c.market.Capacity = r.market.Capacity.Clone()
	c.market.TotalDebt = r.market.TotalDebt.Clone()
	c.market.MaxPayout = r.market.MaxPayout.Clone()
	c.market.Purchased = r.market.Purchased.Clone()
	c.market.Sold = r.market.Sold.Clone()
	c.terms.ControlVariable = r.terms.ControlVariable.Clone()
	c.terms.MaxDebt = r.terms.MaxDebt.Clone()
	if r.adjust.Change != nil {
		c.adjust.Change = r.adjust.Change.Clone()
	}
	return c
}

// snapshot converts a record into its read-model form. Caller holds either
// lock.
func (d *Depository) snapshot(id uint64, rec *marketRecord, now uint64) domain.MarketSnapshot {
	c := rec.clone()
	status := domain.MarketStatusLive
	if !d.liveAt(rec, now) {
		status = domain.MarketStatusConcluded
	}
	return domain.MarketSnapshot{
		ID:         id,
		Market:     c.market,
		Terms:      c.terms,
		Metadata:   c.meta,
		Adjustment: c.adjust,
		Status:     status,
	}
}

// liveAt reports whether a market accepts deposits at the given time.
func (d *Depository) liveAt(rec *marketRecord, now uint64) bool {
	return !rec.market.Capacity.IsZero() && now < rec.terms.Conclusion
}
