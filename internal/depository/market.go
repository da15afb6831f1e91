package depository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/solsticefi/bonddepot/internal/domain"
	"github.com/solsticefi/bonddepot/internal/fixedpoint"
)

// CreateMarket opens a new bond market and returns its ID. IDs are dense,
// zero-based, and never reused. Requires an authorized administrator.
//
// The initial target debt equals capacity expressed in base-token terms: it
// is the debt that would decay away over the market's full duration if the
// price never moved. Max payout, max debt, and the starting control
// variable all derive from it.
func (d *Depository) CreateMarket(ctx context.Context, principal common.Address, p domain.MarketParams) (uint64, error) {
	if !d.admin.IsAdministrator(principal) {
		return 0, fmt.Errorf("depository: create market by %s: %w", principal.Hex(), domain.ErrUnauthorized)
	}

	now := d.now()
	if err := validateParams(p, now); err != nil {
		return 0, err
	}

	quote, err := d.tokens.Resolve(p.QuoteToken)
	if err != nil {
		return 0, fmt.Errorf("depository: create market: %w", err)
	}
	quoteDecimals, err := quote.Decimals(ctx)
	if err != nil {
		return 0, fmt.Errorf("depository: quote decimals: %w", err)
	}
	baseSupply, err := d.base.TotalSupply(ctx)
	if err != nil {
		return 0, fmt.Errorf("depository: base supply: %w", err)
	}

	secondsToConclusion := p.Conclusion - now

	targetDebt := p.Capacity.Clone()
	if p.CapacityInQuote {
		targetDebt, err = d.quoteToBase(p.Capacity, p.InitialPrice, quoteDecimals)
		if err != nil {
			return 0, fmt.Errorf("depository: target debt: %w", err)
		}
	}
	if targetDebt.IsZero() {
		return 0, fmt.Errorf("depository: zero target debt: %w", domain.ErrInvalidConfiguration)
	}

	maxPayout, err := fixedpoint.MulDiv(targetDebt, uint256.NewInt(p.DepositInterval), uint256.NewInt(secondsToConclusion))
	if err != nil {
		return 0, fmt.Errorf("depository: max payout: %w", err)
	}
	maxDebt, err := fixedpoint.MulDiv(targetDebt, uint256.NewInt(debtBufferDenominator+p.DebtBufferBps), uint256.NewInt(debtBufferDenominator))
	if err != nil {
		return 0, fmt.Errorf("depository: max debt: %w", err)
	}
	controlVariable, err := fixedpoint.MulDiv(p.InitialPrice, baseSupply, targetDebt)
	if err != nil {
		return 0, fmt.Errorf("depository: control variable: %w", err)
	}
	if controlVariable.IsZero() {
		return 0, fmt.Errorf("depository: zero control variable: %w", domain.ErrInvalidConfiguration)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := uint64(len(d.markets))
	d.markets = append(d.markets, &marketRecord{
		market: domain.Market{
			QuoteToken:      p.QuoteToken,
			Capacity:        p.Capacity.Clone(),
			TotalDebt:       targetDebt,
			MaxPayout:       maxPayout,
			Purchased:       uint256.NewInt(0),
			Sold:            uint256.NewInt(0),
			CapacityInQuote: p.CapacityInQuote,
		},
		terms: domain.Terms{
			ControlVariable: controlVariable,
			Vesting:         p.Vesting,
			Conclusion:      p.Conclusion,
			MaxDebt:         maxDebt,
			FixedTerm:       p.FixedTerm,
		},
		meta: domain.Metadata{
			LastTune:        now,
			LastDecay:       now,
			Length:          secondsToConclusion,
			DepositInterval: p.DepositInterval,
			TuneInterval:    p.TuneInterval,
			QuoteDecimals:   quoteDecimals,
		},
	})
	d.byQuote[p.QuoteToken] = append(d.byQuote[p.QuoteToken], id)

	d.logger.Info("market created",
		slog.Uint64("market_id", id),
		slog.String("quote_token", p.QuoteToken.Hex()),
		slog.String("capacity", p.Capacity.Dec()),
		slog.String("initial_price", p.InitialPrice.Dec()),
		slog.Uint64("conclusion", p.Conclusion),
	)
	return id, nil
}

// validateParams rejects configurations the engine cannot price.
func validateParams(p domain.MarketParams, now uint64) error {
	switch {
	case p.QuoteToken == (common.Address{}):
		return fmt.Errorf("depository: zero quote token: %w", domain.ErrInvalidConfiguration)
	case p.Capacity == nil || p.Capacity.IsZero():
		return fmt.Errorf("depository: zero capacity: %w", domain.ErrInvalidConfiguration)
	case p.InitialPrice == nil || p.InitialPrice.IsZero():
		return fmt.Errorf("depository: zero initial price: %w", domain.ErrInvalidConfiguration)
	case p.Conclusion <= now:
		return fmt.Errorf("depository: conclusion %d not in the future: %w", p.Conclusion, domain.ErrInvalidConfiguration)
	case p.DepositInterval == 0 || p.TuneInterval == 0:
		return fmt.Errorf("depository: zero interval: %w", domain.ErrInvalidConfiguration)
	case p.DebtBufferBps > debtBufferDenominator:
		return fmt.Errorf("depository: debt buffer %d out of range: %w", p.DebtBufferBps, domain.ErrInvalidConfiguration)
	}
	return nil
}

// CloseMarket concludes a market immediately: conclusion moves to now and
// capacity drops to zero. Idempotent, and irreversible for future deposits.
func (d *Depository) CloseMarket(principal common.Address, id uint64) error {
	if !d.admin.IsAdministrator(principal) {
		return fmt.Errorf("depository: close market by %s: %w", principal.Hex(), domain.ErrUnauthorized)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := d.record(id)
	if err != nil {
		return err
	}
	rec.terms.Conclusion = d.now()
	rec.market.Capacity.Clear()

	d.logger.Info("market closed", slog.Uint64("market_id", id))
	return nil
}

// IsLive reports whether the market currently accepts deposits.
func (d *Depository) IsLive(id uint64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, err := d.record(id)
	if err != nil {
		return false, err
	}
	return d.liveAt(rec, d.now()), nil
}

// LiveMarkets returns the IDs of all markets currently accepting deposits.
func (d *Depository) LiveMarkets() []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now()
	var ids []uint64
	for id, rec := range d.markets {
		if d.liveAt(rec, now) {
			ids = append(ids, uint64(id))
		}
	}
	return ids
}

// LiveMarketsFor returns the IDs of live markets selling against the given
// quote token.
func (d *Depository) LiveMarketsFor(quoteToken common.Address) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now()
	var ids []uint64
	for _, id := range d.byQuote[quoteToken] {
		if d.liveAt(d.markets[id], now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// MarketInfo returns a full snapshot of one market.
func (d *Depository) MarketInfo(id uint64) (domain.MarketSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, err := d.record(id)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	return d.snapshot(id, rec, d.now()), nil
}

// MarketCount returns the number of markets ever created.
func (d *Depository) MarketCount() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return uint64(len(d.markets))
}

// quoteToBase converts a quote-token amount to base-token terms at the given
// price: amount * 10^(2*baseDecimals) / price / 10^quoteDecimals.
func (d *Depository) quoteToBase(amount, price *uint256.Int, quoteDecimals uint8) (*uint256.Int, error) {
	scaled, err := fixedpoint.MulDiv(amount, fixedpoint.Pow10(2*d.baseDecimals), price)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Div(scaled, fixedpoint.Pow10(quoteDecimals))
}
