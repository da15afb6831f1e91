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

// Deposit processes a bond purchase: it decays debt and the control
// variable, prices the market, validates the buyer's limits, records the
// sale, issues a vesting note, and retunes (or circuit-breaks) the market.
//
// The whole operation is all-or-nothing. It computes on a scratch copy of
// the market record, asks the quote token to move funds from the buyer to
// the treasury, and only then commits the copy and appends the notes. A
// failed transfer leaves the ledger exactly as it was.
func (d *Depository) Deposit(ctx context.Context, buyer common.Address, p domain.DepositParams) (domain.DepositResult, error) {
	if p.Amount == nil || p.Amount.IsZero() {
		return domain.DepositResult{}, fmt.Errorf("depository: zero deposit amount: %w", domain.ErrInvalidConfiguration)
	}
	if p.PayoutRecipient == (common.Address{}) {
		return domain.DepositResult{}, fmt.Errorf("depository: zero payout recipient: %w", domain.ErrInvalidConfiguration)
	}

	baseSupply, err := d.base.TotalSupply(ctx)
	if err != nil {
		return domain.DepositResult{}, fmt.Errorf("depository: base supply: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := d.record(p.MarketID)
	if err != nil {
		return domain.DepositResult{}, err
	}

	now := d.now()
	if now >= rec.terms.Conclusion || rec.market.Capacity.IsZero() {
		return domain.DepositResult{}, fmt.Errorf("depository: market %d: %w", p.MarketID, domain.ErrMarketConcluded)
	}

	// All mutation happens on the scratch copy until the transfer succeeds.
	work := rec.clone()
	if err := decayAndCommit(work, now); err != nil {
		return domain.DepositResult{}, err
	}

	price, err := marketPriceAt(work, now, baseSupply)
	if err != nil {
		return domain.DepositResult{}, err
	}
	if price.IsZero() {
		return domain.DepositResult{}, fmt.Errorf("depository: market %d priced at zero: %w", p.MarketID, domain.ErrInvalidConfiguration)
	}
	if p.MaxPrice != nil && price.Gt(p.MaxPrice) {
		return domain.DepositResult{}, fmt.Errorf("depository: price %s over limit %s: %w",
			price.Dec(), p.MaxPrice.Dec(), domain.ErrSlippageExceeded)
	}

	payout, err := payoutFor(p.Amount, price, d.baseDecimals, work.meta.QuoteDecimals)
	if err != nil {
		return domain.DepositResult{}, err
	}
	if payout.Gt(work.market.MaxPayout) {
		return domain.DepositResult{}, fmt.Errorf("depository: payout %s over max %s: %w",
			payout.Dec(), work.market.MaxPayout.Dec(), domain.ErrMaxSizeExceeded)
	}

	// Capacity is tracked in quote or base units depending on the market.
	decrement := payout
	if work.market.CapacityInQuote {
		decrement = p.Amount
	}
	if work.market.Capacity.Lt(decrement) {
		return domain.DepositResult{}, fmt.Errorf("depository: market %d: %w", p.MarketID, domain.ErrInsufficientCapacity)
	}
	work.market.Capacity.Sub(work.market.Capacity, decrement)

	matured := work.terms.Vesting
	if work.terms.FixedTerm {
		matured = now + work.terms.Vesting
	}

	work.market.Purchased.Add(work.market.Purchased, p.Amount)
	work.market.Sold.Add(work.market.Sold, payout)
	work.market.TotalDebt.Add(work.market.TotalDebt, payout)

	// Exceeding max debt is the circuit breaker: the market concludes and
	// this cycle skips tuning. It is a state transition, not an error.
	circuitBroken := work.market.TotalDebt.Gt(work.terms.MaxDebt)
	if circuitBroken {
		work.market.Capacity.Clear()
	} else if err := d.tune(p.MarketID, work, now, price, baseSupply); err != nil {
		return domain.DepositResult{}, err
	}

	fee, feeRecipient := d.feeFor(payout, p.FeeRecipient)

	quote, err := d.tokens.Resolve(work.market.QuoteToken)
	if err != nil {
		return domain.DepositResult{}, fmt.Errorf("depository: deposit: %w", err)
	}
	if err := quote.TransferFrom(ctx, buyer, d.treasury, p.Amount); err != nil {
		return domain.DepositResult{}, fmt.Errorf("depository: deposit transfer: %w", err)
	}

	// Commit.
	*rec = *work
	index := d.appendNote(p.PayoutRecipient, domain.Note{
		Payout:   payout.Clone(),
		Created:  now,
		Matured:  matured,
		MarketID: p.MarketID,
	})
	result := domain.DepositResult{
		Payout:        payout,
		Matured:       matured,
		NoteIndex:     index,
		CircuitBroken: circuitBroken,
	}
	if fee != nil {
		result.Fee = fee
		result.FeeRecipient = feeRecipient
		idx := d.appendNote(feeRecipient, domain.Note{
			Payout:   fee.Clone(),
			Created:  now,
			Matured:  matured,
			MarketID: p.MarketID,
		})
		result.FeeNoteIndex = &idx
	}

	if circuitBroken {
		d.logger.Warn("circuit breaker tripped",
			slog.Uint64("market_id", p.MarketID),
			slog.String("total_debt", rec.market.TotalDebt.Dec()),
			slog.String("max_debt", rec.terms.MaxDebt.Dec()),
		)
	}
	d.logger.Info("deposit",
		slog.Uint64("market_id", p.MarketID),
		slog.String("buyer", buyer.Hex()),
		slog.String("amount", p.Amount.Dec()),
		slog.String("payout", payout.Dec()),
		slog.String("price", price.Dec()),
	)
	return result, nil
}

// feeFor computes the protocol fee note amount and its recipient. A zero
// recipient in the request falls back to the configured recipient; when
// both are zero, or the fee rounds to zero, no fee note is issued.
func (d *Depository) feeFor(payout *uint256.Int, requested common.Address) (*uint256.Int, common.Address) {
	if d.feeBps == 0 {
		return nil, common.Address{}
	}
	to := requested
	if to == (common.Address{}) {
		to = d.feeRecipient
	}
	if to == (common.Address{}) {
		return nil, common.Address{}
	}
	fee, err := fixedpoint.MulDiv(payout, uint256.NewInt(d.feeBps), uint256.NewInt(feeDenominator))
	if err != nil || fee.IsZero() {
		return nil, common.Address{}
	}
	return fee, to
}
