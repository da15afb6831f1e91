package depository

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/solsticefi/bonddepot/internal/domain"
	"github.com/solsticefi/bonddepot/internal/fixedpoint"
)

// The pricing queries in this file are pure reads: they compute the decayed
// view of a market at the current instant without writing it back. The
// deposit path performs the same computation through decayAndCommit, which
// persists the result.

// DebtDecay returns the amount of total debt that has decayed since the
// last commit: totalDebt * secondsSinceLastDecay / length, clamped to the
// outstanding debt.
func (d *Depository) DebtDecay(id uint64) (*uint256.Int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, err := d.record(id)
	if err != nil {
		return nil, err
	}
	return debtDecayAt(rec, d.now())
}

// CurrentDebt returns the decayed total debt of a market.
func (d *Depository) CurrentDebt(id uint64) (*uint256.Int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, err := d.record(id)
	if err != nil {
		return nil, err
	}
	return currentDebtAt(rec, d.now())
}

// DebtRatio returns current debt normalized by base-token supply, scaled by
// the market's quote decimals.
func (d *Depository) DebtRatio(ctx context.Context, id uint64) (*uint256.Int, error) {
	baseSupply, err := d.base.TotalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("depository: base supply: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, err := d.record(id)
	if err != nil {
		return nil, err
	}
	return debtRatioAt(rec, d.now(), baseSupply)
}

// CurrentControlVariable returns the control variable net of any partially
// applied downward adjustment.
func (d *Depository) CurrentControlVariable(id uint64) (*uint256.Int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, err := d.record(id)
	if err != nil {
		return nil, err
	}
	return controlVariableAt(rec, d.now()), nil
}

// MarketPrice returns the current deposit price of a market in quote-token
// terms per base token.
func (d *Depository) MarketPrice(ctx context.Context, id uint64) (*uint256.Int, error) {
	baseSupply, err := d.base.TotalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("depository: base supply: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, err := d.record(id)
	if err != nil {
		return nil, err
	}
	return marketPriceAt(rec, d.now(), baseSupply)
}

// PayoutFor quotes the base-token payout a deposit of amount quote tokens
// would receive at the current price, before max-payout and capacity checks.
func (d *Depository) PayoutFor(ctx context.Context, id uint64, amount *uint256.Int) (*uint256.Int, error) {
	baseSupply, err := d.base.TotalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("depository: base supply: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, err := d.record(id)
	if err != nil {
		return nil, err
	}
	price, err := marketPriceAt(rec, d.now(), baseSupply)
	if err != nil {
		return nil, err
	}
	return payoutFor(amount, price, d.baseDecimals, rec.meta.QuoteDecimals)
}

// ---------------------------------------------------------------------------
// Record-level computations. Callers hold the depository lock.
// ---------------------------------------------------------------------------

// debtDecayAt computes the linear decay accrued since lastDecay.
func debtDecayAt(rec *marketRecord, now uint64) (*uint256.Int, error) {
	elapsed := now - rec.meta.LastDecay
	decay, err := fixedpoint.MulDiv(rec.market.TotalDebt, uint256.NewInt(elapsed), uint256.NewInt(rec.meta.Length))
	if err != nil {
		return nil, fmt.Errorf("depository: debt decay: %w", err)
	}
	if decay.Gt(rec.market.TotalDebt) {
		decay.Set(rec.market.TotalDebt)
	}
	return decay, nil
}

func currentDebtAt(rec *marketRecord, now uint64) (*uint256.Int, error) {
	decay, err := debtDecayAt(rec, now)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Sub(rec.market.TotalDebt, decay), nil
}

func debtRatioAt(rec *marketRecord, now uint64, baseSupply *uint256.Int) (*uint256.Int, error) {
	debt, err := currentDebtAt(rec, now)
	if err != nil {
		return nil, err
	}
	ratio, err := fixedpoint.MulDiv(debt, fixedpoint.Pow10(rec.meta.QuoteDecimals), baseSupply)
	if err != nil {
		return nil, fmt.Errorf("depository: debt ratio: %w", err)
	}
	return ratio, nil
}

// controlDecayAt computes how much of an active adjustment applies at now:
// the linear portion inside the smoothing window, the full remainder once
// the window has elapsed. The returned active flag reports whether any of
// the change remains after applying.
func controlDecayAt(rec *marketRecord, now uint64) (decay *uint256.Int, elapsed uint64, active bool) {
	if !rec.adjust.Active {
		return uint256.NewInt(0), 0, false
	}
	elapsed = now - rec.adjust.LastAdjustment
	if elapsed >= rec.adjust.TimeToAdjusted {
		return rec.adjust.Change.Clone(), elapsed, false
	}
	// Truncating division keeps partial application conservative. With
	// elapsed below the window the quotient is bounded by Change, so the
	// wide multiply cannot overflow in practice.
	partial, err := fixedpoint.MulDiv(rec.adjust.Change, uint256.NewInt(elapsed), uint256.NewInt(rec.adjust.TimeToAdjusted))
	if err != nil {
		return uint256.NewInt(0), elapsed, true
	}
	return partial, elapsed, true
}

func controlVariableAt(rec *marketRecord, now uint64) *uint256.Int {
	decay, _, _ := controlDecayAt(rec, now)
	return new(uint256.Int).Sub(rec.terms.ControlVariable, decay)
}

func marketPriceAt(rec *marketRecord, now uint64, baseSupply *uint256.Int) (*uint256.Int, error) {
	ratio, err := debtRatioAt(rec, now, baseSupply)
	if err != nil {
		return nil, err
	}
	price, err := fixedpoint.MulDiv(controlVariableAt(rec, now), ratio, fixedpoint.Pow10(rec.meta.QuoteDecimals))
	if err != nil {
		return nil, fmt.Errorf("depository: market price: %w", err)
	}
	return price, nil
}

// payoutFor converts a quote amount into base-token payout at price:
// amount * 10^(2*baseDecimals) / price / 10^quoteDecimals.
func payoutFor(amount, price *uint256.Int, baseDecimals, quoteDecimals uint8) (*uint256.Int, error) {
	scaled, err := fixedpoint.MulDiv(amount, fixedpoint.Pow10(2*baseDecimals), price)
	if err != nil {
		return nil, fmt.Errorf("depository: payout: %w", err)
	}
	payout, err := fixedpoint.Div(scaled, fixedpoint.Pow10(quoteDecimals))
	if err != nil {
		return nil, fmt.Errorf("depository: payout: %w", err)
	}
	return payout, nil
}

// decayAndCommit writes the decayed debt, applies the due portion of any
// active control-variable adjustment, and advances lastDecay. Only the
// deposit path calls it, on a scratch clone that is committed after the
// external transfer succeeds.
func decayAndCommit(rec *marketRecord, now uint64) error {
	decay, err := debtDecayAt(rec, now)
	if err != nil {
		return err
	}
	rec.market.TotalDebt.Sub(rec.market.TotalDebt, decay)
	rec.meta.LastDecay = now

	if rec.adjust.Active {
		applied, elapsed, stillActive := controlDecayAt(rec, now)
		rec.terms.ControlVariable.Sub(rec.terms.ControlVariable, applied)
		if stillActive {
			rec.adjust.Change.Sub(rec.adjust.Change, applied)
			rec.adjust.TimeToAdjusted -= elapsed
			rec.adjust.LastAdjustment = now
		} else {
			rec.adjust.Active = false
		}
	}

	if rec.terms.ControlVariable.IsZero() {
		return fmt.Errorf("depository: control variable decayed to zero: %w", domain.ErrInvalidConfiguration)
	}
	return nil
}
