package depository

import (
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/solsticefi/bonddepot/internal/fixedpoint"
)

// tune recalibrates a market's max payout and control variable toward its
// capacity/time target. It runs on the deposit path once the tune interval
// has elapsed and is a no-op otherwise.
//
// Upward control-variable moves apply immediately, so price can only jump
// up. Downward moves are never instant: they are stored as an Adjustment
// smoothed linearly over the next tune interval, replacing any unfinished
// prior adjustment. lastTune advances on every due invocation regardless of
// branch.
//
// The remaining capacity is converted to base-token terms at the current
// post-decay price, not the market's initial price. This mirrors the
// asymmetry between market creation and retuning in the original curve.
func (d *Depository) tune(id uint64, rec *marketRecord, now uint64, priceNow, baseSupply *uint256.Int) error {
	if now < rec.meta.LastTune+rec.meta.TuneInterval {
		return nil
	}

	rec.meta.LastTune = now

	capacityInBase := rec.market.Capacity.Clone()
	if rec.market.CapacityInQuote {
		converted, err := d.quoteToBase(rec.market.Capacity, priceNow, rec.meta.QuoteDecimals)
		if err != nil {
			return fmt.Errorf("depository: tune capacity: %w", err)
		}
		capacityInBase = converted
	}
	if capacityInBase.IsZero() {
		// Nothing left to sell; the market is inert and retuning against a
		// zero target would divide by zero.
		return nil
	}

	timeRemaining := rec.terms.Conclusion - now

	maxPayout, err := fixedpoint.MulDiv(capacityInBase, uint256.NewInt(rec.meta.DepositInterval), uint256.NewInt(timeRemaining))
	if err != nil {
		return fmt.Errorf("depository: tune max payout: %w", err)
	}
	rec.market.MaxPayout = maxPayout

	targetDebt, err := fixedpoint.MulDiv(capacityInBase, uint256.NewInt(rec.meta.Length), uint256.NewInt(timeRemaining))
	if err != nil {
		return fmt.Errorf("depository: tune target debt: %w", err)
	}
	newControlVariable, err := fixedpoint.MulDiv(priceNow, baseSupply, targetDebt)
	if err != nil {
		return fmt.Errorf("depository: tune control variable: %w", err)
	}

	current := rec.terms.ControlVariable
	if !newControlVariable.Lt(current) {
		rec.terms.ControlVariable = newControlVariable
		// The tune just set the exact target; a leftover decay would
		// undershoot it.
		rec.adjust.Active = false
		d.logger.Debug("tuned control variable up",
			slog.Uint64("market_id", id),
			slog.String("control_variable", newControlVariable.Dec()),
		)
		return nil
	}

	change := new(uint256.Int).Sub(current, newControlVariable)
	rec.adjust.Change = change
	rec.adjust.LastAdjustment = now
	rec.adjust.TimeToAdjusted = rec.meta.TuneInterval
	rec.adjust.Active = true

	d.logger.Debug("scheduled control variable reduction",
		slog.Uint64("market_id", id),
		slog.String("change", change.Dec()),
		slog.Uint64("over_seconds", rec.meta.TuneInterval),
	)
	return nil
}
