package depository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Redeem pays out every matured, unredeemed note among the given indexes.
// Indexes that are immature, already redeemed, invalidated, or out of range
// are silently skipped, so callers can batch freely. The matured payouts
// are settled with a single base-token transfer; notes are marked redeemed
// only after that transfer succeeds.
func (d *Depository) Redeem(ctx context.Context, user common.Address, indexes []uint64) (*uint256.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.redeemLocked(ctx, user, indexes)
}

// RedeemAll redeems every currently matured note the user holds.
func (d *Depository) RedeemAll(ctx context.Context, user common.Address) (*uint256.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.redeemLocked(ctx, user, d.indexesLocked(user))
}

func (d *Depository) redeemLocked(ctx context.Context, user common.Address, indexes []uint64) (*uint256.Int, error) {
	now := d.now()
	ledger := d.notes[user]

	total := uint256.NewInt(0)
	var due []uint64
	// Callers batch freely, so the same index may appear more than once;
	// each note settles at most once per call.
	seen := make(map[uint64]struct{}, len(indexes))
	for _, idx := range indexes {
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		if idx >= uint64(len(ledger)) {
			continue
		}
		n := ledger[idx]
		if n.Redeemed != 0 || n.Matured > now || n.Payout.IsZero() {
			continue
		}
		total.Add(total, n.Payout)
		due = append(due, idx)
	}
	if len(due) == 0 {
		return total, nil
	}

	if err := d.base.Transfer(ctx, user, total); err != nil {
		return nil, fmt.Errorf("depository: redeem transfer: %w", err)
	}
	for _, idx := range due {
		ledger[idx].Redeemed = now
	}

	d.logger.Info("redeemed notes",
		slog.String("user", user.Hex()),
		slog.Int("count", len(due)),
		slog.String("payout", total.Dec()),
	)
	return total, nil
}
