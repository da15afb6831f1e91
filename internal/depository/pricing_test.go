package depository

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebtDecaysLinearly(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	decay, err := f.depo.DebtDecay(id)
	require.NoError(t, err)
	assert.True(t, decay.IsZero(), "no decay at creation time")

	// A quarter of the market length elapses: a quarter of the debt decays.
	f.clock.Advance(6 * time.Hour)

	decay, err = f.depo.DebtDecay(id)
	require.NoError(t, err)
	assert.Equal(t, u("2500000000000"), decay)

	debt, err := f.depo.CurrentDebt(id)
	require.NoError(t, err)
	assert.Equal(t, u("7500000000000"), debt)

	price, err := f.depo.MarketPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, u("300000000000"), price, "price falls proportionally with debt")
}

func TestDebtDecayClampedToOutstandingDebt(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	// Well past the full market length.
	f.clock.Advance(2 * day * time.Second)

	debt, err := f.depo.CurrentDebt(id)
	require.NoError(t, err)
	assert.True(t, debt.IsZero())

	price, err := f.depo.MarketPrice(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, price.IsZero())
}

func TestDepositCommitsDecay(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	f.clock.Advance(6 * time.Hour)

	_, err := f.deposit(t, id, u("1000000000000000000000"), nil)
	require.NoError(t, err)

	decay, err := f.depo.DebtDecay(id)
	require.NoError(t, err)
	assert.True(t, decay.IsZero(), "lastDecay advanced to the deposit time")

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(f.clock.Now().Unix()), snap.Metadata.LastDecay)
}

func TestPayoutForMatchesDeposit(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	f.clock.Advance(3 * time.Hour)

	amount := u("2000000000000000000000")
	quoted, err := f.depo.PayoutFor(context.Background(), id, amount)
	require.NoError(t, err)

	res, err := f.deposit(t, id, amount, nil)
	require.NoError(t, err)
	assert.Equal(t, quoted, res.Payout)
}

func TestTuneIsNoOpInsideInterval(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)
	created := uint64(f.clock.Now().Unix())

	f.clock.Advance(10 * time.Minute)

	_, err := f.deposit(t, id, u("1000000000000000000000"), nil)
	require.NoError(t, err)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, created, snap.Metadata.LastTune)
	assert.Equal(t, u("1666666666666"), snap.Market.MaxPayout)
	assert.False(t, snap.Adjustment.Active)
}

func TestTuneSchedulesDownwardAdjustment(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	// Two hours of pure decay, then a large purchase. The decayed price is
	// below the capacity/time target, so the control variable must come
	// down, and it must come down smoothly rather than instantly.
	f.clock.Advance(2 * time.Hour)
	now := uint64(f.clock.Now().Unix())

	res, err := f.deposit(t, id, u("500000000000000000000000"), nil)
	require.NoError(t, err)
	assert.Equal(t, u("1363636363638"), res.Payout)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, now, snap.Metadata.LastTune)

	// capacity * depositInterval / timeRemaining with 22h left.
	assert.Equal(t, u("1570247933884"), snap.Market.MaxPayout)

	require.True(t, snap.Adjustment.Active)
	assert.Equal(t, now, snap.Adjustment.LastAdjustment)
	assert.Equal(t, uint64(3600), snap.Adjustment.TimeToAdjusted)
	assert.Equal(t, u("40000000000000"), snap.Terms.ControlVariable,
		"a downward move never changes the control variable in place")

	// change = cv - price * supply * timeRemaining / (capacity * length)
	price := u("366666666666")
	targetDebt := new(uint256.Int).Mul(snap.Market.Capacity, uint256.NewInt(day))
	targetDebt.Div(targetDebt, uint256.NewInt(22*3600))
	want := new(uint256.Int).Mul(price, u("1000000000000000"))
	want.Div(want, targetDebt)
	want.Sub(u("40000000000000"), want)
	assert.Equal(t, want, snap.Adjustment.Change)
}

func TestAdjustmentAppliesLinearly(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	f.clock.Advance(2 * time.Hour)
	_, err := f.deposit(t, id, u("500000000000000000000000"), nil)
	require.NoError(t, err)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	require.True(t, snap.Adjustment.Active)
	cv := snap.Terms.ControlVariable
	change := snap.Adjustment.Change

	// Halfway through the smoothing window half the change applies.
	f.clock.Advance(30 * time.Minute)
	got, err := f.depo.CurrentControlVariable(id)
	require.NoError(t, err)
	half := new(uint256.Int).Div(change, uint256.NewInt(2))
	assert.Equal(t, new(uint256.Int).Sub(cv, half), got)

	// At the end of the window the full change applies.
	f.clock.Advance(30 * time.Minute)
	got, err = f.depo.CurrentControlVariable(id)
	require.NoError(t, err)
	full := new(uint256.Int).Sub(cv, change)
	assert.Equal(t, full, got)

	// And never more than the full change.
	f.clock.Advance(5 * time.Hour)
	got, err = f.depo.CurrentControlVariable(id)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestPartialAdjustmentCommit(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	f.clock.Advance(2 * time.Hour)
	_, err := f.deposit(t, id, u("500000000000000000000000"), nil)
	require.NoError(t, err)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	cv := snap.Terms.ControlVariable
	change := snap.Adjustment.Change

	// A deposit mid-window commits the due half and keeps the remainder
	// pending over the rest of the window.
	f.clock.Advance(30 * time.Minute)
	_, err = f.deposit(t, id, u("1000000000000000000000"), nil)
	require.NoError(t, err)

	snap, err = f.depo.MarketInfo(id)
	require.NoError(t, err)
	half := new(uint256.Int).Div(change, uint256.NewInt(2))
	assert.Equal(t, new(uint256.Int).Sub(cv, half), snap.Terms.ControlVariable)
	require.True(t, snap.Adjustment.Active)
	assert.Equal(t, new(uint256.Int).Sub(change, half), snap.Adjustment.Change)
	assert.Equal(t, uint64(1800), snap.Adjustment.TimeToAdjusted)
	assert.Equal(t, uint64(f.clock.Now().Unix()), snap.Adjustment.LastAdjustment)
}
