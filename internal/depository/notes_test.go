package depository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticefi/bonddepot/internal/domain"
)

func TestRedeemBeforeAndAfterMaturity(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	res, err := f.deposit(t, id, u("10000000000000000000000"), nil)
	require.NoError(t, err)

	paid, err := f.depo.RedeemAll(context.Background(), buyerAddr)
	require.NoError(t, err)
	assert.True(t, paid.IsZero(), "no payout before maturity")
	assert.True(t, f.base.BalanceOf(buyerAddr).IsZero())

	f.clock.Advance(100 * time.Second)

	paid, err = f.depo.RedeemAll(context.Background(), buyerAddr)
	require.NoError(t, err)
	assert.Equal(t, res.Payout, paid)
	assert.Equal(t, res.Payout, f.base.BalanceOf(buyerAddr))
	assert.Empty(t, f.depo.IndexesFor(buyerAddr))

	// Redeeming again pays nothing.
	paid, err = f.depo.RedeemAll(context.Background(), buyerAddr)
	require.NoError(t, err)
	assert.True(t, paid.IsZero())
	assert.Equal(t, res.Payout, f.base.BalanceOf(buyerAddr))
}

func TestRedeemSelectedIndexes(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	first, err := f.deposit(t, id, u("1000000000000000000000"), nil)
	require.NoError(t, err)
	second, err := f.deposit(t, id, u("1000000000000000000000"), nil)
	require.NoError(t, err)

	f.clock.Advance(100 * time.Second)

	paid, err := f.depo.Redeem(context.Background(), buyerAddr, []uint64{first.NoteIndex})
	require.NoError(t, err)
	assert.Equal(t, first.Payout, paid)

	pending, matured, err := f.depo.PendingFor(buyerAddr, second.NoteIndex)
	require.NoError(t, err)
	assert.Equal(t, second.Payout, pending)
	assert.True(t, matured)
	assert.Equal(t, []uint64{second.NoteIndex}, f.depo.IndexesFor(buyerAddr))
}

func TestRedeemSkipsUnknownIndexes(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	_, err := f.deposit(t, id, u("1000000000000000000000"), nil)
	require.NoError(t, err)

	paid, err := f.depo.Redeem(context.Background(), buyerAddr, []uint64{7, 42})
	require.NoError(t, err)
	assert.True(t, paid.IsZero())
}

func TestRedeemRepeatedIndexPaysOnce(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	res, err := f.deposit(t, id, u("10000000000000000000000"), nil)
	require.NoError(t, err)

	f.clock.Advance(100 * time.Second)

	paid, err := f.depo.Redeem(context.Background(), buyerAddr,
		[]uint64{res.NoteIndex, res.NoteIndex, res.NoteIndex})
	require.NoError(t, err)
	assert.Equal(t, res.Payout, paid, "a note settles at most once per call")
	assert.Equal(t, res.Payout, f.base.BalanceOf(buyerAddr))
	assert.Empty(t, f.depo.IndexesFor(buyerAddr))
}

func TestNoteTransferPushPull(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	res, err := f.deposit(t, id, u("10000000000000000000000"), nil)
	require.NoError(t, err)

	require.NoError(t, f.depo.PushNote(buyerAddr, res.NoteIndex, otherAddr))
	newIndex, err := f.depo.PullNote(otherAddr, buyerAddr, res.NoteIndex)
	require.NoError(t, err)

	// The source slot is invalidated, never reused.
	assert.Empty(t, f.depo.IndexesFor(buyerAddr))
	_, _, err = f.depo.PendingFor(buyerAddr, res.NoteIndex)
	assert.ErrorIs(t, err, domain.ErrNoteNotFound)

	pending, matured, err := f.depo.PendingFor(otherAddr, newIndex)
	require.NoError(t, err)
	assert.Equal(t, res.Payout, pending)
	assert.False(t, matured)

	f.clock.Advance(100 * time.Second)

	paid, err := f.depo.RedeemAll(context.Background(), otherAddr)
	require.NoError(t, err)
	assert.Equal(t, res.Payout, paid)
	assert.Equal(t, res.Payout, f.base.BalanceOf(otherAddr))
	assert.True(t, f.base.BalanceOf(buyerAddr).IsZero(), "seller keeps nothing")
}

func TestPullNoteRequiresExactGrant(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	res, err := f.deposit(t, id, u("10000000000000000000000"), nil)
	require.NoError(t, err)

	// No grant at all.
	_, err = f.depo.PullNote(otherAddr, buyerAddr, res.NoteIndex)
	assert.ErrorIs(t, err, domain.ErrTransferNotApproved)

	// Granted to someone else.
	require.NoError(t, f.depo.PushNote(buyerAddr, res.NoteIndex, otherAddr))
	_, err = f.depo.PullNote(adminAddr, buyerAddr, res.NoteIndex)
	assert.ErrorIs(t, err, domain.ErrTransferNotApproved)

	// The grant is consumed by the first pull.
	_, err = f.depo.PullNote(otherAddr, buyerAddr, res.NoteIndex)
	require.NoError(t, err)
	_, err = f.depo.PullNote(otherAddr, buyerAddr, res.NoteIndex)
	assert.ErrorIs(t, err, domain.ErrTransferNotApproved)
}

func TestPushNoteRejectsRedeemed(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	res, err := f.deposit(t, id, u("10000000000000000000000"), nil)
	require.NoError(t, err)

	f.clock.Advance(100 * time.Second)
	_, err = f.depo.RedeemAll(context.Background(), buyerAddr)
	require.NoError(t, err)

	err = f.depo.PushNote(buyerAddr, res.NoteIndex, otherAddr)
	assert.ErrorIs(t, err, domain.ErrNoteAlreadyRedeemed)
}

func TestPushNoteUnknownIndex(t *testing.T) {
	f := newFixture(t, 0)

	err := f.depo.PushNote(buyerAddr, 3, otherAddr)
	assert.ErrorIs(t, err, domain.ErrNoteNotFound)
}

func TestNotesForListsEverySlot(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	res, err := f.deposit(t, id, u("10000000000000000000000"), nil)
	require.NoError(t, err)
	require.NoError(t, f.depo.PushNote(buyerAddr, res.NoteIndex, otherAddr))
	_, err = f.depo.PullNote(otherAddr, buyerAddr, res.NoteIndex)
	require.NoError(t, err)

	records := f.depo.NotesFor(buyerAddr)
	require.Len(t, records, 1, "invalidated slots remain visible")
	assert.True(t, records[0].Note.Payout.IsZero())
	assert.Equal(t, buyerAddr, records[0].Owner)
}
