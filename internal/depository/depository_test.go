package depository

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticefi/bonddepot/internal/domain"
	"github.com/solsticefi/bonddepot/internal/token"
)

const (
	day           = 86400
	baseDecimals  = 9
	quoteDecimals = 18
)

var (
	baseAddr     = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	quoteAddr    = common.HexToAddress("0x0000000000000000000000000000000000000901")
	poolAddr     = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	treasuryAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	feeAddr      = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	buyerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	otherAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func u(dec string) *uint256.Int { return uint256.MustFromDecimal(dec) }

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	depo  *Depository
	clock *testClock
	base  *token.Token
	quote *token.Token
}

// newFixture builds a depository over an in-memory base token with a supply
// of one million (9 decimals) and a quote token with 18 decimals. The buyer
// starts with one million quote tokens.
func newFixture(t *testing.T, feeBps uint64) *fixture {
	t.Helper()

	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	registry := token.NewRegistry()
	base := token.New(baseAddr, "BASE", baseDecimals, u("1000000000000000"), poolAddr)
	quote := token.New(quoteAddr, "QUOTE", quoteDecimals, uint256.NewInt(0), treasuryAddr)
	quote.Mint(buyerAddr, u("1000000000000000000000000"))
	registry.Register(base)
	registry.Register(quote)

	depo, err := New(context.Background(), Config{
		BaseToken:    base,
		Tokens:       registry,
		Treasury:     treasuryAddr,
		FeeRecipient: feeAddr,
		FeeBps:       feeBps,
		Clock:        clock,
		Admin:        domain.SingleAdministrator(adminAddr),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return &fixture{depo: depo, clock: clock, base: base, quote: quote}
}

// marketParams returns the reference market: capacity 10000 base tokens,
// price 400 quote per base, one-day run, 4h deposit interval, 1h tune
// interval, 100s fixed-term vesting.
func (f *fixture) marketParams(debtBufferBps uint64) domain.MarketParams {
	return domain.MarketParams{
		QuoteToken:      quoteAddr,
		Capacity:        u("10000000000000"),
		InitialPrice:    u("400000000000"),
		DebtBufferBps:   debtBufferBps,
		Vesting:         100,
		Conclusion:      uint64(f.clock.Now().Unix()) + day,
		DepositInterval: 4 * 3600,
		TuneInterval:    3600,
		FixedTerm:       true,
	}
}

func (f *fixture) createMarket(t *testing.T, debtBufferBps uint64) uint64 {
	t.Helper()
	id, err := f.depo.CreateMarket(context.Background(), adminAddr, f.marketParams(debtBufferBps))
	require.NoError(t, err)
	return id
}

func (f *fixture) deposit(t *testing.T, id uint64, amount, maxPrice *uint256.Int) (domain.DepositResult, error) {
	t.Helper()
	return f.depo.Deposit(context.Background(), buyerAddr, domain.DepositParams{
		MarketID:        id,
		Amount:          amount,
		MaxPrice:        maxPrice,
		PayoutRecipient: buyerAddr,
	})
}

func TestCreateMarketComputesInitialTerms(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 0)
	assert.Equal(t, uint64(0), id)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)

	// Target debt equals capacity (already in base terms).
	assert.Equal(t, u("10000000000000"), snap.Market.TotalDebt)
	// maxPayout = capacity * 4h / 24h.
	assert.Equal(t, u("1666666666666"), snap.Market.MaxPayout)
	// Zero buffer: maxDebt == targetDebt.
	assert.Equal(t, u("10000000000000"), snap.Terms.MaxDebt)
	// controlVariable = price * supply / targetDebt = 400e9 * 1e15 / 1e13.
	assert.Equal(t, u("40000000000000"), snap.Terms.ControlVariable)
	assert.Equal(t, domain.MarketStatusLive, snap.Status)
}

func TestCreateMarketRequiresAdministrator(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.depo.CreateMarket(context.Background(), buyerAddr, f.marketParams(0))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCreateMarketRejectsBadParams(t *testing.T) {
	f := newFixture(t, 0)

	p := f.marketParams(0)
	p.Conclusion = uint64(f.clock.Now().Unix())
	_, err := f.depo.CreateMarket(context.Background(), adminAddr, p)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	p = f.marketParams(0)
	p.Capacity = uint256.NewInt(0)
	_, err = f.depo.CreateMarket(context.Background(), adminAddr, p)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	p = f.marketParams(0)
	p.QuoteToken = common.Address{}
	_, err = f.depo.CreateMarket(context.Background(), adminAddr, p)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestFirstDepositAtInitialPrice(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	price, err := f.depo.MarketPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, u("400000000000"), price, "zero elapsed time: price equals initial price")

	amount := u("10000000000000000000000") // 10000 quote tokens
	res, err := f.deposit(t, id, amount, price)
	require.NoError(t, err)
	assert.Equal(t, u("25000000000"), res.Payout, "10000 quote at price 400 buys 25 base")
	assert.Equal(t, uint64(f.clock.Now().Unix())+100, res.Matured)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, amount, snap.Market.Purchased)
	assert.Equal(t, u("25000000000"), snap.Market.Sold)
	// Capacity is in base units and shrinks by the payout.
	assert.Equal(t, u("9975000000000"), snap.Market.Capacity)

	assert.Equal(t, amount, f.quote.BalanceOf(treasuryAddr), "quote moved to treasury")
}

func TestDepositSlippageExceeded(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	_, err := f.deposit(t, id, u("1000000000000000000"), u("399999999999"))
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
}

func TestDepositMaxSizeExceededLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	before, err := f.depo.MarketInfo(id)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)

	// maxPayout is ~1666 base; ask for ~2000.
	_, err = f.deposit(t, id, u("800000000000000000000000"), nil)
	assert.ErrorIs(t, err, domain.ErrMaxSizeExceeded)

	after, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, before.Market.Capacity, after.Market.Capacity)
	assert.Equal(t, before.Market.TotalDebt, after.Market.TotalDebt)
	assert.Equal(t, before.Market.Purchased, after.Market.Purchased)
	assert.Equal(t, before.Market.Sold, after.Market.Sold)
	assert.Equal(t, before.Metadata.LastDecay, after.Metadata.LastDecay,
		"a rejected deposit must not commit the decay")
}

func TestDepositAfterConclusionFails(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	f.clock.Advance(day*time.Second + time.Second)
	_, err := f.deposit(t, id, u("1000000000000000000"), nil)
	assert.ErrorIs(t, err, domain.ErrMarketConcluded)
}

func TestDepositRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	before, err := f.depo.MarketInfo(id)
	require.NoError(t, err)

	// other has no quote balance, so the external transfer fails.
	_, err = f.depo.Deposit(context.Background(), otherAddr, domain.DepositParams{
		MarketID:        id,
		Amount:          u("1000000000000000000"),
		PayoutRecipient: otherAddr,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	after, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, before.Market.TotalDebt, after.Market.TotalDebt)
	assert.Empty(t, f.depo.NotesFor(otherAddr), "no note without a transfer")
}

func TestCircuitBreakerConcludesMarket(t *testing.T) {
	f := newFixture(t, 0)
	// Zero debt buffer: the first deposit pushes totalDebt past maxDebt.
	id := f.createMarket(t, 0)

	res, err := f.deposit(t, id, u("10000000000000000000000"), nil)
	require.NoError(t, err)
	assert.True(t, res.CircuitBroken)

	live, err := f.depo.IsLive(id)
	require.NoError(t, err)
	assert.False(t, live)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.True(t, snap.Market.Capacity.IsZero(), "circuit breaker zeroes capacity")
	assert.Equal(t, domain.MarketStatusConcluded, snap.Status)

	_, err = f.deposit(t, id, u("1000000000000000000"), nil)
	assert.ErrorIs(t, err, domain.ErrMarketConcluded,
		"deposits stay rejected despite time remaining before conclusion")
}

func TestCloseMarketIdempotentAndIrreversible(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createMarket(t, 100_000)

	require.NoError(t, f.depo.CloseMarket(adminAddr, id))
	require.NoError(t, f.depo.CloseMarket(adminAddr, id), "close is idempotent")

	live, err := f.depo.IsLive(id)
	require.NoError(t, err)
	assert.False(t, live)

	_, err = f.deposit(t, id, u("1000000000000000000"), nil)
	assert.ErrorIs(t, err, domain.ErrMarketConcluded)

	assert.Error(t, f.depo.CloseMarket(buyerAddr, id))
}

func TestLiveMarketsFiltering(t *testing.T) {
	f := newFixture(t, 0)
	a := f.createMarket(t, 100_000)
	b := f.createMarket(t, 100_000)

	assert.Equal(t, []uint64{a, b}, f.depo.LiveMarkets())
	assert.Equal(t, []uint64{a, b}, f.depo.LiveMarketsFor(quoteAddr))
	assert.Empty(t, f.depo.LiveMarketsFor(baseAddr))

	require.NoError(t, f.depo.CloseMarket(adminAddr, a))
	assert.Equal(t, []uint64{b}, f.depo.LiveMarkets())
	assert.Equal(t, []uint64{b}, f.depo.LiveMarketsFor(quoteAddr))
}

// quoteMarketParams mirrors marketParams with the capacity expressed in
// quote units: 4000000 quote tokens, worth 10000 base at the initial price.
func (f *fixture) quoteMarketParams(debtBufferBps uint64) domain.MarketParams {
	p := f.marketParams(debtBufferBps)
	p.Capacity = u("4000000000000000000000000")
	p.CapacityInQuote = true
	return p
}

func TestCreateMarketQuoteCapacityTerms(t *testing.T) {
	f := newFixture(t, 0)
	id, err := f.depo.CreateMarket(context.Background(), adminAddr, f.quoteMarketParams(0))
	require.NoError(t, err)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.True(t, snap.Market.CapacityInQuote)
	assert.Equal(t, u("4000000000000000000000000"), snap.Market.Capacity, "capacity stays quote-denominated")
	// Target debt converts the capacity to base terms at the initial price:
	// 4000000 quote at 400 quote per base is 10000 base.
	assert.Equal(t, u("10000000000000"), snap.Market.TotalDebt)
	assert.Equal(t, u("1666666666666"), snap.Market.MaxPayout)
	assert.Equal(t, u("40000000000000"), snap.Terms.ControlVariable)
}

func TestQuoteCapacityDepositDecrementsQuoteUnits(t *testing.T) {
	f := newFixture(t, 0)
	id, err := f.depo.CreateMarket(context.Background(), adminAddr, f.quoteMarketParams(100_000))
	require.NoError(t, err)

	price, err := f.depo.MarketPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, u("400000000000"), price)

	amount := u("10000000000000000000000")
	res, err := f.deposit(t, id, amount, price)
	require.NoError(t, err)
	assert.Equal(t, u("25000000000"), res.Payout)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	// Capacity shrinks by the quote amount spent, not by the base payout.
	assert.Equal(t, u("3990000000000000000000000"), snap.Market.Capacity)
	assert.Equal(t, amount, snap.Market.Purchased)
	assert.Equal(t, u("25000000000"), snap.Market.Sold)
}

func TestQuoteCapacityDepositOverCapacityRejected(t *testing.T) {
	f := newFixture(t, 0)
	// 12000 quote of capacity with a full-length deposit interval, so the
	// capacity check binds before the max payout check does.
	p := f.marketParams(100_000)
	p.Capacity = u("12000000000000000000000")
	p.CapacityInQuote = true
	p.DepositInterval = day
	id, err := f.depo.CreateMarket(context.Background(), adminAddr, p)
	require.NoError(t, err)

	_, err = f.deposit(t, id, u("10000000000000000000000"), nil)
	require.NoError(t, err)

	before, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, u("2000000000000000000000"), before.Market.Capacity)

	_, err = f.deposit(t, id, u("3000000000000000000000"), nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)

	after, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, before.Market.Capacity, after.Market.Capacity)
	assert.Equal(t, before.Market.TotalDebt, after.Market.TotalDebt)
}

func TestQuoteCapacityTuneConvertsAtCurrentPrice(t *testing.T) {
	f := newFixture(t, 0)
	id, err := f.depo.CreateMarket(context.Background(), adminAddr, f.quoteMarketParams(100_000))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	now := uint64(f.clock.Now().Unix())

	res, err := f.deposit(t, id, u("500000000000000000000000"), nil)
	require.NoError(t, err)
	assert.Equal(t, u("1363636363638"), res.Payout)

	snap, err := f.depo.MarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, now, snap.Metadata.LastTune)

	// The remaining quote capacity converts to base terms at the decayed
	// price, not the initial one, so the tune targets more base than a
	// creation-time conversion would.
	price := u("366666666666")
	capBase := new(uint256.Int).Mul(snap.Market.Capacity, u("1000000000000000000"))
	capBase.Div(capBase, price)
	capBase.Div(capBase, u("1000000000000000000"))

	maxPayout := new(uint256.Int).Mul(capBase, uint256.NewInt(4*3600))
	maxPayout.Div(maxPayout, uint256.NewInt(22*3600))
	assert.Equal(t, maxPayout, snap.Market.MaxPayout)

	targetDebt := new(uint256.Int).Mul(capBase, uint256.NewInt(day))
	targetDebt.Div(targetDebt, uint256.NewInt(22*3600))
	newCV := new(uint256.Int).Mul(price, u("1000000000000000"))
	newCV.Div(newCV, targetDebt)

	require.True(t, snap.Adjustment.Active)
	assert.Equal(t, u("40000000000000"), snap.Terms.ControlVariable)
	assert.Equal(t, new(uint256.Int).Sub(u("40000000000000"), newCV), snap.Adjustment.Change)
}

func TestDepositFeeNote(t *testing.T) {
	f := newFixture(t, 500) // 5%
	id := f.createMarket(t, 100_000)

	res, err := f.deposit(t, id, u("10000000000000000000000"), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Fee)
	assert.Equal(t, u("1250000000"), res.Fee, "5% of 25 base")
	assert.Equal(t, feeAddr, res.FeeRecipient)

	feeNotes := f.depo.NotesFor(feeAddr)
	require.Len(t, feeNotes, 1)
	assert.Equal(t, res.Fee, feeNotes[0].Note.Payout)
	assert.Equal(t, res.Matured, feeNotes[0].Note.Matured)
}
