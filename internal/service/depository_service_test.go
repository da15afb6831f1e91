package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticefi/bonddepot/internal/depository"
	"github.com/solsticefi/bonddepot/internal/domain"
	"github.com/solsticefi/bonddepot/internal/token"
)

var (
	svcBaseAddr     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	svcQuoteAddr    = common.HexToAddress("0x1000000000000000000000000000000000000002")
	svcPoolAddr     = common.HexToAddress("0x1000000000000000000000000000000000000003")
	svcTreasuryAddr = common.HexToAddress("0x1000000000000000000000000000000000000004")
	svcAdminAddr    = common.HexToAddress("0x1000000000000000000000000000000000000005")
	svcFeeAddr      = common.HexToAddress("0x1000000000000000000000000000000000000006")
	svcBuyerAddr    = common.HexToAddress("0x1000000000000000000000000000000000000007")
)

func svcU(dec string) *uint256.Int {
	return uint256.MustFromDecimal(dec)
}

type memMarketStore struct {
	mu    sync.Mutex
	snaps map[uint64]domain.MarketSnapshot
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{snaps: make(map[uint64]domain.MarketSnapshot)}
}

func (m *memMarketStore) Upsert(_ context.Context, snap domain.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	return nil
}

func (m *memMarketStore) GetByID(_ context.Context, id uint64) (domain.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (m *memMarketStore) ListLive(context.Context, domain.ListOpts) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (m *memMarketStore) ListConcludedBefore(context.Context, time.Time) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (m *memMarketStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.snaps)), nil
}

type memNoteStore struct {
	mu   sync.Mutex
	recs map[string]domain.NoteRecord
}

func newMemNoteStore() *memNoteStore {
	return &memNoteStore{recs: make(map[string]domain.NoteRecord)}
}

func noteStoreKey(owner common.Address, index uint64) string {
	return fmt.Sprintf("%s:%d", owner.Hex(), index)
}

func (m *memNoteStore) Upsert(_ context.Context, rec domain.NoteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[noteStoreKey(rec.Owner, rec.Index)] = rec
	return nil
}

func (m *memNoteStore) Delete(_ context.Context, owner common.Address, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, noteStoreKey(owner, index))
	return nil
}

func (m *memNoteStore) ListByOwner(_ context.Context, owner common.Address) ([]domain.NoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.NoteRecord
	for _, rec := range m.recs {
		if rec.Owner == owner {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memNoteStore) ListRedeemedBefore(context.Context, time.Time) ([]domain.NoteRecord, error) {
	return nil, nil
}

func (m *memNoteStore) get(owner common.Address, index uint64) (domain.NoteRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[noteStoreKey(owner, index)]
	return rec, ok
}

type memPriceCache struct {
	mu     sync.Mutex
	prices map[uint64]string
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: make(map[uint64]string)}
}

func (m *memPriceCache) SetPrice(_ context.Context, id uint64, price string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[id] = price
	return nil
}

func (m *memPriceCache) GetPrice(_ context.Context, id uint64) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[id]
	if !ok {
		return "", time.Time{}, domain.ErrNotFound
	}
	return price, time.Time{}, nil
}

func (m *memPriceCache) Invalidate(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prices, id)
	return nil
}

type memBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (m *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, payload)
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (m *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamed = append(m.streamed, payload)
	return nil
}

func (m *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (m *memBus) eventTypes(t *testing.T) []string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.published))
	for _, raw := range m.published {
		var ev domain.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		require.NotEmpty(t, ev.ID)
		types = append(types, ev.Type)
	}
	return types
}

type svcFixture struct {
	svc     *DepositoryService
	markets *memMarketStore
	notes   *memNoteStore
	prices  *memPriceCache
	bus     *memBus
}

func newServiceFixture(t *testing.T, feeBps uint64) *svcFixture {
	t.Helper()

	registry := token.NewRegistry()
	base := token.New(svcBaseAddr, "BASE", 9, svcU("1000000000000000"), svcPoolAddr)
	quote := token.New(svcQuoteAddr, "QUOTE", 18, uint256.NewInt(0), svcTreasuryAddr)
	quote.Mint(svcBuyerAddr, svcU("1000000000000000000000000"))
	registry.Register(base)
	registry.Register(quote)

	engine, err := depository.New(context.Background(), depository.Config{
		BaseToken:    base,
		Tokens:       registry,
		Treasury:     svcTreasuryAddr,
		FeeRecipient: svcFeeAddr,
		FeeBps:       feeBps,
		Admin:        domain.SingleAdministrator(svcAdminAddr),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	markets := newMemMarketStore()
	notes := newMemNoteStore()
	prices := newMemPriceCache()
	bus := &memBus{}
	svc := NewDepositoryService(engine, markets, notes, prices, bus, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &svcFixture{svc: svc, markets: markets, notes: notes, prices: prices, bus: bus}
}

func (f *svcFixture) createMarket(t *testing.T, debtBufferBps uint64) uint64 {
	t.Helper()
	id, err := f.svc.CreateMarket(context.Background(), svcAdminAddr, domain.MarketParams{
		QuoteToken:      svcQuoteAddr,
		Capacity:        svcU("10000000000000"),
		InitialPrice:    svcU("400000000000"),
		DebtBufferBps:   debtBufferBps,
		Vesting:         100,
		Conclusion:      uint64(time.Now().Unix()) + 86_400,
		DepositInterval: 4 * 3600,
		TuneInterval:    3600,
		FixedTerm:       true,
	})
	require.NoError(t, err)
	return id
}

func TestCreateMarketJournalsAndPublishes(t *testing.T) {
	f := newServiceFixture(t, 0)

	id := f.createMarket(t, 100_000)

	snap, err := f.markets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusLive, snap.Status)
	assert.Equal(t, svcQuoteAddr, snap.Market.QuoteToken)

	price, _, err := f.prices.GetPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "400000000000", price)

	assert.Equal(t, []string{domain.EventMarketCreated}, f.bus.eventTypes(t))
	require.Len(t, f.bus.streamed, 1)
}

func TestDepositJournalsNotesAndRefreshesPrice(t *testing.T) {
	f := newServiceFixture(t, 500)
	id := f.createMarket(t, 100_000)

	res, err := f.svc.Deposit(context.Background(), svcBuyerAddr, domain.DepositParams{
		MarketID:        id,
		Amount:          svcU("10000000000000000000000"),
		MaxPrice:        svcU("400000000000"),
		PayoutRecipient: svcBuyerAddr,
	})
	require.NoError(t, err)
	assert.False(t, res.CircuitBroken)

	rec, ok := f.notes.get(svcBuyerAddr, res.NoteIndex)
	require.True(t, ok)
	assert.True(t, res.Payout.Eq(rec.Note.Payout))

	require.NotNil(t, res.FeeNoteIndex)
	feeRec, ok := f.notes.get(svcFeeAddr, *res.FeeNoteIndex)
	require.True(t, ok)
	assert.True(t, res.Fee.Eq(feeRec.Note.Payout))

	snap, err := f.markets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, snap.Market.Purchased.IsZero())

	assert.Equal(t,
		[]string{domain.EventMarketCreated, domain.EventDeposit},
		f.bus.eventTypes(t))
}

func TestDepositCircuitBreakerInvalidatesPrice(t *testing.T) {
	f := newServiceFixture(t, 0)
	id := f.createMarket(t, 0)

	res, err := f.svc.Deposit(context.Background(), svcBuyerAddr, domain.DepositParams{
		MarketID:        id,
		Amount:          svcU("10000000000000000000000"),
		MaxPrice:        svcU("400000000000"),
		PayoutRecipient: svcBuyerAddr,
	})
	require.NoError(t, err)
	require.True(t, res.CircuitBroken)

	_, _, err = f.prices.GetPrice(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Contains(t, f.bus.eventTypes(t), domain.EventCircuitBreaker)
}

func TestMarketPriceServesFromCache(t *testing.T) {
	f := newServiceFixture(t, 0)
	id := f.createMarket(t, 100_000)

	require.NoError(t, f.prices.SetPrice(context.Background(), id, "123456789", time.Now()))

	price, err := f.svc.MarketPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "123456789", price.Dec())
}

func TestMarketPriceFallsBackToEngine(t *testing.T) {
	f := newServiceFixture(t, 0)
	id := f.createMarket(t, 100_000)
	require.NoError(t, f.prices.Invalidate(context.Background(), id))

	price, err := f.svc.MarketPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "400000000000", price.Dec())

	cached, _, err := f.prices.GetPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "400000000000", cached)
}

func TestRedeemJournalsAndPublishes(t *testing.T) {
	f := newServiceFixture(t, 0)
	id := f.createMarket(t, 100_000)

	res, err := f.svc.Deposit(context.Background(), svcBuyerAddr, domain.DepositParams{
		MarketID:        id,
		Amount:          svcU("10000000000000000000000"),
		MaxPrice:        svcU("400000000000"),
		PayoutRecipient: svcBuyerAddr,
	})
	require.NoError(t, err)

	// Vesting has not elapsed, so nothing pays out yet.
	total, err := f.svc.RedeemAll(context.Background(), svcBuyerAddr)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
	assert.NotContains(t, f.bus.eventTypes(t), domain.EventRedeem)

	// The unredeemed note is still re-journaled.
	rec, ok := f.notes.get(svcBuyerAddr, res.NoteIndex)
	require.True(t, ok)
	assert.Zero(t, rec.Note.Redeemed)
}

func TestPullNoteJournalsBothSlots(t *testing.T) {
	f := newServiceFixture(t, 0)
	id := f.createMarket(t, 100_000)

	other := common.HexToAddress("0x1000000000000000000000000000000000000008")
	res, err := f.svc.Deposit(context.Background(), svcBuyerAddr, domain.DepositParams{
		MarketID:        id,
		Amount:          svcU("10000000000000000000000"),
		MaxPrice:        svcU("400000000000"),
		PayoutRecipient: svcBuyerAddr,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.PushNote(context.Background(), svcBuyerAddr, res.NoteIndex, other))
	newIndex, err := f.svc.PullNote(context.Background(), other, svcBuyerAddr, res.NoteIndex)
	require.NoError(t, err)

	src, ok := f.notes.get(svcBuyerAddr, res.NoteIndex)
	require.True(t, ok)
	assert.True(t, src.Note.Payout.IsZero())

	dst, ok := f.notes.get(other, newIndex)
	require.True(t, ok)
	assert.True(t, res.Payout.Eq(dst.Note.Payout))

	assert.Contains(t, f.bus.eventTypes(t), domain.EventNoteTransferred)
}
