package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `
	id, quote_token, capacity, capacity_in_quote, total_debt, max_payout,
	purchased, sold, control_variable, vesting, conclusion, max_debt,
	fixed_term, last_tune, last_decay, length, deposit_interval,
	tune_interval, quote_decimals, adj_change, adj_last, adj_time_to,
	adj_active, status`

// Upsert inserts or updates a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, snap domain.MarketSnapshot) error {
	const query = `
		INSERT INTO markets (
			id, quote_token, capacity, capacity_in_quote, total_debt, max_payout,
			purchased, sold, control_variable, vesting, conclusion, max_debt,
			fixed_term, last_tune, last_decay, length, deposit_interval,
			tune_interval, quote_decimals, adj_change, adj_last, adj_time_to,
			adj_active, status, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			capacity         = EXCLUDED.capacity,
			total_debt       = EXCLUDED.total_debt,
			max_payout       = EXCLUDED.max_payout,
			purchased        = EXCLUDED.purchased,
			sold             = EXCLUDED.sold,
			control_variable = EXCLUDED.control_variable,
			conclusion       = EXCLUDED.conclusion,
			last_tune        = EXCLUDED.last_tune,
			last_decay       = EXCLUDED.last_decay,
			adj_change       = EXCLUDED.adj_change,
			adj_last         = EXCLUDED.adj_last,
			adj_time_to      = EXCLUDED.adj_time_to,
			adj_active       = EXCLUDED.adj_active,
			status           = EXCLUDED.status,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		int64(snap.ID), snap.Market.QuoteToken.Hex(),
		snap.Market.Capacity.Dec(), snap.Market.CapacityInQuote,
		snap.Market.TotalDebt.Dec(), snap.Market.MaxPayout.Dec(),
		snap.Market.Purchased.Dec(), snap.Market.Sold.Dec(),
		snap.Terms.ControlVariable.Dec(), int64(snap.Terms.Vesting),
		int64(snap.Terms.Conclusion), snap.Terms.MaxDebt.Dec(),
		snap.Terms.FixedTerm,
		int64(snap.Metadata.LastTune), int64(snap.Metadata.LastDecay),
		int64(snap.Metadata.Length), int64(snap.Metadata.DepositInterval),
		int64(snap.Metadata.TuneInterval), int16(snap.Metadata.QuoteDecimals),
		adjChange(snap.Adjustment), int64(snap.Adjustment.LastAdjustment),
		int64(snap.Adjustment.TimeToAdjusted), snap.Adjustment.Active,
		string(snap.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", snap.ID, err)
	}
	return nil
}

// adjChange renders the adjustment delta, tolerating the zero value of a
// never-tuned market.
func adjChange(a domain.Adjustment) string {
	if a.Change == nil {
		return "0"
	}
	return a.Change.Dec()
}

// GetByID fetches a single market snapshot by its identifier.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.MarketSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, int64(id))

	snap, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return snap, nil
}

// ListLive returns journaled markets still marked live, oldest first.
func (s *MarketStore) ListLive(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE status = $1
		 ORDER BY id
		 LIMIT $2 OFFSET $3`,
		string(domain.MarketStatusLive), limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list live markets: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// ListConcludedBefore returns markets whose sale ended before the given
// time, whether by conclusion, close, or circuit breaker.
func (s *MarketStore) ListConcludedBefore(ctx context.Context, before time.Time) ([]domain.MarketSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE status = $1 OR conclusion < $2
		 ORDER BY id`,
		string(domain.MarketStatusConcluded), before.Unix())
	if err != nil {
		return nil, fmt.Errorf("postgres: list concluded markets: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// Count returns the total number of journaled markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// DeleteConcludedBefore removes archived markets from the journal. The
// archiver calls this after a successful upload.
func (s *MarketStore) DeleteConcludedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM markets WHERE status = $1 AND conclusion < $2`,
		string(domain.MarketStatusConcluded), before.Unix())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete concluded markets: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectMarkets(rows pgx.Rows) ([]domain.MarketSnapshot, error) {
	var snaps []domain.MarketSnapshot
	for rows.Next() {
		snap, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate markets: %w", err)
	}
	return snaps, nil
}

// scanMarket scans a single market row into a domain.MarketSnapshot.
func scanMarket(row pgx.Row) (domain.MarketSnapshot, error) {
	var (
		snap       domain.MarketSnapshot
		id         int64
		quoteToken string
		status     string
		decimals   int16
		capacity, totalDebt, maxPayout, purchased string
		sold, controlVariable, maxDebt, change    string
		vesting, conclusion, lastTune, lastDecay  int64
		length, depositInterval, tuneInterval     int64
		adjLast, adjTimeTo                        int64
	)

	err := row.Scan(
		&id, &quoteToken, &capacity, &snap.Market.CapacityInQuote,
		&totalDebt, &maxPayout, &purchased, &sold,
		&controlVariable, &vesting, &conclusion, &maxDebt,
		&snap.Terms.FixedTerm, &lastTune, &lastDecay, &length,
		&depositInterval, &tuneInterval, &decimals,
		&change, &adjLast, &adjTimeTo, &snap.Adjustment.Active,
		&status,
	)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	snap.ID = uint64(id)
	snap.Market.QuoteToken = common.HexToAddress(quoteToken)
	snap.Terms.Vesting = uint64(vesting)
	snap.Terms.Conclusion = uint64(conclusion)
	snap.Metadata.LastTune = uint64(lastTune)
	snap.Metadata.LastDecay = uint64(lastDecay)
	snap.Metadata.Length = uint64(length)
	snap.Metadata.DepositInterval = uint64(depositInterval)
	snap.Metadata.TuneInterval = uint64(tuneInterval)
	snap.Metadata.QuoteDecimals = uint8(decimals)
	snap.Adjustment.LastAdjustment = uint64(adjLast)
	snap.Adjustment.TimeToAdjusted = uint64(adjTimeTo)
	snap.Status = domain.MarketStatus(status)

	for _, field := range []struct {
		dst **uint256.Int
		src string
	}{
		{&snap.Market.Capacity, capacity},
		{&snap.Market.TotalDebt, totalDebt},
		{&snap.Market.MaxPayout, maxPayout},
		{&snap.Market.Purchased, purchased},
		{&snap.Market.Sold, sold},
		{&snap.Terms.ControlVariable, controlVariable},
		{&snap.Terms.MaxDebt, maxDebt},
		{&snap.Adjustment.Change, change},
	} {
		v, err := uint256.FromDecimal(field.src)
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("parse %q: %w", field.src, err)
		}
		*field.dst = v
	}

	return snap, nil
}
