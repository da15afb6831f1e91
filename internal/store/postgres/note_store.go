package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// NoteStore implements domain.NoteStore using PostgreSQL.
type NoteStore struct {
	pool *pgxpool.Pool
}

// NewNoteStore creates a new NoteStore backed by the given connection pool.
func NewNoteStore(pool *pgxpool.Pool) *NoteStore {
	return &NoteStore{pool: pool}
}

// Upsert inserts or updates a single note record.
func (s *NoteStore) Upsert(ctx context.Context, rec domain.NoteRecord) error {
	const query = `
		INSERT INTO notes (
			owner, note_index, market_id, payout, created, matured, redeemed, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW()
		)
		ON CONFLICT (owner, note_index) DO UPDATE SET
			payout     = EXCLUDED.payout,
			redeemed   = EXCLUDED.redeemed,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		rec.Owner.Hex(), int64(rec.Index), int64(rec.Note.MarketID),
		rec.Note.Payout.Dec(), int64(rec.Note.Created),
		int64(rec.Note.Matured), int64(rec.Note.Redeemed),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert note %d of %s: %w", rec.Index, rec.Owner.Hex(), err)
	}
	return nil
}

// Delete removes one note record, typically after archiving.
func (s *NoteStore) Delete(ctx context.Context, owner common.Address, index uint64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM notes WHERE owner = $1 AND note_index = $2`,
		owner.Hex(), int64(index))
	if err != nil {
		return fmt.Errorf("postgres: delete note %d of %s: %w", index, owner.Hex(), err)
	}
	return nil
}

// ListByOwner returns every journaled note slot for one owner, by index.
func (s *NoteStore) ListByOwner(ctx context.Context, owner common.Address) ([]domain.NoteRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner, note_index, market_id, payout, created, matured, redeemed
		 FROM notes WHERE owner = $1 ORDER BY note_index`,
		owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list notes for %s: %w", owner.Hex(), err)
	}
	defer rows.Close()

	return collectNotes(rows)
}

// ListRedeemedBefore returns note records redeemed before the given time.
func (s *NoteStore) ListRedeemedBefore(ctx context.Context, before time.Time) ([]domain.NoteRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner, note_index, market_id, payout, created, matured, redeemed
		 FROM notes WHERE redeemed > 0 AND redeemed < $1
		 ORDER BY redeemed`,
		before.Unix())
	if err != nil {
		return nil, fmt.Errorf("postgres: list redeemed notes: %w", err)
	}
	defer rows.Close()

	return collectNotes(rows)
}

// DeleteRedeemedBefore removes archived notes from the journal. The archiver
// calls this after a successful upload.
func (s *NoteStore) DeleteRedeemedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notes WHERE redeemed > 0 AND redeemed < $1`,
		before.Unix())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete redeemed notes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectNotes(rows pgx.Rows) ([]domain.NoteRecord, error) {
	var recs []domain.NoteRecord
	for rows.Next() {
		var (
			rec    domain.NoteRecord
			owner  string
			index  int64
			market int64
			payout string
			created, matured, redeemed int64
		)
		if err := rows.Scan(&owner, &index, &market, &payout, &created, &matured, &redeemed); err != nil {
			return nil, fmt.Errorf("postgres: scan note: %w", err)
		}

		p, err := uint256.FromDecimal(payout)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse payout %q: %w", payout, err)
		}

		rec.Owner = common.HexToAddress(owner)
		rec.Index = uint64(index)
		rec.Note = domain.Note{
			Payout:   p,
			Created:  uint64(created),
			Matured:  uint64(matured),
			Redeemed: uint64(redeemed),
			MarketID: uint64(market),
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate notes: %w", err)
	}
	return recs, nil
}
