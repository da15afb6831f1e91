package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly; the archiver only needs the time-ranged queries
// and the matching prune.
// ---------------------------------------------------------------------------

// MarketArchiveStore provides read and prune access to concluded markets.
type MarketArchiveStore interface {
	ListConcludedBefore(ctx context.Context, before time.Time) ([]domain.MarketSnapshot, error)
	DeleteConcludedBefore(ctx context.Context, before time.Time) (int64, error)
}

// NoteArchiveStore provides read and prune access to redeemed notes.
type NoteArchiveStore interface {
	ListRedeemedBefore(ctx context.Context, before time.Time) ([]domain.NoteRecord, error)
	DeleteRedeemedBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by querying the journal for settled
// records, serializing them to JSONL, uploading the result to S3, and only
// then pruning the archived rows from the journal. A failed upload leaves
// the journal untouched.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	markets MarketArchiveStore
	notes   NoteArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, markets MarketArchiveStore, notes NoteArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		markets: markets,
		notes:   notes,
	}
}

// ArchiveMarkets sweeps markets that concluded before the cutoff into
// archive/markets/YYYY-MM.jsonl and prunes them from the journal. It returns
// the number of markets archived.
func (a *ArchiveImpl) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.markets.ListConcludedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(snaps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}

	path := archivePath("markets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets upload: %w", err)
	}

	if _, err := a.markets.DeleteConcludedBefore(ctx, before); err != nil {
		return int64(len(snaps)), fmt.Errorf("s3blob: archive markets prune: %w", err)
	}
	return int64(len(snaps)), nil
}

// ArchiveNotes sweeps notes redeemed before the cutoff into
// archive/notes/YYYY-MM.jsonl and prunes them from the journal. It returns
// the number of notes archived.
func (a *ArchiveImpl) ArchiveNotes(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.notes.ListRedeemedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive notes query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive notes marshal: %w", err)
	}

	path := archivePath("notes", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive notes upload: %w", err)
	}

	if _, err := a.notes.DeleteRedeemedBefore(ctx, before); err != nil {
		return int64(len(recs)), fmt.Errorf("s3blob: archive notes prune: %w", err)
	}
	return int64(len(recs)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/markets/2025-01.jsonl
//	archive/notes/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
