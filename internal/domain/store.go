package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore journals market snapshots. The in-memory ledger remains the
// authoritative copy; the store is a durable read-model kept current after
// every committed mutation.
type MarketStore interface {
	Upsert(ctx context.Context, snap MarketSnapshot) error
	GetByID(ctx context.Context, id uint64) (MarketSnapshot, error)
	ListLive(ctx context.Context, opts ListOpts) ([]MarketSnapshot, error)
	ListConcludedBefore(ctx context.Context, before time.Time) ([]MarketSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// NoteStore journals note records per owner.
type NoteStore interface {
	Upsert(ctx context.Context, rec NoteRecord) error
	Delete(ctx context.Context, owner common.Address, index uint64) error
	ListByOwner(ctx context.Context, owner common.Address) ([]NoteRecord, error)
	ListRedeemedBefore(ctx context.Context, before time.Time) ([]NoteRecord, error)
}
