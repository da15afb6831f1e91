// Package service orchestrates the depository engine with the persistence
// journal, caches, event bus, and notifications. The engine's in-memory
// ledger stays authoritative; journal and cache failures are logged and
// never fail the underlying operation.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/solsticefi/bonddepot/internal/depository"
	"github.com/solsticefi/bonddepot/internal/domain"
	"github.com/solsticefi/bonddepot/internal/notify"
)

// EventChannel is the pub/sub channel fanned out to websocket clients.
const EventChannel = "depository:events"

// EventStream is the durable stream mirroring every published event.
const EventStream = "stream:depository:events"

// DepositoryService fronts the depository engine for the HTTP layer. Every
// committed mutation is journaled to the stores and announced on the bus.
type DepositoryService struct {
	engine   *depository.Depository
	markets  domain.MarketStore
	notes    domain.NoteStore
	prices   domain.PriceCache
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewDepositoryService creates a DepositoryService. The markets, notes,
// prices, bus, and notifier collaborators may be nil, in which case the
// corresponding side effects are skipped; the engine is required.
func NewDepositoryService(
	engine *depository.Depository,
	markets domain.MarketStore,
	notes domain.NoteStore,
	prices domain.PriceCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *DepositoryService {
	return &DepositoryService{
		engine:   engine,
		markets:  markets,
		notes:    notes,
		prices:   prices,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "depository_service")),
	}
}

// CreateMarket opens a new bond market and journals its initial snapshot.
func (s *DepositoryService) CreateMarket(ctx context.Context, principal common.Address, params domain.MarketParams) (uint64, error) {
	id, err := s.engine.CreateMarket(ctx, principal, params)
	if err != nil {
		return 0, fmt.Errorf("depository_service: create market: %w", err)
	}

	snap, err := s.engine.MarketInfo(id)
	if err != nil {
		return id, fmt.Errorf("depository_service: snapshot market %d: %w", id, err)
	}

	s.journalMarket(ctx, snap)
	s.refreshPrice(ctx, id)
	s.publish(ctx, domain.EventMarketCreated, map[string]any{
		"market_id": id,
		"quote":     snap.Market.QuoteToken.Hex(),
		"capacity":  snap.Market.Capacity.Dec(),
	})
	if s.notifier != nil {
		title, message := notify.FormatMarketCreated(snap)
		if err := s.notifier.Notify(ctx, domain.EventMarketCreated, title, message); err != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}

	return id, nil
}

// CloseMarket concludes a market ahead of schedule and journals the final
// snapshot.
func (s *DepositoryService) CloseMarket(ctx context.Context, principal common.Address, id uint64) error {
	if err := s.engine.CloseMarket(principal, id); err != nil {
		return fmt.Errorf("depository_service: close market %d: %w", id, err)
	}

	snap, err := s.engine.MarketInfo(id)
	if err != nil {
		return fmt.Errorf("depository_service: snapshot market %d: %w", id, err)
	}

	s.journalMarket(ctx, snap)
	s.invalidatePrice(ctx, id)
	s.publish(ctx, domain.EventMarketClosed, map[string]any{
		"market_id": id,
		"purchased": snap.Market.Purchased.Dec(),
		"sold":      snap.Market.Sold.Dec(),
	})
	if s.notifier != nil {
		title, message := notify.FormatMarketClosed(snap)
		if err := s.notifier.Notify(ctx, domain.EventMarketClosed, title, message); err != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Deposit executes a bond purchase, journals the updated market and the
// issued notes, and announces the sale.
func (s *DepositoryService) Deposit(ctx context.Context, buyer common.Address, params domain.DepositParams) (domain.DepositResult, error) {
	res, err := s.engine.Deposit(ctx, buyer, params)
	if err != nil {
		return domain.DepositResult{}, fmt.Errorf("depository_service: deposit: %w", err)
	}

	snap, snapErr := s.engine.MarketInfo(params.MarketID)
	if snapErr == nil {
		s.journalMarket(ctx, snap)
	}
	s.journalNote(ctx, params.PayoutRecipient, res.NoteIndex)
	if res.FeeNoteIndex != nil {
		s.journalNote(ctx, res.FeeRecipient, *res.FeeNoteIndex)
	}

	s.publish(ctx, domain.EventDeposit, map[string]any{
		"market_id": params.MarketID,
		"buyer":     buyer.Hex(),
		"amount":    params.Amount.Dec(),
		"payout":    res.Payout.Dec(),
	})

	if res.CircuitBroken {
		s.invalidatePrice(ctx, params.MarketID)
		s.publish(ctx, domain.EventCircuitBreaker, map[string]any{
			"market_id": params.MarketID,
		})
		if s.notifier != nil && snapErr == nil {
			title, message := notify.FormatCircuitBreaker(snap)
			if err := s.notifier.Notify(ctx, domain.EventCircuitBreaker, title, message); err != nil {
				s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
			}
		}
	} else {
		s.refreshPrice(ctx, params.MarketID)
	}

	return res, nil
}

// Redeem pays out the matured notes among the given indexes and journals the
// resulting note states.
func (s *DepositoryService) Redeem(ctx context.Context, user common.Address, indexes []uint64) (*uint256.Int, error) {
	total, err := s.engine.Redeem(ctx, user, indexes)
	if err != nil {
		return nil, fmt.Errorf("depository_service: redeem: %w", err)
	}
	s.afterRedeem(ctx, user, total)
	return total, nil
}

// RedeemAll pays out every matured note the user holds.
func (s *DepositoryService) RedeemAll(ctx context.Context, user common.Address) (*uint256.Int, error) {
	total, err := s.engine.RedeemAll(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("depository_service: redeem all: %w", err)
	}
	s.afterRedeem(ctx, user, total)
	return total, nil
}

func (s *DepositoryService) afterRedeem(ctx context.Context, user common.Address, total *uint256.Int) {
	s.journalOwner(ctx, user)
	if total != nil && !total.IsZero() {
		s.publish(ctx, domain.EventRedeem, map[string]any{
			"user":   user.Hex(),
			"payout": total.Dec(),
		})
	}
}

// PushNote approves a note transfer.
func (s *DepositoryService) PushNote(ctx context.Context, owner common.Address, index uint64, to common.Address) error {
	if err := s.engine.PushNote(owner, index, to); err != nil {
		return fmt.Errorf("depository_service: push note: %w", err)
	}
	return nil
}

// PullNote claims an approved note transfer and journals both the source and
// destination slots.
func (s *DepositoryService) PullNote(ctx context.Context, caller, owner common.Address, index uint64) (uint64, error) {
	newIndex, err := s.engine.PullNote(caller, owner, index)
	if err != nil {
		return 0, fmt.Errorf("depository_service: pull note: %w", err)
	}

	s.journalNote(ctx, owner, index)
	s.journalNote(ctx, caller, newIndex)
	s.publish(ctx, domain.EventNoteTransferred, map[string]any{
		"from":       owner.Hex(),
		"to":         caller.Hex(),
		"from_index": index,
		"to_index":   newIndex,
	})
	return newIndex, nil
}

// MarketPrice returns the current deposit price, serving from the cache when
// a fresh entry exists and falling back to the engine.
func (s *DepositoryService) MarketPrice(ctx context.Context, id uint64) (*uint256.Int, error) {
	if s.prices != nil {
		if cached, _, err := s.prices.GetPrice(ctx, id); err == nil {
			if price, perr := uint256.FromDecimal(cached); perr == nil {
				return price, nil
			}
		}
	}

	price, err := s.engine.MarketPrice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("depository_service: market price %d: %w", id, err)
	}
	s.setPrice(ctx, id, price)
	return price, nil
}

// ---------------------------------------------------------------------------
// Journal, cache, and bus side effects. All best-effort.
// ---------------------------------------------------------------------------

func (s *DepositoryService) journalMarket(ctx context.Context, snap domain.MarketSnapshot) {
	if s.markets == nil {
		return
	}
	if err := s.markets.Upsert(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "market journal failed",
			slog.Uint64("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *DepositoryService) journalNote(ctx context.Context, owner common.Address, index uint64) {
	if s.notes == nil {
		return
	}
	for _, rec := range s.engine.NotesFor(owner) {
		if rec.Index != index {
			continue
		}
		if err := s.notes.Upsert(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "note journal failed",
				slog.String("owner", owner.Hex()),
				slog.Uint64("index", index),
				slog.String("error", err.Error()),
			)
		}
		return
	}
}

// journalOwner re-journals every note slot of one owner, used after batch
// redemptions where the engine does not report which slots changed.
func (s *DepositoryService) journalOwner(ctx context.Context, owner common.Address) {
	if s.notes == nil {
		return
	}
	for _, rec := range s.engine.NotesFor(owner) {
		if err := s.notes.Upsert(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "note journal failed",
				slog.String("owner", owner.Hex()),
				slog.Uint64("index", rec.Index),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *DepositoryService) refreshPrice(ctx context.Context, id uint64) {
	if s.prices == nil {
		return
	}
	price, err := s.engine.MarketPrice(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "price refresh failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	s.setPrice(ctx, id, price)
}

func (s *DepositoryService) setPrice(ctx context.Context, id uint64, price *uint256.Int) {
	if s.prices == nil {
		return
	}
	if err := s.prices.SetPrice(ctx, id, price.Dec(), time.Now()); err != nil {
		s.logger.WarnContext(ctx, "price cache set failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *DepositoryService) invalidatePrice(ctx context.Context, id uint64) {
	if s.prices == nil {
		return
	}
	if err := s.prices.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "price cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// publish fans an event out on the pub/sub channel and appends it to the
// durable stream.
func (s *DepositoryService) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.bus == nil {
		return
	}

	event := domain.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		At:      time.Now().UTC(),
		Payload: payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "event marshal failed", slog.String("type", eventType))
		return
	}

	if err := s.bus.Publish(ctx, EventChannel, data); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, EventStream, data); err != nil {
		s.logger.WarnContext(ctx, "event stream append failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
}
