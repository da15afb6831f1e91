package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// MarketService defines the mutating operations the market handler requires
// from the service layer. It is declared locally so the handler package does
// not depend on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, principal common.Address, params domain.MarketParams) (uint64, error)
	CloseMarket(ctx context.Context, principal common.Address, id uint64) error
	MarketPrice(ctx context.Context, id uint64) (*uint256.Int, error)
}

// MarketQueries defines the read-only engine queries the handler serves
// directly from the in-memory ledger.
type MarketQueries interface {
	MarketInfo(id uint64) (domain.MarketSnapshot, error)
	LiveMarkets() []uint64
	LiveMarketsFor(quoteToken common.Address) []uint64
	MarketCount() uint64
	CurrentDebt(id uint64) (*uint256.Int, error)
	DebtDecay(id uint64) (*uint256.Int, error)
	DebtRatio(ctx context.Context, id uint64) (*uint256.Int, error)
	CurrentControlVariable(id uint64) (*uint256.Int, error)
	PayoutFor(ctx context.Context, id uint64, amount *uint256.Int) (*uint256.Int, error)
}

// MarketHandler serves market-related HTTP endpoints. Admin is the principal
// used for market creation and closure once the request has passed API-key
// authentication.
type MarketHandler struct {
	markets MarketService
	queries MarketQueries
	admin   common.Address
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, queries MarketQueries, admin common.Address, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		queries: queries,
		admin:   admin,
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   uint64       `json:"total"`
}

// ListMarkets returns the currently live markets, optionally filtered by
// quote token.
// GET /api/markets?quote=0x...
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	var ids []uint64
	if q := r.URL.Query().Get("quote"); q != "" {
		quote, ok := parseAddr(q)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid quote token address")
			return
		}
		ids = h.queries.LiveMarketsFor(quote)
	} else {
		ids = h.queries.LiveMarkets()
	}

	views := make([]marketView, 0, len(ids))
	for _, id := range ids {
		snap, err := h.queries.MarketInfo(id)
		if err != nil {
			continue
		}
		views = append(views, newMarketView(snap))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   h.queries.MarketCount(),
	})
}

// GetMarket returns a single market snapshot by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	snap, err := h.queries.MarketInfo(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newMarketView(snap))
}

// createMarketRequest carries the administrator-supplied market terms.
// Amounts are full-precision decimal strings.
type createMarketRequest struct {
	QuoteToken      string `json:"quote_token"`
	Capacity        string `json:"capacity"`
	CapacityInQuote bool   `json:"capacity_in_quote"`
	InitialPrice    string `json:"initial_price"`
	DebtBufferBps   uint64 `json:"debt_buffer_bps"`
	Vesting         uint64 `json:"vesting"`
	Conclusion      uint64 `json:"conclusion"`
	DepositInterval uint64 `json:"deposit_interval"`
	TuneInterval    uint64 `json:"tune_interval"`
	FixedTerm       bool   `json:"fixed_term"`
}

// CreateMarket opens a new bond market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	quote, ok := parseAddr(req.QuoteToken)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid quote token address")
		return
	}
	capacity, ok := parseAmount(req.Capacity)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid capacity")
		return
	}
	price, ok := parseAmount(req.InitialPrice)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid initial price")
		return
	}

	id, err := h.markets.CreateMarket(r.Context(), h.admin, domain.MarketParams{
		QuoteToken:      quote,
		Capacity:        capacity,
		CapacityInQuote: req.CapacityInQuote,
		InitialPrice:    price,
		DebtBufferBps:   req.DebtBufferBps,
		Vesting:         req.Vesting,
		Conclusion:      req.Conclusion,
		DepositInterval: req.DepositInterval,
		TuneInterval:    req.TuneInterval,
		FixedTerm:       req.FixedTerm,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	snap, err := h.queries.MarketInfo(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newMarketView(snap))
}

// CloseMarket concludes a market ahead of its scheduled conclusion.
// DELETE /api/markets/{id}
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	if err := h.markets.CloseMarket(r.Context(), h.admin, id); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close market failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetPrice returns the current deposit price of a market.
// GET /api/markets/{id}/price
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	price, err := h.markets.MarketPrice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"price":     price.Dec(),
	})
}

// GetDebt returns the decayed debt figures of a market.
// GET /api/markets/{id}/debt
func (h *MarketHandler) GetDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	debt, err := h.queries.CurrentDebt(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	decay, err := h.queries.DebtDecay(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ratio, err := h.queries.DebtRatio(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	cv, err := h.queries.CurrentControlVariable(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":        id,
		"current_debt":     debt.Dec(),
		"debt_decay":       decay.Dec(),
		"debt_ratio":       ratio.Dec(),
		"control_variable": cv.Dec(),
	})
}

// QuotePayout returns the base-token payout a quote amount would buy at the
// current price, without executing a deposit.
// GET /api/markets/{id}/payout?amount=...
func (h *MarketHandler) QuotePayout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	amount, ok := parseAmount(r.URL.Query().Get("amount"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	payout, err := h.queries.PayoutFor(r.Context(), id, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"amount":    amount.Dec(),
		"payout":    payout.Dec(),
	})
}
