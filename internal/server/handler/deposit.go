package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// DepositService defines the deposit operation the handler requires from the
// service layer.
type DepositService interface {
	Deposit(ctx context.Context, buyer common.Address, params domain.DepositParams) (domain.DepositResult, error)
}

// DepositHandler serves the bond purchase endpoint.
type DepositHandler struct {
	deposits DepositService
	logger   *slog.Logger
}

// NewDepositHandler creates a DepositHandler.
func NewDepositHandler(deposits DepositService, logger *slog.Logger) *DepositHandler {
	return &DepositHandler{
		deposits: deposits,
		logger:   logger,
	}
}

// depositRequest carries the buyer-supplied deposit inputs. Amounts are
// full-precision decimal strings; max_price caps acceptable slippage.
type depositRequest struct {
	Buyer           string `json:"buyer"`
	Amount          string `json:"amount"`
	MaxPrice        string `json:"max_price"`
	PayoutRecipient string `json:"payout_recipient,omitempty"`
	FeeRecipient    string `json:"fee_recipient,omitempty"`
}

// depositResponse reports the issued note and any protocol fee note.
type depositResponse struct {
	Payout        string  `json:"payout"`
	Matured       uint64  `json:"matured"`
	NoteIndex     uint64  `json:"note_index"`
	Fee           string  `json:"fee,omitempty"`
	FeeRecipient  string  `json:"fee_recipient,omitempty"`
	FeeNoteIndex  *uint64 `json:"fee_note_index,omitempty"`
	CircuitBroken bool    `json:"circuit_broken"`
}

// Deposit executes a bond purchase against a live market.
// POST /api/markets/{id}/deposits
func (h *DepositHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	buyer, ok := parseAddr(req.Buyer)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid buyer address")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	maxPrice, ok := parseAmount(req.MaxPrice)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid max price")
		return
	}

	params := domain.DepositParams{
		MarketID:        id,
		Amount:          amount,
		MaxPrice:        maxPrice,
		PayoutRecipient: buyer,
	}
	if req.PayoutRecipient != "" {
		recipient, ok := parseAddr(req.PayoutRecipient)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid payout recipient")
			return
		}
		params.PayoutRecipient = recipient
	}
	if req.FeeRecipient != "" {
		recipient, ok := parseAddr(req.FeeRecipient)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid fee recipient")
			return
		}
		params.FeeRecipient = recipient
	}

	res, err := h.deposits.Deposit(r.Context(), buyer, params)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: deposit rejected",
			slog.Uint64("market_id", id),
			slog.String("buyer", buyer.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	resp := depositResponse{
		Payout:        res.Payout.Dec(),
		Matured:       res.Matured,
		NoteIndex:     res.NoteIndex,
		CircuitBroken: res.CircuitBroken,
	}
	if res.Fee != nil && !res.Fee.IsZero() {
		resp.Fee = res.Fee.Dec()
		resp.FeeRecipient = res.FeeRecipient.Hex()
		resp.FeeNoteIndex = res.FeeNoteIndex
	}

	writeJSON(w, http.StatusCreated, resp)
}
