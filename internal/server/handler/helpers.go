package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses and sends
// the error message as a JSON body.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor translates engine errors into HTTP status codes. Unknown errors
// map to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrTransferNotApproved):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrMarketConcluded),
		errors.Is(err, domain.ErrNoteAlreadyRedeemed),
		errors.Is(err, domain.ErrSlippageExceeded),
		errors.Is(err, domain.ErrMaxSizeExceeded),
		errors.Is(err, domain.ErrInsufficientCapacity),
		errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID extracts a numeric path parameter using Go 1.22+ built-in routing.
func pathID(r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	return id, err == nil
}

// parseAmount parses a full-precision decimal amount string.
func parseAmount(s string) (*uint256.Int, bool) {
	if s == "" {
		return nil, false
	}
	v, err := uint256.FromDecimal(s)
	return v, err == nil
}

// parseAddr validates and parses a hex token or account address.
func parseAddr(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// dec renders a uint256 as a decimal string, treating nil as zero.
func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// marketView is the JSON read model of a market snapshot. All amounts are
// full-precision decimal strings.
type marketView struct {
	ID              uint64 `json:"id"`
	Status          string `json:"status"`
	QuoteToken      string `json:"quote_token"`
	Capacity        string `json:"capacity"`
	CapacityInQuote bool   `json:"capacity_in_quote"`
	TotalDebt       string `json:"total_debt"`
	MaxPayout       string `json:"max_payout"`
	Purchased       string `json:"purchased"`
	Sold            string `json:"sold"`

	ControlVariable string `json:"control_variable"`
	Vesting         uint64 `json:"vesting"`
	Conclusion      uint64 `json:"conclusion"`
	MaxDebt         string `json:"max_debt"`
	FixedTerm       bool   `json:"fixed_term"`

	DepositInterval uint64 `json:"deposit_interval"`
	TuneInterval    uint64 `json:"tune_interval"`
	QuoteDecimals   uint8  `json:"quote_decimals"`

	Adjustment *adjustmentView `json:"adjustment,omitempty"`
}

type adjustmentView struct {
	Change         string `json:"change"`
	LastAdjustment uint64 `json:"last_adjustment"`
	TimeToAdjusted uint64 `json:"time_to_adjusted"`
}

func newMarketView(snap domain.MarketSnapshot) marketView {
	v := marketView{
		ID:              snap.ID,
		Status:          string(snap.Status),
		QuoteToken:      snap.Market.QuoteToken.Hex(),
		Capacity:        dec(snap.Market.Capacity),
		CapacityInQuote: snap.Market.CapacityInQuote,
		TotalDebt:       dec(snap.Market.TotalDebt),
		MaxPayout:       dec(snap.Market.MaxPayout),
		Purchased:       dec(snap.Market.Purchased),
		Sold:            dec(snap.Market.Sold),
		ControlVariable: dec(snap.Terms.ControlVariable),
		Vesting:         snap.Terms.Vesting,
		Conclusion:      snap.Terms.Conclusion,
		MaxDebt:         dec(snap.Terms.MaxDebt),
		FixedTerm:       snap.Terms.FixedTerm,
		DepositInterval: snap.Metadata.DepositInterval,
		TuneInterval:    snap.Metadata.TuneInterval,
		QuoteDecimals:   snap.Metadata.QuoteDecimals,
	}
	if snap.Adjustment.Active {
		v.Adjustment = &adjustmentView{
			Change:         dec(snap.Adjustment.Change),
			LastAdjustment: snap.Adjustment.LastAdjustment,
			TimeToAdjusted: snap.Adjustment.TimeToAdjusted,
		}
	}
	return v
}

// noteView is the JSON read model of one note ledger slot.
type noteView struct {
	Index    uint64 `json:"index"`
	Payout   string `json:"payout"`
	Created  uint64 `json:"created"`
	Matured  uint64 `json:"matured"`
	Redeemed uint64 `json:"redeemed"`
	MarketID uint64 `json:"market_id"`
}

func newNoteView(rec domain.NoteRecord) noteView {
	return noteView{
		Index:    rec.Index,
		Payout:   dec(rec.Note.Payout),
		Created:  rec.Note.Created,
		Matured:  rec.Note.Matured,
		Redeemed: rec.Note.Redeemed,
		MarketID: rec.Note.MarketID,
	}
}
