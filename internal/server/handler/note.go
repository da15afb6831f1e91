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

// NoteService defines the mutating note operations the handler requires from
// the service layer.
type NoteService interface {
	Redeem(ctx context.Context, user common.Address, indexes []uint64) (*uint256.Int, error)
	RedeemAll(ctx context.Context, user common.Address) (*uint256.Int, error)
	PushNote(ctx context.Context, owner common.Address, index uint64, to common.Address) error
	PullNote(ctx context.Context, caller, owner common.Address, index uint64) (uint64, error)
}

// NoteQueries defines the read-only note ledger queries served from the
// engine.
type NoteQueries interface {
	NotesFor(user common.Address) []domain.NoteRecord
	IndexesFor(user common.Address) []uint64
	PendingFor(user common.Address, index uint64) (*uint256.Int, bool, error)
}

// NoteHandler serves the note ledger endpoints.
type NoteHandler struct {
	notes   NoteService
	queries NoteQueries
	logger  *slog.Logger
}

// NewNoteHandler creates a NoteHandler.
func NewNoteHandler(notes NoteService, queries NoteQueries, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{
		notes:   notes,
		queries: queries,
		logger:  logger,
	}
}

func ownerFromPath(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	owner, ok := parseAddr(r.PathValue("owner"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return common.Address{}, false
	}
	return owner, true
}

// ListNotes returns every note slot of one owner, including invalidated
// transfer-out slots.
// GET /api/notes/{owner}
func (h *NoteHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromPath(w, r)
	if !ok {
		return
	}

	recs := h.queries.NotesFor(owner)
	views := make([]noteView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newNoteView(rec))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner.Hex(),
		"notes":   views,
		"indexes": h.queries.IndexesFor(owner),
	})
}

// GetPending reports the claimable payout of one note.
// GET /api/notes/{owner}/{index}/pending
func (h *NoteHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	index, ok := pathID(r, "index")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid note index")
		return
	}

	payout, matured, err := h.queries.PendingFor(owner, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner.Hex(),
		"index":   index,
		"payout":  payout.Dec(),
		"matured": matured,
	})
}

// redeemRequest selects the note slots to redeem. An empty or absent list
// redeems every matured note the owner holds.
type redeemRequest struct {
	Indexes []uint64 `json:"indexes,omitempty"`
}

// Redeem pays out matured notes.
// POST /api/notes/{owner}/redeem
func (h *NoteHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromPath(w, r)
	if !ok {
		return
	}

	var req redeemRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var (
		total *uint256.Int
		err   error
	)
	if len(req.Indexes) == 0 {
		total, err = h.notes.RedeemAll(r.Context(), owner)
	} else {
		total, err = h.notes.Redeem(r.Context(), owner, req.Indexes)
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: redeem failed",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":  owner.Hex(),
		"payout": total.Dec(),
	})
}

// transferRequest names the counterparty of a note transfer.
type transferRequest struct {
	To string `json:"to"`
}

// PushNote grants a one-shot transfer approval on a note.
// POST /api/notes/{owner}/{index}/push
func (h *NoteHandler) PushNote(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	index, ok := pathID(r, "index")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid note index")
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	to, ok := parseAddr(req.To)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid recipient address")
		return
	}

	if err := h.notes.PushNote(r.Context(), owner, index, to); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pullRequest names the claiming party of an approved note transfer.
type pullRequest struct {
	Caller string `json:"caller"`
}

// PullNote claims a previously approved note transfer. The note moves to a
// fresh slot in the caller's ledger.
// POST /api/notes/{owner}/{index}/pull
func (h *NoteHandler) PullNote(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	index, ok := pathID(r, "index")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid note index")
		return
	}

	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := parseAddr(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	newIndex, err := h.notes.PullNote(r.Context(), caller, owner, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     caller.Hex(),
		"new_index": newIndex,
	})
}
