package depository

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// appendNote adds a note to the owner's ledger and returns its index.
// Indexes are stable for the owner's lifetime; a transferred-out note
// leaves an invalidated slot behind rather than shifting its neighbours.
// Caller holds the write lock.
func (d *Depository) appendNote(owner common.Address, n domain.Note) uint64 {
	index := uint64(len(d.notes[owner]))
	d.notes[owner] = append(d.notes[owner], n)
	return index
}

// PushNote approves a one-time transfer of the owner's note at index to the
// given recipient. The grant replaces any earlier grant for the same slot
// and is consumed by PullNote.
func (d *Depository) PushNote(owner common.Address, index uint64, to common.Address) error {
	if to == (common.Address{}) {
		return fmt.Errorf("depository: zero transfer recipient: %w", domain.ErrInvalidConfiguration)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.noteLocked(owner, index)
	if err != nil {
		return err
	}
	if n.Redeemed != 0 {
		return fmt.Errorf("depository: push note %d of %s: %w", index, owner.Hex(), domain.ErrNoteAlreadyRedeemed)
	}

	d.pending[noteKey{owner, index}] = to
	return nil
}

// PullNote claims a note previously approved via PushNote. The caller must
// match the grant exactly. The note moves to the caller's ledger under a
// new index and the original slot is invalidated.
func (d *Depository) PullNote(caller, owner common.Address, index uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := noteKey{owner, index}
	grant, ok := d.pending[key]
	if !ok || grant != caller {
		return 0, fmt.Errorf("depository: pull note %d of %s by %s: %w",
			index, owner.Hex(), caller.Hex(), domain.ErrTransferNotApproved)
	}

	n, err := d.noteLocked(owner, index)
	if err != nil {
		return 0, err
	}
	if n.Redeemed != 0 {
		return 0, fmt.Errorf("depository: pull note %d of %s: %w", index, owner.Hex(), domain.ErrNoteAlreadyRedeemed)
	}

	delete(d.pending, key)
	newIndex := d.appendNote(caller, domain.Note{
		Payout:   n.Payout.Clone(),
		Created:  n.Created,
		Matured:  n.Matured,
		MarketID: n.MarketID,
	})
	// Invalidate the source slot; the index is never reused.
	d.notes[owner][index].Payout = uint256.NewInt(0)

	d.logger.Info("note transferred",
		slog.String("from", owner.Hex()),
		slog.String("to", caller.Hex()),
		slog.Uint64("from_index", index),
		slog.Uint64("to_index", newIndex),
	)
	return newIndex, nil
}

// IndexesFor returns the indexes of the user's active notes: unredeemed
// slots with a non-zero payout. It is a pure query over current state.
func (d *Depository) IndexesFor(user common.Address) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.indexesLocked(user)
}

func (d *Depository) indexesLocked(user common.Address) []uint64 {
	var indexes []uint64
	for i, n := range d.notes[user] {
		if n.Redeemed == 0 && !n.Payout.IsZero() {
			indexes = append(indexes, uint64(i))
		}
	}
	return indexes
}

// PendingFor reports the payout still owed on one note and whether it is
// currently claimable.
func (d *Depository) PendingFor(user common.Address, index uint64) (*uint256.Int, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.noteLocked(user, index)
	if err != nil {
		return nil, false, err
	}
	if n.Redeemed != 0 || n.Payout.IsZero() {
		return uint256.NewInt(0), false, nil
	}
	return n.Payout.Clone(), n.Matured <= d.now(), nil
}

// NotesFor returns copies of every note slot the user has ever held,
// including redeemed and invalidated ones.
func (d *Depository) NotesFor(user common.Address) []domain.NoteRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ledger := d.notes[user]
	records := make([]domain.NoteRecord, 0, len(ledger))
	for i, n := range ledger {
		c := n
		c.Payout = n.Payout.Clone()
		records = append(records, domain.NoteRecord{Owner: user, Index: uint64(i), Note: c})
	}
	return records
}

// noteLocked fetches a live slot reference. Caller holds either lock.
func (d *Depository) noteLocked(owner common.Address, index uint64) (*domain.Note, error) {
	ledger := d.notes[owner]
	if index >= uint64(len(ledger)) || ledger[index].Payout == nil {
		return nil, fmt.Errorf("depository: note %d of %s: %w", index, owner.Hex(), domain.ErrNoteNotFound)
	}
	if ledger[index].Payout.IsZero() && ledger[index].Redeemed == 0 {
		// Invalidated by a transfer-out.
		return nil, fmt.Errorf("depository: note %d of %s: %w", index, owner.Hex(), domain.ErrNoteNotFound)
	}
	return &ledger[index], nil
}
