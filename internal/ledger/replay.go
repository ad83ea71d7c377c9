package ledger

import (
	"strconv"

	"github.com/congo-pay/wallet-core/internal/money"
)

// Balances is the pair of pools a wallet holds.
type Balances struct {
	Available money.Amount
	Reserved  money.Amount
}

// Apply returns the balances after entry e.
func (b Balances) Apply(e Entry) Balances {
	switch e.Type {
	case EntryCredit:
		b.Available = b.Available.Add(e.Amount)
	case EntryReserve:
		b.Available = b.Available.Sub(e.Amount)
		b.Reserved = b.Reserved.Add(e.Amount)
	case EntryRelease:
		b.Available = b.Available.Add(e.Amount)
		b.Reserved = b.Reserved.Sub(e.Amount)
	case EntrySettle:
		b.Reserved = b.Reserved.Sub(e.Amount)
	}
	return b
}

// Replay folds entries, oldest first, into balances. It fails on the first
// entry that leaves either pool negative or carries an unknown type.
func Replay(entries []Entry) (Balances, error) {
	var b Balances
	for i, e := range entries {
		if !e.Type.Valid() {
			return Balances{}, ErrUnknownEntryType.With("type", string(e.Type)).With("entry_id", e.ID)
		}
		b = b.Apply(e)
		if b.Available.IsNegative() || b.Reserved.IsNegative() {
			return b, ErrReplayNegative.
				With("entry_id", e.ID).
				With("position", strconv.Itoa(i)).
				With("available_ore", b.Available.String()).
				With("reserved_ore", b.Reserved.String())
		}
	}
	return b, nil
}
