// Package ledger records the append-only audit trail of wallet balance
// movements and reconstructs balances from it.
package ledger

import (
	"context"
	"time"

	"github.com/congo-pay/wallet-core/internal/apperr"
	"github.com/congo-pay/wallet-core/internal/money"
)

// EntryType names the balance movement an entry documents.
type EntryType string

const (
	// EntryCredit adds funds to the available pool.
	EntryCredit EntryType = "CREDIT"
	// EntryReserve moves funds from available to reserved.
	EntryReserve EntryType = "RESERVE"
	// EntryRelease moves funds from reserved back to available.
	EntryRelease EntryType = "RELEASE"
	// EntrySettle removes funds from the reserved pool.
	EntrySettle EntryType = "SETTLE"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryCredit, EntryReserve, EntryRelease, EntrySettle:
		return true
	}
	return false
}

// ReferenceType names what an entry's ReferenceID points at.
type ReferenceType string

const (
	ReferenceCampaign ReferenceType = "CAMPAIGN"
	ReferencePayment  ReferenceType = "PAYMENT"
)

var (
	// ErrInvalidEntryAmount rejects non-positive entry amounts; the sign comes from the type.
	ErrInvalidEntryAmount = apperr.New(apperr.KindInvalidArgument, "LEDGER_INVALID_AMOUNT", "ledger entry amount must be positive")

	// ErrUnknownEntryType rejects entry types outside the four movements.
	ErrUnknownEntryType = apperr.New(apperr.KindInvalidArgument, "LEDGER_UNKNOWN_TYPE", "unknown ledger entry type")

	// ErrReplayNegative indicates entries that drive a pool below zero when replayed.
	ErrReplayNegative = apperr.New(apperr.KindConflict, "LEDGER_REPLAY_NEGATIVE", "ledger replay produced a negative balance")
)

// Entry is one immutable balance movement.
type Entry struct {
	ID            string
	WalletID      string
	Type          EntryType
	Amount        money.Amount
	Currency      string
	ReferenceType ReferenceType
	ReferenceID   string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// Appender persists entries inside the caller's transaction.
type Appender interface {
	AppendEntry(ctx context.Context, entry Entry) error
}
