package wallet

import (
	"context"
	"time"

	"github.com/congo-pay/wallet-core/internal/ledger"
	"github.com/congo-pay/wallet-core/internal/money"
)

// Store persists wallets, reservations, ledger entries and event markers.
// Balance mutations only happen inside WithTx.
type Store interface {
	// CreateWallet inserts w, returning ErrWalletExists on an owner/currency clash.
	CreateWallet(ctx context.Context, w Wallet) error
	GetWallet(ctx context.Context, id string) (Wallet, error)
	// ListEntries returns up to limit entries for the wallet, newest first.
	ListEntries(ctx context.Context, walletID string, limit int) ([]ledger.Entry, error)
	// ActiveReservations returns the ACTIVE reservations of a campaign, oldest first.
	ActiveReservations(ctx context.Context, campaignID string) ([]Reservation, error)
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	// RecordEvent stores a marker, returning ErrEventAlreadyProcessed if one exists.
	RecordEvent(ctx context.Context, ev ProcessedEvent) error
	// WithTx runs fn in one atomic transaction. Any error from fn rolls back
	// every write fn made.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface available inside a transaction.
type Tx interface {
	ledger.Appender

	// LockWallet takes the exclusive wallet lock, held until the transaction
	// ends, and returns the locked row.
	LockWallet(ctx context.Context, id string) (Wallet, error)
	UpdateBalances(ctx context.Context, id string, available, reserved money.Amount, now time.Time) (Wallet, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	InsertReservation(ctx context.Context, r Reservation) error
	UpdateReservationStatus(ctx context.Context, id string, status Status, now time.Time) error
	// Entries returns all ledger entries of the wallet, oldest first.
	Entries(ctx context.Context, walletID string) ([]ledger.Entry, error)
	RecordEvent(ctx context.Context, ev ProcessedEvent) error
}
