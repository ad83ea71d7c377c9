package wallet

import (
	"time"

	"github.com/congo-pay/wallet-core/internal/ledger"
	"github.com/congo-pay/wallet-core/internal/money"
)

// OwnerInvestor is the default owner kind.
const OwnerInvestor = "INVESTOR"

// Wallet is the balance record of one owner/currency pair.
type Wallet struct {
	ID        string
	OwnerType string
	OwnerID   string
	Currency  string
	Available money.Amount
	Reserved  money.Amount
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balances returns the wallet's pools.
func (w Wallet) Balances() ledger.Balances {
	return ledger.Balances{Available: w.Available, Reserved: w.Reserved}
}

// Reservation is a hold on available funds for a campaign.
type Reservation struct {
	ID         string
	WalletID   string
	CampaignID string
	Amount     money.Amount
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProcessedEvent marks an external event whose effects have been applied.
type ProcessedEvent struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// Movement is the outcome of an operation that touches one reservation.
type Movement struct {
	Wallet      Wallet
	Reservation Reservation
}

// BatchResult is the outcome of a bulk release against one wallet.
type BatchResult struct {
	Wallet   Wallet
	Released []Reservation
}

// Reconciliation compares stored balances with a replay of the ledger.
type Reconciliation struct {
	WalletID string
	Match    bool
	Stored   ledger.Balances
	Replayed ledger.Balances
	Entries  int
}
