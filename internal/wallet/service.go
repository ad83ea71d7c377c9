package wallet

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/congo-pay/wallet-core/internal/ledger"
	"github.com/congo-pay/wallet-core/internal/money"
	"github.com/congo-pay/wallet-core/internal/telemetry"
)

const (
	// DefaultLedgerLimit is used when a ledger query names no positive limit.
	DefaultLedgerLimit = 50
	// MaxLedgerLimit caps a single ledger page.
	MaxLedgerLimit = 200

	defaultCurrency = "NOK"
)

// Service is the wallet Account Manager. Every balance mutation locks the
// wallet, applies the change, and records a ledger entry in one transaction.
type Service struct {
	store    Store
	recorder *ledger.Recorder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	defaultCurrency  string
	defaultOwnerType string
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the timestamp source for wallets, reservations and entries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaults sets the currency and owner type applied when a create request omits them.
func WithDefaults(currency, ownerType string) Option {
	return func(s *Service) {
		if currency != "" {
			s.defaultCurrency = strings.ToUpper(currency)
		}
		if ownerType != "" {
			s.defaultOwnerType = strings.ToUpper(ownerType)
		}
	}
}

// NewService builds the Account Manager over store.
func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:            store,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            func() string { return uuid.New().String() },
		defaultCurrency:  defaultCurrency,
		defaultOwnerType: OwnerInvestor,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = ledger.NewRecorder(ledger.WithClock(s.now))
	return s
}

func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := telemetry.StartSpan(ctx, "wallet."+op, attrs...)
	done := observeOp(op)
	return ctx, func(err error) {
		done(err)
		telemetry.End(span, err)
	}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerType string
	OwnerID   string
	Currency  string
}

// Create provisions an empty wallet for an owner/currency pair.
func (s *Service) Create(ctx context.Context, in CreateInput) (_ Wallet, err error) {
	ctx, finish := s.begin(ctx, "Create")
	defer func() { finish(err) }()

	ownerID := strings.TrimSpace(in.OwnerID)
	if ownerID == "" {
		return Wallet{}, ErrOwnerIDRequired
	}
	ownerType := strings.ToUpper(strings.TrimSpace(in.OwnerType))
	if ownerType == "" {
		ownerType = s.defaultOwnerType
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	now := s.now()
	w := Wallet{
		ID:        s.newID(),
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Currency:  currency,
		Available: money.Zero(),
		Reserved:  money.Zero(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, ErrWalletExists) {
			return Wallet{}, ErrWalletExists.
				With("owner_type", ownerType).
				With("owner_id", ownerID).
				With("currency", currency)
		}
		return Wallet{}, err
	}
	s.logger.DebugContext(ctx, "wallet created", "wallet_id", w.ID, "owner_type", ownerType, "currency", currency)
	return w, nil
}

// Get returns the current wallet snapshot.
func (s *Service) Get(ctx context.Context, walletID string) (Wallet, error) {
	return s.store.GetWallet(ctx, walletID)
}

// Ledger returns up to limit entries of the wallet, newest first. limit is
// defaulted when not positive and capped at MaxLedgerLimit.
func (s *Service) Ledger(ctx context.Context, walletID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = DefaultLedgerLimit
	}
	limit = min(limit, MaxLedgerLimit)
	if _, err := s.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, walletID, limit)
}

// CreditInput describes funds arriving from a confirmed payment.
type CreditInput struct {
	WalletID    string
	Amount      money.Amount
	ReferenceID string
	// Currency, when set, must equal the wallet currency.
	Currency string
	// Source is recorded in the entry metadata.
	Source string
	// Event, when set, is marked processed in the same transaction.
	Event *ProcessedEvent
}

// Credit adds funds to the available pool.
func (s *Service) Credit(ctx context.Context, in CreditInput) (_ Wallet, err error) {
	ctx, finish := s.begin(ctx, "Credit",
		attribute.String("wallet.id", in.WalletID),
		attribute.String("amount_ore", in.Amount.String()),
	)
	defer func() { finish(err) }()

	if !in.Amount.IsPositive() || !in.Amount.InRange() {
		return Wallet{}, ErrInvalidAmount.With("amount_ore", in.Amount.String())
	}
	if strings.TrimSpace(in.ReferenceID) == "" {
		return Wallet{}, ErrReferenceIDRequired
	}

	var updated Wallet
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.LockWallet(ctx, in.WalletID)
		if err != nil {
			return err
		}
		rawCurrency := strings.ToUpper(strings.TrimSpace(in.Currency))
		if rawCurrency == "" {
			rawCurrency = w.Currency
		}
		if rawCurrency != w.Currency {
			return ErrCurrencyMismatch.
				With("wallet_currency", w.Currency).
				With("currency", rawCurrency)
		}

		available := w.Available.Add(in.Amount)
		if !available.InRange() {
			return ErrBalanceOutOfRange.
				With("wallet_id", w.ID).
				With("available_ore", w.Available.String())
		}

		now := s.now()
		updated, err = tx.UpdateBalances(ctx, w.ID, available, w.Reserved, now)
		if err != nil {
			return err
		}

		metadata := map[string]string{"rawCurrency": rawCurrency}
		if in.Source != "" {
			metadata["source"] = in.Source
		}
		if _, err := s.recorder.Record(ctx, tx, ledger.Posting{
			WalletID:      w.ID,
			Type:          ledger.EntryCredit,
			Amount:        in.Amount,
			Currency:      w.Currency,
			ReferenceType: ledger.ReferencePayment,
			ReferenceID:   in.ReferenceID,
			Metadata:      metadata,
		}); err != nil {
			return err
		}

		if in.Event != nil {
			ev := *in.Event
			if ev.ProcessedAt.IsZero() {
				ev.ProcessedAt = now
			}
			if err := tx.RecordEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Wallet{}, err
	}
	s.logger.DebugContext(ctx, "wallet credited", "wallet_id", updated.ID, "amount_ore", in.Amount.String(), "reference_id", in.ReferenceID)
	return updated, nil
}

// Reserve moves amount from available to reserved under a new ACTIVE reservation.
func (s *Service) Reserve(ctx context.Context, walletID, campaignID string, amount money.Amount) (_ Movement, err error) {
	ctx, finish := s.begin(ctx, "Reserve",
		attribute.String("wallet.id", walletID),
		attribute.String("campaign.id", campaignID),
		attribute.String("amount_ore", amount.String()),
	)
	defer func() { finish(err) }()

	if strings.TrimSpace(campaignID) == "" {
		return Movement{}, ErrCampaignIDRequired
	}
	if !amount.IsPositive() || !amount.InRange() {
		return Movement{}, ErrInvalidAmount.With("amount_ore", amount.String())
	}

	var out Movement
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.LockWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if w.Available.LessThan(amount) {
			return ErrInsufficientFunds.
				With("wallet_id", w.ID).
				With("available_ore", w.Available.String()).
				With("requested_ore", amount.String())
		}

		now := s.now()
		updated, err := tx.UpdateBalances(ctx, w.ID, w.Available.Sub(amount), w.Reserved.Add(amount), now)
		if err != nil {
			return err
		}
		r := Reservation{
			ID:         s.newID(),
			WalletID:   w.ID,
			CampaignID: campaignID,
			Amount:     amount,
			Status:     StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, tx, ledger.Posting{
			WalletID:      w.ID,
			Type:          ledger.EntryReserve,
			Amount:        amount,
			Currency:      w.Currency,
			ReferenceType: ledger.ReferenceCampaign,
			ReferenceID:   campaignID,
			Metadata:      map[string]string{"reservationId": r.ID},
		}); err != nil {
			return err
		}
		out = Movement{Wallet: updated, Reservation: r}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.logger.DebugContext(ctx, "funds reserved", "wallet_id", walletID, "reservation_id", out.Reservation.ID, "amount_ore", amount.String())
	return out, nil
}

// Release returns an ACTIVE reservation's amount to the available pool.
func (s *Service) Release(ctx context.Context, walletID, reservationID string) (_ Movement, err error) {
	ctx, finish := s.begin(ctx, "Release",
		attribute.String("wallet.id", walletID),
		attribute.String("reservation.id", reservationID),
	)
	defer func() { finish(err) }()
	return s.close(ctx, walletID, reservationID, StatusReleased)
}

// Settle removes an ACTIVE reservation's amount from the wallet permanently.
func (s *Service) Settle(ctx context.Context, walletID, reservationID string) (_ Movement, err error) {
	ctx, finish := s.begin(ctx, "Settle",
		attribute.String("wallet.id", walletID),
		attribute.String("reservation.id", reservationID),
	)
	defer func() { finish(err) }()
	return s.close(ctx, walletID, reservationID, StatusSettled)
}

func (s *Service) close(ctx context.Context, walletID, reservationID string, to Status) (Movement, error) {
	var out Movement
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.LockWallet(ctx, walletID)
		if err != nil {
			return err
		}
		r, err := tx.GetReservation(ctx, reservationID)
		if errors.Is(err, ErrReservationNotFound) || (err == nil && r.WalletID != w.ID) {
			return ErrReservationNotFound.
				With("wallet_id", w.ID).
				With("reservation_id", reservationID)
		}
		if err != nil {
			return err
		}

		now := s.now()
		closed, err := r.transition(to, now)
		if err != nil {
			return err
		}
		if w.Reserved.LessThan(r.Amount) {
			return ErrReservedInconsistent.
				With("wallet_id", w.ID).
				With("reserved_ore", w.Reserved.String()).
				With("amount_ore", r.Amount.String())
		}

		available := w.Available
		entryType := ledger.EntrySettle
		if to == StatusReleased {
			available = available.Add(r.Amount)
			entryType = ledger.EntryRelease
		}
		updated, err := tx.UpdateBalances(ctx, w.ID, available, w.Reserved.Sub(r.Amount), now)
		if err != nil {
			return err
		}
		if err := tx.UpdateReservationStatus(ctx, r.ID, to, now); err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, tx, ledger.Posting{
			WalletID:      w.ID,
			Type:          entryType,
			Amount:        r.Amount,
			Currency:      w.Currency,
			ReferenceType: ledger.ReferenceCampaign,
			ReferenceID:   r.CampaignID,
			Metadata:      map[string]string{"reservationId": r.ID},
		}); err != nil {
			return err
		}
		out = Movement{Wallet: updated, Reservation: closed}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.logger.DebugContext(ctx, "reservation closed", "wallet_id", walletID, "reservation_id", reservationID, "status", string(to))
	return out, nil
}

// ActiveReservations lists the ACTIVE reservations of a campaign without locking.
func (s *Service) ActiveReservations(ctx context.Context, campaignID string) ([]Reservation, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, ErrCampaignIDRequired
	}
	return s.store.ActiveReservations(ctx, campaignID)
}

// ReleaseBatch releases the given reservations of one wallet in a single
// transaction. Reservations that are no longer ACTIVE, or that belong to
// another wallet or campaign, are skipped. The wallet is updated once with the
// cumulative amount.
func (s *Service) ReleaseBatch(ctx context.Context, walletID, campaignID string, reservationIDs []string, reason string) (_ BatchResult, err error) {
	ctx, finish := s.begin(ctx, "ReleaseBatch",
		attribute.String("wallet.id", walletID),
		attribute.String("campaign.id", campaignID),
		attribute.Int("reservations", len(reservationIDs)),
	)
	defer func() { finish(err) }()

	var out BatchResult
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.LockWallet(ctx, walletID)
		if err != nil {
			return err
		}

		now := s.now()
		available, reserved := w.Available, w.Reserved
		released := make([]Reservation, 0, len(reservationIDs))
		for _, id := range reservationIDs {
			r, err := tx.GetReservation(ctx, id)
			if errors.Is(err, ErrReservationNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if r.WalletID != w.ID || r.CampaignID != campaignID || r.Status != StatusActive {
				s.logger.DebugContext(ctx, "skipping reservation", "reservation_id", id, "status", string(r.Status))
				continue
			}
			if reserved.LessThan(r.Amount) {
				return ErrReservedInconsistent.
					With("wallet_id", w.ID).
					With("reserved_ore", reserved.String()).
					With("amount_ore", r.Amount.String())
			}
			closed, err := r.transition(StatusReleased, now)
			if err != nil {
				return err
			}
			available = available.Add(r.Amount)
			reserved = reserved.Sub(r.Amount)

			if err := tx.UpdateReservationStatus(ctx, r.ID, StatusReleased, now); err != nil {
				return err
			}
			metadata := map[string]string{"reservationId": r.ID}
			if reason != "" {
				metadata["reason"] = reason
			}
			if _, err := s.recorder.Record(ctx, tx, ledger.Posting{
				WalletID:      w.ID,
				Type:          ledger.EntryRelease,
				Amount:        r.Amount,
				Currency:      w.Currency,
				ReferenceType: ledger.ReferenceCampaign,
				ReferenceID:   campaignID,
				Metadata:      metadata,
			}); err != nil {
				return err
			}
			released = append(released, closed)
		}

		out = BatchResult{Wallet: w, Released: released}
		if len(released) == 0 {
			return nil
		}
		out.Wallet, err = tx.UpdateBalances(ctx, w.ID, available, reserved, now)
		return err
	})
	if err != nil {
		return BatchResult{}, err
	}
	s.logger.DebugContext(ctx, "reservations released", "wallet_id", walletID, "campaign_id", campaignID, "released", len(out.Released))
	return out, nil
}

// Reconcile replays the wallet's ledger under the wallet lock and compares
// the result with the stored balances.
func (s *Service) Reconcile(ctx context.Context, walletID string) (_ Reconciliation, err error) {
	ctx, finish := s.begin(ctx, "Reconcile", attribute.String("wallet.id", walletID))
	defer func() { finish(err) }()

	var out Reconciliation
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.LockWallet(ctx, walletID)
		if err != nil {
			return err
		}
		entries, err := tx.Entries(ctx, w.ID)
		if err != nil {
			return err
		}
		replayed, err := ledger.Replay(entries)
		if err != nil {
			return err
		}
		stored := w.Balances()
		out = Reconciliation{
			WalletID: w.ID,
			Match:    replayed.Available.Equal(stored.Available) && replayed.Reserved.Equal(stored.Reserved),
			Stored:   stored,
			Replayed: replayed,
			Entries:  len(entries),
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	if !out.Match {
		ReconciliationMismatches.Inc()
		s.logger.WarnContext(ctx, "ledger replay does not match stored balances",
			"wallet_id", walletID,
			"stored_available_ore", out.Stored.Available.String(),
			"stored_reserved_ore", out.Stored.Reserved.String(),
			"replayed_available_ore", out.Replayed.Available.String(),
			"replayed_reserved_ore", out.Replayed.Reserved.String(),
		)
	}
	return out, nil
}
