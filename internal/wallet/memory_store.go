package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/congo-pay/wallet-core/internal/ledger"
	"github.com/congo-pay/wallet-core/internal/money"
)

type ownerKey struct {
	ownerType string
	ownerID   string
	currency  string
}

// memoryStore keeps state in maps and serialises mutations per wallet with a
// one-slot semaphore held for the whole transaction. Writes are staged on the
// transaction and applied on commit.
type memoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	owners       map[ownerKey]string
	reservations map[string]Reservation
	entries      map[string][]ledger.Entry
	events       map[string]ProcessedEvent

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// NewMemoryStore constructs an in-process store for tests and local development.
func NewMemoryStore() Store {
	return &memoryStore{
		wallets:      make(map[string]Wallet),
		owners:       make(map[ownerKey]string),
		reservations: make(map[string]Reservation),
		entries:      make(map[string][]ledger.Entry),
		events:       make(map[string]ProcessedEvent),
		locks:        make(map[string]chan struct{}),
	}
}

func (s *memoryStore) CreateWallet(_ context.Context, w Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerKey{ownerType: w.OwnerType, ownerID: w.OwnerID, currency: w.Currency}
	if _, exists := s.owners[key]; exists {
		return ErrWalletExists
	}
	if _, exists := s.wallets[w.ID]; exists {
		return fmt.Errorf("wallet id %s already used", w.ID)
	}
	s.wallets[w.ID] = w
	s.owners[key] = w.ID
	return nil
}

func (s *memoryStore) GetWallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *memoryStore) ListEntries(_ context.Context, walletID string, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.entries[walletID]
	out := make([]ledger.Entry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *memoryStore) ActiveReservations(_ context.Context, campaignID string) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reservation
	for _, r := range s.reservations {
		if r.CampaignID == campaignID && r.Status == StatusActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryStore) EventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *memoryStore) RecordEvent(_ context.Context, ev ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.EventID]; ok {
		return ErrEventAlreadyProcessed
	}
	s.events[ev.EventID] = ev
	return nil
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{
		store:        s,
		held:         make(map[string]chan struct{}),
		wallets:      make(map[string]Wallet),
		reservations: make(map[string]Reservation),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *memoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range tx.events {
		if _, ok := s.events[ev.EventID]; ok {
			return ErrEventAlreadyProcessed
		}
	}
	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for id, r := range tx.reservations {
		s.reservations[id] = r
	}
	for _, e := range tx.entries {
		s.entries[e.WalletID] = append(s.entries[e.WalletID], e)
	}
	for _, ev := range tx.events {
		s.events[ev.EventID] = ev
	}
	return nil
}

func (s *memoryStore) semaphore(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.locks[id]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[id] = sem
	}
	return sem
}

type memoryTx struct {
	store *memoryStore
	held  map[string]chan struct{}

	wallets      map[string]Wallet
	reservations map[string]Reservation
	entries      []ledger.Entry
	events       []ProcessedEvent
}

func (tx *memoryTx) release() {
	for _, sem := range tx.held {
		<-sem
	}
}

func (tx *memoryTx) LockWallet(ctx context.Context, id string) (Wallet, error) {
	if _, ok := tx.held[id]; !ok {
		sem := tx.store.semaphore(id)
		select {
		case sem <- struct{}{}:
			tx.held[id] = sem
		case <-ctx.Done():
			return Wallet{}, ErrStoreContention.WithCause(ctx.Err())
		}
	}
	if w, ok := tx.wallets[id]; ok {
		return w, nil
	}
	return tx.store.GetWallet(ctx, id)
}

func (tx *memoryTx) UpdateBalances(ctx context.Context, id string, available, reserved money.Amount, now time.Time) (Wallet, error) {
	if _, ok := tx.held[id]; !ok {
		return Wallet{}, fmt.Errorf("update wallet %s: lock not held", id)
	}
	if available.IsNegative() || reserved.IsNegative() {
		return Wallet{}, fmt.Errorf("update wallet %s: balances must be non-negative (available %s, reserved %s)", id, available, reserved)
	}
	w, err := tx.LockWallet(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	w.Available = available
	w.Reserved = reserved
	w.UpdatedAt = now
	tx.wallets[id] = w
	return w, nil
}

func (tx *memoryTx) GetReservation(_ context.Context, id string) (Reservation, error) {
	if r, ok := tx.reservations[id]; ok {
		return r, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	r, ok := tx.store.reservations[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return r, nil
}

func (tx *memoryTx) InsertReservation(_ context.Context, r Reservation) error {
	if _, ok := tx.held[r.WalletID]; !ok {
		return fmt.Errorf("insert reservation for wallet %s: lock not held", r.WalletID)
	}
	tx.reservations[r.ID] = r
	return nil
}

func (tx *memoryTx) UpdateReservationStatus(ctx context.Context, id string, status Status, now time.Time) error {
	r, err := tx.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := tx.held[r.WalletID]; !ok {
		return fmt.Errorf("update reservation %s: wallet lock not held", id)
	}
	r.Status = status
	r.UpdatedAt = now
	tx.reservations[id] = r
	return nil
}

func (tx *memoryTx) AppendEntry(_ context.Context, e ledger.Entry) error {
	tx.entries = append(tx.entries, e)
	return nil
}

func (tx *memoryTx) Entries(_ context.Context, walletID string) ([]ledger.Entry, error) {
	tx.store.mu.RLock()
	out := append([]ledger.Entry(nil), tx.store.entries[walletID]...)
	tx.store.mu.RUnlock()
	for _, e := range tx.entries {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (tx *memoryTx) RecordEvent(_ context.Context, ev ProcessedEvent) error {
	for _, staged := range tx.events {
		if staged.EventID == ev.EventID {
			return ErrEventAlreadyProcessed
		}
	}
	tx.store.mu.RLock()
	_, exists := tx.store.events[ev.EventID]
	tx.store.mu.RUnlock()
	if exists {
		return ErrEventAlreadyProcessed
	}
	tx.events = append(tx.events, ev)
	return nil
}
