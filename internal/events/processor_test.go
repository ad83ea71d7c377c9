package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet-core/internal/apperr"
	"github.com/congo-pay/wallet-core/internal/ledger"
	"github.com/congo-pay/wallet-core/internal/logging"
	"github.com/congo-pay/wallet-core/internal/money"
	"github.com/congo-pay/wallet-core/internal/notification"
	"github.com/congo-pay/wallet-core/internal/wallet"
)

type fixture struct {
	store     wallet.Store
	wallets   *wallet.Service
	processor *Processor
	notes     *notification.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := wallet.NewMemoryStore()
	svc := wallet.NewService(store, logging.Discard())
	notes := &notification.Recorder{}
	return fixture{
		store:     store,
		wallets:   svc,
		processor: NewProcessor(svc, store, notes, logging.Discard()),
		notes:     notes,
	}
}

func (f fixture) wallet(t *testing.T) wallet.Wallet {
	t.Helper()
	w, err := f.wallets.Create(context.Background(), wallet.CreateInput{OwnerID: uuid.NewString()})
	require.NoError(t, err)
	return w
}

func (f fixture) balances(t *testing.T, id string) (string, string) {
	t.Helper()
	w, err := f.wallets.Get(context.Background(), id)
	require.NoError(t, err)
	return w.Available.String(), w.Reserved.String()
}

func event(t *testing.T, id, typ string, data any) Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Event{EventID: id, Type: typ, Data: raw}
}

func payment(t *testing.T, eventID, walletID, amount string) Event {
	return event(t, eventID, TypePaymentReceived, map[string]any{
		"walletId": walletID, "amountOre": amount, "referenceId": "P-" + eventID,
	})
}

func TestProcessPaymentReceivedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)

	ev := payment(t, "E1", w.ID, "100")
	res, err := f.processor.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusProcessed, EventID: "E1"}, res)

	res, err = f.processor.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusIgnoredDuplicate, EventID: "E1"}, res)

	available, reserved := f.balances(t, w.ID)
	assert.Equal(t, "100", available)
	assert.Equal(t, "0", reserved)

	entries, err := f.wallets.Ledger(ctx, w.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryCredit, entries[0].Type)
	assert.Equal(t, ledger.ReferencePayment, entries[0].ReferenceType)
	assert.Equal(t, "P-E1", entries[0].ReferenceID)
	assert.Equal(t, TypePaymentReceived, entries[0].Metadata["source"])
	assert.Equal(t, "NOK", entries[0].Metadata["rawCurrency"])

	msgs := f.notes.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.KindPaymentCredited, msgs[0].Kind)
	assert.Equal(t, w.ID, msgs[0].Destination)
}

func TestProcessPaymentReceivedConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)
	ev := payment(t, "E-race", w.ID, "25")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[Status]int{}
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.processor.Process(ctx, ev)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			statuses[res.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, statuses[StatusProcessed])
	assert.Equal(t, 7, statuses[StatusIgnoredDuplicate])
	available, _ := f.balances(t, w.ID)
	assert.Equal(t, "25", available)
}

func TestProcessPaymentReceivedValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)

	cases := []struct {
		name string
		ev   Event
		kind apperr.Kind
	}{
		{"missing event id", Event{Type: TypePaymentReceived}, apperr.KindInvalidArgument},
		{"missing type", Event{EventID: "E"}, apperr.KindInvalidArgument},
		{"missing fields", event(t, "E2", TypePaymentReceived, map[string]any{"walletId": w.ID}), apperr.KindInvalidArgument},
		{"fractional amount", event(t, "E3", TypePaymentReceived, map[string]any{"walletId": w.ID, "amountOre": "1.5", "referenceId": "P"}), apperr.KindInvalidArgument},
		{"exponent amount", payment(t, "E3a", w.ID, "1e2"), apperr.KindInvalidArgument},
		{"huge exponent amount", payment(t, "E3b", w.ID, "1e20000000"), apperr.KindInvalidArgument},
		{"amount beyond column range", payment(t, "E3c", w.ID, "1"+strings.Repeat("0", money.MaxDigits)), apperr.KindInvalidArgument},
		{"zero amount", payment(t, "E4", w.ID, "0"), apperr.KindInvalidArgument},
		{"currency mismatch", event(t, "E5", TypePaymentReceived, map[string]any{"walletId": w.ID, "amountOre": "1", "referenceId": "P", "currency": "EUR"}), apperr.KindInvalidArgument},
		{"unknown wallet", payment(t, "E6", uuid.NewString(), "1"), apperr.KindNotFound},
		{"malformed data", Event{EventID: "E7", Type: TypePaymentReceived, Data: json.RawMessage(`[1,2]`)}, apperr.KindInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.processor.Process(ctx, tc.ev)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
			if tc.ev.EventID != "" {
				done, err := f.store.EventProcessed(ctx, tc.ev.EventID)
				require.NoError(t, err)
				assert.False(t, done, "failed events must not be marked")
			}
		})
	}

	available, _ := f.balances(t, w.ID)
	assert.Equal(t, "0", available)
}

func TestProcessCampaignFailedReleasesAcrossWallets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.wallet(t)
	b := f.wallet(t)

	_, err := f.processor.Process(ctx, payment(t, "fund-a", a.ID, "100"))
	require.NoError(t, err)
	_, err = f.processor.Process(ctx, payment(t, "fund-b", b.ID, "100"))
	require.NoError(t, err)

	a1, err := f.wallets.Reserve(ctx, a.ID, "C1", money.FromInt64(30))
	require.NoError(t, err)
	a2, err := f.wallets.Reserve(ctx, a.ID, "C1", money.FromInt64(20))
	require.NoError(t, err)
	b1, err := f.wallets.Reserve(ctx, b.ID, "C1", money.FromInt64(45))
	require.NoError(t, err)
	_, err = f.wallets.Reserve(ctx, b.ID, "C2", money.FromInt64(5))
	require.NoError(t, err)

	res, err := f.processor.Process(ctx, event(t, "fail-C1", TypeCampaignFailed, map[string]any{"campaignId": "C1"}))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)

	available, reserved := f.balances(t, a.ID)
	assert.Equal(t, "100", available)
	assert.Equal(t, "0", reserved)
	available, reserved = f.balances(t, b.ID)
	assert.Equal(t, "95", available)
	assert.Equal(t, "5", reserved)

	remaining, err := f.wallets.ActiveReservations(ctx, "C1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	released := map[string]bool{}
	for _, id := range []string{a.ID, b.ID} {
		entries, err := f.wallets.Ledger(ctx, id, 0)
		require.NoError(t, err)
		for _, e := range entries {
			if e.Type == ledger.EntryRelease {
				assert.Equal(t, "C1", e.ReferenceID)
				assert.Equal(t, TypeCampaignFailed, e.Metadata["reason"])
				assert.False(t, released[e.Metadata["reservationId"]], "one RELEASE entry per reservation")
				released[e.Metadata["reservationId"]] = true
			}
		}
	}
	assert.Equal(t, map[string]bool{a1.Reservation.ID: true, a2.Reservation.ID: true, b1.Reservation.ID: true}, released)

	for _, id := range []string{a.ID, b.ID} {
		rec, err := f.wallets.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Match)
	}

	res, err = f.processor.Process(ctx, event(t, "fail-C1", TypeCampaignFailed, map[string]any{"campaignId": "C1"}))
	require.NoError(t, err)
	assert.Equal(t, StatusIgnoredDuplicate, res.Status)

	var releasedNotes int
	for _, m := range f.notes.Messages() {
		if m.Kind == notification.KindFundsReleased {
			releasedNotes++
		}
	}
	assert.Equal(t, 2, releasedNotes)
}

func TestProcessCampaignFailedWithoutReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.processor.Process(ctx, event(t, "fail-empty", TypeCampaignFailed, map[string]any{"campaignId": "none"}))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)

	done, err := f.store.EventProcessed(ctx, "fail-empty")
	require.NoError(t, err)
	assert.True(t, done)

	_, err = f.processor.Process(ctx, event(t, "fail-bad", TypeCampaignFailed, map[string]any{}))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestProcessRejectsUnsupportedAndUnknownTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, event(t, "D1", TypeDisbursementExecuted, map[string]any{"campaignId": "C"}))
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, err = f.processor.Process(ctx, Event{EventID: "X1", Type: "SomethingElse"})
	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.Equal(t, apperr.KindUnknown, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Unknown event type: SomethingElse")

	for _, id := range []string{"D1", "X1"} {
		done, err := f.store.EventProcessed(ctx, id)
		require.NoError(t, err)
		assert.False(t, done)
	}
}

// vanishingAccounts reports a reservation whose wallet no longer exists.
type vanishingAccounts struct {
	*wallet.Service
	ghost string
}

func (v vanishingAccounts) ActiveReservations(ctx context.Context, campaignID string) ([]wallet.Reservation, error) {
	out, err := v.Service.ActiveReservations(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return append(out, wallet.Reservation{ID: uuid.NewString(), WalletID: v.ghost, CampaignID: campaignID, Status: wallet.StatusActive}), nil
}

func TestProcessCampaignFailedSkipsMissingWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.wallet(t)
	_, err := f.processor.Process(ctx, payment(t, "fund", w.ID, "10"))
	require.NoError(t, err)
	_, err = f.wallets.Reserve(ctx, w.ID, "C", money.FromInt64(10))
	require.NoError(t, err)

	p := NewProcessor(vanishingAccounts{Service: f.wallets, ghost: uuid.NewString()}, f.store, nil, logging.Discard())
	res, err := p.Process(ctx, event(t, "fail-C", TypeCampaignFailed, map[string]any{"campaignId": "C"}))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)

	available, reserved := f.balances(t, w.ID)
	assert.Equal(t, "10", available)
	assert.Equal(t, "0", reserved)
}

// flakyAccounts fails the first ReleaseBatch with a transient error.
type flakyAccounts struct {
	*wallet.Service
	mu    sync.Mutex
	fails int
}

func (f *flakyAccounts) ReleaseBatch(ctx context.Context, walletID, campaignID string, ids []string, reason string) (wallet.BatchResult, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return wallet.BatchResult{}, wallet.ErrStoreContention
	}
	f.mu.Unlock()
	return f.Service.ReleaseBatch(ctx, walletID, campaignID, ids, reason)
}

func TestProcessCampaignFailedIsSafeToRedeliver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.wallet(t)
	b := f.wallet(t)
	for _, w := range []wallet.Wallet{a, b} {
		_, err := f.processor.Process(ctx, payment(t, "fund-"+w.ID, w.ID, "50"))
		require.NoError(t, err)
		_, err = f.wallets.Reserve(ctx, w.ID, "C", money.FromInt64(50))
		require.NoError(t, err)
	}

	flaky := &flakyAccounts{Service: f.wallets, fails: 1}
	p := NewProcessor(flaky, f.store, nil, logging.Discard())
	ev := event(t, "fail-C", TypeCampaignFailed, map[string]any{"campaignId": "C"})

	_, err := p.Process(ctx, ev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, wallet.ErrStoreContention))
	done, err := f.store.EventProcessed(ctx, "fail-C")
	require.NoError(t, err)
	assert.False(t, done)

	res, err := p.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	for _, w := range []wallet.Wallet{a, b} {
		available, reserved := f.balances(t, w.ID)
		assert.Equal(t, "50", available)
		assert.Equal(t, "0", reserved)
	}
}
