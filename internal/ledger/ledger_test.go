package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/congo-pay/wallet-core/internal/money"
)

type sliceAppender struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (a *sliceAppender) AppendEntry(_ context.Context, e Entry) error {
	if a.err != nil {
		return a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func TestRecorder_AssignsIdentityAndTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(WithClock(func() time.Time { return fixed }))
	app := &sliceAppender{}

	entry, err := rec.Record(context.Background(), app, Posting{
		WalletID:      "w-1",
		Type:          EntryReserve,
		Amount:        money.FromInt64(100),
		Currency:      "NOK",
		ReferenceType: ReferenceCampaign,
		ReferenceID:   "c-1",
		Metadata:      map[string]string{"reservationId": "r-1"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("expected entry id to be assigned")
	}
	if !entry.CreatedAt.Equal(fixed) {
		t.Fatalf("expected createdAt %v, got %v", fixed, entry.CreatedAt)
	}
	if len(app.entries) != 1 || app.entries[0].ID != entry.ID {
		t.Fatalf("expected entry to be appended once, got %+v", app.entries)
	}
	if app.entries[0].Metadata["reservationId"] != "r-1" {
		t.Fatalf("metadata not carried: %+v", app.entries[0].Metadata)
	}
}

func TestRecorder_RejectsInvalidPostings(t *testing.T) {
	rec := NewRecorder()
	app := &sliceAppender{}
	ctx := context.Background()

	if _, err := rec.Record(ctx, app, Posting{Type: EntryCredit, Amount: money.Zero()}); !errors.Is(err, ErrInvalidEntryAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := rec.Record(ctx, app, Posting{Type: EntryCredit, Amount: money.FromInt64(-5)}); !errors.Is(err, ErrInvalidEntryAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := rec.Record(ctx, app, Posting{Type: "REFUND", Amount: money.FromInt64(5)}); !errors.Is(err, ErrUnknownEntryType) {
		t.Fatalf("expected unknown type, got %v", err)
	}
	if len(app.entries) != 0 {
		t.Fatalf("rejected postings must not be appended, got %d", len(app.entries))
	}
}

func TestRecorder_PropagatesAppendFailure(t *testing.T) {
	boom := errors.New("disk full")
	rec := NewRecorder()
	_, err := rec.Record(context.Background(), &sliceAppender{err: boom}, Posting{Type: EntryCredit, Amount: money.FromInt64(1)})
	if !errors.Is(err, boom) {
		t.Fatalf("expected append failure, got %v", err)
	}
}

func TestReplay_ReconstructsBalances(t *testing.T) {
	entries := []Entry{
		{ID: "1", Type: EntryCredit, Amount: money.FromInt64(1_000)},
		{ID: "2", Type: EntryReserve, Amount: money.FromInt64(400)},
		{ID: "3", Type: EntryReserve, Amount: money.FromInt64(300)},
		{ID: "4", Type: EntryRelease, Amount: money.FromInt64(400)},
		{ID: "5", Type: EntrySettle, Amount: money.FromInt64(300)},
		{ID: "6", Type: EntryCredit, Amount: money.FromInt64(50)},
	}

	got, err := Replay(entries)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got.Available.String() != "750" {
		t.Fatalf("expected available 750, got %s", got.Available)
	}
	if got.Reserved.String() != "0" {
		t.Fatalf("expected reserved 0, got %s", got.Reserved)
	}
}

func TestReplay_DetectsNegativePrefix(t *testing.T) {
	entries := []Entry{
		{ID: "1", Type: EntryCredit, Amount: money.FromInt64(100)},
		{ID: "2", Type: EntrySettle, Amount: money.FromInt64(10)},
	}
	_, err := Replay(entries)
	if !errors.Is(err, ErrReplayNegative) {
		t.Fatalf("expected negative replay error, got %v", err)
	}
}

func TestReplay_Empty(t *testing.T) {
	got, err := Replay(nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !got.Available.IsZero() || !got.Reserved.IsZero() {
		t.Fatalf("expected zero balances, got %+v", got)
	}
}
