package ledger

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet-core/internal/money"
)

// Posting describes a balance movement to be recorded.
type Posting struct {
	WalletID      string
	Type          EntryType
	Amount        money.Amount
	Currency      string
	ReferenceType ReferenceType
	ReferenceID   string
	Metadata      map[string]string
}

// Recorder appends entries. It never updates or deletes.
type Recorder struct {
	now   func() time.Time
	newID func() string
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder builds a Recorder assigning UUID identifiers and UTC timestamps.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record validates p and appends it through app, which must be the same
// transaction that applies the balance change.
func (r *Recorder) Record(ctx context.Context, app Appender, p Posting) (Entry, error) {
	if !p.Type.Valid() {
		return Entry{}, ErrUnknownEntryType.With("type", string(p.Type))
	}
	if !p.Amount.IsPositive() {
		return Entry{}, ErrInvalidEntryAmount.With("amount_ore", p.Amount.String())
	}

	entry := Entry{
		ID:            r.newID(),
		WalletID:      p.WalletID,
		Type:          p.Type,
		Amount:        p.Amount,
		Currency:      p.Currency,
		ReferenceType: p.ReferenceType,
		ReferenceID:   p.ReferenceID,
		Metadata:      maps.Clone(p.Metadata),
		CreatedAt:     r.now(),
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]string{}
	}

	if err := app.AppendEntry(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("append %s entry: %w", entry.Type, err)
	}
	return entry, nil
}
