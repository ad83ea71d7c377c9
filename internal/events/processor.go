// Package events turns external domain events into wallet mutations, applying
// each event at most once.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/congo-pay/wallet-core/internal/apperr"
	"github.com/congo-pay/wallet-core/internal/money"
	"github.com/congo-pay/wallet-core/internal/notification"
	"github.com/congo-pay/wallet-core/internal/telemetry"
	"github.com/congo-pay/wallet-core/internal/wallet"
)

// Event types understood by the processor.
const (
	TypePaymentReceived      = "PaymentReceived"
	TypeCampaignFailed       = "CampaignFailed"
	TypeDisbursementExecuted = "DisbursementExecuted"
)

// Status is the outcome reported for an accepted event.
type Status string

const (
	StatusProcessed        Status = "PROCESSED"
	StatusIgnoredDuplicate Status = "IGNORED_DUPLICATE"
)

var (
	// ErrEventIdentityRequired occurs when an event has no eventId or type.
	ErrEventIdentityRequired = apperr.New(apperr.KindInvalidArgument, "EVENT_IDENTITY_REQUIRED", "eventId and type are required")

	// ErrInvalidPayload occurs when event data is missing required fields or is malformed.
	ErrInvalidPayload = apperr.New(apperr.KindInvalidArgument, "INVALID_EVENT_PAYLOAD", "invalid event data")

	// ErrUnsupportedEvent occurs for recognised events this service does not apply.
	ErrUnsupportedEvent = apperr.New(apperr.KindInvalidArgument, "UNSUPPORTED_EVENT", "event type is not supported")

	// ErrUnknownEventType occurs for unrecognised event types.
	ErrUnknownEventType = apperr.New(apperr.KindUnknown, "UNKNOWN_EVENT_TYPE", "Unknown event type")
)

// Event is the envelope shared by the HTTP and queue intake paths.
type Event struct {
	EventID string          `json:"eventId"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Result reports what happened to an event.
type Result struct {
	Status  Status `json:"status"`
	EventID string `json:"eventId"`
}

// Accounts is the slice of the Account Manager the processor drives.
type Accounts interface {
	Credit(ctx context.Context, in wallet.CreditInput) (wallet.Wallet, error)
	ActiveReservations(ctx context.Context, campaignID string) ([]wallet.Reservation, error)
	ReleaseBatch(ctx context.Context, walletID, campaignID string, reservationIDs []string, reason string) (wallet.BatchResult, error)
}

// Markers stores processed-event markers.
type Markers interface {
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	RecordEvent(ctx context.Context, ev wallet.ProcessedEvent) error
}

type paymentReceived struct {
	WalletID    string        `json:"walletId"`
	AmountOre   *money.Amount `json:"amountOre"`
	ReferenceID string        `json:"referenceId"`
	Currency    string        `json:"currency"`
}

type campaignFailed struct {
	CampaignID string `json:"campaignId"`
}

// Processor dedupes events by id and dispatches them to the Account Manager.
type Processor struct {
	accounts Accounts
	markers  Markers
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor builds a Processor. notifier may be nil.
func NewProcessor(accounts Accounts, markers Markers, notifier notification.Notifier, logger *slog.Logger) *Processor {
	return &Processor{
		accounts: accounts,
		markers:  markers,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process applies ev unless its marker already exists.
func (p *Processor) Process(ctx context.Context, ev Event) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "events.Process",
		attribute.String("event.id", ev.EventID),
		attribute.String("event.type", ev.Type),
	)
	defer func() {
		observeEvent(ev.Type, res.Status, err)
		telemetry.End(span, err)
	}()

	if strings.TrimSpace(ev.EventID) == "" || strings.TrimSpace(ev.Type) == "" {
		return Result{}, ErrEventIdentityRequired
	}

	done, err := p.markers.EventProcessed(ctx, ev.EventID)
	if err != nil {
		return Result{}, err
	}
	if done {
		p.logger.InfoContext(ctx, "duplicate event ignored", "event_id", ev.EventID, "type", ev.Type)
		return duplicate(ev), nil
	}

	switch ev.Type {
	case TypePaymentReceived:
		res, err = p.paymentReceived(ctx, ev)
	case TypeCampaignFailed:
		res, err = p.campaignFailed(ctx, ev)
	case TypeDisbursementExecuted:
		return Result{}, ErrUnsupportedEvent.
			WithMessage(fmt.Sprintf("%s events are not supported", ev.Type)).
			With("type", ev.Type)
	default:
		return Result{}, ErrUnknownEventType.
			WithMessage(fmt.Sprintf("Unknown event type: %s", ev.Type)).
			With("type", ev.Type)
	}
	if err != nil {
		return Result{}, err
	}
	p.logger.InfoContext(ctx, "event handled", "event_id", ev.EventID, "type", ev.Type, "status", string(res.Status))
	return res, nil
}

func (p *Processor) paymentReceived(ctx context.Context, ev Event) (Result, error) {
	var data paymentReceived
	if err := decode(ev, &data); err != nil {
		return Result{}, err
	}
	if data.WalletID == "" || data.AmountOre == nil || data.ReferenceID == "" {
		return Result{}, ErrInvalidPayload.
			WithMessage("PaymentReceived requires walletId, amountOre, referenceId").
			With("type", ev.Type)
	}

	w, err := p.accounts.Credit(ctx, wallet.CreditInput{
		WalletID:    data.WalletID,
		Amount:      *data.AmountOre,
		ReferenceID: data.ReferenceID,
		Currency:    data.Currency,
		Source:      TypePaymentReceived,
		Event:       &wallet.ProcessedEvent{EventID: ev.EventID, EventType: ev.Type, ProcessedAt: p.now()},
	})
	if errors.Is(err, wallet.ErrEventAlreadyProcessed) {
		p.logger.InfoContext(ctx, "concurrent duplicate event ignored", "event_id", ev.EventID)
		return duplicate(ev), nil
	}
	if err != nil {
		return Result{}, err
	}

	p.notify(ctx, notification.Message{
		Kind:        notification.KindPaymentCredited,
		Destination: w.ID,
		Body:        fmt.Sprintf("%s %s credited", data.AmountOre, w.Currency),
		Attributes:  map[string]string{"reference_id": data.ReferenceID, "event_id": ev.EventID},
	})
	return Result{Status: StatusProcessed, EventID: ev.EventID}, nil
}

// campaignFailed releases every ACTIVE reservation of the campaign, one
// transaction per wallet in wallet id order. The marker is recorded only after
// every wallet succeeded, so a failed run is safe to redeliver: reservations
// already released are skipped by ReleaseBatch.
func (p *Processor) campaignFailed(ctx context.Context, ev Event) (Result, error) {
	var data campaignFailed
	if err := decode(ev, &data); err != nil {
		return Result{}, err
	}
	if data.CampaignID == "" {
		return Result{}, ErrInvalidPayload.
			WithMessage("CampaignFailed requires campaignId").
			With("type", ev.Type)
	}

	active, err := p.accounts.ActiveReservations(ctx, data.CampaignID)
	if err != nil {
		return Result{}, err
	}

	byWallet := make(map[string][]string)
	for _, r := range active {
		byWallet[r.WalletID] = append(byWallet[r.WalletID], r.ID)
	}
	walletIDs := make([]string, 0, len(byWallet))
	for id := range byWallet {
		walletIDs = append(walletIDs, id)
	}
	sort.Strings(walletIDs)

	for _, walletID := range walletIDs {
		batch, err := p.accounts.ReleaseBatch(ctx, walletID, data.CampaignID, byWallet[walletID], TypeCampaignFailed)
		if errors.Is(err, wallet.ErrWalletNotFound) {
			p.logger.WarnContext(ctx, "wallet vanished during campaign release", "wallet_id", walletID, "campaign_id", data.CampaignID)
			continue
		}
		if err != nil {
			return Result{}, err
		}
		if len(batch.Released) == 0 {
			continue
		}
		released := money.Zero()
		for _, r := range batch.Released {
			released = released.Add(r.Amount)
		}
		p.notify(ctx, notification.Message{
			Kind:        notification.KindFundsReleased,
			Destination: walletID,
			Body:        fmt.Sprintf("%s %s released", released, batch.Wallet.Currency),
			Attributes:  map[string]string{"campaign_id": data.CampaignID, "event_id": ev.EventID},
		})
	}

	err = p.markers.RecordEvent(ctx, wallet.ProcessedEvent{EventID: ev.EventID, EventType: ev.Type, ProcessedAt: p.now()})
	if errors.Is(err, wallet.ErrEventAlreadyProcessed) {
		return duplicate(ev), nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusProcessed, EventID: ev.EventID}, nil
}

func (p *Processor) notify(ctx context.Context, msg notification.Message) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Send(ctx, msg); err != nil {
		p.logger.WarnContext(ctx, "notification failed", "kind", msg.Kind, "destination", msg.Destination, "error", err)
	}
}

func decode(ev Event, into any) error {
	if len(ev.Data) == 0 || string(ev.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(ev.Data, into); err != nil {
		return ErrInvalidPayload.WithCause(err).With("type", ev.Type)
	}
	return nil
}

func duplicate(ev Event) Result {
	return Result{Status: StatusIgnoredDuplicate, EventID: ev.EventID}
}
