package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-core/internal/apperr"
	"github.com/congo-pay/wallet-core/internal/ledger"
	"github.com/congo-pay/wallet-core/internal/money"
)

var (
	errInvalidBody  = apperr.New(apperr.KindInvalidArgument, "INVALID_BODY", "request body must be a JSON object")
	errInvalidLimit = apperr.New(apperr.KindInvalidArgument, "INVALID_LIMIT", "limit must be an integer")
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	OwnerType string `json:"ownerType"`
	OwnerID   string `json:"ownerId"`
	Currency  string `json:"currency"`
}

type reserveRequest struct {
	CampaignID string        `json:"campaignId"`
	AmountOre  *money.Amount `json:"amountOre"`
}

type walletResponse struct {
	ID           string       `json:"id"`
	OwnerType    string       `json:"ownerType"`
	OwnerID      string       `json:"ownerId"`
	Currency     string       `json:"currency"`
	AvailableOre money.Amount `json:"availableOre"`
	ReservedOre  money.Amount `json:"reservedOre"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

type entryResponse struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	AmountOre     money.Amount      `json:"amountOre"`
	Currency      string            `json:"currency"`
	ReferenceType string            `json:"referenceType"`
	ReferenceID   string            `json:"referenceId"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     time.Time         `json:"createdAt"`
}

type reservationResponse struct {
	ID         string       `json:"id"`
	CampaignID string       `json:"campaignId"`
	AmountOre  money.Amount `json:"amountOre"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

type movementResponse struct {
	WalletID     string              `json:"walletId"`
	Currency     string              `json:"currency"`
	AvailableOre money.Amount        `json:"availableOre"`
	ReservedOre  money.Amount        `json:"reservedOre"`
	Reservation  reservationResponse `json:"reservation"`
}

type balancesResponse struct {
	AvailableOre money.Amount `json:"availableOre"`
	ReservedOre  money.Amount `json:"reservedOre"`
}

type reconciliationResponse struct {
	WalletID string           `json:"walletId"`
	Match    bool             `json:"match"`
	Entries  int              `json:"entries"`
	Stored   balancesResponse `json:"stored"`
	Replayed balancesResponse `json:"replayed"`
}

// Create provisions a wallet for an owner/currency pair.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody.WithCause(err)
	}
	w, err := h.service.Create(c.UserContext(), CreateInput{
		OwnerType: req.OwnerType,
		OwnerID:   req.OwnerID,
		Currency:  req.Currency,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(w))
}

// Get returns the wallet snapshot.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return err
	}
	return c.JSON(toWalletResponse(w))
}

// Ledger returns the most recent ledger entries, newest first.
func (h *Handler) Ledger(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errInvalidLimit.With("limit", raw)
		}
		limit = n
	}
	entries, err := h.service.Ledger(c.UserContext(), c.Params("walletId"), limit)
	if err != nil {
		return err
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return c.JSON(out)
}

// Reserve holds funds for a campaign.
func (h *Handler) Reserve(c *fiber.Ctx) error {
	var req reserveRequest
	if err := c.BodyParser(&req); err != nil {
		if errors.Is(err, money.ErrNotInteger) || errors.Is(err, money.ErrOutOfRange) {
			return ErrInvalidAmount.WithCause(err)
		}
		return errInvalidBody.WithCause(err)
	}
	if req.CampaignID == "" {
		return ErrCampaignIDRequired
	}
	if req.AmountOre == nil {
		return ErrAmountRequired
	}
	m, err := h.service.Reserve(c.UserContext(), c.Params("walletId"), req.CampaignID, *req.AmountOre)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toMovementResponse(m))
}

// Release returns a reservation to the available pool.
func (h *Handler) Release(c *fiber.Ctx) error {
	m, err := h.service.Release(c.UserContext(), c.Params("walletId"), c.Params("reservationId"))
	if err != nil {
		return err
	}
	return c.JSON(toMovementResponse(m))
}

// Settle removes a reservation's funds from the wallet.
func (h *Handler) Settle(c *fiber.Ctx) error {
	m, err := h.service.Settle(c.UserContext(), c.Params("walletId"), c.Params("reservationId"))
	if err != nil {
		return err
	}
	return c.JSON(toMovementResponse(m))
}

// Reconcile compares stored balances with a ledger replay.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	r, err := h.service.Reconcile(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return err
	}
	return c.JSON(reconciliationResponse{
		WalletID: r.WalletID,
		Match:    r.Match,
		Entries:  r.Entries,
		Stored:   toBalancesResponse(r.Stored),
		Replayed: toBalancesResponse(r.Replayed),
	})
}

func toWalletResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:           w.ID,
		OwnerType:    w.OwnerType,
		OwnerID:      w.OwnerID,
		Currency:     w.Currency,
		AvailableOre: w.Available,
		ReservedOre:  w.Reserved,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

func toEntryResponse(e ledger.Entry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		Type:          string(e.Type),
		AmountOre:     e.Amount,
		Currency:      e.Currency,
		ReferenceType: string(e.ReferenceType),
		ReferenceID:   e.ReferenceID,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
	}
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		WalletID:     m.Wallet.ID,
		Currency:     m.Wallet.Currency,
		AvailableOre: m.Wallet.Available,
		ReservedOre:  m.Wallet.Reserved,
		Reservation: reservationResponse{
			ID:         m.Reservation.ID,
			CampaignID: m.Reservation.CampaignID,
			AmountOre:  m.Reservation.Amount,
			Status:     string(m.Reservation.Status),
			CreatedAt:  m.Reservation.CreatedAt,
			UpdatedAt:  m.Reservation.UpdatedAt,
		},
	}
}

func toBalancesResponse(b ledger.Balances) balancesResponse {
	return balancesResponse{AvailableOre: b.Available, ReservedOre: b.Reserved}
}
