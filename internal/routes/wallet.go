package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-core/internal/wallet"
)

// RegisterWalletRoutes wires wallet, ledger and reservation endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId", h.Get)
	r.Get("/wallets/:walletId/ledger", h.Ledger)
	r.Get("/wallets/:walletId/reconciliation", h.Reconcile)
	r.Post("/wallets/:walletId/reservations", h.Reserve)
	r.Post("/wallets/:walletId/reservations/:reservationId/release", h.Release)
	r.Post("/wallets/:walletId/reservations/:reservationId/settle", h.Settle)
}
