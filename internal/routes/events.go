package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-core/internal/events"
)

// RegisterEventRoutes wires the HTTP event intake.
func RegisterEventRoutes(r fiber.Router, h *events.Handler) {
	r.Post("/events", h.Receive)
}
