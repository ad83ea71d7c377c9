package events

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-core/internal/apperr"
)

var errInvalidBody = apperr.New(apperr.KindInvalidArgument, "INVALID_BODY", "request body must be a JSON object")

// Handler exposes the HTTP event intake.
type Handler struct {
	processor *Processor
}

// NewHandler builds an events HTTP handler.
func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

// Receive processes one event envelope and reports its outcome.
func (h *Handler) Receive(c *fiber.Ctx) error {
	var ev Event
	if err := c.BodyParser(&ev); err != nil {
		return errInvalidBody.WithCause(err)
	}
	res, err := h.processor.Process(c.UserContext(), ev)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(res)
}
