package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-core/internal/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ErrorHandler renders handler errors. Classified errors keep their message,
// code and details; anything else becomes an opaque 500.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return c.Status(apperr.HTTPStatus(ae.Kind)).JSON(ErrorBody{
				Error:   ae.Message,
				Code:    ae.Code,
				Details: ae.Details,
			})
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(ErrorBody{Error: fe.Message})
		}

		if logger != nil {
			logger.ErrorContext(c.UserContext(), "unhandled error", "path", c.Path(), "error", err)
		}
		return c.Status(http.StatusInternalServerError).JSON(ErrorBody{
			Error: "internal error",
			Code:  "INTERNAL",
		})
	}
}
