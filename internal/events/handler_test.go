package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet-core/internal/logging"
	"github.com/congo-pay/wallet-core/internal/middleware"
)

func newEventsApp(f fixture) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Discard())})
	app.Post("/events", NewHandler(f.processor).Receive)
	return app
}

func post(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestReceiveAppliesPaymentOnce(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)
	app := newEventsApp(f)
	body := `{"eventId":"E1","type":"PaymentReceived","data":{"walletId":"` + w.ID + `","amountOre":"100","referenceId":"P1"}}`

	status, out := post(t, app, body)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]any{"status": "PROCESSED", "eventId": "E1"}, out)

	status, out = post(t, app, body)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "IGNORED_DUPLICATE", out["status"])

	available, _ := f.balances(t, w.ID)
	assert.Equal(t, "100", available)
}

func TestReceiveMapsErrors(t *testing.T) {
	f := newFixture(t)
	app := newEventsApp(f)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"missing identity", `{"type":"PaymentReceived"}`, fiber.StatusBadRequest, "EVENT_IDENTITY_REQUIRED"},
		{"missing payment fields", `{"eventId":"E2","type":"PaymentReceived","data":{}}`, fiber.StatusBadRequest, "INVALID_EVENT_PAYLOAD"},
		{"unknown type", `{"eventId":"E3","type":"Mystery"}`, fiber.StatusBadRequest, "UNKNOWN_EVENT_TYPE"},
		{"unsupported type", `{"eventId":"E4","type":"DisbursementExecuted","data":{}}`, fiber.StatusBadRequest, "UNSUPPORTED_EVENT"},
		{"unknown wallet", `{"eventId":"E5","type":"PaymentReceived","data":{"walletId":"00000000-0000-0000-0000-000000000000","amountOre":"1","referenceId":"P"}}`, fiber.StatusNotFound, "WALLET_NOT_FOUND"},
		{"malformed body", `{"eventId":`, fiber.StatusBadRequest, "INVALID_BODY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, out := post(t, app, tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, out["code"])
			assert.NotEmpty(t, out["error"])
		})
	}
}
