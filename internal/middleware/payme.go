package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/example/baraka-billing/internal/services"
)

type paymeRequestID struct {
	ID any `json:"id"`
}

// PaymeAuth validates the Payme Basic-Auth header before any state is read.
// The expected value is Basic base64("Paycom:" + merchantKey); comparison is
// constant time. Failures answer with the JSON-RPC -32504 envelope over
// HTTP 200 because the gateway keys retries off the envelope, not the status.
func PaymeAuth(merchantKey string) fiber.Handler {
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("Paycom:"+merchantKey))

	return func(c *fiber.Ctx) error {
		var reqID paymeRequestID
		_ = json.Unmarshal(c.Body(), &reqID)

		header := c.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(header), []byte(expected)) != 1 {
			return writePaymeAuthError(c, reqID.ID)
		}

		return c.Next()
	}
}

func writePaymeAuthError(c *fiber.Ctx, id any) error {
	authErr := services.ErrPaymeUnauthorized.WithData("Invalid Authorization")
	return c.JSON(fiber.Map{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   authErr,
	})
}
