package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const SignatureHeader = "X-Payment-Signature"

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSignatureMiddleware verifies the payment provider's HMAC over the
// raw request body. An optional "sha256=" prefix is accepted.
func WebhookSignatureMiddleware(secret string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := strings.TrimPrefix(c.Get(SignatureHeader), "sha256=")
		sig, err := hex.DecodeString(got)
		if secret == "" || err != nil || len(sig) == 0 {
			logger.Warn("webhook signature missing or malformed", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid webhook signature"})
		}

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(c.Body())
		if !hmac.Equal(sig, mac.Sum(nil)) {
			logger.Warn("webhook signature mismatch", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid webhook signature"})
		}
		return c.Next()
	}
}
