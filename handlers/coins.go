package handlers

import (
	"log/slog"
	"strings"

	"esports-platform/middleware"
	"esports-platform/models"
	"esports-platform/services"
	"esports-platform/store"

	"github.com/gofiber/fiber/v2"
)

// PaymentEventSucceeded is the only webhook event that moves coins.
const PaymentEventSucceeded = "payment.succeeded"

type CoinHandler struct {
	ledger *services.CoinLedger
	logger *slog.Logger
}

func NewCoinHandler(ledger *services.CoinLedger, logger *slog.Logger) *CoinHandler {
	return &CoinHandler{ledger: ledger, logger: logger}
}

// SetupCoinRoutes mounts catalogue reads on app and wallet actions on
// secured.
func SetupCoinRoutes(app fiber.Router, secured fiber.Router, h *CoinHandler) {
	app.Get("/coins/packages", h.packages)
	app.Get("/coins/rate", h.rate)

	secured.Get("/coins/balance", h.balance)
	secured.Get("/coins/history", h.history)
	secured.Post("/coins/purchase", h.purchase)
	secured.Post("/coins/transfer", h.transfer)
	secured.Post("/coins/redeem", h.redeem)
	secured.Post("/coins/spend", h.spend)
}

// SetupPaymentWebhook mounts the payment service callback. It authenticates
// by body signature, so it must be registered outside the gateway auth.
func SetupPaymentWebhook(app fiber.Router, h *CoinHandler, secret string) {
	app.Post("/webhooks/payments", middleware.WebhookSignatureMiddleware(secret, h.logger), h.paymentWebhook)
}

func (h *CoinHandler) packages(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"packages": h.ledger.Packages()})
}

func (h *CoinHandler) rate(c *fiber.Ctx) error {
	return c.JSON(h.ledger.ExchangeRate())
}

func (h *CoinHandler) balance(c *fiber.Ctx) error {
	res, err := h.ledger.Balance(c.UserContext(), middleware.UserID(c))
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *CoinHandler) history(c *fiber.Ctx) error {
	limit, offset := pageParams(c)
	f := store.TransactionFilter{
		UserID: middleware.UserID(c),
		Limit:  limit,
		Offset: offset,
	}
	if raw := c.Query("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			f.Types = append(f.Types, models.TransactionType(strings.TrimSpace(t)))
		}
	}
	txs, total, err := h.ledger.History(c.UserContext(), f)
	if err != nil {
		return internalError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"transactions": txs,
		"total":        total,
	})
}

func (h *CoinHandler) purchase(c *fiber.Ctx) error {
	var body struct {
		PackageIndex *int `json:"package_index"`
	}
	if err := c.BodyParser(&body); err != nil || body.PackageIndex == nil {
		return badRequest(c, "package_index is required")
	}
	res, err := h.ledger.Purchase(c.UserContext(), middleware.UserID(c), *body.PackageIndex)
	return respond(c, h.logger, fiber.StatusCreated, res, err)
}

func (h *CoinHandler) transfer(c *fiber.Ctx) error {
	var req services.TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.FromUserID = middleware.UserID(c)
	res, err := h.ledger.Transfer(c.UserContext(), req)
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *CoinHandler) redeem(c *fiber.Ctx) error {
	var req services.RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.UserID = middleware.UserID(c)
	res, err := h.ledger.Redeem(c.UserContext(), req)
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *CoinHandler) spend(c *fiber.Ctx) error {
	var req services.SpendRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.UserID = middleware.UserID(c)
	res, err := h.ledger.Spend(c.UserContext(), req)
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *CoinHandler) paymentWebhook(c *fiber.Ctx) error {
	var body struct {
		Type    string                       `json:"type"`
		Payment services.PaymentConfirmation `json:"payment"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid webhook payload")
	}
	if body.Type != PaymentEventSucceeded {
		h.logger.Debug("ignoring payment webhook", "type", body.Type, "payment_id", body.Payment.PaymentID)
		return c.JSON(fiber.Map{"ignored": true})
	}
	res, err := h.ledger.ConfirmPayment(c.UserContext(), body.Payment)
	return respond(c, h.logger, fiber.StatusOK, res, err)
}
