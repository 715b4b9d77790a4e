// handlers/quotes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"burn-settlement-system/services"
)

type QuoteHandler struct {
	Quotes      *services.QuoteService
	Settlements *services.SettlementService
}

func SetupQuoteRoutes(app fiber.Router, quotes *services.QuoteService, settlements *services.SettlementService) {
	h := &QuoteHandler{Quotes: quotes, Settlements: settlements}

	app.Post("/quotes", h.IssueQuote)
	app.Get("/quotes/:id", h.ValidateQuote)
	app.Post("/settlements", h.Settle)
}

// IssueQuote prices a burn for the active event (or ?event=<slug|id>).
func (h *QuoteHandler) IssueQuote(c *fiber.Ctx) error {
	var req services.QuoteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.EventSelector == "" {
		req.EventSelector = c.Query("event")
	}
	res, err := h.Quotes.IssueQuote(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *QuoteHandler) ValidateQuote(c *fiber.Ctx) error {
	wallet := c.Query("wallet")
	if wallet == "" {
		return badRequest(c, "wallet query parameter is required")
	}
	res, err := h.Quotes.ValidateQuote(c.UserContext(), c.Params("id"), wallet)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (h *QuoteHandler) Settle(c *fiber.Ctx) error {
	var req services.SettleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.QuoteID == "" || req.Wallet == "" || req.TransactionSignature == "" {
		return badRequest(c, "quote_id, wallet and transaction_signature are required")
	}
	res, err := h.Settlements.Settle(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}
