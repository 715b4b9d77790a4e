// handlers/events.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"burn-settlement-system/middleware"
	"burn-settlement-system/services"
)

type EventHandler struct {
	Events  *services.EventService
	Reports *services.ReportingService
}

func SetupEventRoutes(app fiber.Router, events *services.EventService, reports *services.ReportingService, adminToken string) {
	h := &EventHandler{Events: events, Reports: reports}

	// :selector is "active", an event id or a slug
	app.Get("/events/:selector", h.GetEvent)
	app.Get("/events/:selector/stats", h.EventStats)
	app.Get("/events/:selector/leaderboard", h.Leaderboard)
	app.Get("/events/:selector/referrals", h.ReferralLeaderboard)
	app.Get("/events/:selector/allocations/:wallet", h.GetAllocation)
	app.Get("/wallets/:wallet/burns", h.ListBurns)

	admin := app.Group("/admin", middleware.AdminAuthMiddleware(adminToken))
	admin.Post("/events", h.CreateEvent)
	admin.Post("/events/:id/assets", h.AddAsset)
	admin.Patch("/assets/:id", h.UpdateAsset)
	admin.Post("/events/:id/activate", h.ActivateEvent)
	admin.Post("/events/:id/finalize", h.FinalizeEvent)
}

func (h *EventHandler) GetEvent(c *fiber.Ctx) error {
	event, err := h.Events.ResolveEvent(c.UserContext(), c.Params("selector"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(event)
}

func (h *EventHandler) EventStats(c *fiber.Ctx) error {
	stats, err := h.Reports.EventStats(c.UserContext(), c.Params("selector"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

func (h *EventHandler) Leaderboard(c *fiber.Ctx) error {
	rows, err := h.Reports.Leaderboard(c.UserContext(), c.Params("selector"), c.QueryInt("limit", 10))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"allocations": rows})
}

func (h *EventHandler) ReferralLeaderboard(c *fiber.Ctx) error {
	rows, err := h.Reports.ReferralLeaderboard(c.UserContext(), c.Params("selector"), c.QueryInt("limit", 10))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"referrals": rows})
}

func (h *EventHandler) GetAllocation(c *fiber.Ctx) error {
	alloc, err := h.Reports.GetAllocation(c.UserContext(), c.Params("selector"), c.Params("wallet"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(alloc)
}

func (h *EventHandler) ListBurns(c *fiber.Ctx) error {
	page, err := h.Reports.ListBurns(c.UserContext(), services.BurnFilter{
		Wallet:        c.Params("wallet"),
		EventSelector: c.Query("event"),
		Page:          c.QueryInt("page", 1),
		PageSize:      c.QueryInt("page_size", 0),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

// --- Admin ---

func (h *EventHandler) CreateEvent(c *fiber.Ctx) error {
	var req services.CreateEventInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	event, err := h.Events.CreateEvent(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(event)
}

func (h *EventHandler) AddAsset(c *fiber.Ctx) error {
	var req services.AssetInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	asset, err := h.Events.AddAsset(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(asset)
}

func (h *EventHandler) UpdateAsset(c *fiber.Ctx) error {
	var req services.AssetUpdate
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	asset, err := h.Events.UpdateAsset(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(asset)
}

func (h *EventHandler) ActivateEvent(c *fiber.Ctx) error {
	event, err := h.Events.ActivateEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(event)
}

func (h *EventHandler) FinalizeEvent(c *fiber.Ctx) error {
	event, err := h.Events.FinalizeEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(event)
}
