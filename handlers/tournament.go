package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"esports-platform/middleware"
	"esports-platform/models"
	"esports-platform/services"
	"esports-platform/store"

	"github.com/gofiber/fiber/v2"
)

const sseKeepAlive = 15 * time.Second

// TournamentHandler serves tournament lifecycle endpoints and the live event
// stream.
type TournamentHandler struct {
	svc    *services.TournamentService
	hub    *services.EventHub
	logger *slog.Logger
}

func NewTournamentHandler(svc *services.TournamentService, hub *services.EventHub, logger *slog.Logger) *TournamentHandler {
	return &TournamentHandler{svc: svc, hub: hub, logger: logger}
}

// SetupTournamentRoutes mounts public reads on app and lifecycle actions on
// secured, which must already carry the user context.
func SetupTournamentRoutes(app fiber.Router, secured fiber.Router, h *TournamentHandler) {
	app.Get("/games", h.supportedGames)
	app.Get("/tournaments", h.list)
	app.Get("/tournaments/:id", h.get)
	app.Get("/tournaments/:id/stream", h.stream)

	secured.Get("/tournaments/mine", h.mine)
	secured.Post("/tournaments", h.create)
	secured.Post("/tournaments/preview", h.preview)
	secured.Put("/tournaments/:id", h.update)
	secured.Patch("/tournaments/:id/status", h.transition)
	secured.Post("/tournaments/:id/register", h.register)
	secured.Post("/tournaments/:id/start", h.start)
	secured.Post("/tournaments/:id/matches/result", h.reportResult)
	secured.Post("/tournaments/:id/cancel", h.cancel)
}

func (h *TournamentHandler) supportedGames(c *fiber.Ctx) error {
	formats := []models.TournamentFormat{
		models.FormatSingleElimination,
		models.FormatDoubleElimination,
		models.FormatRoundRobin,
		models.FormatSwiss,
	}
	return c.JSON(fiber.Map{
		"games":   services.SupportedGames,
		"formats": formats,
	})
}

// list returns compliant tournaments visible to players. Drafts never show.
func (h *TournamentHandler) list(c *fiber.Ctx) error {
	limit, offset := pageParams(c)
	f := store.TournamentFilter{
		Game:          c.Query("game"),
		CompliantOnly: true,
		Limit:         limit,
		Offset:        offset,
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.TournamentStatus(strings.TrimSpace(s))
			if status == models.StatusDraft {
				continue
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	if len(f.Statuses) == 0 {
		f.Statuses = []models.TournamentStatus{models.StatusRegistration, models.StatusOngoing, models.StatusCompleted}
	}

	tournaments, err := h.svc.List(c.UserContext(), f)
	if err != nil {
		return internalError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"tournaments": tournaments,
		"count":       len(tournaments),
	})
}

func (h *TournamentHandler) get(c *fiber.Ctx) error {
	res, err := h.svc.Get(c.UserContext(), c.Params("id"))
	if err == nil && res.Success != nil && res.Success.Status == models.StatusDraft {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tournament not found"})
	}
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

// mine lists every tournament the caller created, drafts included.
func (h *TournamentHandler) mine(c *fiber.Ctx) error {
	limit, offset := pageParams(c)
	tournaments, err := h.svc.List(c.UserContext(), store.TournamentFilter{
		CreatorID: middleware.UserID(c),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return internalError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"tournaments": tournaments,
		"count":       len(tournaments),
	})
}

// stream pushes tournament events as server-sent events until the client
// goes away.
func (h *TournamentHandler) stream(c *fiber.Ctx) error {
	id := c.Params("id")
	res, err := h.svc.Get(c.UserContext(), id)
	if err != nil || res.Failure != nil {
		return respond(c, h.logger, fiber.StatusOK, res, err)
	}
	if res.Success.Status == models.StatusDraft {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tournament not found"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	events, cancel := h.hub.Subscribe(id)
	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					h.logger.Error("failed to encode stream event", "tournament_id", id, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, payload)
			case <-ticker.C:
				w.WriteString(":\n\n")
			case <-done:
				return
			}
			// Flush fails once the client disconnects.
			if err := w.Flush(); err != nil {
				h.logger.Debug("stream client disconnected", "tournament_id", id)
				return
			}
		}
	})
	return nil
}

func (h *TournamentHandler) create(c *fiber.Ctx) error {
	var req services.CreateTournamentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.svc.Create(c.UserContext(), middleware.UserID(c), req)
	return respond(c, h.logger, fiber.StatusCreated, res, err)
}

func (h *TournamentHandler) preview(c *fiber.Ctx) error {
	var req services.CreateTournamentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.svc.Preview(c.UserContext(), middleware.UserID(c), req)
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *TournamentHandler) update(c *fiber.Ctx) error {
	var req services.UpdateTournamentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.svc.Update(c.UserContext(), middleware.UserID(c), c.Params("id"), req)
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *TournamentHandler) transition(c *fiber.Ctx) error {
	var body struct {
		Status models.TournamentStatus `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil || body.Status == "" {
		return badRequest(c, "status is required")
	}
	res, err := h.svc.Transition(c.UserContext(), middleware.UserID(c), c.Params("id"), body.Status)
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *TournamentHandler) register(c *fiber.Ctx) error {
	var req services.RegisterRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	req.TournamentID = c.Params("id")
	req.UserID = middleware.UserID(c)
	res, err := h.svc.Register(c.UserContext(), req)
	return respond(c, h.logger, fiber.StatusCreated, res, err)
}

func (h *TournamentHandler) start(c *fiber.Ctx) error {
	res, err := h.svc.Start(c.UserContext(), middleware.UserID(c), c.Params("id"))
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *TournamentHandler) reportResult(c *fiber.Ctx) error {
	var req services.MatchResultRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.TournamentID = c.Params("id")
	req.ActorID = middleware.UserID(c)
	res, err := h.svc.ReportMatchResult(c.UserContext(), req)
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *TournamentHandler) cancel(c *fiber.Ctx) error {
	res, err := h.svc.Cancel(c.UserContext(), middleware.UserID(c), c.Params("id"))
	return respond(c, h.logger, fiber.StatusOK, res, err)
}
