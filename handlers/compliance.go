package handlers

import (
	"log/slog"
	"strconv"
	"time"

	"esports-platform/middleware"
	"esports-platform/models"
	"esports-platform/services"
	"esports-platform/store"

	"github.com/gofiber/fiber/v2"
)

const maxSummaryDays = 90

type ComplianceHandler struct {
	audits  *services.ComplianceAuditLog
	monitor *services.ComplianceMonitor
	logger  *slog.Logger
}

func NewComplianceHandler(audits *services.ComplianceAuditLog, monitor *services.ComplianceMonitor, logger *slog.Logger) *ComplianceHandler {
	return &ComplianceHandler{audits: audits, monitor: monitor, logger: logger}
}

// SetupComplianceRoutes mounts the admin compliance console under secured.
func SetupComplianceRoutes(secured fiber.Router, h *ComplianceHandler) {
	admin := secured.Group("/admin/compliance", middleware.RequireRole(string(models.AccountAdmin)))

	admin.Get("/audits", h.listAudits)
	admin.Get("/audits/:id", h.getAudit)
	admin.Post("/audits/:id/resolve", h.resolveAudit)
	admin.Get("/summary", h.summary)
	admin.Post("/sweeps/:kind", h.runSweep)
	admin.Post("/tournaments/:id/check", h.check)
}

func (h *ComplianceHandler) listAudits(c *fiber.Ctx) error {
	limit, offset := pageParams(c)
	f := store.AuditFilter{
		SubjectID:   c.Query("subject_id"),
		SubjectType: models.SubjectType(c.Query("subject_type")),
		CheckType:   models.CheckType(c.Query("check_type")),
		Limit:       limit,
		Offset:      offset,
	}
	if raw := c.Query("compliant"); raw != "" {
		compliant, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "compliant must be true or false")
		}
		f.Compliant = &compliant
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "since must be an RFC3339 timestamp")
		}
		f.Since = since
	}

	audits, total, err := h.audits.List(c.UserContext(), f)
	if err != nil {
		return internalError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"audits": audits,
		"total":  total,
	})
}

func (h *ComplianceHandler) getAudit(c *fiber.Ctx) error {
	res, err := h.audits.Get(c.UserContext(), c.Params("id"))
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *ComplianceHandler) resolveAudit(c *fiber.Ctx) error {
	var body struct {
		Resolution string `json:"resolution"`
		Resolved   *bool  `json:"resolved"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	resolved := true
	if body.Resolved != nil {
		resolved = *body.Resolved
	}
	res, err := h.audits.Resolve(c.UserContext(), c.Params("id"), body.Resolution, middleware.UserID(c), resolved)
	return respond(c, h.logger, fiber.StatusOK, res, err)
}

func (h *ComplianceHandler) summary(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", "7"))
	if err != nil || days < 1 || days > maxSummaryDays {
		return badRequest(c, "days must be between 1 and 90")
	}
	summary, err := h.audits.Aggregate(c.UserContext(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return internalError(c, h.logger, err)
	}
	return c.JSON(summary)
}

// runSweep triggers a sweep synchronously. A sweep of the same kind already
// in flight yields 409 with the skipped result.
func (h *ComplianceHandler) runSweep(c *fiber.Ctx) error {
	kind := services.SweepKind(c.Params("kind"))
	if !kind.Valid() {
		return badRequest(c, "kind must be hourly, daily or weekly")
	}
	result, err := h.monitor.RunSweep(c.UserContext(), kind)
	if err != nil {
		return internalError(c, h.logger, err)
	}
	if result.Skipped {
		return c.Status(fiber.StatusConflict).JSON(result)
	}
	return c.JSON(result)
}

func (h *ComplianceHandler) check(c *fiber.Ctx) error {
	res, err := h.monitor.Check(c.UserContext(), c.Params("id"), middleware.UserID(c))
	return respond(c, h.logger, fiber.StatusOK, res, err)
}
