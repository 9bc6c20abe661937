package handlers

import (
	"log/slog"
	"strconv"

	"esports-platform/services"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps a typed failure onto its HTTP status.
func statusFor(code services.FailureCode) int {
	switch code {
	case services.FailureNotFound:
		return fiber.StatusNotFound
	case services.FailureNotCreator, services.FailureForbidden:
		return fiber.StatusForbidden
	case services.FailureInvalidState, services.FailureTournamentFull,
		services.FailureAlreadyRegistered, services.FailureAlreadyResolved:
		return fiber.StatusConflict
	default:
		return fiber.StatusBadRequest
	}
}

// respond writes an operation outcome. Infrastructure errors are logged and
// surface as 500 without detail.
func respond[S any](c *fiber.Ctx, logger *slog.Logger, okStatus int, res services.OperationResult[S], err error) error {
	if err != nil {
		logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}
	if res.Failure != nil {
		body := fiber.Map{
			"error": res.Failure.Message,
			"code":  res.Failure.Code,
		}
		if len(res.Failure.Violations) > 0 {
			body["violations"] = res.Failure.Violations
		}
		return c.Status(statusFor(res.Failure.Code)).JSON(body)
	}
	return c.Status(okStatus).JSON(res.Success)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func internalError(c *fiber.Ctx, logger *slog.Logger, err error) error {
	logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
	})
}

// pageParams reads page/size query values, clamping size to 100.
func pageParams(c *fiber.Ctx) (limit, offset int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	size, _ := strconv.Atoi(c.Query("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return size, (page - 1) * size
}
