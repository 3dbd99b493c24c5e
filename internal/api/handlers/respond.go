package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/errs"
	"github.com/wargame-agent/backend/pkg/logger"
)

// respondError maps taxonomy errors to HTTP statuses. Anything unexpected is
// logged and hidden behind a generic 500.
func respondError(c *fiber.Ctx, err error) error {
	var invalid *errs.ValidationError
	if errors.As(err, &invalid) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": invalid.Error(),
		})
	}

	var open *errs.CircuitOpenError
	if errors.As(err, &open) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": open.Error(),
		})
	}

	logger.Error("Request failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
	})
}
