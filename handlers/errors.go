// handlers/errors.go
package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"burn-settlement-system/services"
)

var statusByKind = map[services.Kind]int{
	services.KindNotFound:           fiber.StatusNotFound,
	services.KindPermissionDenied:   fiber.StatusForbidden,
	services.KindAlreadyUsed:        fiber.StatusConflict,
	services.KindAlreadyProcessed:   fiber.StatusConflict,
	services.KindExpired:            fiber.StatusGone,
	services.KindPreconditionFailed: fiber.StatusPreconditionFailed,
	services.KindInvalidArgument:    fiber.StatusBadRequest,
	services.KindCapExceeded:        fiber.StatusUnprocessableEntity,
	services.KindChainFailure:       fiber.StatusUnprocessableEntity,
	services.KindInvalidProof:       fiber.StatusUnprocessableEntity,
	services.KindUnavailable:        fiber.StatusServiceUnavailable,
	services.KindInternal:           fiber.StatusInternalServerError,
}

// StatusFor maps an engine error kind to an HTTP status.
func StatusFor(kind services.Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	kind := services.KindOf(err)
	status := StatusFor(kind)
	msg := err.Error()
	var e *services.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	if status >= fiber.StatusInternalServerError && kind != services.KindUnavailable {
		slog.Error("[HTTP] internal error", "path", c.Path(), "error", err)
		msg = "internal error"
	}
	if kind == services.KindUnavailable {
		c.Set(fiber.HeaderRetryAfter, "2")
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   kind,
		"message": msg,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   services.KindInvalidArgument,
		"message": msg,
	})
}
