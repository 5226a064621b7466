package transport

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/guard"
	"go.uber.org/zap"
)

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := StatusCode(err)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}

		SetRetryAfter(c, err)
		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

// StatusCode maps domain sentinels to HTTP status codes. Unknown errors are 500.
func StatusCode(err error) int {
	var fiberErr *fiber.Error
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrCooldown):
		return fiber.StatusTooManyRequests
	case errors.Is(err, domain.ErrProcessingInProgress), errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrAllocation), errors.Is(err, domain.ErrSubmission):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// SetRetryAfter advertises the remaining cooldown of a rejected submission.
func SetRetryAfter(c *fiber.Ctx, err error) {
	var cooldown *guard.CooldownError
	if errors.As(err, &cooldown) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(cooldown.Seconds()))
	}
}
