package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/lock"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/models"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrBidNotFound),
		errors.Is(err, models.ErrExtensionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidPercentage):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrSplitMismatch):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrNotYourTurn),
		errors.Is(err, models.ErrAlreadyClaimed),
		errors.Is(err, models.ErrAlreadySettled),
		errors.Is(err, models.ErrAlreadyReviewed),
		errors.Is(err, models.ErrDuplicateBid),
		errors.Is(err, models.ErrDuplicateHold),
		errors.Is(err, models.ErrNotEscrowed),
		errors.Is(err, models.ErrDeadlinePassed),
		errors.Is(err, models.ErrEvidenceCap),
		errors.Is(err, models.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, lock.ErrLockTimeout):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := StatusFor(err)
	resp := dto.ErrorResponse{
		Error:     err.Error(),
		Code:      models.ErrorCode(err),
		RequestID: middleware.GetRequestID(c),
	}
	if status == fiber.StatusServiceUnavailable {
		resp.Code = "busy"
	}
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		resp.Error = "internal error"
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		Code:      "validation_failed",
		RequestID: middleware.GetRequestID(c),
	})
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	return uuid.Parse(c.Params(name))
}

func pageParams(c *fiber.Ctx) (limit, offset int) {
	limit = 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
