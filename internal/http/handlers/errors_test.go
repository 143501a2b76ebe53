package handlers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/rental-marketplace/backend/internal/lock"
	"github.com/rental-marketplace/backend/internal/models"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrNotFound, fiber.StatusNotFound},
		{fmt.Errorf("bid x: %w", models.ErrBidNotFound), fiber.StatusNotFound},
		{models.ErrForbidden, fiber.StatusForbidden},
		{fmt.Errorf("%w: price", models.ErrValidation), fiber.StatusBadRequest},
		{models.ErrInvalidPercentage, fiber.StatusBadRequest},
		{models.ErrSplitMismatch, fiber.StatusUnprocessableEntity},
		{models.ErrNotYourTurn, fiber.StatusConflict},
		{fmt.Errorf("job: %w", models.ErrAlreadyClaimed), fiber.StatusConflict},
		{models.ErrAlreadySettled, fiber.StatusConflict},
		{models.ErrEvidenceCap, fiber.StatusConflict},
		{models.ErrConflict, fiber.StatusConflict},
		{lock.ErrLockTimeout, fiber.StatusServiceUnavailable},
		{errors.New("disk on fire"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
