package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/services"
)

type ArbitrationHandler struct {
	arbitration *services.ArbitrationService
	log         *zap.Logger
}

func NewArbitrationHandler(arbitration *services.ArbitrationService, log *zap.Logger) *ArbitrationHandler {
	return &ArbitrationHandler{arbitration: arbitration, log: log}
}

func (h *ArbitrationHandler) ListDisputes(c *fiber.Ctx) error {
	limit, _ := pageParams(c)
	jobs, err := h.arbitration.ListDisputed(c.UserContext(), limit)
	if err != nil {
		return respondError(c, h.log, err)
	}
	out := make([]dto.SearchJobView, 0, len(jobs))
	for i := range jobs {
		out = append(out, view(&jobs[i]))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *ArbitrationHandler) History(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	limit, offset := pageParams(c)
	entries, err := h.arbitration.History(c.UserContext(), id, limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *ArbitrationHandler) Decide(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	var req dto.DecideRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	j, err := h.arbitration.Decide(c.UserContext(), id, middleware.GetUserID(c), services.DecisionInput{
		Decision:        models.Decision(req.Decision),
		SplitPercentage: req.SplitPercentage,
		Reasoning:       req.Reasoning,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: view(j)})
}
