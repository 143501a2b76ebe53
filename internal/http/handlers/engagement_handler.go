package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/rbac"
	"github.com/rental-marketplace/backend/internal/repositories"
	"github.com/rental-marketplace/backend/internal/services"
)

type EngagementHandler struct {
	engagements *services.EngagementService
	log         *zap.Logger
}

func NewEngagementHandler(engagements *services.EngagementService, log *zap.Logger) *EngagementHandler {
	return &EngagementHandler{engagements: engagements, log: log}
}

func (h *EngagementHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateEngagementRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	propertyID, err := uuid.Parse(req.PropertyID)
	if err != nil {
		return badRequest(c, "invalid property_id")
	}
	hunterID, err := uuid.Parse(req.HunterID)
	if err != nil {
		return badRequest(c, "invalid hunter_id")
	}

	e, err := h.engagements.Create(c.UserContext(), services.CreateEngagementInput{
		PropertyID: propertyID,
		TenantID:   middleware.GetUserID(c),
		HunterID:   hunterID,
		Slots:      dto.ToSlots(req.Slots),
		Amount:     models.Money(req.Amount),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: e})
}

func (h *EngagementHandler) Get(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid engagement id")
	}
	e, err := h.engagements.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if !e.IsParty(middleware.GetUserID(c)) && middleware.GetRole(c) != rbac.RoleAdmin {
		return respondError(c, h.log, models.ErrForbidden)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: e})
}

func (h *EngagementHandler) List(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	limit, offset := pageParams(c)
	filter := repositories.EngagementFilter{PartyID: &userID, Limit: limit, Offset: offset}
	if v := c.Query("status"); v != "" {
		status := models.EngagementStatus(v)
		filter.Status = &status
	}
	list, err := h.engagements.List(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

func (h *EngagementHandler) Propose(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid engagement id")
	}
	var req dto.ProposeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	e, err := h.engagements.Propose(c.UserContext(), id, middleware.GetUserID(c), dto.ToSlots(req.Slots))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: e})
}

func (h *EngagementHandler) Counter(c *fiber.Ctx) error {
	return h.proposal(c, h.engagements.Counter)
}

func (h *EngagementHandler) Edit(c *fiber.Ctx) error {
	return h.proposal(c, h.engagements.Edit)
}

type proposalFunc func(ctx context.Context, id, actorID uuid.UUID, p models.Proposal) (*models.Engagement, error)

func (h *EngagementHandler) proposal(c *fiber.Ctx, fn proposalFunc) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid engagement id")
	}
	var req dto.CounterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	p := models.Proposal{Date: req.Date, TimeSlot: req.TimeSlot, Reason: req.Reason}
	if len(req.Location) > 0 {
		loc, err := req.Location.Parse()
		if err != nil {
			return respondError(c, h.log, err)
		}
		p.Location = loc
	}
	e, err := fn(c.UserContext(), id, middleware.GetUserID(c), p)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: e})
}

func (h *EngagementHandler) Accept(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid engagement id")
	}
	e, err := h.engagements.Accept(c.UserContext(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: e})
}

func (h *EngagementHandler) Reject(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid engagement id")
	}
	var req dto.RejectRequest
	_ = c.BodyParser(&req) // reason is optional
	e, err := h.engagements.Reject(c.UserContext(), id, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: e})
}
