package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/rbac"
	"github.com/rental-marketplace/backend/internal/repositories"
	"github.com/rental-marketplace/backend/internal/services"
)

type SearchJobHandler struct {
	jobs      *services.SearchJobService
	deadlines *services.DeadlineService
	log       *zap.Logger
}

func NewSearchJobHandler(jobs *services.SearchJobService, deadlines *services.DeadlineService, log *zap.Logger) *SearchJobHandler {
	return &SearchJobHandler{jobs: jobs, deadlines: deadlines, log: log}
}

func view(j *models.SearchJob) dto.SearchJobView {
	now := time.Now().UTC()
	return dto.SearchJobView{
		SearchJob:         j,
		RemainingFraction: services.RemainingFraction(j, now),
		Urgency:           string(services.Classify(j, now)),
	}
}

func (h *SearchJobHandler) ok(c *fiber.Ctx, j *models.SearchJob) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: view(j)})
}

func (h *SearchJobHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitSearchJobRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	j, err := h.jobs.Submit(c.UserContext(), middleware.GetUserID(c), models.Requirements{
		Areas:          req.Areas,
		BudgetMin:      models.Money(req.BudgetMin),
		BudgetMax:      models.Money(req.BudgetMax),
		PropertyType:   req.PropertyType,
		MustHaves:      req.MustHaves,
		DealBreakers:   req.DealBreakers,
		AdditionalInfo: req.Additional,
	}, models.ServiceTier(req.Tier))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: view(j)})
}

// Get shows hunters an open job so they can bid; see SearchJob.VisibleTo.
func (h *SearchJobHandler) Get(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	j, err := h.jobs.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	visible := j.VisibleTo(middleware.GetUserID(c), middleware.GetRole(c) == rbac.RoleAdmin)
	if visible == nil {
		return respondError(c, h.log, models.ErrForbidden)
	}
	return h.ok(c, visible)
}

func (h *SearchJobHandler) List(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	limit, offset := pageParams(c)
	filter := repositories.SearchJobFilter{Limit: limit, Offset: offset}
	switch c.Query("scope") {
	case "open":
		status := models.JobPendingBids
		filter.Status = &status
	case "claimed":
		filter.ClaimedBy = &userID
	default:
		if middleware.GetRole(c) == rbac.RoleHunter {
			filter.ClaimedBy = &userID
		} else {
			filter.TenantID = &userID
		}
	}
	jobs, err := h.jobs.List(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	admin := middleware.GetRole(c) == rbac.RoleAdmin
	out := make([]dto.SearchJobView, 0, len(jobs))
	for i := range jobs {
		if j := jobs[i].VisibleTo(userID, admin); j != nil {
			out = append(out, view(j))
		}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *SearchJobHandler) RequestPayment(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	j, err := h.jobs.RequestPayment(c.UserContext(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return h.ok(c, j)
}

func (h *SearchJobHandler) PayDeposit(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	j, err := h.jobs.PayDeposit(c.UserContext(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return h.ok(c, j)
}

func (h *SearchJobHandler) SubmitBid(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	var req dto.SubmitBidRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	_, bid, err := h.jobs.SubmitBid(c.UserContext(), id, middleware.GetUserID(c), services.BidInput{
		Price:                 models.Money(req.Price),
		PromisedDeliveryHours: req.PromisedDeliveryHours,
		BonusOffer:            req.BonusOffer,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: bid})
}

func (h *SearchJobHandler) WithdrawBid(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	if _, err := h.jobs.WithdrawBid(c.UserContext(), id, middleware.GetUserID(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *SearchJobHandler) AcceptBid(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	bidID, err := paramUUID(c, "bidId")
	if err != nil {
		return badRequest(c, "invalid bid id")
	}
	j, err := h.jobs.AcceptBid(c.UserContext(), id, middleware.GetUserID(c), bidID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return h.ok(c, j)
}

func (h *SearchJobHandler) SubmitEvidence(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	var req dto.SubmitEvidenceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	items := make([]services.EvidenceInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, services.EvidenceInput{Photos: it.Photos, Description: it.Description, MatchScore: it.MatchScore})
	}
	j, err := h.jobs.SubmitEvidence(c.UserContext(), id, middleware.GetUserID(c), items)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return h.ok(c, j)
}

func (h *SearchJobHandler) Confirm(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	j, err := h.jobs.ConfirmSatisfied(c.UserContext(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return h.ok(c, j)
}

func (h *SearchJobHandler) Dispute(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	var req dto.DisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	j, err := h.jobs.RaiseDispute(c.UserContext(), id, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return h.ok(c, j)
}

func (h *SearchJobHandler) Cancel(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	j, err := h.jobs.Cancel(c.UserContext(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return h.ok(c, j)
}

func (h *SearchJobHandler) RequestExtension(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	var req dto.ExtensionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	_, ext, err := h.deadlines.RequestExtension(c.UserContext(), id, middleware.GetUserID(c), req.Hours, req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: ext})
}

func (h *SearchJobHandler) ResolveExtension(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid search job id")
	}
	extID, err := paramUUID(c, "extId")
	if err != nil {
		return badRequest(c, "invalid extension id")
	}
	var req dto.ResolveExtensionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	j, err := h.deadlines.ResolveExtension(c.UserContext(), id, extID, middleware.GetUserID(c), req.Approve)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return h.ok(c, j)
}
