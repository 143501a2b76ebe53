package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/rbac"
	"github.com/rental-marketplace/backend/internal/services"
)

type EscrowHandler struct {
	ledger      *services.LedgerService
	engagements *services.EngagementService
	jobs        *services.SearchJobService
	log         *zap.Logger
}

func NewEscrowHandler(ledger *services.LedgerService, engagements *services.EngagementService, jobs *services.SearchJobService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{ledger: ledger, engagements: engagements, jobs: jobs, log: log}
}

// Get shows an escrow to admins and to the parties of the engagement or
// search job that owns it.
func (h *EscrowHandler) Get(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	txs, err := h.ledger.Transactions(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if len(txs) == 0 {
		return respondError(c, h.log, models.ErrNotFound)
	}
	if middleware.GetRole(c) != rbac.RoleAdmin {
		allowed, err := h.isParty(c.UserContext(), id, txs, middleware.GetUserID(c))
		if err != nil {
			return respondError(c, h.log, err)
		}
		if !allowed {
			return respondError(c, h.log, models.ErrForbidden)
		}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.EscrowView{
		Balance:      models.SummarizeEscrow(id, txs),
		Transactions: txs,
	}})
}

// isParty checks userID against the owner of the escrow. Escrows share their
// owner's id; one with no owner falls back to the ledger's counterparties.
func (h *EscrowHandler) isParty(ctx context.Context, id uuid.UUID, txs []models.EscrowTransaction, userID uuid.UUID) (bool, error) {
	e, err := h.engagements.Get(ctx, id)
	if err == nil {
		return e.IsParty(userID), nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return false, err
	}
	j, err := h.jobs.Get(ctx, id)
	if err == nil {
		return userID == j.TenantID || j.IsClaimedBy(userID), nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return false, err
	}
	return involves(txs, userID), nil
}

func involves(txs []models.EscrowTransaction, userID uuid.UUID) bool {
	for _, tx := range txs {
		if tx.CounterpartyID == userID {
			return true
		}
		for _, leg := range tx.Legs {
			if leg.PayeeID == userID {
				return true
			}
		}
	}
	return false
}
