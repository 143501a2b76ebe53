package handlers

import (
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/models"
)

type MetaHandler struct {
	tiers []dto.TierView
}

func NewMetaHandler(catalog models.TierCatalog) *MetaHandler {
	tiers := make([]dto.TierView, 0, len(catalog))
	for tier, def := range catalog {
		tiers = append(tiers, dto.TierView{
			Tier:            tier,
			WindowHours:     int(def.Window.Hours()),
			NumberOfOptions: def.NumberOfOptions,
			Deposit:         def.Deposit,
		})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Deposit < tiers[j].Deposit })
	return &MetaHandler{tiers: tiers}
}

func (h *MetaHandler) GetTiers(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.tiers})
}
