package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/auth"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/rbac"
)

type AuthHandler struct {
	cfg *config.Config
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, log: log}
}

// ExchangeAssertion trades an identity provider assertion for an API token.
func (h *AuthHandler) ExchangeAssertion(c *fiber.Ctx) error {
	if h.cfg.IdentitySecret == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "assertion exchange is disabled", Code: "unavailable"})
	}

	var req dto.AuthAssertionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Assertion == "" {
		return badRequest(c, "assertion is required")
	}

	id, err := auth.VerifyAssertion(req.Assertion, h.cfg.IdentitySecret, h.cfg.AssertionMaxAge)
	if err != nil {
		h.log.Debug("assertion verification failed", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error(), Code: "unauthorized"})
	}
	if _, ok := rbac.RolePermissions[id.Role]; !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "unknown role " + id.Role, Code: "unauthorized"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, id.UserID, id.Role, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to sign token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	h.log.Info("token issued", zap.String("user_id", id.UserID.String()), zap.String("role", id.Role))
	return c.JSON(dto.AuthResponse{Token: token, UserID: id.UserID.String(), Role: id.Role})
}
