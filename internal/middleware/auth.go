package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/auth"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/rbac"
)

const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header", "code": "unauthorized"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token", "code": "unauthorized"})
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxRole, claims.Role)

		return c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to ?token= for
// websocket upgrades where browsers cannot set headers.
func bearerToken(c *fiber.Ctx) string {
	if h := c.Get("Authorization"); h != "" {
		tokenStr := strings.TrimPrefix(h, "Bearer ")
		if tokenStr == h {
			return ""
		}
		return tokenStr
	}
	return c.Query("token")
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func GetRole(c *fiber.Ctx) string {
	role, _ := c.Locals(CtxRole).(string)
	return role
}

// RequirePermission gates a route on the caller's role. Financial permissions
// additionally require the caller to be listed in ADMIN_USER_IDS.
func RequirePermission(cfg *config.Config, permission string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := GetRole(c)
		if !rbac.HasPermission(role, permission) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "role " + role + " cannot " + permission, "code": "forbidden"})
		}
		if rbac.IsFinancialOperation(permission) && !cfg.IsAdmin(GetUserID(c)) {
			log.Warn("financial operation refused for non-listed admin",
				zap.String("user_id", GetUserID(c).String()),
				zap.String("permission", permission),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required", "code": "forbidden"})
		}
		return c.Next()
	}
}
