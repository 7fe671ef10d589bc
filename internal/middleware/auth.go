package middleware

import (
	"strings"

	"github.com/freelance-marketplace/backend/internal/auth"
	"github.com/freelance-marketplace/backend/internal/config"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const CtxPrincipal = "principal"

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		p := claims.Principal()
		if p.IsAdmin() && !cfg.IsAdmin(p.UserID) {
			log.Warn("admin role claimed by unlisted user", zap.String("user_id", p.UserID.String()))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access denied"})
		}

		c.Locals(CtxPrincipal, p)
		return c.Next()
	}
}

func GetPrincipal(c *fiber.Ctx) models.Principal {
	p, _ := c.Locals(CtxPrincipal).(models.Principal)
	return p
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := GetPrincipal(c).Role
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient role"})
	}
}
