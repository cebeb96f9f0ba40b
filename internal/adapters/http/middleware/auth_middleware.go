package middleware

import (
	"errors"
	"strings"

	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/jwt"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by AuthMiddleware
const (
	LocalUserID   = "userID"
	LocalUsername = "username"
	LocalRole     = "role"
)

func bearerToken(c *fiber.Ctx) string {
	// Cookie first, then Authorization header
	if token := c.Cookies("access_token"); token != "" {
		return token
	}
	authHeader := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func setClaims(c *fiber.Ctx, claims *jwt.Claims) {
	c.Locals(LocalUserID, claims.UserID)
	c.Locals(LocalUsername, claims.Username)
	c.Locals(LocalRole, domain.Role(claims.Role))
}

// AuthMiddleware creates authentication middleware
func AuthMiddleware(cfg *config.Config) fiber.Handler {
	signer := jwt.NewSigner(cfg.JWT.Secret, cfg.JWT.RefreshSecret, cfg.JWT.AccessTTL(), cfg.JWT.RefreshTTL())
	return func(c *fiber.Ctx) error {
		accessToken := bearerToken(c)
		if accessToken == "" {
			return response.Unauthorized(c, "Access token required")
		}

		claims, err := signer.ParseAccess(accessToken)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return response.Unauthorized(c, "Access token expired")
			}
			return response.Unauthorized(c, "Invalid access token")
		}
		if !domain.Role(claims.Role).Valid() {
			return response.Unauthorized(c, "Invalid access token")
		}

		setClaims(c, claims)
		return c.Next()
	}
}

// Actor returns the authenticated principal of the request
func Actor(c *fiber.Ctx) (domain.Actor, bool) {
	userID, ok := c.Locals(LocalUserID).(uint)
	if !ok || userID == 0 {
		return domain.Actor{}, false
	}
	role, ok := c.Locals(LocalRole).(domain.Role)
	if !ok {
		return domain.Actor{}, false
	}
	return domain.Actor{UserID: userID, Role: role}, true
}

// RoleMiddleware creates role-based authorization middleware
func RoleMiddleware(allowedRoles ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := Actor(c)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}
		for _, allowed := range allowedRoles {
			if actor.Role == allowed {
				return c.Next()
			}
		}
		return response.Forbidden(c, "You don't have permission to access this resource")
	}
}

// AdminOnly middleware allows only ADMIN role
func AdminOnly() fiber.Handler {
	return RoleMiddleware(domain.RoleAdmin)
}
