package auth

import (
	"chat-sync/contract"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the token query parameter used by browsers for websocket
// upgrades.
func TokenFromRequest(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}

// Interceptor resolves the caller identity for REST routes and stores it in
// the request locals. Unresolved callers get a 401.
func Interceptor(resolver contract.IdentityResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := resolver.Resolve(c.UserContext(), contract.Handshake{
			Token:      TokenFromRequest(c),
			RemoteAddr: c.IP(),
		})
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}
		c.Locals(UserIDKey, userID)
		return c.Next()
	}
}

// UserID returns the identity stored by Interceptor.
func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(UserIDKey).(string)
	return userID
}
