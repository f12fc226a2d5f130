package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"projectapi/internal/apperr"
	"projectapi/internal/model"
	"projectapi/internal/service"
)

const (
	// ClaimsLocalKey is the locals key holding the caller's *service.Claims.
	ClaimsLocalKey = "claims"
	// UserLocalKey is the locals key holding the caller's *model.User.
	UserLocalKey = "user"
)

// Authenticator verifies bearer tokens and resolves the account behind them.
type Authenticator interface {
	ValidateToken(ctx context.Context, token string) (*service.Claims, error)
	CurrentUser(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// RequireAuth rejects requests without a valid "Authorization: Bearer" token
// or whose account is gone or inactive.
func RequireAuth(a Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication credentials were not provided")
		}
		claims, err := a.ValidateToken(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, apperr.PublicMessage(err, "invalid or expired token"))
		}
		id, err := claims.UserID()
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token subject")
		}
		u, err := a.CurrentUser(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, apperr.ErrUnauthorized) {
				return fiber.NewError(fiber.StatusUnauthorized, apperr.PublicMessage(err, "invalid or expired token"))
			}
			return err
		}
		c.Locals(ClaimsLocalKey, claims)
		c.Locals(UserLocalKey, u)
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireAuth.
func ClaimsFrom(c *fiber.Ctx) (*service.Claims, bool) {
	claims, ok := c.Locals(ClaimsLocalKey).(*service.Claims)
	return claims, ok && claims != nil
}

// UserFrom returns the account loaded by RequireAuth.
func UserFrom(c *fiber.Ctx) (*model.User, bool) {
	u, ok := c.Locals(UserLocalKey).(*model.User)
	return u, ok && u != nil
}

func bearerToken(h string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(h), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
