package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"projectapi/internal/http/middleware"
	"projectapi/internal/service"
)

// callerID returns the authenticated user ID set by middleware.RequireAuth.
func callerID(c *fiber.Ctx) (uuid.UUID, bool) {
	u, ok := middleware.UserFrom(c)
	if !ok {
		return uuid.Nil, false
	}
	return u.ID, true
}

// actorFrom builds the write actor from the stored account, so staff rights
// follow the database rather than the token.
func actorFrom(c *fiber.Ctx) (service.Actor, bool) {
	u, ok := middleware.UserFrom(c)
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{UserID: u.ID, IsStaff: u.IsStaff}, true
}

func unauthenticated(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "authentication credentials were not provided")
}

func invalidBody(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
}

// Register godoc
// @Summary Create an account
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body service.RegisterInput true "account"
// @Success 201 {object} model.User
// @Failure 409 {object} errorPayload
// @Failure 422 {object} errorPayload
// @Router /api/auth/register [post]
func Register(svc service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.RegisterInput
		if err := c.BodyParser(&in); err != nil {
			return invalidBody(c)
		}
		u, err := svc.Register(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(u)
	}
}

// Login godoc
// @Summary Exchange credentials for an access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body service.LoginInput true "credentials"
// @Success 200 {object} service.TokenPair
// @Failure 401 {object} errorPayload
// @Router /api/auth/login [post]
func Login(svc service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.LoginInput
		if err := c.BodyParser(&in); err != nil {
			return invalidBody(c)
		}
		pair, err := svc.Login(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(pair)
	}
}

// CurrentUser godoc
// @Summary The authenticated user
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.User
// @Failure 401 {object} errorPayload
// @Router /api/auth/me [get]
// @Router /api/users/profile [get]
func CurrentUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, ok := middleware.UserFrom(c)
		if !ok {
			return unauthenticated(c)
		}
		return c.JSON(u)
	}
}

// UpdateProfile godoc
// @Summary Update the caller's names
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.ProfileInput true "fields to change"
// @Success 200 {object} model.User
// @Failure 400 {object} errorPayload
// @Router /api/users/profile [patch]
func UpdateProfile(svc service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := callerID(c)
		if !ok {
			return unauthenticated(c)
		}
		var in service.ProfileInput
		if err := c.BodyParser(&in); err != nil {
			return invalidBody(c)
		}
		u, err := svc.UpdateProfile(c.UserContext(), id, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(u)
	}
}
