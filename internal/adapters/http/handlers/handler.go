package handlers

import (
	"errors"
	"strconv"
	"strings"

	"chama-engine/internal/core/domain"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// fail maps an engine error to its HTTP status. Unclassified errors are
// logged and reported as 500 without their detail.
func fail(c *fiber.Ctx, log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenInvalid),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, services.ErrTokenRevoked):
		return response.Unauthorized(c, err.Error())
	case errors.Is(err, services.ErrUserInactive):
		return response.Forbidden(c, err.Error())
	}

	switch domain.Kind(err) {
	case domain.ErrValidation:
		return response.BadRequest(c, err.Error())
	case domain.ErrForbidden:
		return response.Forbidden(c, err.Error())
	case domain.ErrNotFound:
		return response.NotFound(c, err.Error())
	case domain.ErrDuplicate:
		return response.Fail(c, fiber.StatusConflict, response.CodeDuplicate, err.Error())
	case domain.ErrConflict:
		return response.Conflict(c, err.Error())
	case domain.ErrInvalidState:
		return response.UnprocessableEntity(c, err.Error())
	}

	if log != nil {
		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return response.InternalServerError(c, "Internal server error")
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func queryID(c *fiber.Ctx, name string) (uint, bool) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
