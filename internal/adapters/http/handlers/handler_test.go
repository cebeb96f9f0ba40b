package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"chama-engine/internal/core/domain"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailMapsErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.Validationf("amount must be positive"), fiber.StatusBadRequest, response.CodeValidation},
		{"forbidden", domain.Forbiddenf("not your loan"), fiber.StatusForbidden, response.CodeForbidden},
		{"not found", domain.NotFoundf("cycle 9"), fiber.StatusNotFound, response.CodeNotFound},
		{"conflict", domain.Conflictf("cycle already open"), fiber.StatusConflict, response.CodeConflict},
		{"duplicate", domain.Duplicatef("reference used"), fiber.StatusConflict, response.CodeDuplicate},
		{"invalid state", domain.InvalidStatef("loan is not approved"), fiber.StatusUnprocessableEntity, response.CodeInvalidState},
		{"wrapped", fmt.Errorf("close cycle: %w", domain.InvalidStatef("payout pending")), fiber.StatusUnprocessableEntity, response.CodeInvalidState},
		{"bad credentials", domain.ErrInvalidCredentials, fiber.StatusUnauthorized, response.CodeUnauthorized},
		{"revoked", services.ErrTokenRevoked, fiber.StatusUnauthorized, response.CodeUnauthorized},
		{"inactive", services.ErrUserInactive, fiber.StatusForbidden, response.CodeForbidden},
		{"unclassified", errors.New("connection reset"), fiber.StatusInternalServerError, response.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return fail(c, nil, tt.err) })

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			if tt.status == fiber.StatusInternalServerError {
				assert.NotContains(t, string(body), "connection reset")
			}
			var env response.Response
			require.NoError(t, json.Unmarshal(body, &env))
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestParamID(t *testing.T) {
	app := fiber.New()
	app.Get("/cycles/:id", func(c *fiber.Ctx) error {
		id, ok := paramID(c, "id")
		if !ok {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		member, ok := queryID(c, "member_id")
		if !ok {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		return c.JSON(fiber.Map{"id": id, "member": member})
	})

	for path, want := range map[string]int{
		"/cycles/12":              fiber.StatusOK,
		"/cycles/0":               fiber.StatusBadRequest,
		"/cycles/abc":             fiber.StatusBadRequest,
		"/cycles/-3":              fiber.StatusBadRequest,
		"/cycles/12?member_id=4":  fiber.StatusOK,
		"/cycles/12?member_id=x4": fiber.StatusBadRequest,
	} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestHealthCheck(t *testing.T) {
	var dbErr error
	h := NewHealthHandler("development", map[string]Dependency{
		"database": func(context.Context) error { return dbErr },
		"cache":    func(context.Context) error { return nil },
	})
	app := fiber.New()
	app.Get("/health", h.HealthCheck)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	dbErr = errors.New("db down")
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Checks["database"])
	assert.Equal(t, "healthy", body.Checks["cache"])
}
