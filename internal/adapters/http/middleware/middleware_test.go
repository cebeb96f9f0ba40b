package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chama-engine/internal/adapters/cache"
	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{JWT: config.JWTConfig{Secret: "test-secret", AccessTokenMins: 5}}
}

func whoAmI(c *fiber.Ctx) error {
	actor, ok := Actor(c)
	if !ok {
		return c.SendStatus(fiber.StatusTeapot)
	}
	return c.JSON(actor)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	app := fiber.New()
	app.Get("/me", AuthMiddleware(cfg), whoAmI)
	app.Get("/admin", AuthMiddleware(cfg), AdminOnly(), whoAmI)

	signer := jwt.NewSigner(cfg.JWT.Secret, "refresh", cfg.JWT.AccessTTL(), time.Hour)
	memberToken, err := signer.Access(7, "wanjiku", string(domain.RoleMember))
	require.NoError(t, err)
	foreign, err := jwt.NewSigner("other-secret", "refresh", time.Minute, time.Hour).Access(7, "wanjiku", string(domain.RoleMember))
	require.NoError(t, err)
	badRole, err := signer.Access(7, "wanjiku", "GUEST")
	require.NoError(t, err)
	refreshOnly, _, err := jwt.NewSigner("refresh", cfg.JWT.Secret, time.Minute, time.Hour).Refresh(7, "sid")
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"missing token", "/me", "", fiber.StatusUnauthorized},
		{"malformed header", "/me", "Token " + memberToken, fiber.StatusUnauthorized},
		{"wrong secret", "/me", "Bearer " + foreign, fiber.StatusUnauthorized},
		{"unknown role", "/me", "Bearer " + badRole, fiber.StatusUnauthorized},
		{"refresh token as access", "/me", "Bearer " + refreshOnly, fiber.StatusUnauthorized},
		{"valid token", "/me", "Bearer " + memberToken, fiber.StatusOK},
		{"member on admin route", "/admin", "Bearer " + memberToken, fiber.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+memberToken)
	resp, err := app.Test(req)
	require.NoError(t, err)
	var actor domain.Actor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&actor))
	assert.Equal(t, uint(7), actor.UserID)
	assert.Equal(t, domain.RoleMember, actor.Role)
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	store := cache.NewMemoryStore()
	var calls int32
	app := fiber.New()
	app.Post("/contributions", Idempotency(store, time.Hour, nil), func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})

	post := func(key string) (int, string, string) {
		req := httptest.NewRequest(fiber.MethodPost, "/contributions", strings.NewReader("{}"))
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body), resp.Header.Get(HeaderReplayed)
	}

	status, first, replayed := post("k-1")
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Empty(t, replayed)

	status, second, replayed := post("k-1")
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, first, second)
	assert.Equal(t, "true", replayed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	post("k-2")
	post("")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	_, err := store.Reserve(context.Background(), cache.Key("anon:POST:/contributions", "k-busy"), time.Hour)
	require.NoError(t, err)
	status, _, _ = post("k-busy")
	assert.Equal(t, fiber.StatusConflict, status)

	status, _, _ = post(strings.Repeat("x", 129))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	store := cache.NewMemoryStore()
	var calls int32
	app := fiber.New()
	app.Post("/pay", Idempotency(store, time.Hour, nil), func(c *fiber.Ctx) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return c.SendStatus(fiber.StatusBadGateway)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	for _, want := range []int{fiber.StatusBadGateway, fiber.StatusOK, fiber.StatusOK} {
		req := httptest.NewRequest(fiber.MethodPost, "/pay", nil)
		req.Header.Set(HeaderIdempotencyKey, "retry-me")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCallbackAuth(t *testing.T) {
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }

	closed := fiber.New()
	closed.Post("/cb", CallbackAuth(""), ok)
	resp, err := closed.Test(httptest.NewRequest(fiber.MethodPost, "/cb?token=", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	app := fiber.New()
	app.Post("/cb", CallbackAuth("s3cret"), ok)

	req := httptest.NewRequest(fiber.MethodPost, "/cb", nil)
	req.Header.Set("X-Callback-Token", "guess")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodPost, "/cb", nil)
	req.Header.Set("X-Callback-Token", "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/cb?token=s3cret", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestCustomErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: CustomErrorHandler})
	app.Get("/gone", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusGone, "gone") })
	app.Get("/boom", func(c *fiber.Ctx) error { return assert.AnError })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/gone", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusGone, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), assert.AnError.Error())
}
