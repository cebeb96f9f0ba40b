package middleware

import (
	"crypto/subtle"
	"fmt"
	"time"

	"chama-engine/internal/adapters/cache"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// HeaderIdempotencyKey is the request header carrying the client key
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderReplayed marks a response served from the idempotency store
const HeaderReplayed = "Idempotent-Replayed"

// Idempotency replays the stored response for a repeated Idempotency-Key on
// POST requests. Keys are scoped per user and route. A request still in
// flight under the same key gets 409. Server errors are not stored so the
// client can retry.
func Idempotency(store cache.IdempotencyStore, ttl time.Duration, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		clientKey := c.Get(HeaderIdempotencyKey)
		if c.Method() != fiber.MethodPost || clientKey == "" {
			return c.Next()
		}
		if len(clientKey) > 128 {
			return response.BadRequest(c, "Idempotency-Key is too long")
		}

		scope := "anon"
		if actor, ok := Actor(c); ok {
			scope = fmt.Sprintf("user:%d", actor.UserID)
		}
		key := cache.Key(scope+":"+c.Method()+":"+c.Path(), clientKey)
		return runOnce(c, store, key, ttl, log)
	}
}

// runOnce executes the rest of the chain at most once per key.
func runOnce(c *fiber.Ctx, store cache.IdempotencyStore, key string, ttl time.Duration, log *zap.Logger) error {
	ctx := c.UserContext()
	reserved, err := store.Reserve(ctx, key, ttl)
	if err != nil {
		log.Error("idempotency store unavailable", zap.Error(err))
		return response.Error(c, fiber.StatusServiceUnavailable, "Idempotency store unavailable")
	}
	if !reserved {
		stored, err := store.Get(ctx, key)
		if err != nil || stored.Pending() {
			return response.Conflict(c, "A request with this Idempotency-Key is in progress")
		}
		c.Set(HeaderReplayed, "true")
		if stored.ContentType != "" {
			c.Set(fiber.HeaderContentType, stored.ContentType)
		}
		return c.Status(stored.Status).Send(stored.Body)
	}

	if err := c.Next(); err != nil {
		_ = store.Delete(ctx, key)
		return err
	}

	status := c.Response().StatusCode()
	if status >= fiber.StatusInternalServerError {
		_ = store.Delete(ctx, key)
		return nil
	}
	resp := &cache.Response{
		Status:      status,
		ContentType: string(c.Response().Header.ContentType()),
		Body:        append([]byte(nil), c.Response().Body()...),
	}
	if err := store.Set(ctx, key, resp, ttl); err != nil {
		log.Warn("failed to store idempotent response", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// CallbackAuth checks the shared payment callback token, sent in the
// X-Callback-Token header or the token query parameter.
func CallbackAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return response.Forbidden(c, "Payment callbacks are not configured")
		}
		got := c.Get("X-Callback-Token")
		if got == "" {
			got = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return response.Unauthorized(c, "Invalid callback token")
		}
		return c.Next()
	}
}

// CallbackOnce deduplicates payment callbacks by the key returned from keyOf.
func CallbackOnce(store cache.IdempotencyStore, ttl time.Duration, keyOf func(c *fiber.Ctx) string, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		k := keyOf(c)
		if k == "" {
			return c.Next()
		}
		return runOnce(c, store, cache.Key("callback:"+c.Path(), k), ttl, log)
	}
}
