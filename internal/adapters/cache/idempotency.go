package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chama-engine/internal/config"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a key has no stored response
var ErrNotFound = errors.New("idempotency key not found")

// Response is the replayable result of a request made under an idempotency key.
// A reserved key with no response yet has Status 0.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Pending reports whether the key is reserved but the request has not finished.
func (r *Response) Pending() bool {
	return r.Status == 0
}

// IdempotencyStore remembers responses per idempotency key
type IdempotencyStore interface {
	// Reserve claims key for ttl. It returns false when the key already exists.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (*Response, error)
	Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Key namespaces a client key by scope (user, route).
func Key(scope, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, key)
}

// New returns the redis store when an address is configured, the in-memory
// store otherwise.
func New(cfg config.RedisConfig, log *zap.Logger) (IdempotencyStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Addr == "" {
		log.Info("idempotency store: in-memory")
		return NewMemoryStore(), nil
	}
	store, err := NewRedisStore(cfg.Addr, cfg.Password, cfg.DB, log)
	if err != nil {
		return nil, err
	}
	log.Info("idempotency store: redis", zap.String("addr", cfg.Addr))
	return store, nil
}
