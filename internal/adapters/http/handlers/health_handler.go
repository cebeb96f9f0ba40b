package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Dependency checks one backing service; nil means healthy.
type Dependency func(ctx context.Context) error

const dependencyTimeout = 2 * time.Second

// HealthHandler reports liveness and dependency health
type HealthHandler struct {
	mode string
	deps map[string]Dependency
}

// NewHealthHandler creates a health handler over named dependencies
func NewHealthHandler(mode string, deps map[string]Dependency) *HealthHandler {
	return &HealthHandler{mode: mode, deps: deps}
}

// Root handles root endpoint
// @Summary Root endpoint
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "running",
		"message": "Chama engine API v1 is running",
		"mode":    h.mode,
		"docs":    "/swagger/index.html",
	})
}

// HealthCheck runs every dependency check
// @Summary Health check
// @Description Check API, database and cache health
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(c.UserContext(), dependencyTimeout)
	defer cancel()

	checks := fiber.Map{"api": "healthy"}
	status, overall := fiber.StatusOK, "ok"
	for _, name := range names {
		if err := h.deps[name](ctx); err != nil {
			checks[name] = "unhealthy"
			status, overall = fiber.StatusServiceUnavailable, "degraded"
			continue
		}
		checks[name] = "healthy"
	}

	return c.Status(status).JSON(fiber.Map{"status": overall, "checks": checks})
}

// APIInfo handles API v1 info
func (h *HealthHandler) APIInfo(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "Chama engine API",
		"version": "1.0.0",
	})
}
