package handlers

import (
	"chama-engine/internal/adapters/http/middleware"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ChecksHandler triggers the scheduled checks on demand
type ChecksHandler struct {
	cron *services.CronService
	log  *zap.Logger
}

// NewChecksHandler creates a new checks handler
func NewChecksHandler(cron *services.CronService, log *zap.Logger) *ChecksHandler {
	return &ChecksHandler{cron: cron, log: log}
}

// Run runs the late-penalty, overdue and reminder checks now
// @Summary Run scheduled checks
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /checks/run [post]
func (h *ChecksHandler) Run(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}

	report, err := h.cron.RunChecks(c.Context(), actor)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Checks completed", report)
}
