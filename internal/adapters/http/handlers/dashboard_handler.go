package handlers

import (
	"chama-engine/internal/adapters/http/middleware"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// DashboardHandler handles dashboard endpoints
type DashboardHandler struct {
	dashboardService *services.DashboardService
	log              *zap.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(dashboardService *services.DashboardService, log *zap.Logger) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService, log: log}
}

// GetAdminDashboard returns admin dashboard data
// @Summary Admin Dashboard
// @Description System-wide counts, outbox health and recent audit entries (Admin only)
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /admin/dashboard [get]
func (h *DashboardHandler) GetAdminDashboard(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}

	data, err := h.dashboardService.GetAdminDashboard(c.Context(), actor)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Admin dashboard retrieved successfully", data)
}

// GetGroupDashboard returns one group's aggregates
// @Summary Group Dashboard
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /groups/{id}/dashboard [get]
func (h *DashboardHandler) GetGroupDashboard(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	groupID, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}

	data, err := h.dashboardService.GetGroupDashboard(c.Context(), actor, groupID)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Group dashboard retrieved successfully", data)
}

// GetMemberDashboard returns the caller's view across groups
// @Summary Member Dashboard
// @Tags Me
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /me/dashboard [get]
func (h *DashboardHandler) GetMemberDashboard(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}

	data, err := h.dashboardService.GetMemberDashboard(c.Context(), actor.UserID)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Dashboard retrieved successfully", data)
}

// GetSecretaryDashboard returns meetings and membership work for the caller
// @Summary Secretary Dashboard
// @Description Upcoming meetings, pending minutes and pending members across the caller's groups
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /secretary/dashboard [get]
func (h *DashboardHandler) GetSecretaryDashboard(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}

	data, err := h.dashboardService.GetSecretaryDashboard(c.Context(), actor)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Secretary dashboard retrieved successfully", data)
}
