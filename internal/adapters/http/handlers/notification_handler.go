package handlers

import (
	"chama-engine/internal/adapters/http/middleware"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/pagination"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// NotificationHandler serves the caller's in-app notifications
type NotificationHandler struct {
	notifications *services.NotificationService
	log           *zap.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifications *services.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log}
}

// List returns the caller's notifications, newest first
// @Summary List notifications
// @Tags Me
// @Produce json
// @Security BearerAuth
// @Param unread query bool false "Only unread"
// @Success 200 {object} response.Response
// @Router /me/notifications [get]
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	params := pagination.GetParams(c)

	items, total, err := h.notifications.List(c.Context(), actor.UserID, c.QueryBool("unread"), params.Offset, params.Limit)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Notifications retrieved successfully", pagination.NewResponse(items, params, total))
}

// UnreadCount returns the number of unread notifications
// @Summary Unread notification count
// @Tags Me
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /me/notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}

	n, err := h.notifications.UnreadCount(c.Context(), actor.UserID)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "", fiber.Map{"unread": n})
}

// MarkRead marks one notification as read
// @Summary Mark notification read
// @Tags Me
// @Produce json
// @Security BearerAuth
// @Param id path int true "Notification ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /me/notifications/{id}/read [patch]
func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid notification ID")
	}

	if err := h.notifications.MarkRead(c.Context(), actor.UserID, id); err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Notification marked as read", nil)
}
