package handlers

import (
	"chama-engine/internal/adapters/http/middleware"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/pagination"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// GroupHandler handles chama, membership and rotation endpoints
type GroupHandler struct {
	groups *services.GroupService
	cycles *services.CycleService
	log    *zap.Logger
}

// NewGroupHandler creates a new group handler
func NewGroupHandler(groups *services.GroupService, cycles *services.CycleService, log *zap.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, cycles: cycles, log: log}
}

// MemberStatusRequest changes a membership status
type MemberStatusRequest struct {
	Status string `json:"status"`
}

// RotationRequest is the full payout order as membership IDs
type RotationRequest struct {
	Order []uint `json:"order"`
}

// CreateGroup registers a new chama
// @Summary Create group
// @Tags Groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body services.CreateGroupInput true "Group settings"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /groups [post]
func (h *GroupHandler) CreateGroup(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req services.CreateGroupInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	group, err := h.groups.CreateGroup(c.Context(), actor, req, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Created(c, "Group created successfully", group)
}

// ListGroups lists groups
// @Summary List groups
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Success 200 {object} response.Response
// @Router /groups [get]
func (h *GroupHandler) ListGroups(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	params := pagination.GetParams(c)

	groups, total, err := h.groups.ListGroups(c.Context(), actor, params.Offset, params.Limit)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Groups retrieved successfully", pagination.NewResponse(groups, params, total))
}

// GetGroup returns one group
// @Summary Get group
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /groups/{id} [get]
func (h *GroupHandler) GetGroup(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}

	group, err := h.groups.GetGroup(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Group retrieved successfully", group)
}

// AddMember seats a user at the end of the rotation
// @Summary Add member
// @Tags Groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param body body services.AddMemberInput true "User to add"
// @Success 201 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /groups/{id}/members [post]
func (h *GroupHandler) AddMember(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}
	var req services.AddMemberInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	member, err := h.groups.AddMember(c.Context(), actor, id, req, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Created(c, "Member added successfully", member)
}

// Members lists a group's memberships
// @Summary List members
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 200 {object} response.Response
// @Router /groups/{id}/members [get]
func (h *GroupHandler) Members(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}

	members, err := h.groups.Members(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Members retrieved successfully", members)
}

// UpdateMemberStatus activates, suspends or withdraws a membership
// @Summary Update member status
// @Tags Groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param memberId path int true "Membership ID"
// @Param body body MemberStatusRequest true "New status"
// @Success 200 {object} response.Response
// @Router /groups/{id}/members/{memberId} [patch]
func (h *GroupHandler) UpdateMemberStatus(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	groupID, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}
	memberID, ok := paramID(c, "memberId")
	if !ok {
		return response.BadRequest(c, "Invalid member ID")
	}
	var req MemberStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	member, err := h.groups.UpdateMemberStatus(c.Context(), actor, groupID, memberID, req.Status, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Member status updated successfully", member)
}

// Rotation returns the payout order
// @Summary Get rotation
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 200 {object} response.Response
// @Router /groups/{id}/rotation [get]
func (h *GroupHandler) Rotation(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}

	rotation, err := h.groups.Rotation(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Rotation retrieved successfully", rotation)
}

// SetRotation replaces the payout order
// @Summary Set rotation
// @Tags Groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param body body RotationRequest true "Membership IDs in payout order"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /groups/{id}/rotation [put]
func (h *GroupHandler) SetRotation(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}
	var req RotationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	rotation, err := h.groups.SetRotation(c.Context(), actor, id, req.Order, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Rotation updated successfully", rotation)
}

// OpenCycle opens the group's next contribution cycle
// @Summary Open cycle
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 201 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /groups/{id}/cycles [post]
func (h *GroupHandler) OpenCycle(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}

	cycle, err := h.cycles.OpenCycle(c.Context(), actor, id, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Created(c, "Cycle opened successfully", cycle)
}

// ListCycles lists a group's cycles, newest first
// @Summary List cycles
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 200 {object} response.Response
// @Router /groups/{id}/cycles [get]
func (h *GroupHandler) ListCycles(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}
	params := pagination.GetParams(c)

	cycles, total, err := h.cycles.ListCycles(c.Context(), actor, id, params.Offset, params.Limit)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Cycles retrieved successfully", pagination.NewResponse(cycles, params, total))
}

// Penalties lists a group's penalty ledger
// @Summary List penalties
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param status query string false "UNPAID or PAID"
// @Success 200 {object} response.Response
// @Router /groups/{id}/penalties [get]
func (h *GroupHandler) Penalties(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}
	params := pagination.GetParams(c)

	penalties, total, err := h.cycles.Penalties(c.Context(), actor, id, c.Query("status"), params.Offset, params.Limit)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Penalties retrieved successfully", pagination.NewResponse(penalties, params, total))
}
