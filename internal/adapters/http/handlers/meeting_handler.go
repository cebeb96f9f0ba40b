package handlers

import (
	"chama-engine/internal/adapters/http/middleware"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/pagination"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// MeetingHandler handles meeting, minutes and attendance endpoints
type MeetingHandler struct {
	meetings *services.MeetingService
	log      *zap.Logger
}

// NewMeetingHandler creates a new meeting handler
func NewMeetingHandler(meetings *services.MeetingService, log *zap.Logger) *MeetingHandler {
	return &MeetingHandler{meetings: meetings, log: log}
}

// MinutesRequest carries meeting minutes
type MinutesRequest struct {
	Minutes string `json:"minutes"`
}

// CancelMeetingRequest carries why a meeting was called off
type CancelMeetingRequest struct {
	Reason string `json:"reason"`
}

// Schedule books a meeting for a group
// @Summary Schedule meeting
// @Tags Meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param body body services.ScheduleMeetingInput true "Meeting"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /groups/{id}/meetings [post]
func (h *MeetingHandler) Schedule(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	groupID, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}
	var req services.ScheduleMeetingInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	meeting, err := h.meetings.Schedule(c.Context(), actor, groupID, req, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Created(c, "Meeting scheduled successfully", meeting)
}

// List lists a group's meetings
// @Summary List meetings
// @Tags Meetings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param status query string false "SCHEDULED, ONGOING, COMPLETED or CANCELLED"
// @Success 200 {object} response.Response
// @Router /groups/{id}/meetings [get]
func (h *MeetingHandler) List(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	groupID, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid group ID")
	}
	params := pagination.GetParams(c)

	meetings, total, err := h.meetings.ListMeetings(c.Context(), actor, groupID, c.Query("status"), params.Offset, params.Limit)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Meetings retrieved successfully", pagination.NewResponse(meetings, params, total))
}

// Get returns one meeting with its register
// @Summary Get meeting
// @Tags Meetings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Meeting ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /meetings/{id} [get]
func (h *MeetingHandler) Get(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid meeting ID")
	}

	meeting, err := h.meetings.GetMeeting(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Meeting retrieved successfully", meeting)
}

// Start opens a scheduled meeting
// @Summary Start meeting
// @Tags Meetings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Meeting ID"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /meetings/{id}/start [post]
func (h *MeetingHandler) Start(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid meeting ID")
	}

	meeting, err := h.meetings.Start(c.Context(), actor, id, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Meeting started", meeting)
}

// Complete ends a running meeting
// @Summary Complete meeting
// @Tags Meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Meeting ID"
// @Param body body MinutesRequest false "Minutes"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /meetings/{id}/complete [post]
func (h *MeetingHandler) Complete(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid meeting ID")
	}
	var req MinutesRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "Invalid request body")
		}
	}

	meeting, err := h.meetings.Complete(c.Context(), actor, id, req.Minutes, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Meeting completed", meeting)
}

// Cancel calls off a scheduled meeting
// @Summary Cancel meeting
// @Tags Meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Meeting ID"
// @Param body body CancelMeetingRequest true "Reason"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /meetings/{id}/cancel [post]
func (h *MeetingHandler) Cancel(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid meeting ID")
	}
	var req CancelMeetingRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	meeting, err := h.meetings.Cancel(c.Context(), actor, id, req.Reason, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Meeting cancelled", meeting)
}

// RecordMinutes sets a meeting's minutes
// @Summary Record minutes
// @Tags Meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Meeting ID"
// @Param body body MinutesRequest true "Minutes"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /meetings/{id}/minutes [put]
func (h *MeetingHandler) RecordMinutes(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid meeting ID")
	}
	var req MinutesRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	meeting, err := h.meetings.RecordMinutes(c.Context(), actor, id, req.Minutes, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Minutes recorded", meeting)
}

// RecordAttendance marks a member on the register
// @Summary Record attendance
// @Tags Meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Meeting ID"
// @Param body body services.AttendanceInput true "Attendance"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /meetings/{id}/attendance [post]
func (h *MeetingHandler) RecordAttendance(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid meeting ID")
	}
	var req services.AttendanceInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	entry, err := h.meetings.RecordAttendance(c.Context(), actor, id, req, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Attendance recorded", entry)
}

// Attendance lists a meeting's register
// @Summary List attendance
// @Tags Meetings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Meeting ID"
// @Success 200 {object} response.Response
// @Router /meetings/{id}/attendance [get]
func (h *MeetingHandler) Attendance(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid meeting ID")
	}

	register, err := h.meetings.Attendance(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Attendance retrieved successfully", register)
}
