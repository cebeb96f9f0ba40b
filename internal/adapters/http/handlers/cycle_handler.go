package handlers

import (
	"chama-engine/internal/adapters/http/middleware"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CycleHandler handles contribution cycle, payout and penalty endpoints
type CycleHandler struct {
	cycles *services.CycleService
	log    *zap.Logger
}

// NewCycleHandler creates a new cycle handler
func NewCycleHandler(cycles *services.CycleService, log *zap.Logger) *CycleHandler {
	return &CycleHandler{cycles: cycles, log: log}
}

func (h *CycleHandler) cycleID(c *fiber.Ctx) (uint, bool) {
	return paramID(c, "id")
}

// GetCycle returns one cycle
// @Summary Get cycle
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Cycle ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /cycles/{id} [get]
func (h *CycleHandler) GetCycle(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := h.cycleID(c)
	if !ok {
		return response.BadRequest(c, "Invalid cycle ID")
	}

	cycle, err := h.cycles.GetCycle(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Cycle retrieved successfully", cycle)
}

// RecordContribution records a member's payment for an open cycle
// @Summary Record contribution
// @Tags Cycles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Cycle ID"
// @Param Idempotency-Key header string false "Client idempotency key"
// @Param body body services.ContributionInput true "Contribution"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /cycles/{id}/contributions [post]
func (h *CycleHandler) RecordContribution(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := h.cycleID(c)
	if !ok {
		return response.BadRequest(c, "Invalid cycle ID")
	}
	var req services.ContributionInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	result, err := h.cycles.RecordContribution(c.Context(), actor, id, req, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Created(c, "Contribution recorded successfully", result)
}

// FailContributionRequest carries why a payment is being reversed.
type FailContributionRequest struct {
	Reason string `json:"reason"`
}

// FailContribution reverses a partial payment that did not clear
// @Summary Reverse contribution
// @Tags Cycles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Cycle ID"
// @Param contributionId path int true "Contribution ID"
// @Param body body FailContributionRequest true "Reason"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /cycles/{id}/contributions/{contributionId}/fail [post]
func (h *CycleHandler) FailContribution(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := h.cycleID(c)
	if !ok {
		return response.BadRequest(c, "Invalid cycle ID")
	}
	contributionID, ok := paramID(c, "contributionId")
	if !ok {
		return response.BadRequest(c, "Invalid contribution ID")
	}
	var req FailContributionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	contribution, err := h.cycles.FailContribution(c.Context(), actor, id, contributionID, req.Reason, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Contribution reversed", contribution)
}

// Contributions lists a cycle's contributions
// @Summary List contributions
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Cycle ID"
// @Success 200 {object} response.Response
// @Router /cycles/{id}/contributions [get]
func (h *CycleHandler) Contributions(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := h.cycleID(c)
	if !ok {
		return response.BadRequest(c, "Invalid cycle ID")
	}

	contributions, err := h.cycles.Contributions(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Contributions retrieved successfully", contributions)
}

// PayoutQuote computes the payout for a completed cycle
// @Summary Compute payout
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Cycle ID"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /cycles/{id}/payout-quote [get]
func (h *CycleHandler) PayoutQuote(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := h.cycleID(c)
	if !ok {
		return response.BadRequest(c, "Invalid cycle ID")
	}

	quote, err := h.cycles.ComputePayout(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Payout computed successfully", quote)
}

// CloseCycle closes a paid-out cycle and opens the next one
// @Summary Close cycle
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Cycle ID"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /cycles/{id}/close [post]
func (h *CycleHandler) CloseCycle(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := h.cycleID(c)
	if !ok {
		return response.BadRequest(c, "Invalid cycle ID")
	}

	result, err := h.cycles.CloseCycle(c.Context(), actor, id, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Cycle closed successfully", result)
}

// Payout returns the cycle's payout record
// @Summary Get payout
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Cycle ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /cycles/{id}/payout [get]
func (h *CycleHandler) Payout(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := h.cycleID(c)
	if !ok {
		return response.BadRequest(c, "Invalid cycle ID")
	}

	payout, err := h.cycles.Payout(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Payout retrieved successfully", payout)
}

// RetryPayout re-issues a failed payout
// @Summary Retry payout
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Cycle ID"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /cycles/{id}/payout/retry [post]
func (h *CycleHandler) RetryPayout(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := h.cycleID(c)
	if !ok {
		return response.BadRequest(c, "Invalid cycle ID")
	}

	payout, err := h.cycles.RetryPayout(c.Context(), actor, id, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Payout re-issued", payout)
}

// SettlePenalty marks a penalty as paid
// @Summary Settle penalty
// @Tags Cycles
// @Produce json
// @Security BearerAuth
// @Param id path int true "Penalty ID"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /penalties/{id}/settle [post]
func (h *CycleHandler) SettlePenalty(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid penalty ID")
	}

	penalty, err := h.cycles.SettlePenalty(c.Context(), actor, id, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Penalty settled", penalty)
}
