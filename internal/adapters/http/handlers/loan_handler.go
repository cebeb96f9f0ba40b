package handlers

import (
	"strings"

	"chama-engine/internal/adapters/http/middleware"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/pagination"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LoanHandler handles the loan lifecycle endpoints
type LoanHandler struct {
	loans *services.LoanService
	log   *zap.Logger
}

// NewLoanHandler creates a new loan handler
func NewLoanHandler(loans *services.LoanService, log *zap.Logger) *LoanHandler {
	return &LoanHandler{loans: loans, log: log}
}

// GuarantorResponseRequest is a guarantor's answer
type GuarantorResponseRequest struct {
	Accept bool `json:"accept"`
}

// Apply records a loan application
// @Summary Apply for loan
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Client idempotency key"
// @Param body body services.ApplyLoanInput true "Application"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /loans [post]
func (h *LoanHandler) Apply(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req services.ApplyLoanInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	loan, err := h.loans.Apply(c.Context(), actor, req, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Created(c, "Loan application submitted", loan)
}

// ListLoans lists loans by group, borrower or status
// @Summary List loans
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param group_id query int false "Group ID"
// @Param borrower_id query int false "Borrower membership ID"
// @Param status query string false "Loan status"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Success 200 {object} response.Response
// @Router /loans [get]
func (h *LoanHandler) ListLoans(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	groupID, ok := queryID(c, "group_id")
	if !ok {
		return response.BadRequest(c, "Invalid group_id")
	}
	borrowerID, ok := queryID(c, "borrower_id")
	if !ok {
		return response.BadRequest(c, "Invalid borrower_id")
	}
	filter := repositories.LoanFilter{
		GroupID:    groupID,
		BorrowerID: borrowerID,
		Status:     domain.LoanStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
	}
	params := pagination.GetParams(c)

	loans, total, err := h.loans.ListLoans(c.Context(), actor, filter, params.Offset, params.Limit)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Loans retrieved successfully", pagination.NewResponse(loans, params, total))
}

// GetLoan returns a loan with its guarantors and schedule
// @Summary Get loan
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /loans/{id} [get]
func (h *LoanHandler) GetLoan(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid loan ID")
	}

	loan, err := h.loans.GetLoan(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Loan retrieved successfully", loan)
}

// RespondGuarantor records a guarantor's acceptance or refusal
// @Summary Respond as guarantor
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Param guarantorId path int true "Guarantor membership ID"
// @Param body body GuarantorResponseRequest true "Answer"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /loans/{id}/guarantors/{guarantorId}/respond [post]
func (h *LoanHandler) RespondGuarantor(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	loanID, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid loan ID")
	}
	guarantorID, ok := paramID(c, "guarantorId")
	if !ok {
		return response.BadRequest(c, "Invalid guarantor ID")
	}
	var req GuarantorResponseRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	loan, err := h.loans.RespondGuarantor(c.Context(), actor, loanID, guarantorID, req.Accept, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Response recorded", loan)
}

// Review approves or rejects a loan
// @Summary Review loan
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Param body body services.ReviewInput true "Decision"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /loans/{id}/review [post]
func (h *LoanHandler) Review(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid loan ID")
	}
	var req services.ReviewInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	loan, err := h.loans.Review(c.Context(), actor, id, req, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Loan reviewed", loan)
}

// Disburse builds the schedule and sends the principal to the borrower
// @Summary Disburse loan
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /loans/{id}/disburse [post]
func (h *LoanHandler) Disburse(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid loan ID")
	}

	loan, err := h.loans.Disburse(c.Context(), actor, id, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Loan disbursed", loan)
}

// RetryDisbursement re-issues a failed disbursement payment
// @Summary Retry disbursement
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /loans/{id}/disburse/retry [post]
func (h *LoanHandler) RetryDisbursement(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid loan ID")
	}

	loan, err := h.loans.RetryDisbursement(c.Context(), actor, id, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Disbursement re-issued", loan)
}

// RecordRepayment applies a repayment to the schedule
// @Summary Record repayment
// @Tags Loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Param Idempotency-Key header string false "Client idempotency key"
// @Param body body services.RepaymentInput true "Repayment"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /loans/{id}/repayments [post]
func (h *LoanHandler) RecordRepayment(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid loan ID")
	}
	var req services.RepaymentInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	result, err := h.loans.RecordRepayment(c.Context(), actor, id, req, c.IP())
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Created(c, "Repayment recorded", result)
}

// Repayments lists a loan's repayments
// @Summary List repayments
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param id path int true "Loan ID"
// @Success 200 {object} response.Response
// @Router /loans/{id}/repayments [get]
func (h *LoanHandler) Repayments(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid loan ID")
	}

	repayments, err := h.loans.Repayments(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Repayments retrieved successfully", repayments)
}

// Eligibility reports a member's borrowing ceiling
// @Summary Loan eligibility
// @Tags Loans
// @Produce json
// @Security BearerAuth
// @Param id path int true "Membership ID"
// @Success 200 {object} response.Response
// @Router /memberships/{id}/eligibility [get]
func (h *LoanHandler) Eligibility(c *fiber.Ctx) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, ok := paramID(c, "id")
	if !ok {
		return response.BadRequest(c, "Invalid membership ID")
	}

	result, err := h.loans.Eligibility(c.Context(), actor, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return response.Success(c, "Eligibility computed", result)
}
