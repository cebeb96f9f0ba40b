package handlers

import (
	"strings"

	"chama-engine/internal/adapters/payment"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/core/services"
	"chama-engine/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// PaymentHandler receives payment confirmations from the gateway
type PaymentHandler struct {
	settlement *services.SettlementService
	log        *zap.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(settlement *services.SettlementService, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{settlement: settlement, log: log.Named("payments")}
}

// CallbackRequest is the gateway-neutral confirmation body
type CallbackRequest struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// CallbackKey derives the dedupe key of a neutral callback body.
func CallbackKey(c *fiber.Ctx) string {
	var req CallbackRequest
	if err := c.BodyParser(&req); err != nil || req.Reference == "" {
		return ""
	}
	return req.Reference + ":" + strings.ToUpper(req.Status)
}

// MpesaResultKey derives the dedupe key of an M-Pesa result body.
func MpesaResultKey(c *fiber.Ctx) string {
	res, err := payment.ParseResult(c.Body())
	if err != nil {
		return ""
	}
	return res.Reference + ":" + string(res.Status)
}

// Callback applies a payment outcome to its payout or disbursement
// @Summary Payment callback
// @Description Confirms or fails a payout or loan disbursement by reference. Authenticated by the shared callback token.
// @Tags Payments
// @Accept json
// @Produce json
// @Param X-Callback-Token header string true "Shared callback token"
// @Param body body CallbackRequest true "Outcome"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /payments/callback [post]
func (h *PaymentHandler) Callback(c *fiber.Ctx) error {
	var req CallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return response.BadRequest(c, "Reference is required")
	}

	result := services.PaymentResult{
		Reference: strings.TrimSpace(req.Reference),
		Status:    domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Message:   req.Message,
	}
	if err := h.settlement.Settle(c.Context(), result); err != nil {
		return fail(c, h.log, err)
	}
	h.log.Info("payment callback applied",
		zap.String("reference", result.Reference),
		zap.String("status", string(result.Status)),
	)
	return response.Success(c, "Payment outcome recorded", result)
}

// MpesaResult handles the M-Pesa B2C result callback. M-Pesa only needs an
// acknowledgement; settlement errors are logged.
// @Summary M-Pesa B2C result
// @Tags Payments
// @Accept json
// @Produce json
// @Param token query string true "Shared callback token"
// @Success 200 {object} map[string]interface{}
// @Router /payments/mpesa/result [post]
func (h *PaymentHandler) MpesaResult(c *fiber.Ctx) error {
	result, err := payment.ParseResult(c.Body())
	if err != nil {
		return response.BadRequest(c, err.Error())
	}
	if err := h.settlement.Settle(c.Context(), *result); err != nil {
		if domain.Kind(err) == nil {
			// Let M-Pesa retry transient failures
			return fail(c, h.log, err)
		}
		h.log.Warn("m-pesa result not applied",
			zap.String("reference", result.Reference),
			zap.Error(err),
		)
	}
	return c.JSON(fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
}
