package services

import (
	"context"

	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
)

// Note: collaborator implementations live under internal/adapters.

// Operation names an engine capability checked by the Authorizer.
type Operation string

const (
	OpView               Operation = "view"
	OpGroupManage        Operation = "group.manage"
	OpCycleOpen          Operation = "cycle.open"
	OpCycleClose         Operation = "cycle.close"
	OpContributionRecord Operation = "contribution.record"
	OpPayoutManage       Operation = "payout.manage"
	OpPenaltySettle      Operation = "penalty.settle"
	OpLoanApply          Operation = "loan.apply"
	OpLoanGuarantee      Operation = "loan.guarantee"
	OpLoanReview         Operation = "loan.review"
	OpLoanDisburse       Operation = "loan.disburse"
	OpLoanRepay          Operation = "loan.repay"
	OpMeetingManage      Operation = "meeting.manage"
	OpUserManage         Operation = "user.manage"
	OpChecksRun          Operation = "checks.run"
)

// Target is the entity an operation acts on. OwnerID is the user the entity
// belongs to (borrower, guarantor) and is zero when ownership does not apply.
type Target struct {
	Kind    string
	ID      uint
	GroupID uint
	OwnerID uint
}

// Authorizer decides whether actor may perform op on target. A denial is
// returned as an error wrapping domain.ErrForbidden.
type Authorizer interface {
	Authorize(ctx context.Context, actor domain.Actor, op Operation, target Target) error
}

// PaymentRequest is a fund-movement instruction to the payment collaborator.
// Reference is unique per instruction and doubles as its idempotency key.
type PaymentRequest struct {
	Reference   string          `json:"reference"`
	Purpose     string          `json:"purpose"`
	RecipientID uint            `json:"recipient_id"`
	Phone       string          `json:"phone"`
	Amount      decimal.Decimal `json:"amount"`
}

// PaymentResult is what the payment collaborator reports for an instruction.
type PaymentResult struct {
	Reference string               `json:"reference"`
	Status    domain.PaymentStatus `json:"status"`
	Message   string               `json:"message,omitempty"`
}

// PaymentGateway initiates payments. Confirmation may arrive synchronously
// in the result or later through the payment callback.
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}

// PaymentSettler applies payment outcomes to the payout or loan that issued
// the reference.
type PaymentSettler interface {
	OnPaymentAccepted(ctx context.Context, reference string) error
	OnPaymentConfirmed(ctx context.Context, reference string) error
	OnPaymentFailed(ctx context.Context, reference, reason string) error
}

// Notice is one notification event for the notification collaborator.
type Notice struct {
	EventID    string                 `json:"event_id"`
	Type       domain.EventType       `json:"type"`
	Recipients []uint                 `json:"recipients"`
	Payload    map[string]interface{} `json:"payload"`
}

// Notifier delivers notices. Implementations must tolerate redelivery of the
// same EventID.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// Kicker wakes the outbox dispatcher after a commit.
type Kicker interface {
	Kick()
}

type noKick struct{}

func (noKick) Kick() {}
