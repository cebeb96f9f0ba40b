package services

import (
	"context"
	"errors"

	"chama-engine/internal/core/domain"
)

// SettlementService routes payment outcomes to whichever engine issued the
// reference: cycle payouts first, then loan disbursements.
type SettlementService struct {
	cycles *CycleService
	loans  *LoanService
}

// NewSettlementService creates a new settlement service
func NewSettlementService(cycles *CycleService, loans *LoanService) *SettlementService {
	return &SettlementService{cycles: cycles, loans: loans}
}

// OnPaymentAccepted implements PaymentSettler.
func (s *SettlementService) OnPaymentAccepted(ctx context.Context, reference string) error {
	err := s.cycles.MarkPayoutProcessing(ctx, reference)
	if errors.Is(err, domain.ErrNotFound) {
		err = s.loans.AcknowledgeDisbursement(ctx, reference)
	}
	return err
}

// OnPaymentConfirmed implements PaymentSettler.
func (s *SettlementService) OnPaymentConfirmed(ctx context.Context, reference string) error {
	_, err := s.cycles.ConfirmPayout(ctx, reference)
	if errors.Is(err, domain.ErrNotFound) {
		_, err = s.loans.ConfirmDisbursement(ctx, reference)
	}
	return err
}

// OnPaymentFailed implements PaymentSettler.
func (s *SettlementService) OnPaymentFailed(ctx context.Context, reference, reason string) error {
	_, err := s.cycles.FailPayout(ctx, reference, reason)
	if errors.Is(err, domain.ErrNotFound) {
		_, err = s.loans.FailDisbursement(ctx, reference, reason)
	}
	return err
}

// Settle applies a callback status to the reference.
func (s *SettlementService) Settle(ctx context.Context, result PaymentResult) error {
	switch result.Status {
	case domain.PaymentConfirmed:
		return s.OnPaymentConfirmed(ctx, result.Reference)
	case domain.PaymentFailed:
		return s.OnPaymentFailed(ctx, result.Reference, result.Message)
	case domain.PaymentPending:
		return s.OnPaymentAccepted(ctx, result.Reference)
	}
	return domain.Validationf("unknown payment status %q", result.Status)
}
