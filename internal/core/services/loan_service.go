package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Loan errors
var (
	ErrAboveCeiling          = fmt.Errorf("%w: principal exceeds the eligibility ceiling", domain.ErrValidation)
	ErrSelfGuarantee         = fmt.Errorf("%w: borrower cannot guarantee their own loan", domain.ErrValidation)
	ErrGuarantorNotEligible  = fmt.Errorf("%w: guarantor must be an active member of the same group", domain.ErrValidation)
	ErrNotAwaitingGuarantors = fmt.Errorf("%w: loan is not awaiting guarantors", domain.ErrInvalidState)
	ErrGuarantorNotPending   = fmt.Errorf("%w: guarantor is not a pending guarantor of this loan", domain.ErrInvalidState)
	ErrGuarantorsOutstanding = fmt.Errorf("%w: not every guarantor has accepted", domain.ErrInvalidState)
	ErrLoanNotReviewable     = fmt.Errorf("%w: loan is not awaiting review", domain.ErrInvalidState)
	ErrLoanNotApproved       = fmt.Errorf("%w: loan is not approved", domain.ErrInvalidState)
	ErrLoanNotRepaying       = fmt.Errorf("%w: loan is not being repaid", domain.ErrInvalidState)
)

// LoanService runs the loan lifecycle:
// APPLIED -> GUARANTORS_PENDING -> APPROVED|REJECTED -> DISBURSED -> REPAYING -> CLOSED|DEFAULTED.
type LoanService struct {
	engine
	policy config.PolicyConfig
}

// NewLoanService creates a new loan service
func NewLoanService(
	store *repositories.Store,
	authz Authorizer,
	kicker Kicker,
	policy config.PolicyConfig,
	log *zap.Logger,
	m *metrics.Metrics,
) *LoanService {
	return &LoanService{
		engine: newEngine(store, authz, kicker, log, m),
		policy: policy,
	}
}

// ============================================================
// Application
// ============================================================

// ApplyLoanInput is a member's loan application. MemberID and Guarantors are
// membership IDs within the group.
type ApplyLoanInput struct {
	MemberID   uint            `json:"member_id"`
	Principal  decimal.Decimal `json:"principal"`
	Purpose    string          `json:"purpose"`
	Guarantors []uint          `json:"guarantors"`
}

// Apply records a loan application. With guarantors it waits for their
// answers; without any it goes straight to review.
func (s *LoanService) Apply(ctx context.Context, actor domain.Actor, input ApplyLoanInput, ip string) (*models.Loan, error) {
	borrower, err := s.store.Memberships.GetByID(ctx, input.MemberID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, OpLoanApply, Target{
		Kind: "membership", ID: borrower.ID, GroupID: borrower.GroupID, OwnerID: borrower.UserID,
	}); err != nil {
		return nil, err
	}
	if !input.Principal.IsPositive() {
		return nil, domain.Validationf("principal must be positive")
	}
	if !input.Principal.Equal(input.Principal.Round(2)) {
		return nil, domain.Validationf("principal has more than two decimal places")
	}
	method := s.policy.Method()
	if method == "" {
		return nil, domain.Validationf("interest method is not configured")
	}

	var loan *models.Loan
	err = s.run(ctx, func(tx *repositories.Store) error {
		borrower, err := tx.Memberships.GetByID(ctx, input.MemberID)
		if err != nil {
			return err
		}
		if borrower.Status != domain.MembershipActive {
			return domain.Validationf("borrower membership is %s", borrower.Status)
		}
		group, err := tx.Groups.GetByID(ctx, borrower.GroupID)
		if err != nil {
			return err
		}
		if group.Status != domain.GroupActive {
			return ErrGroupNotActive
		}

		contributed, err := tx.Contributions.SumConfirmedByMember(ctx, borrower.ID)
		if err != nil {
			return err
		}
		ceiling := domain.EligibilityCeiling(contributed, s.policy.EligibilityMultiple())
		if input.Principal.GreaterThan(ceiling) {
			return fmt.Errorf("%w (requested %s, ceiling %s)", ErrAboveCeiling, money(input.Principal), money(ceiling))
		}

		guarantors, err := s.checkGuarantors(ctx, tx, borrower, input.Guarantors)
		if err != nil {
			return err
		}

		now := s.now()
		loan = &models.Loan{
			LoanNumber:         loanNumber(now),
			GroupID:            group.ID,
			BorrowerID:         borrower.ID,
			Principal:          input.Principal,
			InterestRate:       group.LoanInterestRate,
			InterestMethod:     method,
			TermInstallments:   s.policy.LoanTermInstallments,
			TotalInterest:      decimal.Zero,
			TotalRepayable:     decimal.Zero,
			AmountPaid:         decimal.Zero,
			OutstandingBalance: decimal.Zero,
			Status:             domain.LoanApplied,
			Purpose:            strings.TrimSpace(input.Purpose),
		}
		if err := tx.Loans.Create(ctx, loan); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionCreate, entityType: "loan", entityID: loan.ID,
			to:      string(domain.LoanApplied),
			details: fmt.Sprintf("%s principal %s, %d guarantors", loan.LoanNumber, money(loan.Principal), len(guarantors)),
		}); err != nil {
			return err
		}

		if len(guarantors) == 0 {
			return s.loanEvent(ctx, tx, loan, "", nil)
		}

		rows := make([]models.LoanGuarantor, len(guarantors))
		recipients := make([]uint, len(guarantors))
		for i, g := range guarantors {
			rows[i] = models.LoanGuarantor{LoanID: loan.ID, GuarantorID: g.ID, Status: domain.GuarantorPending}
			recipients[i] = g.UserID
		}
		if err := tx.Loans.CreateGuarantors(ctx, rows); err != nil {
			return err
		}
		loan.Guarantors = rows

		if err := s.transition(ctx, tx, actor, ip, loan, domain.LoanGuarantorsPending, ""); err != nil {
			return err
		}
		return s.notify(ctx, tx, domain.EventGuarantorRequested, recipients, map[string]interface{}{
			"loan_id":     loan.ID,
			"loan_number": loan.LoanNumber,
			"group_id":    group.ID,
			"borrower_id": borrower.ID,
			"principal":   money(loan.Principal),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.LoanTransition(string(loan.Status))
	s.log.Info("loan application recorded",
		zap.Uint("loan_id", loan.ID),
		zap.String("loan_number", loan.LoanNumber),
		zap.String("status", string(loan.Status)),
	)
	return loan, nil
}

func (s *LoanService) checkGuarantors(ctx context.Context, tx *repositories.Store, borrower *models.Membership, ids []uint) ([]*models.Membership, error) {
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if id == borrower.ID {
			return nil, ErrSelfGuarantee
		}
		if seen[id] {
			return nil, domain.Validationf("guarantor %d listed twice", id)
		}
		seen[id] = true
	}
	if len(ids) == 0 {
		return nil, nil
	}

	members, err := tx.Memberships.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(members) != len(ids) {
		return nil, fmt.Errorf("%w: unknown guarantor", ErrGuarantorNotEligible)
	}
	for _, m := range members {
		if m.UserID == borrower.UserID {
			return nil, ErrSelfGuarantee
		}
		if m.GroupID != borrower.GroupID || m.Status != domain.MembershipActive {
			return nil, fmt.Errorf("%w (member %d)", ErrGuarantorNotEligible, m.ID)
		}
	}
	return members, nil
}

// RespondGuarantor records a guarantor's answer. A single decline rejects
// the application regardless of the other answers.
func (s *LoanService) RespondGuarantor(ctx context.Context, actor domain.Actor, loanID, guarantorID uint, accept bool, ip string) (*models.Loan, error) {
	guarantor, err := s.store.Memberships.GetByID(ctx, guarantorID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, OpLoanGuarantee, Target{
		Kind: "loan", ID: loanID, GroupID: guarantor.GroupID, OwnerID: guarantor.UserID,
	}); err != nil {
		return nil, err
	}

	var loan *models.Loan
	err = s.run(ctx, func(tx *repositories.Store) error {
		l, err := tx.Loans.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		loan = l
		if l.Status != domain.LoanGuarantorsPending {
			return ErrNotAwaitingGuarantors
		}
		g := l.Guarantor(guarantorID)
		if g == nil || g.Status != domain.GuarantorPending {
			return ErrGuarantorNotPending
		}

		g.Status = domain.GuarantorDeclined
		action := models.ActionReject
		if accept {
			g.Status = domain.GuarantorAccepted
			action = models.ActionApprove
		}
		g.RespondedAt = timePtr(s.now())
		if err := tx.Loans.UpdateGuarantor(ctx, g); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, actor, ip, auditEntry{
			action: action, entityType: "loan_guarantor", entityID: g.ID,
			from: string(domain.GuarantorPending), to: string(g.Status),
			details: fmt.Sprintf("member %d on loan %s", guarantorID, l.LoanNumber),
		}); err != nil {
			return err
		}

		switch {
		case !accept:
			l.RejectionReason = fmt.Sprintf("guarantor %d declined", guarantorID)
			return s.transition(ctx, tx, actor, ip, l, domain.LoanRejected, l.RejectionReason)
		case l.AllGuarantorsAccepted() && s.policy.AutoApproveOnGuarantors:
			l.ReviewedAt = timePtr(s.now())
			return s.transition(ctx, tx, domain.SystemActor, ip, l, domain.LoanApproved, "all guarantors accepted")
		case l.AllGuarantorsAccepted():
			// Stays GUARANTORS_PENDING until reviewed; persist for the version bump.
			if err := tx.Loans.Update(ctx, l); err != nil {
				return err
			}
			return s.loanEvent(ctx, tx, l, "", map[string]interface{}{"ready_for_review": true})
		}
		return tx.Loans.Update(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	if loan.Status != domain.LoanGuarantorsPending {
		s.metrics.LoanTransition(string(loan.Status))
	}
	return loan, nil
}

// ReviewInput is the reviewer's decision
type ReviewInput struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

// Review approves or rejects a loan whose guarantors have all accepted.
func (s *LoanService) Review(ctx context.Context, actor domain.Actor, loanID uint, input ReviewInput, ip string) (*models.Loan, error) {
	if err := s.authorize(ctx, actor, OpLoanReview, Target{Kind: "loan", ID: loanID}); err != nil {
		return nil, err
	}
	if !input.Approve && strings.TrimSpace(input.Reason) == "" {
		return nil, domain.Validationf("a reason is required to reject a loan")
	}

	var loan *models.Loan
	err := s.run(ctx, func(tx *repositories.Store) error {
		l, err := tx.Loans.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		loan = l
		if l.Status != domain.LoanApplied && l.Status != domain.LoanGuarantorsPending {
			return ErrLoanNotReviewable
		}
		if !l.AllGuarantorsAccepted() {
			return ErrGuarantorsOutstanding
		}

		reviewer := actor.UserID
		l.ReviewedBy = &reviewer
		l.ReviewedAt = timePtr(s.now())
		if input.Approve {
			return s.transition(ctx, tx, actor, ip, l, domain.LoanApproved, input.Reason)
		}
		l.RejectionReason = strings.TrimSpace(input.Reason)
		return s.transition(ctx, tx, actor, ip, l, domain.LoanRejected, l.RejectionReason)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.LoanTransition(string(loan.Status))
	return loan, nil
}

// ============================================================
// Disbursement
// ============================================================

// Disburse builds the repayment schedule for an APPROVED loan, sends the
// principal to the borrower and starts repayment.
func (s *LoanService) Disburse(ctx context.Context, actor domain.Actor, loanID uint, ip string) (*models.Loan, error) {
	if err := s.authorize(ctx, actor, OpLoanDisburse, Target{Kind: "loan", ID: loanID}); err != nil {
		return nil, err
	}

	var loan *models.Loan
	err := s.run(ctx, func(tx *repositories.Store) error {
		l, err := tx.Loans.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		loan = l
		if l.Status != domain.LoanApproved {
			return ErrLoanNotApproved
		}

		now := s.now()
		plan, err := domain.BuildSchedule(domain.ScheduleInput{
			Principal:   l.Principal,
			RatePercent: l.InterestRate,
			Count:       l.TermInstallments,
			Method:      l.InterestMethod,
			Start:       now,
			Every:       s.policy.RepaymentFrequency(),
		})
		if err != nil {
			return err
		}

		rows := make([]models.RepaymentInstallment, len(plan.Installments))
		for i, p := range plan.Installments {
			rows[i] = models.RepaymentInstallment{
				LoanID:       l.ID,
				Number:       p.Number,
				DueDate:      p.DueDate,
				PrincipalDue: p.Principal,
				InterestDue:  p.Interest,
				AmountDue:    p.Amount,
				AmountPaid:   decimal.Zero,
				Status:       domain.InstallmentPending,
			}
		}
		if err := tx.Loans.CreateInstallments(ctx, rows); err != nil {
			return err
		}
		l.Installments = rows

		ref := newReference("LD")
		l.TotalInterest = plan.TotalInterest
		l.TotalRepayable = plan.TotalRepayable
		l.OutstandingBalance = plan.TotalRepayable
		l.DisbursedAt = timePtr(now)
		l.DisbursementRef = &ref
		l.DisbursementStatus = domain.PaymentPending

		if err := s.transition(ctx, tx, actor, ip, l, domain.LoanDisbursed,
			fmt.Sprintf("%d installments, total repayable %s", len(rows), money(plan.TotalRepayable))); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, domain.SystemActor, ip, l, domain.LoanRepaying, ""); err != nil {
			return err
		}

		borrower, err := tx.Memberships.GetByID(ctx, l.BorrowerID)
		if err != nil {
			return err
		}
		return s.requestPayment(ctx, tx, PaymentRequest{
			Reference:   ref,
			Purpose:     "loan.disbursement",
			RecipientID: borrower.UserID,
			Phone:       phoneOf(borrower),
			Amount:      l.Principal,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.LoanTransition(string(domain.LoanDisbursed))
	s.metrics.LoanTransition(string(domain.LoanRepaying))
	s.log.Info("loan disbursed",
		zap.Uint("loan_id", loan.ID),
		zap.String("principal", money(loan.Principal)),
		zap.String("total_repayable", money(loan.TotalRepayable)),
	)
	return loan, nil
}

// AcknowledgeDisbursement checks that a gateway-accepted reference belongs to
// a loan. The loan keeps its state until the payment is confirmed.
func (s *LoanService) AcknowledgeDisbursement(ctx context.Context, reference string) error {
	return s.store.Transaction(ctx, func(tx *repositories.Store) error {
		_, err := tx.Loans.GetByDisbursementRefForUpdate(ctx, reference)
		return err
	})
}

// ConfirmDisbursement records that the borrower received the principal. The
// schedule is shifted so the first installment falls one period after
// confirmation, not after the disbursement request.
func (s *LoanService) ConfirmDisbursement(ctx context.Context, reference string) (*models.Loan, error) {
	var loan *models.Loan
	err := s.run(ctx, func(tx *repositories.Store) error {
		l, err := tx.Loans.GetByDisbursementRefForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		loan = l
		switch l.DisbursementStatus {
		case domain.PaymentConfirmed:
			return nil
		case domain.PaymentFailed:
			return domain.InvalidStatef("disbursement %s already failed; retry issues a new reference", reference)
		}
		now := s.now()
		if l.DisbursedAt != nil && now.After(*l.DisbursedAt) {
			shift := now.Sub(*l.DisbursedAt)
			for i := range l.Installments {
				inst := &l.Installments[i]
				if inst.Status != domain.InstallmentPending {
					continue
				}
				inst.DueDate = inst.DueDate.Add(shift)
				if err := tx.Loans.UpdateInstallment(ctx, inst); err != nil {
					return err
				}
			}
		}
		l.DisbursedAt = timePtr(now)
		l.DisbursementStatus = domain.PaymentConfirmed
		if err := tx.Loans.Update(ctx, l); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, domain.SystemActor, "", auditEntry{
			action: models.ActionPayment, entityType: "loan", entityID: l.ID,
			from: string(domain.PaymentPending), to: string(domain.PaymentConfirmed),
			details: "disbursement " + reference,
		}); err != nil {
			return err
		}
		return s.loanEvent(ctx, tx, l, "", map[string]interface{}{"disbursement": "confirmed"})
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// FailDisbursement records that sending the principal failed.
func (s *LoanService) FailDisbursement(ctx context.Context, reference, reason string) (*models.Loan, error) {
	var loan *models.Loan
	err := s.run(ctx, func(tx *repositories.Store) error {
		l, err := tx.Loans.GetByDisbursementRefForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		loan = l
		switch l.DisbursementStatus {
		case domain.PaymentFailed:
			return nil
		case domain.PaymentConfirmed:
			return domain.InvalidStatef("disbursement %s is already confirmed", reference)
		}
		l.DisbursementStatus = domain.PaymentFailed
		if err := tx.Loans.Update(ctx, l); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, domain.SystemActor, "", auditEntry{
			action: models.ActionPayment, entityType: "loan", entityID: l.ID,
			from: string(domain.PaymentPending), to: string(domain.PaymentFailed),
			details: reason,
		}); err != nil {
			return err
		}
		return s.loanEvent(ctx, tx, l, "", map[string]interface{}{"disbursement": "failed", "reason": reason})
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn("loan disbursement failed", zap.String("reference", reference), zap.String("reason", reason))
	return loan, nil
}

// RetryDisbursement re-sends a failed disbursement under a new reference.
func (s *LoanService) RetryDisbursement(ctx context.Context, actor domain.Actor, loanID uint, ip string) (*models.Loan, error) {
	if err := s.authorize(ctx, actor, OpLoanDisburse, Target{Kind: "loan", ID: loanID}); err != nil {
		return nil, err
	}

	var loan *models.Loan
	err := s.run(ctx, func(tx *repositories.Store) error {
		l, err := tx.Loans.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		loan = l
		if l.DisbursementStatus != domain.PaymentFailed {
			return domain.InvalidStatef("only failed disbursements can be retried (status %q)", l.DisbursementStatus)
		}
		old := ""
		if l.DisbursementRef != nil {
			old = *l.DisbursementRef
		}
		ref := newReference("LD")
		l.DisbursementRef = &ref
		l.DisbursementStatus = domain.PaymentPending
		if err := tx.Loans.Update(ctx, l); err != nil {
			return err
		}

		borrower, err := tx.Memberships.GetByID(ctx, l.BorrowerID)
		if err != nil {
			return err
		}
		if err := s.requestPayment(ctx, tx, PaymentRequest{
			Reference:   ref,
			Purpose:     "loan.disbursement",
			RecipientID: borrower.UserID,
			Phone:       phoneOf(borrower),
			Amount:      l.Principal,
		}); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionUpdate, entityType: "loan", entityID: l.ID,
			from: string(domain.PaymentFailed), to: string(domain.PaymentPending),
			details: fmt.Sprintf("disbursement %s replaces %s", ref, old),
		})
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ============================================================
// Repayment
// ============================================================

// RepaymentInput is money received against a loan. InstallmentID is
// optional; funds are applied from the earliest unpaid installment anyway.
type RepaymentInput struct {
	InstallmentID *uint           `json:"installment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Reference     string          `json:"reference"`
}

// RepaymentResult reports what a repayment did to the schedule.
type RepaymentResult struct {
	Loan        *models.Loan            `json:"loan"`
	Repayment   *models.LoanRepayment   `json:"repayment"`
	Allocations []InstallmentAllocation `json:"allocations"`
}

// InstallmentAllocation is the part of a repayment applied to one installment.
type InstallmentAllocation struct {
	InstallmentID uint                     `json:"installment_id"`
	Number        int                      `json:"number"`
	Amount        decimal.Decimal          `json:"amount"`
	Status        domain.InstallmentStatus `json:"status"`
}

// RecordRepayment applies a repayment FIFO across the schedule and closes the
// loan once every installment is paid.
func (s *LoanService) RecordRepayment(ctx context.Context, actor domain.Actor, loanID uint, input RepaymentInput, ip string) (*RepaymentResult, error) {
	if err := s.authorize(ctx, actor, OpLoanRepay, Target{Kind: "loan", ID: loanID}); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, domain.Validationf("amount must be positive")
	}
	if !input.Amount.Equal(input.Amount.Round(2)) {
		return nil, domain.Validationf("amount has more than two decimal places")
	}
	method, err := domain.ParsePaymentMethod(input.Method)
	if err != nil {
		return nil, err
	}

	result := &RepaymentResult{}
	err = s.run(ctx, func(tx *repositories.Store) error {
		loan, err := tx.Loans.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != domain.LoanRepaying {
			return ErrLoanNotRepaying
		}
		if input.InstallmentID != nil && !hasInstallment(loan, *input.InstallmentID) {
			return domain.Validationf("installment %d does not belong to loan %d", *input.InstallmentID, loanID)
		}
		if input.Amount.GreaterThan(loan.OutstandingBalance) {
			return domain.Validationf("amount %s exceeds the outstanding balance %s",
				money(input.Amount), money(loan.OutstandingBalance))
		}

		var ref *string
		if input.Reference != "" {
			used, err := tx.Loans.RepaymentReferenceExists(ctx, input.Reference)
			if err != nil {
				return err
			}
			if used {
				return ErrReferenceUsed
			}
			r := input.Reference
			ref = &r
		}

		now := s.now()
		remaining := make([]decimal.Decimal, len(loan.Installments))
		for i := range loan.Installments {
			if loan.Installments[i].Status != domain.InstallmentPaid {
				remaining[i] = loan.Installments[i].Remaining()
			}
		}
		allocations, left := domain.AllocateFIFO(remaining, input.Amount)
		if left.IsPositive() {
			return domain.Validationf("amount %s exceeds the unpaid installments by %s", money(input.Amount), money(left))
		}

		for _, a := range allocations {
			inst := &loan.Installments[a.Index]
			inst.AmountPaid = inst.AmountPaid.Add(a.Amount)
			if !inst.Remaining().IsPositive() {
				inst.Status = domain.InstallmentPaid
				inst.PaidAt = timePtr(now)
			}
			if err := tx.Loans.UpdateInstallment(ctx, inst); err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, InstallmentAllocation{
				InstallmentID: inst.ID,
				Number:        inst.Number,
				Amount:        a.Amount,
				Status:        inst.Status,
			})
		}

		repayment := &models.LoanRepayment{
			LoanID:     loan.ID,
			Amount:     input.Amount,
			Method:     method,
			Reference:  ref,
			RecordedBy: actor.UserID,
		}
		if err := tx.Loans.CreateRepayment(ctx, repayment); err != nil {
			return err
		}
		result.Repayment = repayment

		loan.AmountPaid = loan.AmountPaid.Add(input.Amount)
		loan.OutstandingBalance = loan.OutstandingBalance.Sub(input.Amount)
		if loan.OutstandingBalance.IsNegative() {
			loan.OutstandingBalance = decimal.Zero
		}

		if err := s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionPayment, entityType: "loan", entityID: loan.ID,
			details: fmt.Sprintf("repayment %s via %s across %d installments, outstanding %s",
				money(input.Amount), method, len(allocations), money(loan.OutstandingBalance)),
		}); err != nil {
			return err
		}
		borrowers, err := userIDsOf(ctx, tx, loan.BorrowerID)
		if err != nil {
			return err
		}
		if err := s.notify(ctx, tx, domain.EventRepaymentRecorded, borrowers, map[string]interface{}{
			"loan_id":     loan.ID,
			"loan_number": loan.LoanNumber,
			"amount":      money(input.Amount),
			"outstanding": money(loan.OutstandingBalance),
		}); err != nil {
			return err
		}

		result.Loan = loan
		if allPaid(loan) {
			loan.OutstandingBalance = decimal.Zero
			loan.ClosedAt = timePtr(now)
			return s.transition(ctx, tx, domain.SystemActor, ip, loan, domain.LoanClosed, "all installments paid")
		}
		return tx.Loans.Update(ctx, loan)
	})
	if err != nil {
		return nil, err
	}

	amount, _ := input.Amount.Float64()
	s.metrics.Repayment(amount)
	if result.Loan.Status == domain.LoanClosed {
		s.metrics.LoanTransition(string(domain.LoanClosed))
		s.log.Info("loan closed", zap.Uint("loan_id", loanID))
	}
	return result, nil
}

func hasInstallment(loan *models.Loan, id uint) bool {
	for _, inst := range loan.Installments {
		if inst.ID == id {
			return true
		}
	}
	return false
}

func allPaid(loan *models.Loan) bool {
	if len(loan.Installments) == 0 {
		return false
	}
	for _, inst := range loan.Installments {
		if inst.Status != domain.InstallmentPaid {
			return false
		}
	}
	return true
}

// ============================================================
// Scheduled checks
// ============================================================

// DetectOverdue flags unpaid installments past their due date and defaults
// loans that reach the configured run of consecutive overdue installments.
// Installments already flagged are left alone, so reruns change nothing.
func (s *LoanService) DetectOverdue(ctx context.Context) (overdue int, defaulted int, err error) {
	start := time.Now()
	defer s.metrics.ObserveCheck("overdue", start)

	now := s.now()
	ids, err := s.store.Loans.LoansWithPastDue(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	for _, id := range ids {
		flagged, didDefault := 0, false
		err := s.run(ctx, func(tx *repositories.Store) error {
			loan, err := tx.Loans.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if loan.Status != domain.LoanRepaying || loan.DisbursementStatus != domain.PaymentConfirmed {
				return nil
			}
			borrowers, err := userIDsOf(ctx, tx, loan.BorrowerID)
			if err != nil {
				return err
			}

			statuses := make([]domain.InstallmentStatus, len(loan.Installments))
			for i := range loan.Installments {
				inst := &loan.Installments[i]
				if inst.Status == domain.InstallmentPending && inst.DueDate.Before(now) {
					inst.Status = domain.InstallmentOverdue
					inst.OverdueAt = timePtr(now)
					if err := tx.Loans.UpdateInstallment(ctx, inst); err != nil {
						return err
					}
					if err := s.notify(ctx, tx, domain.EventInstallmentOverdue, borrowers, map[string]interface{}{
						"loan_id":     loan.ID,
						"loan_number": loan.LoanNumber,
						"installment": inst.Number,
						"due_date":    inst.DueDate.Format(time.RFC3339),
						"remaining":   money(inst.Remaining()),
					}); err != nil {
						return err
					}
					flagged++
				}
				statuses[i] = inst.Status
			}
			if flagged == 0 {
				return nil
			}

			if run := domain.ConsecutiveOverdue(statuses); run >= s.policy.DefaultAfterOverdue {
				loan.DefaultedAt = timePtr(now)
				didDefault = true
				return s.transition(ctx, tx, domain.SystemActor, "", loan, domain.LoanDefaulted,
					fmt.Sprintf("%d consecutive overdue installments", run))
			}
			return tx.Loans.Update(ctx, loan)
		})
		if err != nil {
			s.log.Error("overdue check failed", zap.Uint("loan_id", id), zap.Error(err))
			continue
		}
		overdue += flagged
		if didDefault {
			defaulted++
			s.metrics.LoanTransition(string(domain.LoanDefaulted))
			s.log.Warn("loan defaulted", zap.Uint("loan_id", id))
		}
	}
	return overdue, defaulted, nil
}

// SendDueReminders notifies borrowers of installments falling due within the
// reminder lead time. Each installment is reminded once.
func (s *LoanService) SendDueReminders(ctx context.Context) (int, error) {
	start := time.Now()
	defer s.metrics.ObserveCheck("due_reminders", start)

	now := s.now()
	due, err := s.store.Loans.DueBetween(ctx, now, now.Add(s.policy.ReminderLeadTime))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, inst := range due {
		inst := inst
		err := s.run(ctx, func(tx *repositories.Store) error {
			loan, err := tx.Loans.GetByID(ctx, inst.LoanID)
			if err != nil {
				return err
			}
			if loan.DisbursementStatus != domain.PaymentConfirmed {
				return nil
			}
			first, err := tx.Loans.MarkReminderSent(ctx, inst.ID, now)
			if err != nil || !first {
				return err
			}
			borrowers, err := userIDsOf(ctx, tx, loan.BorrowerID)
			if err != nil {
				return err
			}
			sent++
			return s.notify(ctx, tx, domain.EventInstallmentDue, borrowers, map[string]interface{}{
				"loan_id":     loan.ID,
				"loan_number": loan.LoanNumber,
				"installment": inst.Number,
				"due_date":    inst.DueDate.Format(time.RFC3339),
				"amount":      money(inst.Remaining()),
			})
		})
		if err != nil {
			s.log.Error("due reminder failed", zap.Uint("installment_id", inst.ID), zap.Error(err))
		}
	}
	return sent, nil
}

// ============================================================
// Queries
// ============================================================

// Eligibility is how much a member may borrow.
type Eligibility struct {
	MemberID    uint            `json:"member_id"`
	Contributed decimal.Decimal `json:"contributed"`
	Multiple    decimal.Decimal `json:"multiple"`
	Ceiling     decimal.Decimal `json:"ceiling"`
}

// Eligibility reports a member's borrowing ceiling
func (s *LoanService) Eligibility(ctx context.Context, actor domain.Actor, memberID uint) (*Eligibility, error) {
	member, err := s.store.Memberships.GetByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "membership", ID: memberID, GroupID: member.GroupID, OwnerID: member.UserID}); err != nil {
		return nil, err
	}
	contributed, err := s.store.Contributions.SumConfirmedByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	multiple := s.policy.EligibilityMultiple()
	return &Eligibility{
		MemberID:    memberID,
		Contributed: contributed,
		Multiple:    multiple,
		Ceiling:     domain.EligibilityCeiling(contributed, multiple),
	}, nil
}

// GetLoan returns a loan with guarantors and schedule
func (s *LoanService) GetLoan(ctx context.Context, actor domain.Actor, loanID uint) (*models.Loan, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "loan", ID: loanID}); err != nil {
		return nil, err
	}
	return s.store.Loans.GetByID(ctx, loanID)
}

// ListLoans lists loans matching filter
func (s *LoanService) ListLoans(ctx context.Context, actor domain.Actor, filter repositories.LoanFilter, offset, limit int) ([]*models.Loan, int64, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "group", ID: filter.GroupID, GroupID: filter.GroupID}); err != nil {
		return nil, 0, err
	}
	return s.store.Loans.List(ctx, filter, offset, limit)
}

// Repayments lists the repayments recorded against a loan
func (s *LoanService) Repayments(ctx context.Context, actor domain.Actor, loanID uint) ([]*models.LoanRepayment, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "loan", ID: loanID}); err != nil {
		return nil, err
	}
	return s.store.Loans.Repayments(ctx, loanID)
}

// ============================================================
// Helpers
// ============================================================

// transition moves the loan to next, persists it, audits the change and
// notifies the borrower (and guarantors when the loan ends badly).
func (s *LoanService) transition(ctx context.Context, tx *repositories.Store, actor domain.Actor, ip string, loan *models.Loan, next domain.LoanStatus, details string) error {
	prev := loan.Status
	if !prev.CanTransitionTo(next) {
		return domain.InvalidStatef("loan cannot move from %s to %s", prev, next)
	}
	loan.Status = next
	if err := tx.Loans.Update(ctx, loan); err != nil {
		return err
	}

	action := models.ActionUpdate
	switch next {
	case domain.LoanApproved:
		action = models.ActionApprove
	case domain.LoanRejected:
		action = models.ActionReject
	}
	if err := s.audit(ctx, tx, actor, ip, auditEntry{
		action: action, entityType: "loan", entityID: loan.ID,
		from: string(prev), to: string(next), details: details,
	}); err != nil {
		return err
	}
	return s.loanEvent(ctx, tx, loan, prev, nil)
}

func (s *LoanService) loanEvent(ctx context.Context, tx *repositories.Store, loan *models.Loan, prev domain.LoanStatus, extra map[string]interface{}) error {
	members := []uint{loan.BorrowerID}
	if loan.Status == domain.LoanDefaulted {
		for _, g := range loan.Guarantors {
			members = append(members, g.GuarantorID)
		}
	}
	recipients, err := userIDsOf(ctx, tx, members...)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"loan_id":     loan.ID,
		"loan_number": loan.LoanNumber,
		"group_id":    loan.GroupID,
		"status":      loan.Status,
		"principal":   money(loan.Principal),
		"outstanding": money(loan.OutstandingBalance),
	}
	if prev != "" {
		payload["from"] = prev
	}
	if loan.RejectionReason != "" {
		payload["reason"] = loan.RejectionReason
	}
	for k, v := range extra {
		payload[k] = v
	}
	return s.notify(ctx, tx, domain.EventLoanStatusChanged, recipients, payload)
}

func loanNumber(at time.Time) string {
	return fmt.Sprintf("LN%s-%s", at.Format("060102"), strings.ToUpper(uuid.NewString()[:8]))
}
