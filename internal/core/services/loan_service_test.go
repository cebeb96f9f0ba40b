package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fundedGroup returns a group whose members have each contributed 1000 once,
// giving every member a 3000 borrowing ceiling.
func fundedGroup(t *testing.T, h *harness, name string) []*models.Membership {
	t.Helper()
	g, members := h.group(name, "1000", 3)
	h.fundCycle(g, members, "1000")
	_, err := h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	return members
}

func (h *harness) apply(borrower *models.Membership, principal string, guarantors ...uint) *models.Loan {
	h.t.Helper()
	loan, err := h.loans.Apply(h.ctx, h.memberActor(borrower), ApplyLoanInput{
		MemberID:   borrower.ID,
		Principal:  dec(principal),
		Purpose:    "stock",
		Guarantors: guarantors,
	}, "")
	require.NoError(h.t, err)
	return loan
}

func TestLoanRejectedWhenAGuarantorDeclines(t *testing.T) {
	h := newHarness(t)
	members := fundedGroup(t, h, "dhamana")

	loan := h.apply(members[0], "3000", members[1].ID, members[2].ID)
	assert.Equal(t, domain.LoanGuarantorsPending, loan.Status)
	require.Len(t, loan.Guarantors, 2)

	loan, err := h.loans.RespondGuarantor(h.ctx, h.memberActor(members[1]), loan.ID, members[1].ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanGuarantorsPending, loan.Status)

	loan, err = h.loans.RespondGuarantor(h.ctx, h.memberActor(members[2]), loan.ID, members[2].ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanRejected, loan.Status)
	assert.NotEmpty(t, loan.RejectionReason)

	_, err = h.loans.Disburse(h.ctx, h.admin, loan.ID, "")
	assert.ErrorIs(t, err, ErrLoanNotApproved)
	assert.Equal(t, domain.ErrInvalidState, domain.Kind(err))

	_, err = h.loans.RespondGuarantor(h.ctx, h.memberActor(members[1]), loan.ID, members[1].ID, true, "")
	assert.ErrorIs(t, err, ErrNotAwaitingGuarantors)
}

func TestLoanRejectedWhenFirstGuarantorDeclines(t *testing.T) {
	h := newHarness(t)
	members := fundedGroup(t, h, "kataa")

	loan := h.apply(members[0], "3000", members[1].ID, members[2].ID)

	loan, err := h.loans.RespondGuarantor(h.ctx, h.memberActor(members[2]), loan.ID, members[2].ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanRejected, loan.Status)

	// The remaining guarantor can no longer revive the application.
	_, err = h.loans.RespondGuarantor(h.ctx, h.memberActor(members[1]), loan.ID, members[1].ID, true, "")
	assert.ErrorIs(t, err, ErrNotAwaitingGuarantors)

	got, err := h.store.Loans.GetByID(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanRejected, got.Status)
	assert.Equal(t, domain.GuarantorPending, got.Guarantor(members[1].ID).Status)

	_, err = h.loans.Review(h.ctx, h.admin, loan.ID, ReviewInput{Approve: true}, "")
	assert.Equal(t, domain.ErrInvalidState, domain.Kind(err))
	_, err = h.loans.Disburse(h.ctx, h.admin, loan.ID, "")
	assert.ErrorIs(t, err, ErrLoanNotApproved)
}

func TestLoanApplicationValidation(t *testing.T) {
	h := newHarness(t)
	members := fundedGroup(t, h, "sheria")

	tests := []struct {
		name  string
		actor domain.Actor
		input ApplyLoanInput
		want  error
	}{
		{"above ceiling", h.memberActor(members[0]),
			ApplyLoanInput{MemberID: members[0].ID, Principal: dec("3000.01")}, ErrAboveCeiling},
		{"self guarantee", h.memberActor(members[0]),
			ApplyLoanInput{MemberID: members[0].ID, Principal: dec("1000"), Guarantors: []uint{members[0].ID}}, ErrSelfGuarantee},
		{"unknown guarantor", h.memberActor(members[0]),
			ApplyLoanInput{MemberID: members[0].ID, Principal: dec("1000"), Guarantors: []uint{4242}}, ErrGuarantorNotEligible},
		{"for someone else", h.memberActor(members[1]),
			ApplyLoanInput{MemberID: members[0].ID, Principal: dec("1000")}, domain.ErrForbidden},
		{"zero principal", h.memberActor(members[0]),
			ApplyLoanInput{MemberID: members[0].ID, Principal: dec("0")}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.loans.Apply(h.ctx, tt.actor, tt.input, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	elig, err := h.loans.Eligibility(h.ctx, h.memberActor(members[0]), members[0].ID)
	require.NoError(t, err)
	assert.True(t, elig.Ceiling.Equal(dec("3000")))
}

func TestLoanLifecycleRepaysFIFOAndCloses(t *testing.T) {
	h := newHarness(t)
	members := fundedGroup(t, h, "maendeleo")

	loan := h.apply(members[0], "3000", members[1].ID, members[2].ID)
	_, err := h.loans.Review(h.ctx, h.admin, loan.ID, ReviewInput{Approve: true}, "")
	assert.ErrorIs(t, err, ErrGuarantorsOutstanding)

	for _, g := range members[1:] {
		_, err := h.loans.RespondGuarantor(h.ctx, h.memberActor(g), loan.ID, g.ID, true, "")
		require.NoError(t, err)
	}
	loan, err = h.loans.Review(h.ctx, h.admin, loan.ID, ReviewInput{Approve: true}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanApproved, loan.Status)

	loan, err = h.loans.Disburse(h.ctx, h.admin, loan.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanRepaying, loan.Status)
	require.Len(t, loan.Installments, 3)
	assert.True(t, loan.TotalRepayable.Equal(dec("3000")))
	require.NotNil(t, loan.DisbursementRef)

	_, err = h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	got, err := h.store.Loans.GetByID(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, got.DisbursementStatus)

	_, err = h.loans.RecordRepayment(h.ctx, h.admin, loan.ID, RepaymentInput{Amount: dec("3500"), Method: "MPESA"}, "")
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))

	res, err := h.loans.RecordRepayment(h.ctx, h.admin, loan.ID, RepaymentInput{Amount: dec("1500"), Method: "MPESA", Reference: "RP1"}, "")
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, 1, res.Allocations[0].Number)
	assert.True(t, res.Allocations[0].Amount.Equal(dec("1000")))
	assert.Equal(t, domain.InstallmentPaid, res.Allocations[0].Status)
	assert.Equal(t, 2, res.Allocations[1].Number)
	assert.True(t, res.Allocations[1].Amount.Equal(dec("500")))
	assert.Equal(t, domain.InstallmentPending, res.Allocations[1].Status)
	assert.True(t, res.Loan.OutstandingBalance.Equal(dec("1500")))
	assert.Equal(t, domain.LoanRepaying, res.Loan.Status)

	_, err = h.loans.RecordRepayment(h.ctx, h.admin, loan.ID, RepaymentInput{Amount: dec("100"), Method: "MPESA", Reference: "RP1"}, "")
	assert.ErrorIs(t, err, ErrReferenceUsed)

	res, err = h.loans.RecordRepayment(h.ctx, h.admin, loan.ID, RepaymentInput{Amount: dec("1500"), Method: "CASH"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanClosed, res.Loan.Status)
	assert.True(t, res.Loan.OutstandingBalance.IsZero())
	assert.True(t, res.Loan.AmountPaid.Equal(dec("3000")))

	_, err = h.loans.RecordRepayment(h.ctx, h.admin, loan.ID, RepaymentInput{Amount: dec("1"), Method: "CASH"}, "")
	assert.ErrorIs(t, err, ErrLoanNotRepaying)

	repayments, err := h.loans.Repayments(h.ctx, h.admin, loan.ID)
	require.NoError(t, err)
	assert.Len(t, repayments, 2)
}

func disbursedLoan(t *testing.T, h *harness, name string) (*models.Loan, []*models.Membership) {
	t.Helper()
	members := fundedGroup(t, h, name)
	loan := h.apply(members[0], "3000")
	assert.Equal(t, domain.LoanApplied, loan.Status)
	_, err := h.loans.Review(h.ctx, h.admin, loan.ID, ReviewInput{Approve: true}, "")
	require.NoError(t, err)
	loan, err = h.loans.Disburse(h.ctx, h.admin, loan.ID, "")
	require.NoError(t, err)

	// The gateway confirms; the schedule is anchored on that confirmation.
	_, err = h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	loan, err = h.store.Loans.GetByID(h.ctx, loan.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentConfirmed, loan.DisbursementStatus)
	return loan, members
}

// approvedLoan returns a 3000 loan with no guarantors, approved and ready to
// disburse.
func approvedLoan(t *testing.T, h *harness, name string) *models.Loan {
	t.Helper()
	members := fundedGroup(t, h, name)
	loan := h.apply(members[0], "3000")
	loan, err := h.loans.Review(h.ctx, h.admin, loan.ID, ReviewInput{Approve: true}, "")
	require.NoError(t, err)
	return loan
}

func TestDetectOverdueDefaultsLoan(t *testing.T) {
	h := newHarness(t)
	loan, _ := disbursedLoan(t, h, "deni")

	// One month in only the first installment is late.
	h.loans.now = func() time.Time { return loan.Installments[0].DueDate.Add(time.Hour) }
	overdue, defaulted, err := h.loans.DetectOverdue(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, overdue)
	assert.Zero(t, defaulted)

	h.loans.now = func() time.Time { return loan.Installments[1].DueDate.Add(time.Hour) }
	overdue, defaulted, err = h.loans.DetectOverdue(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, overdue)
	assert.Equal(t, 1, defaulted)

	got, err := h.store.Loans.GetByID(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanDefaulted, got.Status)
	require.NotNil(t, got.DefaultedAt)

	overdue, defaulted, err = h.loans.DetectOverdue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, overdue)
	assert.Zero(t, defaulted)
}

func TestDueRemindersAreSentOnce(t *testing.T) {
	h := newHarness(t)
	loan, _ := disbursedLoan(t, h, "kumbusho")

	h.loans.now = func() time.Time { return loan.Installments[0].DueDate.Add(-24 * time.Hour) }
	sent, err := h.loans.SendDueReminders(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = h.loans.SendDueReminders(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestReviewRejectNeedsReason(t *testing.T) {
	h := newHarness(t)
	members := fundedGroup(t, h, "sababu")
	loan := h.apply(members[0], "1000")

	_, err := h.loans.Review(h.ctx, h.admin, loan.ID, ReviewInput{Approve: false}, "")
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))

	loan, err = h.loans.Review(h.ctx, h.admin, loan.ID, ReviewInput{Approve: false, Reason: "arrears"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanRejected, loan.Status)
	assert.Equal(t, "arrears", loan.RejectionReason)
}

func TestAbandonedDisbursementIsFailedAndRetried(t *testing.T) {
	h := newHarness(t)
	loan := approvedLoan(t, h, "tuma")
	h.gateway.failFirst = len(h.gateway.Calls()) + 100

	loan, err := h.loans.Disburse(h.ctx, h.admin, loan.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, loan.DisbursementStatus)
	firstRef := *loan.DisbursementRef

	t0 := time.Now().Add(time.Second)
	for _, at := range []time.Time{t0, t0.Add(time.Minute), t0.Add(3 * time.Minute)} {
		at := at
		h.dispatcher.now = func() time.Time { return at }
		_, err := h.dispatcher.DispatchPending(h.ctx)
		require.NoError(t, err)
	}

	got, err := h.store.Loans.GetByID(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, got.DisbursementStatus)
	assert.Equal(t, domain.LoanRepaying, got.Status)

	// Money never reached the borrower, so nothing can fall overdue.
	h.loans.now = func() time.Time { return got.Installments[2].DueDate.Add(24 * time.Hour) }
	overdue, defaulted, err := h.loans.DetectOverdue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, overdue)
	assert.Zero(t, defaulted)
	sent, err := h.loans.SendDueReminders(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	h.loans.now = time.Now

	// A late confirmation for the abandoned reference is refused.
	_, err = h.loans.ConfirmDisbursement(h.ctx, firstRef)
	assert.Equal(t, domain.ErrInvalidState, domain.Kind(err))

	h.gateway.failFirst = 0
	retried, err := h.loans.RetryDisbursement(h.ctx, h.admin, loan.ID, "")
	require.NoError(t, err)
	require.NotNil(t, retried.DisbursementRef)
	assert.NotEqual(t, firstRef, *retried.DisbursementRef)
	assert.Equal(t, domain.PaymentPending, retried.DisbursementStatus)

	_, err = h.loans.RetryDisbursement(h.ctx, h.admin, loan.ID, "")
	assert.Equal(t, domain.ErrInvalidState, domain.Kind(err))

	_, err = h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	got, err = h.store.Loans.GetByID(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, got.DisbursementStatus)

	_, err = h.loans.FailDisbursement(h.ctx, *retried.DisbursementRef, "late failure")
	assert.Equal(t, domain.ErrInvalidState, domain.Kind(err))
}

func TestDisbursementScheduleStartsAtConfirmation(t *testing.T) {
	h := newHarness(t)
	loan := approvedLoan(t, h, "subira-mkopo")
	h.gateway.status = domain.PaymentPending

	loan, err := h.loans.Disburse(h.ctx, h.admin, loan.ID, "")
	require.NoError(t, err)
	_, err = h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	requested := *loan.DisbursedAt
	firstGap := loan.Installments[0].DueDate.Sub(requested)

	got, err := h.store.Loans.GetByID(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, got.DisbursementStatus)

	// Still unconfirmed after the first due date: no overdue, no reminder.
	h.loans.now = func() time.Time { return loan.Installments[0].DueDate.Add(time.Hour) }
	overdue, _, err := h.loans.DetectOverdue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, overdue)
	sent, err := h.loans.SendDueReminders(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	confirmedAt := loan.Installments[0].DueDate.Add(time.Hour)
	require.NoError(t, h.settlement.Settle(h.ctx, PaymentResult{Reference: *loan.DisbursementRef, Status: domain.PaymentConfirmed}))

	got, err = h.store.Loans.GetByID(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, got.DisbursementStatus)
	require.NotNil(t, got.DisbursedAt)
	assert.WithinDuration(t, confirmedAt, *got.DisbursedAt, time.Second)
	assert.WithinDuration(t, confirmedAt.Add(firstGap), got.Installments[0].DueDate, time.Second)
	for i := 1; i < len(got.Installments); i++ {
		assert.True(t, got.Installments[i].DueDate.After(got.Installments[i-1].DueDate))
	}

	overdue, _, err = h.loans.DetectOverdue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, overdue)
}

func TestConcurrentRepaymentsSerialize(t *testing.T) {
	h := newHarness(t)
	loan, _ := disbursedLoan(t, h, "foleni")

	const callers = 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.loans.RecordRepayment(context.Background(), h.admin, loan.ID, RepaymentInput{Amount: dec("1000"), Method: "MPESA"}, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			switch domain.Kind(err) {
			case domain.ErrInvalidState, domain.ErrConflict, domain.ErrValidation:
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	assert.Equal(t, callers-3, refused)

	got, err := h.store.Loans.GetByID(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanClosed, got.Status)
	assert.True(t, got.OutstandingBalance.IsZero())
	assert.True(t, got.AmountPaid.Equal(dec("3000")))
	for _, inst := range got.Installments {
		assert.Equal(t, domain.InstallmentPaid, inst.Status)
		assert.True(t, inst.AmountPaid.Equal(inst.AmountDue))
	}
}
