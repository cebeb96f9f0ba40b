package models

import (
	"time"

	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
)

// ============================================================
// Loans
// ============================================================

// Loan is a member loan from application through closure or default.
type Loan struct {
	ID                 uint                  `gorm:"primaryKey" json:"id"`
	LoanNumber         string                `gorm:"size:30;uniqueIndex;not null" json:"loan_number"`
	GroupID            uint                  `gorm:"not null;index:idx_loan_group_status" json:"group_id"`
	BorrowerID         uint                  `gorm:"not null;index" json:"borrower_id"`
	Principal          decimal.Decimal       `gorm:"type:decimal(15,2);not null" json:"principal"`
	InterestRate       decimal.Decimal       `gorm:"type:decimal(5,2);not null" json:"interest_rate"`
	InterestMethod     domain.InterestMethod `gorm:"size:20;not null" json:"interest_method"`
	TermInstallments   int                   `gorm:"not null" json:"term_installments"`
	TotalInterest      decimal.Decimal       `gorm:"type:decimal(15,2);not null" json:"total_interest"`
	TotalRepayable     decimal.Decimal       `gorm:"type:decimal(15,2);not null" json:"total_repayable"`
	AmountPaid         decimal.Decimal       `gorm:"type:decimal(15,2);not null" json:"amount_paid"`
	OutstandingBalance decimal.Decimal       `gorm:"type:decimal(15,2);not null" json:"outstanding_balance"`
	Status             domain.LoanStatus     `gorm:"size:30;not null;index:idx_loan_group_status" json:"status"`
	Purpose            string                `gorm:"type:text" json:"purpose"`
	RejectionReason    string                `gorm:"type:text" json:"rejection_reason"`
	ReviewedBy         *uint                 `json:"reviewed_by"`
	ReviewedAt         *time.Time            `json:"reviewed_at"`
	DisbursedAt        *time.Time            `json:"disbursed_at"`
	DisbursementRef    *string               `gorm:"size:64;uniqueIndex" json:"disbursement_ref"`
	DisbursementStatus domain.PaymentStatus  `gorm:"size:20" json:"disbursement_status"`
	ClosedAt           *time.Time            `json:"closed_at"`
	DefaultedAt        *time.Time            `json:"defaulted_at"`
	Version            int                   `gorm:"not null" json:"version"`
	CreatedAt          time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time             `gorm:"autoUpdateTime" json:"updated_at"`

	Guarantors   []LoanGuarantor        `gorm:"foreignKey:LoanID" json:"guarantors,omitempty"`
	Installments []RepaymentInstallment `gorm:"foreignKey:LoanID" json:"installments,omitempty"`
}

func (Loan) TableName() string {
	return "loans"
}

// AllGuarantorsAccepted reports whether every listed guarantor accepted.
// A loan with no guarantors trivially satisfies it.
func (l *Loan) AllGuarantorsAccepted() bool {
	for _, g := range l.Guarantors {
		if g.Status != domain.GuarantorAccepted {
			return false
		}
	}
	return true
}

// Guarantor finds the guarantor row for memberID.
func (l *Loan) Guarantor(memberID uint) *LoanGuarantor {
	for i := range l.Guarantors {
		if l.Guarantors[i].GuarantorID == memberID {
			return &l.Guarantors[i]
		}
	}
	return nil
}

// LoanGuarantor is a member co-signing a loan.
type LoanGuarantor struct {
	ID          uint                   `gorm:"primaryKey" json:"id"`
	LoanID      uint                   `gorm:"uniqueIndex:idx_guarantor_loan_member;not null" json:"loan_id"`
	GuarantorID uint                   `gorm:"uniqueIndex:idx_guarantor_loan_member;not null;index" json:"guarantor_id"`
	Status      domain.GuarantorStatus `gorm:"size:20;not null" json:"status"`
	RespondedAt *time.Time             `json:"responded_at"`
	CreatedAt   time.Time              `gorm:"autoCreateTime" json:"created_at"`
}

func (LoanGuarantor) TableName() string {
	return "loan_guarantors"
}

// RepaymentInstallment is one scheduled repayment.
type RepaymentInstallment struct {
	ID             uint                     `gorm:"primaryKey" json:"id"`
	LoanID         uint                     `gorm:"uniqueIndex:idx_installment_loan_number;not null" json:"loan_id"`
	Number         int                      `gorm:"uniqueIndex:idx_installment_loan_number;not null" json:"number"`
	DueDate        time.Time                `gorm:"not null;index" json:"due_date"`
	PrincipalDue   decimal.Decimal          `gorm:"type:decimal(15,2);not null" json:"principal_due"`
	InterestDue    decimal.Decimal          `gorm:"type:decimal(15,2);not null" json:"interest_due"`
	AmountDue      decimal.Decimal          `gorm:"type:decimal(15,2);not null" json:"amount_due"`
	AmountPaid     decimal.Decimal          `gorm:"type:decimal(15,2);not null" json:"amount_paid"`
	Status         domain.InstallmentStatus `gorm:"size:20;not null;index" json:"status"`
	PaidAt         *time.Time               `json:"paid_at"`
	OverdueAt      *time.Time               `json:"overdue_at"`
	ReminderSentAt *time.Time               `json:"reminder_sent_at"`
}

func (RepaymentInstallment) TableName() string {
	return "repayment_installments"
}

// Remaining is what is still owed on the installment.
func (i *RepaymentInstallment) Remaining() decimal.Decimal {
	left := i.AmountDue.Sub(i.AmountPaid)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// LoanRepayment is the ledger row for money received against a loan.
type LoanRepayment struct {
	ID         uint                 `gorm:"primaryKey" json:"id"`
	LoanID     uint                 `gorm:"not null;index" json:"loan_id"`
	Amount     decimal.Decimal      `gorm:"type:decimal(15,2);not null" json:"amount"`
	Method     domain.PaymentMethod `gorm:"size:20;not null" json:"method"`
	Reference  *string              `gorm:"size:64;uniqueIndex" json:"reference"`
	RecordedBy uint                 `gorm:"not null" json:"recorded_by"`
	CreatedAt  time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

func (LoanRepayment) TableName() string {
	return "loan_repayments"
}
