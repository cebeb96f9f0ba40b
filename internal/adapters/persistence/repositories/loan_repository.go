package repositories

import (
	"context"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type loanRepository struct {
	db *gorm.DB
}

// NewLoanRepository creates a new loan repository
func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func withChildren(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Guarantors", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Installments", func(db *gorm.DB) *gorm.DB { return db.Order("number") })
}

func (r *loanRepository) Create(ctx context.Context, loan *models.Loan) error {
	return translate(r.db.WithContext(ctx).Omit("Guarantors", "Installments").Create(loan).Error, "loan")
}

func (r *loanRepository) GetByID(ctx context.Context, id uint) (*models.Loan, error) {
	return first[models.Loan](withChildren(r.db.WithContext(ctx)), "loan", "id = ?", id)
}

func (r *loanRepository) GetForUpdate(ctx context.Context, id uint) (*models.Loan, error) {
	return first[models.Loan](withChildren(forUpdate(r.db.WithContext(ctx))), "loan", "id = ?", id)
}

func (r *loanRepository) GetByDisbursementRefForUpdate(ctx context.Context, reference string) (*models.Loan, error) {
	return first[models.Loan](withChildren(forUpdate(r.db.WithContext(ctx))), "loan", "disbursement_ref = ?", reference)
}

func (r *loanRepository) Update(ctx context.Context, loan *models.Loan) error {
	return updateVersioned(r.db.WithContext(ctx), loan, &loan.Version, "loan")
}

func (r *loanRepository) List(ctx context.Context, filter LoanFilter, offset, limit int) ([]*models.Loan, int64, error) {
	var loans []*models.Loan
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		if filter.GroupID != 0 {
			db = db.Where("group_id = ?", filter.GroupID)
		}
		if filter.BorrowerID != 0 {
			db = db.Where("borrower_id = ?", filter.BorrowerID)
		}
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		return db
	}
	if err := r.db.WithContext(ctx).Model(&models.Loan{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).Scopes(scope).Order("id DESC").Offset(offset).Limit(limit).Find(&loans).Error
	return loans, total, err
}

func (r *loanRepository) CountByStatus(ctx context.Context, groupID uint, statuses ...domain.LoanStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Loan{}).
		Where("group_id = ? AND status IN ?", groupID, statuses).
		Count(&count).Error
	return count, err
}

func (r *loanRepository) SumOutstanding(ctx context.Context, groupID uint) (decimal.Decimal, error) {
	var balances []decimal.Decimal
	err := r.db.WithContext(ctx).Model(&models.Loan{}).
		Where("group_id = ? AND status IN ?", groupID, []domain.LoanStatus{domain.LoanRepaying, domain.LoanDefaulted}).
		Pluck("outstanding_balance", &balances).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b)
	}
	return total, nil
}

func (r *loanRepository) CreateGuarantors(ctx context.Context, guarantors []models.LoanGuarantor) error {
	if len(guarantors) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Create(&guarantors).Error, "loan guarantor")
}

func (r *loanRepository) UpdateGuarantor(ctx context.Context, g *models.LoanGuarantor) error {
	return r.db.WithContext(ctx).Save(g).Error
}

func (r *loanRepository) PendingGuaranteesFor(ctx context.Context, memberIDs []uint) ([]*models.LoanGuarantor, error) {
	var out []*models.LoanGuarantor
	if len(memberIDs) == 0 {
		return out, nil
	}
	open := r.db.Model(&models.Loan{}).Select("id").Where("status = ?", domain.LoanGuarantorsPending)
	err := r.db.WithContext(ctx).
		Where("guarantor_id IN ? AND status = ? AND loan_id IN (?)", memberIDs, domain.GuarantorPending, open).
		Order("id").
		Find(&out).Error
	return out, err
}

func (r *loanRepository) CreateInstallments(ctx context.Context, installments []models.RepaymentInstallment) error {
	if len(installments) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Create(&installments).Error, "repayment installment")
}

func (r *loanRepository) UpdateInstallment(ctx context.Context, inst *models.RepaymentInstallment) error {
	return r.db.WithContext(ctx).Save(inst).Error
}

// fundedRepaying selects loans in repayment whose principal has reached the
// borrower. Until then no installment can fall due.
func (r *loanRepository) fundedRepaying() *gorm.DB {
	return r.db.Model(&models.Loan{}).Select("id").
		Where("status = ? AND disbursement_status = ?", domain.LoanRepaying, domain.PaymentConfirmed)
}

func (r *loanRepository) LoansWithPastDue(ctx context.Context, now time.Time) ([]uint, error) {
	var ids []uint
	repaying := r.fundedRepaying()
	err := r.db.WithContext(ctx).Model(&models.RepaymentInstallment{}).
		Distinct("loan_id").
		Where("status = ? AND due_date < ? AND loan_id IN (?)", domain.InstallmentPending, now, repaying).
		Order("loan_id").
		Pluck("loan_id", &ids).Error
	return ids, err
}

func (r *loanRepository) DueBetween(ctx context.Context, from, to time.Time) ([]*models.RepaymentInstallment, error) {
	var out []*models.RepaymentInstallment
	repaying := r.fundedRepaying()
	err := r.db.WithContext(ctx).
		Where("status = ? AND due_date >= ? AND due_date <= ? AND reminder_sent_at IS NULL AND loan_id IN (?)",
			domain.InstallmentPending, from, to, repaying).
		Order("due_date").
		Find(&out).Error
	return out, err
}

// MarkReminderSent stamps the installment once. It reports false when a
// reminder was already recorded.
func (r *loanRepository) MarkReminderSent(ctx context.Context, installmentID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.RepaymentInstallment{}).
		Where("id = ? AND reminder_sent_at IS NULL", installmentID).
		Update("reminder_sent_at", at)
	return res.RowsAffected == 1, res.Error
}

func (r *loanRepository) CreateRepayment(ctx context.Context, rp *models.LoanRepayment) error {
	return translate(r.db.WithContext(ctx).Create(rp).Error, "repayment")
}

func (r *loanRepository) RepaymentReferenceExists(ctx context.Context, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LoanRepayment{}).Where("reference = ?", reference).Count(&count).Error
	return count > 0, err
}

func (r *loanRepository) Repayments(ctx context.Context, loanID uint) ([]*models.LoanRepayment, error) {
	var out []*models.LoanRepayment
	err := r.db.WithContext(ctx).Where("loan_id = ?", loanID).Order("id").Find(&out).Error
	return out, err
}
