package repositories

import (
	"context"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type cycleRepository struct {
	db *gorm.DB
}

// NewCycleRepository creates a new cycle repository
func NewCycleRepository(db *gorm.DB) CycleRepository {
	return &cycleRepository{db: db}
}

func (r *cycleRepository) Create(ctx context.Context, cycle *models.Cycle) error {
	return translate(r.db.WithContext(ctx).Omit("Participants").Create(cycle).Error, "cycle")
}

func (r *cycleRepository) GetByID(ctx context.Context, id uint) (*models.Cycle, error) {
	return first[models.Cycle](r.db.WithContext(ctx).Preload("Participants"), "cycle", "id = ?", id)
}

func (r *cycleRepository) GetForUpdate(ctx context.Context, id uint) (*models.Cycle, error) {
	return first[models.Cycle](forUpdate(r.db.WithContext(ctx)), "cycle", "id = ?", id)
}

func (r *cycleRepository) Update(ctx context.Context, cycle *models.Cycle) error {
	return updateVersioned(r.db.WithContext(ctx), cycle, &cycle.Version, "cycle")
}

func (r *cycleRepository) ListByGroup(ctx context.Context, groupID uint, offset, limit int) ([]*models.Cycle, int64, error) {
	var cycles []*models.Cycle
	var total int64

	q := r.db.WithContext(ctx).Model(&models.Cycle{}).Where("group_id = ?", groupID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("sequence DESC").
		Offset(offset).Limit(limit).
		Find(&cycles).Error
	return cycles, total, err
}

// ListLateUnchecked finds open cycles whose deadline passed and which have
// not been through the late check yet.
func (r *cycleRepository) ListLateUnchecked(ctx context.Context, now time.Time) ([]*models.Cycle, error) {
	var cycles []*models.Cycle
	err := r.db.WithContext(ctx).
		Where("status = ? AND deadline < ? AND late_checked_at IS NULL", domain.CycleOpen, now).
		Order("id").
		Find(&cycles).Error
	return cycles, err
}

func (r *cycleRepository) CountByStatus(ctx context.Context, groupID uint, status domain.CycleStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Cycle{}).
		Where("group_id = ? AND status = ?", groupID, status).
		Count(&count).Error
	return count, err
}

func (r *cycleRepository) CreateParticipants(ctx context.Context, participants []models.CycleParticipant) error {
	if len(participants) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Create(&participants).Error, "cycle participant")
}

func (r *cycleRepository) Participants(ctx context.Context, cycleID uint) ([]models.CycleParticipant, error) {
	var out []models.CycleParticipant
	err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("position").Find(&out).Error
	return out, err
}

func (r *cycleRepository) IsParticipant(ctx context.Context, cycleID, memberID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CycleParticipant{}).
		Where("cycle_id = ? AND member_id = ?", cycleID, memberID).
		Count(&count).Error
	return count > 0, err
}

type contributionRepository struct {
	db *gorm.DB
}

// NewContributionRepository creates a new contribution repository
func NewContributionRepository(db *gorm.DB) ContributionRepository {
	return &contributionRepository{db: db}
}

func (r *contributionRepository) Create(ctx context.Context, c *models.Contribution) error {
	return translate(r.db.WithContext(ctx).Create(c).Error, "contribution")
}

func (r *contributionRepository) Update(ctx context.Context, c *models.Contribution) error {
	return translate(r.db.WithContext(ctx).Save(c).Error, "contribution")
}

func (r *contributionRepository) GetByCycleAndMember(ctx context.Context, cycleID, memberID uint) (*models.Contribution, error) {
	return first[models.Contribution](r.db.WithContext(ctx), "contribution", "cycle_id = ? AND member_id = ?", cycleID, memberID)
}

func (r *contributionRepository) GetForUpdate(ctx context.Context, id uint) (*models.Contribution, error) {
	return first[models.Contribution](forUpdate(r.db.WithContext(ctx)), "contribution", "id = ?", id)
}

func (r *contributionRepository) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Contribution{}).Where("reference = ?", reference).Count(&count).Error
	return count > 0, err
}

func (r *contributionRepository) ListByCycle(ctx context.Context, cycleID uint) ([]*models.Contribution, error) {
	var out []*models.Contribution
	err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("id").Find(&out).Error
	return out, err
}

func (r *contributionRepository) ListByMember(ctx context.Context, memberID uint, offset, limit int) ([]*models.Contribution, int64, error) {
	var out []*models.Contribution
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Contribution{}).Where("member_id = ?", memberID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, total, err
}

func (r *contributionRepository) ConfirmedAmounts(ctx context.Context, cycleID uint) ([]decimal.Decimal, error) {
	var rows []*models.Contribution
	err := r.db.WithContext(ctx).
		Select("amount").
		Where("cycle_id = ? AND status = ?", cycleID, domain.ContributionConfirmed).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, len(rows))
	for i, c := range rows {
		out[i] = c.Amount
	}
	return out, nil
}

func (r *contributionRepository) SumConfirmedByMember(ctx context.Context, memberID uint) (decimal.Decimal, error) {
	return sumAmounts(r.db.WithContext(ctx).Model(&models.Contribution{}).
		Where("member_id = ? AND status = ?", memberID, domain.ContributionConfirmed))
}

func (r *contributionRepository) SumConfirmedByGroup(ctx context.Context, groupID uint) (decimal.Decimal, error) {
	cycles := r.db.Model(&models.Cycle{}).Select("id").Where("group_id = ?", groupID)
	return sumAmounts(r.db.WithContext(ctx).Model(&models.Contribution{}).
		Where("cycle_id IN (?) AND status = ?", cycles, domain.ContributionConfirmed))
}

// sumAmounts totals the amount column in Go. Decimal columns scan as
// strings on some drivers and SUM over no rows is NULL.
func sumAmounts(q *gorm.DB) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := q.Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total, nil
}

type penaltyRepository struct {
	db *gorm.DB
}

// NewPenaltyRepository creates a new penalty repository
func NewPenaltyRepository(db *gorm.DB) PenaltyRepository {
	return &penaltyRepository{db: db}
}

func (r *penaltyRepository) Create(ctx context.Context, p *models.Penalty) error {
	return translate(r.db.WithContext(ctx).Create(p).Error, "penalty")
}

func (r *penaltyRepository) GetForUpdate(ctx context.Context, id uint) (*models.Penalty, error) {
	return first[models.Penalty](forUpdate(r.db.WithContext(ctx)), "penalty", "id = ?", id)
}

func (r *penaltyRepository) GetByCycleAndMember(ctx context.Context, cycleID, memberID uint) (*models.Penalty, error) {
	return first[models.Penalty](r.db.WithContext(ctx), "penalty", "cycle_id = ? AND member_id = ?", cycleID, memberID)
}

func (r *penaltyRepository) Update(ctx context.Context, p *models.Penalty) error {
	return translate(r.db.WithContext(ctx).Save(p).Error, "penalty")
}

func (r *penaltyRepository) List(ctx context.Context, groupID uint, status domain.PenaltyStatus, offset, limit int) ([]*models.Penalty, int64, error) {
	var out []*models.Penalty
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("group_id = ?", groupID)
		if status != "" {
			db = db.Where("status = ?", status)
		}
		return db
	}
	if err := r.db.WithContext(ctx).Model(&models.Penalty{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).Scopes(scope).Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (r *penaltyRepository) SumUnpaidByGroup(ctx context.Context, groupID uint) (decimal.Decimal, error) {
	return sumAmounts(r.db.WithContext(ctx).Model(&models.Penalty{}).
		Where("group_id = ? AND status = ?", groupID, domain.PenaltyUnpaid))
}

type payoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository creates a new payout repository
func NewPayoutRepository(db *gorm.DB) PayoutRepository {
	return &payoutRepository{db: db}
}

func (r *payoutRepository) Create(ctx context.Context, p *models.Payout) error {
	return translate(r.db.WithContext(ctx).Create(p).Error, "payout")
}

func (r *payoutRepository) GetByCycle(ctx context.Context, cycleID uint) (*models.Payout, error) {
	return first[models.Payout](r.db.WithContext(ctx), "payout", "cycle_id = ?", cycleID)
}

func (r *payoutRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (*models.Payout, error) {
	return first[models.Payout](forUpdate(r.db.WithContext(ctx)), "payout", "reference = ?", reference)
}

func (r *payoutRepository) Update(ctx context.Context, p *models.Payout) error {
	return translate(r.db.WithContext(ctx).Save(p).Error, "payout")
}

func (r *payoutRepository) ListByGroup(ctx context.Context, groupID uint) ([]*models.Payout, error) {
	var out []*models.Payout
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("id DESC").Find(&out).Error
	return out, err
}

func (r *payoutRepository) CountConfirmed(ctx context.Context, groupID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("group_id = ? AND status = ?", groupID, domain.PayoutConfirmed).
		Count(&count).Error
	return count, err
}
