package repositories

import (
	"context"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"

	"gorm.io/gorm"
)

type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Create(ctx context.Context, group *models.Group) error {
	return translate(r.db.WithContext(ctx).Create(group).Error, "group")
}

func (r *groupRepository) GetByID(ctx context.Context, id uint) (*models.Group, error) {
	return first[models.Group](r.db.WithContext(ctx), "group", "id = ?", id)
}

func (r *groupRepository) GetForUpdate(ctx context.Context, id uint) (*models.Group, error) {
	return first[models.Group](forUpdate(r.db.WithContext(ctx)), "group", "id = ?", id)
}

func (r *groupRepository) Update(ctx context.Context, group *models.Group) error {
	return updateVersioned(r.db.WithContext(ctx), group, &group.Version, "group")
}

func (r *groupRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Group{}).Where("name = ?", name).Count(&count).Error
	return count > 0, err
}

func (r *groupRepository) List(ctx context.Context, offset, limit int) ([]*models.Group, int64, error) {
	var groups []*models.Group
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Group{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := r.db.WithContext(ctx).Order("id").Offset(offset).Limit(limit).Find(&groups).Error; err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

// ListForUser returns the groups the user created or holds a non-withdrawn
// membership in.
func (r *groupRepository) ListForUser(ctx context.Context, userID uint) ([]*models.Group, error) {
	var groups []*models.Group
	sub := r.db.Model(&models.Membership{}).
		Select("group_id").
		Where("user_id = ? AND status <> ?", userID, domain.MembershipWithdrawn)
	err := r.db.WithContext(ctx).
		Where("created_by = ? OR id IN (?)", userID, sub).
		Order("id").
		Find(&groups).Error
	return groups, err
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) Create(ctx context.Context, m *models.Membership) error {
	return translate(r.db.WithContext(ctx).Create(m).Error, "membership")
}

func (r *membershipRepository) GetByID(ctx context.Context, id uint) (*models.Membership, error) {
	return first[models.Membership](r.db.WithContext(ctx).Preload("User"), "member", "id = ?", id)
}

func (r *membershipRepository) GetByGroupAndUser(ctx context.Context, groupID, userID uint) (*models.Membership, error) {
	return first[models.Membership](r.db.WithContext(ctx), "membership", "group_id = ? AND user_id = ?", groupID, userID)
}

func (r *membershipRepository) Update(ctx context.Context, m *models.Membership) error {
	return translate(r.db.WithContext(ctx).Omit("User").Save(m).Error, "membership")
}

func (r *membershipRepository) ListByGroup(ctx context.Context, groupID uint) ([]*models.Membership, error) {
	var members []*models.Membership
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("group_id = ?", groupID).
		Order("position, id").
		Find(&members).Error
	return members, err
}

func (r *membershipRepository) ListByIDs(ctx context.Context, ids []uint) ([]*models.Membership, error) {
	var members []*models.Membership
	if len(ids) == 0 {
		return members, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&members).Error
	return members, err
}

func (r *membershipRepository) ListByUser(ctx context.Context, userID uint) ([]*models.Membership, error) {
	var members []*models.Membership
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("group_id").Find(&members).Error
	return members, err
}

func (r *membershipRepository) ListActive(ctx context.Context, groupID uint) ([]*models.Membership, error) {
	var members []*models.Membership
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND status = ?", groupID, domain.MembershipActive).
		Order("position, id").
		Find(&members).Error
	return members, err
}

// CountSeated counts memberships occupying a seat (anything not withdrawn).
func (r *membershipRepository) CountSeated(ctx context.Context, groupID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("group_id = ? AND status <> ?", groupID, domain.MembershipWithdrawn).
		Count(&count).Error
	return count, err
}

func (r *membershipRepository) MaxPosition(ctx context.Context, groupID uint) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("group_id = ?", groupID).
		Select("MAX(position)").
		Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}
