package repositories

import (
	"context"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"

	"gorm.io/gorm"
)

type meetingRepository struct {
	db *gorm.DB
}

// NewMeetingRepository creates a new meeting repository
func NewMeetingRepository(db *gorm.DB) MeetingRepository {
	return &meetingRepository{db: db}
}

func (r *meetingRepository) Create(ctx context.Context, m *models.Meeting) error {
	return translate(r.db.WithContext(ctx).Omit("Attendance").Create(m).Error, "meeting")
}

func (r *meetingRepository) GetByID(ctx context.Context, id uint) (*models.Meeting, error) {
	db := r.db.WithContext(ctx).Preload("Attendance", func(db *gorm.DB) *gorm.DB {
		return db.Order("membership_id")
	})
	return first[models.Meeting](db, "meeting", "id = ?", id)
}

func (r *meetingRepository) GetForUpdate(ctx context.Context, id uint) (*models.Meeting, error) {
	return first[models.Meeting](forUpdate(r.db.WithContext(ctx)), "meeting", "id = ?", id)
}

func (r *meetingRepository) Update(ctx context.Context, m *models.Meeting) error {
	return updateVersioned(r.db.WithContext(ctx), m, &m.Version, "meeting")
}

// NextNumber is only safe while the caller holds the group row lock.
func (r *meetingRepository) NextNumber(ctx context.Context, groupID uint) (int, error) {
	var last int
	err := r.db.WithContext(ctx).Model(&models.Meeting{}).
		Select("COALESCE(MAX(meeting_number), 0)").
		Where("group_id = ?", groupID).
		Scan(&last).Error
	return last + 1, err
}

func (r *meetingRepository) List(ctx context.Context, groupID uint, status domain.MeetingStatus, offset, limit int) ([]*models.Meeting, int64, error) {
	var out []*models.Meeting
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("group_id = ?", groupID)
		if status != "" {
			db = db.Where("status = ?", status)
		}
		return db
	}
	if err := r.db.WithContext(ctx).Model(&models.Meeting{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).Scopes(scope).Order("scheduled_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (r *meetingRepository) Upcoming(ctx context.Context, groupIDs []uint, now time.Time, limit int) ([]*models.Meeting, error) {
	out := []*models.Meeting{}
	if len(groupIDs) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).
		Where("group_id IN ? AND status = ? AND scheduled_at >= ?", groupIDs, domain.MeetingScheduled, now).
		Order("scheduled_at, id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *meetingRepository) Recent(ctx context.Context, groupIDs []uint, limit int) ([]*models.Meeting, error) {
	out := []*models.Meeting{}
	if len(groupIDs) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).
		Where("group_id IN ?", groupIDs).
		Order("scheduled_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *meetingRepository) CountByStatus(ctx context.Context, groupIDs []uint, status domain.MeetingStatus) (int64, error) {
	var count int64
	if len(groupIDs) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).Model(&models.Meeting{}).
		Where("group_id IN ? AND status = ?", groupIDs, status).
		Count(&count).Error
	return count, err
}

func (r *meetingRepository) CountPendingMinutes(ctx context.Context, groupIDs []uint) (int64, error) {
	var count int64
	if len(groupIDs) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).Model(&models.Meeting{}).
		Where("group_id IN ? AND status = ? AND (minutes IS NULL OR minutes = '')", groupIDs, domain.MeetingCompleted).
		Count(&count).Error
	return count, err
}

func (r *meetingRepository) CreateAttendance(ctx context.Context, a *models.MeetingAttendance) error {
	return translate(r.db.WithContext(ctx).Create(a).Error, "attendance")
}

func (r *meetingRepository) UpdateAttendance(ctx context.Context, a *models.MeetingAttendance) error {
	return translate(r.db.WithContext(ctx).Save(a).Error, "attendance")
}

func (r *meetingRepository) GetAttendance(ctx context.Context, meetingID, membershipID uint) (*models.MeetingAttendance, error) {
	return first[models.MeetingAttendance](r.db.WithContext(ctx), "attendance", "meeting_id = ? AND membership_id = ?", meetingID, membershipID)
}

func (r *meetingRepository) ListAttendance(ctx context.Context, meetingID uint) ([]*models.MeetingAttendance, error) {
	var out []*models.MeetingAttendance
	err := r.db.WithContext(ctx).Where("meeting_id = ?", meetingID).Order("membership_id").Find(&out).Error
	return out, err
}
