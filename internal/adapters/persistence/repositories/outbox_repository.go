package repositories

import (
	"context"
	"time"

	"chama-engine/internal/adapters/persistence/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityType string, entityID uint) ([]*models.AuditLog, error) {
	var out []*models.AuditLog
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id").
		Find(&out).Error
	return out, err
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Create(ctx context.Context, event *models.OutboxEvent) error {
	return translate(r.db.WithContext(ctx).Create(event).Error, "outbox event")
}

func (r *outboxRepository) GetByEventID(ctx context.Context, eventID string) (*models.OutboxEvent, error) {
	return first[models.OutboxEvent](r.db.WithContext(ctx), "outbox event", "event_id = ?", eventID)
}

func (r *outboxRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.OutboxEvent, error) {
	var out []*models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.OutboxPending, now).
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *outboxRepository) Claim(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, models.OutboxPending).
		Updates(map[string]interface{}{"status": models.OutboxProcessing, "updated_at": at})
	return res.RowsAffected == 1, res.Error
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.OutboxDelivered,
			"delivered_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   "",
		}).Error
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.OutboxPending,
			"attempts":        attempts,
			"next_attempt_at": next,
			"last_error":      lastErr,
		}).Error
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OutboxFailed,
			"attempts":   attempts,
			"last_error": lastErr,
		}).Error
}

func (r *outboxRepository) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status = ? AND updated_at < ?", models.OutboxProcessing, before).
		Update("status", models.OutboxPending)
	return res.RowsAffected, res.Error
}

func (r *outboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateOnce(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(n).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID uint, unreadOnly bool, offset, limit int) ([]*models.Notification, int64, error) {
	var out []*models.Notification
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", userID)
		if unreadOnly {
			db = db.Where("read_at IS NULL")
		}
		return db
	}
	if err := r.db.WithContext(ctx).Model(&models.Notification{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).Scopes(scope).Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, userID uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "notification")
	}
	return nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	return count, err
}
