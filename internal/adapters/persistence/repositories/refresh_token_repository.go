package repositories

import (
	"context"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"

	"gorm.io/gorm"
)

type refreshTokenRepository struct {
	db *gorm.DB
}

// NewRefreshTokenRepository creates a refresh token repository
func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	return translate(r.db.WithContext(ctx).Create(token).Error, "refresh token")
}

// GetByTokenHash returns the token row, revoked or not; callers decide how
// a revoked session is reported.
func (r *refreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	return first[models.RefreshToken](r.db.WithContext(ctx), "refresh token", "token_hash = ?", tokenHash)
}

// Rotate revokes oldHash and stores next in one transaction. When oldHash
// was already revoked (a concurrent or replayed refresh) nothing is stored
// and ErrConflict is returned.
func (r *refreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *models.RefreshToken) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).
			Where("token_hash = ? AND revoked_at IS NULL", oldHash).
			Update("revoked_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Conflictf("refresh token already used")
		}
		return translate(tx.Create(next).Error, "refresh token")
	})
}

func (r *refreshTokenRepository) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	return r.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", tokenHash).
		Update("revoked_at", time.Now()).Error
}

func (r *refreshTokenRepository) RevokeAllByUserID(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now()).Error
}

// DeleteExpired purges sessions past expiry and reports how many went.
func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.RefreshToken{})
	return res.RowsAffected, res.Error
}
