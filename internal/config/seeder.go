package config

import (
	"os"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/password"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Seeder handles database seeding
type Seeder struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB, log *zap.Logger) *Seeder {
	return &Seeder{db: db, log: log}
}

// Run executes all seeders
func (s *Seeder) Run() error {
	s.log.Info("running database seeders")

	if err := s.seedAdminUser(); err != nil {
		s.log.Warn("admin seeder skipped", zap.Error(err))
	}

	return nil
}

// seedAdminUser creates the first administrator when none exists.
// The password comes from SEED_ADMIN_PASSWORD and defaults to a dev value.
func (s *Seeder) seedAdminUser() error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("role = ?", domain.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	secret := os.Getenv("SEED_ADMIN_PASSWORD")
	if secret == "" {
		secret = "admin123456"
	}
	hashed, err := password.Hash(secret)
	if err != nil {
		return err
	}

	admin := &models.User{
		Username: "admin",
		FullName: "Chama Administrator",
		Email:    "admin@chama.local",
		Phone:    "+254700000000",
		Password: hashed,
		Role:     domain.RoleAdmin,
		IsActive: true,
	}
	if err := s.db.Create(admin).Error; err != nil {
		return err
	}

	s.log.Info("admin user created", zap.String("username", admin.Username))
	return nil
}
