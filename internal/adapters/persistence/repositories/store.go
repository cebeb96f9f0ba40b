package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chama-engine/internal/core/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store bundles every repository over one gorm handle. Inside Transaction
// the handle is the transaction, so all repositories share it.
type Store struct {
	db *gorm.DB

	Users         UserRepository
	RefreshTokens RefreshTokenRepository
	Groups        GroupRepository
	Memberships   MembershipRepository
	Cycles        CycleRepository
	Contributions ContributionRepository
	Penalties     PenaltyRepository
	Payouts       PayoutRepository
	Loans         LoanRepository
	Meetings      MeetingRepository
	Audit         AuditRepository
	Outbox        OutboxRepository
	Notifications NotificationRepository
}

// NewStore creates a store over db
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Users:         NewUserRepository(db),
		RefreshTokens: NewRefreshTokenRepository(db),
		Groups:        NewGroupRepository(db),
		Memberships:   NewMembershipRepository(db),
		Cycles:        NewCycleRepository(db),
		Contributions: NewContributionRepository(db),
		Penalties:     NewPenaltyRepository(db),
		Payouts:       NewPayoutRepository(db),
		Loans:         NewLoanRepository(db),
		Meetings:      NewMeetingRepository(db),
		Audit:         NewAuditRepository(db),
		Outbox:        NewOutboxRepository(db),
		Notifications: NewNotificationRepository(db),
	}
}

// DB exposes the underlying handle for read-only aggregates.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a store bound to a single transaction. Any
// error returned by fn rolls the whole unit back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// forUpdate adds a row lock. Dialects without row locks (sqlite) drop the clause.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// updateVersioned writes every column of model guarded by its optimistic
// version. On success *version is bumped; a stale version is ErrConflict.
func updateVersioned(db *gorm.DB, model interface{}, version *int, what string) error {
	expected := *version
	*version = expected + 1

	res := db.Model(model).
		Where("version = ?", expected).
		Select("*").
		Omit(clause.Associations).
		Updates(model)
	if res.Error != nil {
		*version = expected
		return translate(res.Error, what)
	}
	if res.RowsAffected == 0 {
		*version = expected
		return domain.Conflictf("%s was modified concurrently, retry", what)
	}
	return nil
}

// translate maps driver errors onto domain error kinds.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NotFoundf("%s not found", what)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s already exists: %v", domain.ErrConflict, what, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}

func first[T any](db *gorm.DB, what string, query string, args ...interface{}) (*T, error) {
	var out T
	if err := db.Where(query, args...).First(&out).Error; err != nil {
		return nil, translate(err, what)
	}
	return &out, nil
}
