package repositories

import (
	"context"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
)

// UserRepository defines user repository interface
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ListByIDs(ctx context.Context, ids []uint) ([]*models.User, error)
	ListByRoles(ctx context.Context, roles ...domain.Role) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, offset, limit int) ([]*models.User, int64, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
}

// RefreshTokenRepository defines refresh token repository interface
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldHash string, next *models.RefreshToken) error
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllByUserID(ctx context.Context, userID uint) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// GroupRepository persists chamas.
type GroupRepository interface {
	Create(ctx context.Context, group *models.Group) error
	GetByID(ctx context.Context, id uint) (*models.Group, error)
	// GetForUpdate loads the group and holds its row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uint) (*models.Group, error)
	Update(ctx context.Context, group *models.Group) error
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, offset, limit int) ([]*models.Group, int64, error)
	ListForUser(ctx context.Context, userID uint) ([]*models.Group, error)
}

// MembershipRepository persists group memberships.
type MembershipRepository interface {
	Create(ctx context.Context, m *models.Membership) error
	GetByID(ctx context.Context, id uint) (*models.Membership, error)
	GetByGroupAndUser(ctx context.Context, groupID, userID uint) (*models.Membership, error)
	Update(ctx context.Context, m *models.Membership) error
	ListByGroup(ctx context.Context, groupID uint) ([]*models.Membership, error)
	ListByIDs(ctx context.Context, ids []uint) ([]*models.Membership, error)
	ListByUser(ctx context.Context, userID uint) ([]*models.Membership, error)
	// ListActive returns active members in rotation order.
	ListActive(ctx context.Context, groupID uint) ([]*models.Membership, error)
	CountSeated(ctx context.Context, groupID uint) (int64, error)
	MaxPosition(ctx context.Context, groupID uint) (int, error)
}

// CycleRepository persists cycles and their participant snapshots.
type CycleRepository interface {
	Create(ctx context.Context, cycle *models.Cycle) error
	GetByID(ctx context.Context, id uint) (*models.Cycle, error)
	GetForUpdate(ctx context.Context, id uint) (*models.Cycle, error)
	Update(ctx context.Context, cycle *models.Cycle) error
	ListByGroup(ctx context.Context, groupID uint, offset, limit int) ([]*models.Cycle, int64, error)
	ListLateUnchecked(ctx context.Context, now time.Time) ([]*models.Cycle, error)
	CountByStatus(ctx context.Context, groupID uint, status domain.CycleStatus) (int64, error)
	CreateParticipants(ctx context.Context, participants []models.CycleParticipant) error
	Participants(ctx context.Context, cycleID uint) ([]models.CycleParticipant, error)
	IsParticipant(ctx context.Context, cycleID, memberID uint) (bool, error)
}

// ContributionRepository persists contributions.
type ContributionRepository interface {
	Create(ctx context.Context, c *models.Contribution) error
	Update(ctx context.Context, c *models.Contribution) error
	GetByCycleAndMember(ctx context.Context, cycleID, memberID uint) (*models.Contribution, error)
	GetForUpdate(ctx context.Context, id uint) (*models.Contribution, error)
	ExistsByReference(ctx context.Context, reference string) (bool, error)
	ListByCycle(ctx context.Context, cycleID uint) ([]*models.Contribution, error)
	ListByMember(ctx context.Context, memberID uint, offset, limit int) ([]*models.Contribution, int64, error)
	ConfirmedAmounts(ctx context.Context, cycleID uint) ([]decimal.Decimal, error)
	SumConfirmedByMember(ctx context.Context, memberID uint) (decimal.Decimal, error)
	SumConfirmedByGroup(ctx context.Context, groupID uint) (decimal.Decimal, error)
}

// PenaltyRepository persists late-payment penalties.
type PenaltyRepository interface {
	Create(ctx context.Context, p *models.Penalty) error
	GetForUpdate(ctx context.Context, id uint) (*models.Penalty, error)
	GetByCycleAndMember(ctx context.Context, cycleID, memberID uint) (*models.Penalty, error)
	Update(ctx context.Context, p *models.Penalty) error
	List(ctx context.Context, groupID uint, status domain.PenaltyStatus, offset, limit int) ([]*models.Penalty, int64, error)
	SumUnpaidByGroup(ctx context.Context, groupID uint) (decimal.Decimal, error)
}

// PayoutRepository persists cycle payouts.
type PayoutRepository interface {
	Create(ctx context.Context, p *models.Payout) error
	GetByCycle(ctx context.Context, cycleID uint) (*models.Payout, error)
	GetByReferenceForUpdate(ctx context.Context, reference string) (*models.Payout, error)
	Update(ctx context.Context, p *models.Payout) error
	ListByGroup(ctx context.Context, groupID uint) ([]*models.Payout, error)
	CountConfirmed(ctx context.Context, groupID uint) (int64, error)
}

// LoanRepository persists loans, guarantors, installments and repayments.
type LoanRepository interface {
	Create(ctx context.Context, loan *models.Loan) error
	GetByID(ctx context.Context, id uint) (*models.Loan, error)
	// GetForUpdate locks the loan and preloads guarantors and installments.
	GetForUpdate(ctx context.Context, id uint) (*models.Loan, error)
	GetByDisbursementRefForUpdate(ctx context.Context, reference string) (*models.Loan, error)
	Update(ctx context.Context, loan *models.Loan) error
	List(ctx context.Context, filter LoanFilter, offset, limit int) ([]*models.Loan, int64, error)
	CountByStatus(ctx context.Context, groupID uint, statuses ...domain.LoanStatus) (int64, error)
	SumOutstanding(ctx context.Context, groupID uint) (decimal.Decimal, error)

	CreateGuarantors(ctx context.Context, guarantors []models.LoanGuarantor) error
	UpdateGuarantor(ctx context.Context, g *models.LoanGuarantor) error
	PendingGuaranteesFor(ctx context.Context, memberIDs []uint) ([]*models.LoanGuarantor, error)

	CreateInstallments(ctx context.Context, installments []models.RepaymentInstallment) error
	UpdateInstallment(ctx context.Context, inst *models.RepaymentInstallment) error
	// LoansWithPastDue lists REPAYING loans holding a PENDING installment due before now.
	LoansWithPastDue(ctx context.Context, now time.Time) ([]uint, error)
	DueBetween(ctx context.Context, from, to time.Time) ([]*models.RepaymentInstallment, error)
	MarkReminderSent(ctx context.Context, installmentID uint, at time.Time) (bool, error)

	CreateRepayment(ctx context.Context, r *models.LoanRepayment) error
	RepaymentReferenceExists(ctx context.Context, reference string) (bool, error)
	Repayments(ctx context.Context, loanID uint) ([]*models.LoanRepayment, error)
}

// LoanFilter narrows loan listings.
type LoanFilter struct {
	GroupID    uint
	BorrowerID uint
	Status     domain.LoanStatus
}

// MeetingRepository persists meetings and their attendance register.
type MeetingRepository interface {
	Create(ctx context.Context, m *models.Meeting) error
	GetByID(ctx context.Context, id uint) (*models.Meeting, error)
	GetForUpdate(ctx context.Context, id uint) (*models.Meeting, error)
	Update(ctx context.Context, m *models.Meeting) error
	NextNumber(ctx context.Context, groupID uint) (int, error)
	List(ctx context.Context, groupID uint, status domain.MeetingStatus, offset, limit int) ([]*models.Meeting, int64, error)
	// Upcoming lists SCHEDULED meetings of the groups from now on, soonest first.
	Upcoming(ctx context.Context, groupIDs []uint, now time.Time, limit int) ([]*models.Meeting, error)
	Recent(ctx context.Context, groupIDs []uint, limit int) ([]*models.Meeting, error)
	CountByStatus(ctx context.Context, groupIDs []uint, status domain.MeetingStatus) (int64, error)
	CountPendingMinutes(ctx context.Context, groupIDs []uint) (int64, error)

	CreateAttendance(ctx context.Context, a *models.MeetingAttendance) error
	UpdateAttendance(ctx context.Context, a *models.MeetingAttendance) error
	GetAttendance(ctx context.Context, meetingID, membershipID uint) (*models.MeetingAttendance, error)
	ListAttendance(ctx context.Context, meetingID uint) ([]*models.MeetingAttendance, error)
}

// AuditRepository appends and reads audit rows.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	ListByEntity(ctx context.Context, entityType string, entityID uint) ([]*models.AuditLog, error)
}

// OutboxRepository stores pending collaborator signals.
type OutboxRepository interface {
	Create(ctx context.Context, event *models.OutboxEvent) error
	GetByEventID(ctx context.Context, eventID string) (*models.OutboxEvent, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.OutboxEvent, error)
	// Claim flips a PENDING event to PROCESSING. It reports false when
	// another dispatcher got there first.
	Claim(ctx context.Context, id uint, at time.Time) (bool, error)
	MarkDelivered(ctx context.Context, id uint, at time.Time) error
	MarkRetry(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error
	// ReleaseStale returns PROCESSING events untouched since before to PENDING.
	ReleaseStale(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	// CreateOnce inserts the notification unless one already exists for the
	// same (event, user).
	CreateOnce(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID uint, unreadOnly bool, offset, limit int) ([]*models.Notification, int64, error)
	MarkRead(ctx context.Context, id, userID uint, at time.Time) error
	CountUnread(ctx context.Context, userID uint) (int64, error)
}
