package models

import (
	"time"

	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================
// Auth & User Tables
// ============================================================

// User represents users table
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"uniqueIndex;size:50;not null" json:"username"`
	FullName  string         `gorm:"size:150" json:"full_name"`
	Email     string         `gorm:"uniqueIndex;size:100;not null" json:"email"`
	Phone     string         `gorm:"uniqueIndex;size:20;not null" json:"phone"`
	Password  string         `gorm:"size:255;not null" json:"-"`
	Role      domain.Role    `gorm:"size:20;not null" json:"role"`
	IsActive  bool           `gorm:"not null" json:"is_active"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// UserResponse DTO
type UserResponse struct {
	ID        uint        `json:"id"`
	Username  string      `json:"username"`
	FullName  string      `json:"full_name"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone"`
	Role      domain.Role `json:"role"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
}

func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

// Actor returns the authorization principal for this user.
func (u *User) Actor() domain.Actor {
	return domain.Actor{UserID: u.ID, Role: u.Role}
}

// RefreshToken represents refresh_tokens table
type RefreshToken struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"index;not null" json:"user_id"`
	TokenHash string     `gorm:"size:255;not null;index" json:"-"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	RevokedAt *time.Time `gorm:"index" json:"revoked_at"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

func (rt *RefreshToken) IsRevoked() bool {
	return rt.RevokedAt != nil
}

func (rt *RefreshToken) IsExpired() bool {
	return time.Now().After(rt.ExpiresAt)
}

// ============================================================
// Groups (chamas) & Memberships
// ============================================================

// Group is a chama: a pool of members contributing on a fixed rotation.
type Group struct {
	ID                    uint               `gorm:"primaryKey" json:"id"`
	Name                  string             `gorm:"uniqueIndex;size:200;not null" json:"name"`
	Description           string             `gorm:"type:text" json:"description"`
	ContributionAmount    decimal.Decimal    `gorm:"type:decimal(15,2);not null" json:"contribution_amount"`
	ContributionFrequency domain.Frequency   `gorm:"size:20;not null" json:"contribution_frequency"`
	GracePeriodHours      int                `gorm:"not null" json:"grace_period_hours"`
	LatePenaltyRate       decimal.Decimal    `gorm:"type:decimal(5,2);not null" json:"late_penalty_rate"`
	LoanInterestRate      decimal.Decimal    `gorm:"type:decimal(5,2);not null" json:"loan_interest_rate"`
	MaxMembers            int                `gorm:"not null" json:"max_members"`
	PaybillNumber         string             `gorm:"size:20" json:"paybill_number"`
	Status                domain.GroupStatus `gorm:"size:20;not null;index" json:"status"`
	CurrentCycleID        *uint              `json:"current_cycle_id"`
	LastSequence          int                `gorm:"not null" json:"last_sequence"`
	CreatedBy             uint               `gorm:"not null" json:"created_by"`
	Version               int                `gorm:"not null" json:"version"`
	CreatedAt             time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Group) TableName() string {
	return "chama_groups"
}

// GracePeriod returns the group's deadline offset, falling back to def.
func (g *Group) GracePeriod(def time.Duration) time.Duration {
	if g.GracePeriodHours > 0 {
		return time.Duration(g.GracePeriodHours) * time.Hour
	}
	return def
}

// Membership links a user to a group with a rotation position.
type Membership struct {
	ID                uint                    `gorm:"primaryKey" json:"id"`
	GroupID           uint                    `gorm:"uniqueIndex:idx_membership_group_user;not null" json:"group_id"`
	UserID            uint                    `gorm:"uniqueIndex:idx_membership_group_user;not null;index" json:"user_id"`
	Position          int                     `gorm:"not null" json:"position"`
	MembershipNumber  string                  `gorm:"size:30;uniqueIndex" json:"membership_number"`
	Status            domain.MembershipStatus `gorm:"size:20;not null" json:"status"`
	HasReceivedPayout bool                    `gorm:"not null" json:"has_received_payout"`
	TotalContributed  decimal.Decimal         `gorm:"type:decimal(15,2);not null" json:"total_contributed"`
	JoinedAt          time.Time               `gorm:"not null" json:"joined_at"`
	CreatedAt         time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time               `gorm:"autoUpdateTime" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Membership) TableName() string {
	return "memberships"
}

// ============================================================
// Audit
// ============================================================

// Audit actions
const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
	ActionPayment = "PAYMENT"
	ActionSystem  = "SYSTEM"
)

// AuditLog records every state transition with who caused it.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ActorID    *uint     `gorm:"index" json:"actor_id"`
	Action     string    `gorm:"size:20;not null" json:"action"`
	EntityType string    `gorm:"size:50;not null;index:idx_audit_entity" json:"entity_type"`
	EntityID   uint      `gorm:"not null;index:idx_audit_entity" json:"entity_id"`
	FromStatus string    `gorm:"size:30" json:"from_status"`
	ToStatus   string    `gorm:"size:30" json:"to_status"`
	Details    string    `gorm:"type:text" json:"details"`
	IPAddress  string    `gorm:"size:50" json:"ip_address"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// ============================================================
// Auto Migration
// ============================================================

// AutoMigrate runs auto migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&RefreshToken{},
		&Group{},
		&Membership{},
		&Cycle{},
		&CycleParticipant{},
		&Contribution{},
		&Penalty{},
		&Payout{},
		&Loan{},
		&LoanGuarantor{},
		&RepaymentInstallment{},
		&LoanRepayment{},
		&Meeting{},
		&MeetingAttendance{},
		&AuditLog{},
		&OutboxEvent{},
		&Notification{},
	)
}
