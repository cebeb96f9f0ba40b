package models

import (
	"time"

	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
)

// ============================================================
// Contribution Cycles
// ============================================================

// Cycle is one rotation period of a group.
type Cycle struct {
	ID                uint               `gorm:"primaryKey" json:"id"`
	GroupID           uint               `gorm:"uniqueIndex:idx_cycle_group_seq;not null" json:"group_id"`
	Sequence          int                `gorm:"uniqueIndex:idx_cycle_group_seq;not null" json:"sequence"`
	BeneficiaryID     uint               `gorm:"not null;index" json:"beneficiary_id"`
	RequiredAmount    decimal.Decimal    `gorm:"type:decimal(15,2);not null" json:"required_amount"`
	ActiveMemberCount int                `gorm:"not null" json:"active_member_count"`
	ConfirmedCount    int                `gorm:"not null" json:"confirmed_count"`
	CollectedAmount   decimal.Decimal    `gorm:"type:decimal(15,2);not null" json:"collected_amount"`
	Status            domain.CycleStatus `gorm:"size:20;not null;index" json:"status"`
	OpenedAt          time.Time          `gorm:"not null" json:"opened_at"`
	Deadline          time.Time          `gorm:"not null;index" json:"deadline"`
	LateCheckedAt     *time.Time         `json:"late_checked_at"`
	CompletedAt       *time.Time         `json:"completed_at"`
	ClosedAt          *time.Time         `json:"closed_at"`
	Version           int                `gorm:"not null" json:"version"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`

	Participants []CycleParticipant `gorm:"foreignKey:CycleID" json:"participants,omitempty"`
}

func (Cycle) TableName() string {
	return "cycles"
}

// IsLate reports whether at is past the contribution deadline.
func (c *Cycle) IsLate(at time.Time) bool {
	return at.After(c.Deadline)
}

// CycleParticipant is the active-member snapshot taken when a cycle opens.
type CycleParticipant struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	CycleID  uint `gorm:"uniqueIndex:idx_participant_cycle_member;not null" json:"cycle_id"`
	MemberID uint `gorm:"uniqueIndex:idx_participant_cycle_member;not null" json:"member_id"`
	Position int  `gorm:"not null" json:"position"`
}

func (CycleParticipant) TableName() string {
	return "cycle_participants"
}

// Contribution is a member's payment towards a cycle. There is at most one
// row per (cycle, member); partial payments accumulate into it.
type Contribution struct {
	ID          uint                      `gorm:"primaryKey" json:"id"`
	CycleID     uint                      `gorm:"uniqueIndex:idx_contribution_cycle_member;not null" json:"cycle_id"`
	MemberID    uint                      `gorm:"uniqueIndex:idx_contribution_cycle_member;not null;index" json:"member_id"`
	Amount      decimal.Decimal           `gorm:"type:decimal(15,2);not null" json:"amount"`
	Method      domain.PaymentMethod      `gorm:"size:20;not null" json:"method"`
	Reference   *string                   `gorm:"size:64;uniqueIndex" json:"reference"`
	Status      domain.ContributionStatus `gorm:"size:20;not null;index" json:"status"`
	IsLate      bool                      `gorm:"not null" json:"is_late"`
	RecordedBy  uint                      `gorm:"not null" json:"recorded_by"`
	ConfirmedAt *time.Time                `json:"confirmed_at"`
	FailReason  string                    `gorm:"size:255" json:"fail_reason,omitempty"`
	CreatedAt   time.Time                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time                 `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contribution) TableName() string {
	return "contributions"
}

// Penalty is a late-payment ledger entry, kept apart from the contribution.
type Penalty struct {
	ID             uint                 `gorm:"primaryKey" json:"id"`
	GroupID        uint                 `gorm:"not null;index" json:"group_id"`
	CycleID        uint                 `gorm:"uniqueIndex:idx_penalty_cycle_member;not null" json:"cycle_id"`
	MemberID       uint                 `gorm:"uniqueIndex:idx_penalty_cycle_member;not null;index" json:"member_id"`
	ContributionID *uint                `json:"contribution_id"`
	Amount         decimal.Decimal      `gorm:"type:decimal(15,2);not null" json:"amount"`
	Rate           decimal.Decimal      `gorm:"type:decimal(5,2);not null" json:"rate"`
	Status         domain.PenaltyStatus `gorm:"size:20;not null;index" json:"status"`
	Reason         string               `gorm:"size:255" json:"reason"`
	SettledAt      *time.Time           `json:"settled_at"`
	SettledBy      *uint                `json:"settled_by"`
	CreatedAt      time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Penalty) TableName() string {
	return "penalties"
}

// Payout is the pooled amount released to a cycle's beneficiary.
type Payout struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	CycleID       uint                `gorm:"uniqueIndex;not null" json:"cycle_id"`
	GroupID       uint                `gorm:"not null;index" json:"group_id"`
	BeneficiaryID uint                `gorm:"not null;index" json:"beneficiary_id"`
	GrossAmount   decimal.Decimal     `gorm:"type:decimal(15,2);not null" json:"gross_amount"`
	Deduction     decimal.Decimal     `gorm:"type:decimal(15,2);not null" json:"deduction"`
	NetAmount     decimal.Decimal     `gorm:"type:decimal(15,2);not null" json:"net_amount"`
	Reference     string              `gorm:"size:64;uniqueIndex;not null" json:"reference"`
	Status        domain.PayoutStatus `gorm:"size:20;not null;index" json:"status"`
	Attempts      int                 `gorm:"not null" json:"attempts"`
	FailureReason string              `gorm:"size:255" json:"failure_reason"`
	InitiatedAt   *time.Time          `json:"initiated_at"`
	ConfirmedAt   *time.Time          `json:"confirmed_at"`
	CreatedAt     time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payout) TableName() string {
	return "payouts"
}
