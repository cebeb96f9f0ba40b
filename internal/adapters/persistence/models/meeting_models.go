package models

import (
	"time"

	"chama-engine/internal/core/domain"
)

// Meeting is a scheduled sitting of a group, numbered per group.
type Meeting struct {
	ID            uint                 `gorm:"primaryKey" json:"id"`
	GroupID       uint                 `gorm:"uniqueIndex:idx_meeting_group_number;index:idx_meeting_group_status;not null" json:"group_id"`
	MeetingNumber int                  `gorm:"uniqueIndex:idx_meeting_group_number;not null" json:"meeting_number"`
	Title         string               `gorm:"size:200;not null" json:"title"`
	ScheduledAt   time.Time            `gorm:"not null;index" json:"scheduled_at"`
	Location      string               `gorm:"size:255;not null" json:"location"`
	Agenda        string               `gorm:"type:text" json:"agenda"`
	Minutes       string               `gorm:"type:text" json:"minutes"`
	Status        domain.MeetingStatus `gorm:"size:20;not null;index:idx_meeting_group_status" json:"status"`
	StartedAt     *time.Time           `json:"started_at"`
	EndedAt       *time.Time           `json:"ended_at"`
	CancelReason  string               `gorm:"size:255" json:"cancel_reason,omitempty"`
	SecretaryID   uint                 `gorm:"not null" json:"secretary_id"`
	Version       int                  `gorm:"not null" json:"version"`
	CreatedAt     time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time            `gorm:"autoUpdateTime" json:"updated_at"`

	Attendance []MeetingAttendance `gorm:"foreignKey:MeetingID" json:"attendance,omitempty"`
}

func (Meeting) TableName() string {
	return "meetings"
}

// PendingMinutes reports a completed meeting nobody has written up yet.
func (m *Meeting) PendingMinutes() bool {
	return m.Status == domain.MeetingCompleted && m.Minutes == ""
}

// MeetingAttendance is one member's attendance; one row per (meeting, membership).
type MeetingAttendance struct {
	ID           uint                    `gorm:"primaryKey" json:"id"`
	MeetingID    uint                    `gorm:"uniqueIndex:idx_attendance_meeting_member;index:idx_attendance_meeting_status;not null" json:"meeting_id"`
	MembershipID uint                    `gorm:"uniqueIndex:idx_attendance_meeting_member;not null" json:"membership_id"`
	Status       domain.AttendanceStatus `gorm:"size:20;not null;index:idx_attendance_meeting_status" json:"status"`
	ArrivalTime  *time.Time              `json:"arrival_time"`
	Notes        string                  `gorm:"type:text" json:"notes"`
	RecordedBy   uint                    `gorm:"not null" json:"recorded_by"`
	CreatedAt    time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MeetingAttendance) TableName() string {
	return "meeting_attendance"
}
