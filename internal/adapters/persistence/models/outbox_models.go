package models

import (
	"time"
)

// Outbox kinds
const (
	OutboxKindNotify  = "NOTIFY"
	OutboxKindPayment = "PAYMENT"
)

// Outbox statuses
const (
	OutboxPending    = "PENDING"
	OutboxProcessing = "PROCESSING"
	OutboxDelivered  = "DELIVERED"
	OutboxFailed     = "FAILED"
)

// OutboxEvent is a collaborator signal written in the same transaction as
// the state change that caused it, then delivered at least once.
type OutboxEvent struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	EventID       string     `gorm:"size:36;uniqueIndex;not null" json:"event_id"`
	Kind          string     `gorm:"size:20;not null" json:"kind"`
	EventType     string     `gorm:"size:50;not null" json:"event_type"`
	Recipients    string     `gorm:"type:text" json:"recipients"`
	Payload       string     `gorm:"type:text" json:"payload"`
	Status        string     `gorm:"size:20;not null;index:idx_outbox_due" json:"status"`
	Attempts      int        `gorm:"not null" json:"attempts"`
	NextAttemptAt time.Time  `gorm:"not null;index:idx_outbox_due" json:"next_attempt_at"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	DeliveredAt   *time.Time `json:"delivered_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// Notification channels
const (
	ChannelInApp = "IN_APP"
	ChannelSMS   = "SMS"
	ChannelEmail = "EMAIL"
)

// Notification is an in-app message for one user. The (event, user) pair is
// unique so redelivery of the same event does not duplicate it.
type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"uniqueIndex:idx_notification_event_user;not null;index" json:"user_id"`
	EventID   string     `gorm:"uniqueIndex:idx_notification_event_user;size:36;not null" json:"event_id"`
	GroupID   *uint      `gorm:"index" json:"group_id"`
	Type      string     `gorm:"size:50;not null" json:"type"`
	Channel   string     `gorm:"size:20;not null" json:"channel"`
	Title     string     `gorm:"size:200;not null" json:"title"`
	Message   string     `gorm:"type:text" json:"message"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
