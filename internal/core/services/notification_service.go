package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/core/domain"

	"go.uber.org/zap"
)

// Message is one rendered notification for one user.
type Message struct {
	EventID string
	Type    domain.EventType
	User    *models.User
	Title   string
	Body    string
}

// Channel delivers rendered messages over one medium (SMS, email).
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type messageTemplate struct {
	title string
	body  *template.Template
}

func tmpl(title, body string) messageTemplate {
	return messageTemplate{title: title, body: template.Must(template.New(title).Option("missingkey=zero").Parse(body))}
}

var messageTemplates = map[domain.EventType]messageTemplate{
	domain.EventCycleOpened: tmpl("Cycle opened",
		`{{.group_name}}: cycle {{.sequence}} is open. Contribute {{.required_amount}} before {{.deadline}}.`),
	domain.EventContributionRecorded: tmpl("Contribution received",
		`We received {{.amount}} for cycle {{.cycle_id}}. Paid {{.paid}} of {{.required}} ({{.status}}).`),
	domain.EventContributionLate: tmpl("Late contribution",
		`{{.group_name}}: your contribution for cycle {{.cycle_id}} missed the {{.deadline}} deadline. Penalty {{.penalty}}.`),
	domain.EventContributionFailed: tmpl("Contribution reversed",
		`Your payment toward cycle {{.cycle_id}} was reversed: {{.reason}}. {{.required}} is still due.`),
	domain.EventCycleCompleted: tmpl("Cycle complete",
		`{{.group_name}}: cycle {{.sequence}} is fully funded. Payout of {{.net}} is on its way to the beneficiary.`),
	domain.EventCycleClosed: tmpl("Cycle closed",
		`{{.group_name}}: cycle {{.sequence}} is closed.`),
	domain.EventPayoutProcessed: tmpl("Payout sent",
		`Your payout of {{.amount}} (ref {{.reference}}) has been confirmed.`),
	domain.EventPayoutFailed: tmpl("Payout failed",
		`Payout {{.reference}} of {{.amount}} failed: {{.reason}}.`),
	domain.EventLoanStatusChanged: tmpl("Loan update",
		`Loan {{.loan_number}} is now {{.status}}.{{if .reason}} Reason: {{.reason}}.{{end}}`),
	domain.EventGuarantorRequested: tmpl("Guarantee requested",
		`You have been asked to guarantee loan {{.loan_number}} of {{.principal}}.`),
	domain.EventRepaymentRecorded: tmpl("Repayment received",
		`We received {{.amount}} on loan {{.loan_number}}. Outstanding balance {{.outstanding}}.`),
	domain.EventInstallmentDue: tmpl("Installment due",
		`Installment {{.installment}} of loan {{.loan_number}} ({{.amount}}) is due on {{.due_date}}.`),
	domain.EventInstallmentOverdue: tmpl("Installment overdue",
		`Installment {{.installment}} of loan {{.loan_number}} is overdue. {{.remaining}} remains unpaid.`),
	domain.EventMeetingScheduled: tmpl("Meeting scheduled",
		`{{.group_name}}: {{.title}} on {{.scheduled_at}}{{if .venue}} at {{.venue}}{{end}}.`),
	domain.EventMeetingCancelled: tmpl("Meeting cancelled",
		`{{.group_name}}: {{.title}} on {{.scheduled_at}} has been cancelled.{{if .reason}} Reason: {{.reason}}.{{end}}`),
}

// Render builds the title and body for an event type.
func Render(typ domain.EventType, payload map[string]interface{}) (string, string, error) {
	t, ok := messageTemplates[typ]
	if !ok {
		return string(typ), fmt.Sprintf("%v", payload), nil
	}
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, payload); err != nil {
		return "", "", fmt.Errorf("render %s: %w", typ, err)
	}
	return t.title, buf.String(), nil
}

// NotificationService is the notification collaborator: it stores an in-app
// copy per recipient and fans out to the configured channels.
type NotificationService struct {
	store    *repositories.Store
	channels []Channel
	log      *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(store *repositories.Store, log *zap.Logger, channels ...Channel) *NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{store: store, channels: channels, log: log.Named("notify")}
}

// Notify implements Notifier. In-app rows are unique per (event, user), so a
// redelivered notice does not duplicate them. A channel failure is returned
// for the outbox to retry.
func (s *NotificationService) Notify(ctx context.Context, notice Notice) error {
	title, body, err := Render(notice.Type, notice.Payload)
	if err != nil {
		return err
	}
	users, err := s.store.Users.ListByIDs(ctx, notice.Recipients)
	if err != nil {
		return err
	}

	groupID := payloadUint(notice.Payload, "group_id")
	var errs []error
	for _, u := range users {
		if err := s.store.Notifications.CreateOnce(ctx, &models.Notification{
			UserID:  u.ID,
			EventID: notice.EventID,
			GroupID: groupID,
			Type:    string(notice.Type),
			Channel: models.ChannelInApp,
			Title:   title,
			Message: body,
		}); err != nil {
			errs = append(errs, fmt.Errorf("in-app for user %d: %w", u.ID, err))
			continue
		}
		if !u.IsActive {
			continue
		}

		msg := Message{EventID: notice.EventID, Type: notice.Type, User: u, Title: title, Body: body}
		for _, ch := range s.channels {
			if err := ch.Send(ctx, msg); err != nil {
				s.log.Warn("channel delivery failed",
					zap.String("channel", ch.Name()),
					zap.String("event_id", notice.EventID),
					zap.Uint("user_id", u.ID),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("%s for user %d: %w", ch.Name(), u.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// List returns a user's notifications, newest first
func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, offset, limit int) ([]*models.Notification, int64, error) {
	return s.store.Notifications.ListByUser(ctx, userID, unreadOnly, offset, limit)
}

// MarkRead marks one of the user's notifications as read
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uint) error {
	return s.store.Notifications.MarkRead(ctx, notificationID, userID, time.Now())
}

// UnreadCount counts a user's unread notifications
func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.store.Notifications.CountUnread(ctx, userID)
}

// payloadUint reads a numeric id from a decoded JSON payload.
func payloadUint(payload map[string]interface{}, key string) *uint {
	var id uint
	switch v := payload[key].(type) {
	case float64:
		id = uint(v)
	case uint:
		id = v
	case int:
		id = uint(v)
	default:
		return nil
	}
	return &id
}
