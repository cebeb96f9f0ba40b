package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/metrics"

	"go.uber.org/zap"
)

// Meeting errors
var (
	ErrMeetingInPast       = fmt.Errorf("%w: meeting must be scheduled in the future", domain.ErrValidation)
	ErrMeetingNotRunning   = fmt.Errorf("%w: attendance is taken once the meeting has started", domain.ErrInvalidState)
	ErrMinutesNotAvailable = fmt.Errorf("%w: minutes are recorded once the meeting has started", domain.ErrInvalidState)
)

// MeetingService schedules group meetings, keeps the attendance register
// and the minutes.
type MeetingService struct {
	engine
}

// NewMeetingService creates a new meeting service
func NewMeetingService(store *repositories.Store, authz Authorizer, kicker Kicker, log *zap.Logger, m *metrics.Metrics) *MeetingService {
	return &MeetingService{engine: newEngine(store, authz, kicker, log, m)}
}

// ScheduleMeetingInput represents a new meeting
type ScheduleMeetingInput struct {
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Location    string    `json:"location"`
	Agenda      string    `json:"agenda"`
}

// Schedule books a meeting and tells every active member about it. Meeting
// numbers run 1, 2, 3... per group.
func (s *MeetingService) Schedule(ctx context.Context, actor domain.Actor, groupID uint, input ScheduleMeetingInput, ip string) (*models.Meeting, error) {
	if err := s.authorize(ctx, actor, OpMeetingManage, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, err
	}
	input.Title = strings.TrimSpace(input.Title)
	input.Location = strings.TrimSpace(input.Location)
	if input.Title == "" {
		return nil, domain.Validationf("meeting title is required")
	}
	if input.Location == "" {
		return nil, domain.Validationf("meeting location is required")
	}
	if !input.ScheduledAt.After(s.now()) {
		return nil, ErrMeetingInPast
	}

	var meeting *models.Meeting
	err := s.run(ctx, func(tx *repositories.Store) error {
		group, err := tx.Groups.GetForUpdate(ctx, groupID)
		if err != nil {
			return err
		}
		if group.Status != domain.GroupActive {
			return ErrGroupNotActive
		}
		number, err := tx.Meetings.NextNumber(ctx, groupID)
		if err != nil {
			return err
		}
		meeting = &models.Meeting{
			GroupID:       groupID,
			MeetingNumber: number,
			Title:         input.Title,
			ScheduledAt:   input.ScheduledAt,
			Location:      input.Location,
			Agenda:        strings.TrimSpace(input.Agenda),
			Status:        domain.MeetingScheduled,
			SecretaryID:   actor.UserID,
		}
		if err := tx.Meetings.Create(ctx, meeting); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionCreate, entityType: "meeting", entityID: meeting.ID,
			to:      string(domain.MeetingScheduled),
			details: fmt.Sprintf("meeting %d of group %d on %s", number, groupID, input.ScheduledAt.Format(time.RFC3339)),
		}); err != nil {
			return err
		}
		return s.notifyMembers(ctx, tx, group, meeting, domain.EventMeetingScheduled, "")
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("meeting scheduled",
		zap.Uint("group_id", groupID),
		zap.Uint("meeting_id", meeting.ID),
		zap.Int("number", meeting.MeetingNumber),
	)
	return meeting, nil
}

func (s *MeetingService) notifyMembers(ctx context.Context, tx *repositories.Store, group *models.Group, m *models.Meeting, typ domain.EventType, reason string) error {
	active, err := tx.Memberships.ListActive(ctx, group.ID)
	if err != nil {
		return err
	}
	recipients := make([]uint, len(active))
	for i, member := range active {
		recipients[i] = member.UserID
	}
	payload := map[string]interface{}{
		"group_id":     group.ID,
		"group_name":   group.Name,
		"meeting_id":   m.ID,
		"title":        m.Title,
		"scheduled_at": m.ScheduledAt.Format(time.RFC3339),
		"venue":        m.Location,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	return s.notify(ctx, tx, typ, recipients, payload)
}

// transition moves a meeting between states under its row lock. apply may
// adjust the meeting before it is written.
func (s *MeetingService) transition(ctx context.Context, actor domain.Actor, meetingID uint, next domain.MeetingStatus, ip string, apply func(tx *repositories.Store, m *models.Meeting) error) (*models.Meeting, error) {
	if err := s.authorize(ctx, actor, OpMeetingManage, Target{Kind: "meeting", ID: meetingID}); err != nil {
		return nil, err
	}
	var meeting *models.Meeting
	err := s.run(ctx, func(tx *repositories.Store) error {
		m, err := tx.Meetings.GetForUpdate(ctx, meetingID)
		if err != nil {
			return err
		}
		meeting = m
		if m.Status == next {
			return nil
		}
		if !m.Status.CanTransitionTo(next) {
			return domain.InvalidStatef("meeting %d cannot move from %s to %s", m.ID, m.Status, next)
		}
		prev := m.Status
		m.Status = next
		if apply != nil {
			if err := apply(tx, m); err != nil {
				return err
			}
		}
		if err := tx.Meetings.Update(ctx, m); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionUpdate, entityType: "meeting", entityID: m.ID,
			from: string(prev), to: string(next),
		})
	})
	if err != nil {
		return nil, err
	}
	return meeting, nil
}

// Start opens the meeting so attendance can be taken.
func (s *MeetingService) Start(ctx context.Context, actor domain.Actor, meetingID uint, ip string) (*models.Meeting, error) {
	return s.transition(ctx, actor, meetingID, domain.MeetingOngoing, ip, func(_ *repositories.Store, m *models.Meeting) error {
		m.StartedAt = timePtr(s.now())
		return nil
	})
}

// Complete ends a running meeting. Minutes may be supplied now or later.
func (s *MeetingService) Complete(ctx context.Context, actor domain.Actor, meetingID uint, minutes, ip string) (*models.Meeting, error) {
	return s.transition(ctx, actor, meetingID, domain.MeetingCompleted, ip, func(_ *repositories.Store, m *models.Meeting) error {
		m.EndedAt = timePtr(s.now())
		if minutes = strings.TrimSpace(minutes); minutes != "" {
			m.Minutes = minutes
		}
		return nil
	})
}

// Cancel calls off a meeting that has not started and tells the members.
func (s *MeetingService) Cancel(ctx context.Context, actor domain.Actor, meetingID uint, reason, ip string) (*models.Meeting, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Validationf("a cancellation reason is required")
	}
	return s.transition(ctx, actor, meetingID, domain.MeetingCancelled, ip, func(tx *repositories.Store, m *models.Meeting) error {
		m.CancelReason = reason
		group, err := tx.Groups.GetByID(ctx, m.GroupID)
		if err != nil {
			return err
		}
		return s.notifyMembers(ctx, tx, group, m, domain.EventMeetingCancelled, reason)
	})
}

// RecordMinutes sets the minutes of a running or completed meeting.
func (s *MeetingService) RecordMinutes(ctx context.Context, actor domain.Actor, meetingID uint, minutes, ip string) (*models.Meeting, error) {
	if err := s.authorize(ctx, actor, OpMeetingManage, Target{Kind: "meeting", ID: meetingID}); err != nil {
		return nil, err
	}
	minutes = strings.TrimSpace(minutes)
	if minutes == "" {
		return nil, domain.Validationf("minutes cannot be empty")
	}

	var meeting *models.Meeting
	err := s.run(ctx, func(tx *repositories.Store) error {
		m, err := tx.Meetings.GetForUpdate(ctx, meetingID)
		if err != nil {
			return err
		}
		if m.Status != domain.MeetingOngoing && m.Status != domain.MeetingCompleted {
			return ErrMinutesNotAvailable
		}
		m.Minutes = minutes
		if err := tx.Meetings.Update(ctx, m); err != nil {
			return err
		}
		meeting = m
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionUpdate, entityType: "meeting", entityID: m.ID,
			details: "minutes recorded",
		})
	})
	if err != nil {
		return nil, err
	}
	return meeting, nil
}

// AttendanceInput marks one member on the register
type AttendanceInput struct {
	MembershipID uint   `json:"membership_id"`
	Status       string `json:"status"`
	Notes        string `json:"notes"`
}

// RecordAttendance marks a member on the meeting's register. Each member has
// one entry per meeting; recording again corrects it.
func (s *MeetingService) RecordAttendance(ctx context.Context, actor domain.Actor, meetingID uint, input AttendanceInput, ip string) (*models.MeetingAttendance, error) {
	if err := s.authorize(ctx, actor, OpMeetingManage, Target{Kind: "meeting", ID: meetingID}); err != nil {
		return nil, err
	}
	status, err := domain.ParseAttendanceStatus(input.Status)
	if err != nil {
		return nil, err
	}

	var entry *models.MeetingAttendance
	err = s.run(ctx, func(tx *repositories.Store) error {
		m, err := tx.Meetings.GetForUpdate(ctx, meetingID)
		if err != nil {
			return err
		}
		if m.Status != domain.MeetingOngoing && m.Status != domain.MeetingCompleted {
			return ErrMeetingNotRunning
		}
		member, err := tx.Memberships.GetByID(ctx, input.MembershipID)
		if err != nil {
			return err
		}
		if member.GroupID != m.GroupID {
			return ErrMemberNotInGroup
		}

		existing, err := tx.Meetings.GetAttendance(ctx, meetingID, input.MembershipID)
		switch {
		case err == nil:
			entry = existing
		case domain.Kind(err) == domain.ErrNotFound:
			entry = &models.MeetingAttendance{MeetingID: meetingID, MembershipID: input.MembershipID}
		default:
			return err
		}
		prev := entry.Status
		entry.Status = status
		entry.Notes = strings.TrimSpace(input.Notes)
		entry.RecordedBy = actor.UserID
		switch {
		case !status.Arrived():
			entry.ArrivalTime = nil
		case entry.ArrivalTime == nil:
			entry.ArrivalTime = timePtr(s.now())
		}
		if entry.ID == 0 {
			err = tx.Meetings.CreateAttendance(ctx, entry)
		} else {
			err = tx.Meetings.UpdateAttendance(ctx, entry)
		}
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionUpdate, entityType: "meeting", entityID: meetingID,
			from: string(prev), to: string(status),
			details: fmt.Sprintf("attendance for member %d", input.MembershipID),
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetMeeting returns a meeting with its register
func (s *MeetingService) GetMeeting(ctx context.Context, actor domain.Actor, meetingID uint) (*models.Meeting, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "meeting", ID: meetingID}); err != nil {
		return nil, err
	}
	return s.store.Meetings.GetByID(ctx, meetingID)
}

// ListMeetings lists a group's meetings, newest first
func (s *MeetingService) ListMeetings(ctx context.Context, actor domain.Actor, groupID uint, status string, offset, limit int) ([]*models.Meeting, int64, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, 0, err
	}
	st, err := domain.ParseMeetingStatus(status)
	if err != nil {
		return nil, 0, err
	}
	return s.store.Meetings.List(ctx, groupID, st, offset, limit)
}

// Attendance lists the register of a meeting
func (s *MeetingService) Attendance(ctx context.Context, actor domain.Actor, meetingID uint) ([]*models.MeetingAttendance, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "meeting", ID: meetingID}); err != nil {
		return nil, err
	}
	if _, err := s.store.Meetings.GetByID(ctx, meetingID); err != nil {
		return nil, err
	}
	return s.store.Meetings.ListAttendance(ctx, meetingID)
}
