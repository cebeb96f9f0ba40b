package services

import (
	"testing"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) secretary(name string) domain.Actor {
	h.t.Helper()
	u := h.user(name, domain.RoleSecretary)
	return domain.Actor{UserID: u.ID, Role: domain.RoleSecretary}
}

func (h *harness) schedule(actor domain.Actor, groupID uint, title string) *models.Meeting {
	h.t.Helper()
	m, err := h.meetings.Schedule(h.ctx, actor, groupID, ScheduleMeetingInput{
		Title:       title,
		ScheduledAt: time.Now().Add(48 * time.Hour),
		Location:    "Community hall",
		Agenda:      "Contributions, loans, AOB",
	}, "127.0.0.1")
	require.NoError(h.t, err)
	return m
}

func TestScheduleMeeting(t *testing.T) {
	h := newHarness(t)
	g, members := h.group("baraza", "500", 3)
	sec := h.secretary("katibu")

	first := h.schedule(sec, g.ID, "Monthly sitting")
	assert.Equal(t, domain.MeetingScheduled, first.Status)
	assert.Equal(t, 1, first.MeetingNumber)
	assert.Equal(t, sec.UserID, first.SecretaryID)
	second := h.schedule(h.admin, g.ID, "Annual general meeting")
	assert.Equal(t, 2, second.MeetingNumber)

	_, err := h.meetings.Schedule(h.ctx, sec, g.ID, ScheduleMeetingInput{
		Title: "Too late", ScheduledAt: time.Now().Add(-time.Hour), Location: "Hall",
	}, "")
	assert.ErrorIs(t, err, ErrMeetingInPast)
	_, err = h.meetings.Schedule(h.ctx, sec, g.ID, ScheduleMeetingInput{
		Title: " ", ScheduledAt: time.Now().Add(time.Hour), Location: "Hall",
	}, "")
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))
	_, err = h.meetings.Schedule(h.ctx, h.memberActor(members[0]), g.ID, ScheduleMeetingInput{
		Title: "Mine", ScheduledAt: time.Now().Add(time.Hour), Location: "Hall",
	}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.meetings.Schedule(h.ctx, sec, g.ID+100, ScheduleMeetingInput{
		Title: "Nowhere", ScheduledAt: time.Now().Add(time.Hour), Location: "Hall",
	}, "")
	assert.Equal(t, domain.ErrNotFound, domain.Kind(err))

	listed, total, err := h.meetings.ListMeetings(h.ctx, h.memberActor(members[0]), g.ID, "scheduled", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, listed, 2)

	_, err = h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	assert.Contains(t, h.notifier.types(), domain.EventMeetingScheduled)
}

func TestMeetingLifecycleWithAttendance(t *testing.T) {
	h := newHarness(t)
	g, members := h.group("kikao", "500", 3)
	sec := h.secretary("mwandishi")
	meeting := h.schedule(sec, g.ID, "Monthly sitting")

	// No register before the meeting starts.
	_, err := h.meetings.RecordAttendance(h.ctx, sec, meeting.ID, AttendanceInput{MembershipID: members[0].ID, Status: "PRESENT"}, "")
	assert.ErrorIs(t, err, ErrMeetingNotRunning)
	_, err = h.meetings.RecordMinutes(h.ctx, sec, meeting.ID, "Opened at 10", "")
	assert.ErrorIs(t, err, ErrMinutesNotAvailable)
	_, err = h.meetings.Complete(h.ctx, sec, meeting.ID, "", "")
	assert.Equal(t, domain.ErrInvalidState, domain.Kind(err))

	started, err := h.meetings.Start(h.ctx, sec, meeting.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingOngoing, started.Status)
	require.NotNil(t, started.StartedAt)

	present, err := h.meetings.RecordAttendance(h.ctx, sec, meeting.ID, AttendanceInput{MembershipID: members[0].ID, Status: "present"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.AttendancePresent, present.Status)
	assert.NotNil(t, present.ArrivalTime)

	absent, err := h.meetings.RecordAttendance(h.ctx, sec, meeting.ID, AttendanceInput{MembershipID: members[1].ID, Status: "ABSENT"}, "")
	require.NoError(t, err)
	assert.Nil(t, absent.ArrivalTime)
	_, err = h.meetings.RecordAttendance(h.ctx, sec, meeting.ID, AttendanceInput{MembershipID: members[2].ID, Status: "LATE"}, "")
	require.NoError(t, err)

	// Recording again corrects the same entry.
	excused, err := h.meetings.RecordAttendance(h.ctx, sec, meeting.ID, AttendanceInput{MembershipID: members[1].ID, Status: "EXCUSED", Notes: "travelling"}, "")
	require.NoError(t, err)
	assert.Equal(t, absent.ID, excused.ID)
	assert.Equal(t, "travelling", excused.Notes)

	_, err = h.meetings.RecordAttendance(h.ctx, sec, meeting.ID, AttendanceInput{MembershipID: members[1].ID, Status: "ASLEEP"}, "")
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))

	register, err := h.meetings.Attendance(h.ctx, h.memberActor(members[0]), meeting.ID)
	require.NoError(t, err)
	require.Len(t, register, 3)
	assert.Equal(t, domain.AttendanceExcused, register[1].Status)

	completed, err := h.meetings.Complete(h.ctx, sec, meeting.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingCompleted, completed.Status)
	require.NotNil(t, completed.EndedAt)
	assert.True(t, completed.PendingMinutes())

	_, err = h.meetings.Cancel(h.ctx, sec, meeting.ID, "changed our minds", "")
	assert.Equal(t, domain.ErrInvalidState, domain.Kind(err))

	_, err = h.meetings.RecordMinutes(h.ctx, sec, meeting.ID, "  ", "")
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))
	written, err := h.meetings.RecordMinutes(h.ctx, sec, meeting.ID, "Agreed to raise contributions.", "")
	require.NoError(t, err)
	assert.False(t, written.PendingMinutes())

	got, err := h.meetings.GetMeeting(h.ctx, h.memberActor(members[2]), meeting.ID)
	require.NoError(t, err)
	assert.Len(t, got.Attendance, 3)
	assert.Equal(t, "Agreed to raise contributions.", got.Minutes)
}

func TestCancelMeetingNotifiesMembers(t *testing.T) {
	h := newHarness(t)
	g, _ := h.group("sitisha", "500", 2)
	sec := h.secretary("karani")
	meeting := h.schedule(sec, g.ID, "Loan review")

	_, err := h.meetings.Cancel(h.ctx, sec, meeting.ID, "", "")
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))

	cancelled, err := h.meetings.Cancel(h.ctx, sec, meeting.ID, "venue unavailable", "")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingCancelled, cancelled.Status)
	assert.Equal(t, "venue unavailable", cancelled.CancelReason)

	_, err = h.meetings.Start(h.ctx, sec, meeting.ID, "")
	assert.Equal(t, domain.ErrInvalidState, domain.Kind(err))

	_, err = h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	assert.Contains(t, h.notifier.types(), domain.EventMeetingCancelled)
}

func TestAttendanceIsPerGroupMember(t *testing.T) {
	h := newHarness(t)
	g, members := h.group("mahudhurio", "500", 2)
	_, outsiders := h.group("wageni", "500", 1)
	sec := h.secretary("msajili")

	meeting := h.schedule(sec, g.ID, "Monthly sitting")
	_, err := h.meetings.Start(h.ctx, sec, meeting.ID, "")
	require.NoError(t, err)

	_, err = h.meetings.RecordAttendance(h.ctx, sec, meeting.ID, AttendanceInput{MembershipID: outsiders[0].ID, Status: "PRESENT"}, "")
	assert.ErrorIs(t, err, ErrMemberNotInGroup)

	_, err = h.meetings.RecordAttendance(h.ctx, sec, meeting.ID, AttendanceInput{MembershipID: members[0].ID, Status: "PRESENT"}, "")
	require.NoError(t, err)

	// The register allows one row per (meeting, membership).
	err = h.store.Meetings.CreateAttendance(h.ctx, &models.MeetingAttendance{
		MeetingID: meeting.ID, MembershipID: members[0].ID, Status: domain.AttendanceAbsent, RecordedBy: sec.UserID,
	})
	assert.Equal(t, domain.ErrConflict, domain.Kind(err))
}

func TestSecretaryDashboard(t *testing.T) {
	h := newHarness(t)
	g, _ := h.group("dawati", "500", 2)
	secUser := h.user("katibu-mkuu", domain.RoleSecretary)
	sec := domain.Actor{UserID: secUser.ID, Role: domain.RoleSecretary}
	_, err := h.groups.AddMember(h.ctx, h.admin, g.ID, AddMemberInput{UserID: secUser.ID}, "")
	require.NoError(t, err)

	h.schedule(sec, g.ID, "Next sitting")
	held := h.schedule(sec, g.ID, "Emergency sitting")
	_, err = h.meetings.Start(h.ctx, sec, held.ID, "")
	require.NoError(t, err)
	_, err = h.meetings.Complete(h.ctx, sec, held.ID, "", "")
	require.NoError(t, err)

	svc := NewDashboardService(h.store, DefaultRolePolicy())
	data, err := svc.GetSecretaryDashboard(h.ctx, sec)
	require.NoError(t, err)
	require.Len(t, data.Groups, 1)
	assert.Equal(t, g.ID, data.Groups[0].ID)
	require.Len(t, data.UpcomingMeetings, 1)
	assert.Equal(t, "Next sitting", data.UpcomingMeetings[0].Title)
	assert.Equal(t, int64(1), data.CompletedMeetings)
	assert.Equal(t, int64(1), data.PendingMinutes)
	assert.Len(t, data.RecentMeetings, 2)
	assert.Equal(t, int64(3), data.ActiveMembers)

	groupData, err := svc.GetGroupDashboard(h.ctx, h.admin, g.ID)
	require.NoError(t, err)
	require.NotNil(t, groupData.NextMeeting)
	assert.Equal(t, "Next sitting", groupData.NextMeeting.Title)
	assert.Equal(t, int64(1), groupData.PendingMinutes)

	_, err = h.meetings.RecordMinutes(h.ctx, sec, held.ID, "Approved emergency loan policy.", "")
	require.NoError(t, err)
	data, err = svc.GetSecretaryDashboard(h.ctx, sec)
	require.NoError(t, err)
	assert.Zero(t, data.PendingMinutes)

	treasurer := h.user("mweka-hazina", domain.RoleTreasurer)
	_, err = svc.GetSecretaryDashboard(h.ctx, domain.Actor{UserID: treasurer.ID, Role: domain.RoleTreasurer})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
