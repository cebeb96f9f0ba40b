package services

import (
	"context"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
)

// DashboardService builds role-scoped aggregates
type DashboardService struct {
	store *repositories.Store
	authz Authorizer
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(store *repositories.Store, authz Authorizer) *DashboardService {
	return &DashboardService{store: store, authz: authz}
}

func (s *DashboardService) authorize(ctx context.Context, actor domain.Actor, op Operation, target Target) error {
	if s.authz == nil {
		return nil
	}
	return s.authz.Authorize(ctx, actor, op, target)
}

// ============================================================
// Group Dashboard
// ============================================================

// CycleProgress summarises the group's current cycle
type CycleProgress struct {
	CycleID         uint               `json:"cycle_id"`
	Sequence        int                `json:"sequence"`
	Status          domain.CycleStatus `json:"status"`
	BeneficiaryID   uint               `json:"beneficiary_id"`
	Confirmed       int                `json:"confirmed"`
	Expected        int                `json:"expected"`
	CollectedAmount decimal.Decimal    `json:"collected_amount"`
	Deadline        time.Time          `json:"deadline"`
	Late            bool               `json:"late"`
}

// GroupDashboardData represents group dashboard data
type GroupDashboardData struct {
	GroupID            uint            `json:"group_id"`
	GroupName          string          `json:"group_name"`
	Members            int64           `json:"members"`
	TotalContributions decimal.Decimal `json:"total_contributions"`
	CurrentCycle       *CycleProgress  `json:"current_cycle"`
	CyclesClosed       int64           `json:"cycles_closed"`
	PayoutsMade        int64           `json:"payouts_made"`

	ActiveLoans      int64           `json:"active_loans"`
	PendingLoans     int64           `json:"pending_loans"`
	DefaultedLoans   int64           `json:"defaulted_loans"`
	OutstandingLoans decimal.Decimal `json:"outstanding_loans"`
	UnpaidPenalties  decimal.Decimal `json:"unpaid_penalties"`

	NextMeeting    *models.Meeting `json:"next_meeting"`
	PendingMinutes int64           `json:"pending_minutes"`
}

// GetGroupDashboard returns the group's aggregates
func (s *DashboardService) GetGroupDashboard(ctx context.Context, actor domain.Actor, groupID uint) (*GroupDashboardData, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, err
	}
	group, err := s.store.Groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	data := &GroupDashboardData{GroupID: group.ID, GroupName: group.Name}
	if data.Members, err = s.store.Memberships.CountSeated(ctx, groupID); err != nil {
		return nil, err
	}
	if data.TotalContributions, err = s.store.Contributions.SumConfirmedByGroup(ctx, groupID); err != nil {
		return nil, err
	}
	if data.CyclesClosed, err = s.store.Cycles.CountByStatus(ctx, groupID, domain.CycleClosed); err != nil {
		return nil, err
	}
	if data.PayoutsMade, err = s.store.Payouts.CountConfirmed(ctx, groupID); err != nil {
		return nil, err
	}

	if group.CurrentCycleID != nil {
		cycle, err := s.store.Cycles.GetByID(ctx, *group.CurrentCycleID)
		if err != nil {
			return nil, err
		}
		data.CurrentCycle = progressOf(cycle, time.Now())
	}

	if data.ActiveLoans, err = s.store.Loans.CountByStatus(ctx, groupID, domain.LoanDisbursed, domain.LoanRepaying); err != nil {
		return nil, err
	}
	if data.PendingLoans, err = s.store.Loans.CountByStatus(ctx, groupID,
		domain.LoanApplied, domain.LoanGuarantorsPending, domain.LoanApproved); err != nil {
		return nil, err
	}
	if data.DefaultedLoans, err = s.store.Loans.CountByStatus(ctx, groupID, domain.LoanDefaulted); err != nil {
		return nil, err
	}
	if data.OutstandingLoans, err = s.store.Loans.SumOutstanding(ctx, groupID); err != nil {
		return nil, err
	}
	if data.UnpaidPenalties, err = s.store.Penalties.SumUnpaidByGroup(ctx, groupID); err != nil {
		return nil, err
	}

	upcoming, err := s.store.Meetings.Upcoming(ctx, []uint{groupID}, time.Now(), 1)
	if err != nil {
		return nil, err
	}
	if len(upcoming) > 0 {
		data.NextMeeting = upcoming[0]
	}
	if data.PendingMinutes, err = s.store.Meetings.CountPendingMinutes(ctx, []uint{groupID}); err != nil {
		return nil, err
	}
	return data, nil
}

func progressOf(c *models.Cycle, now time.Time) *CycleProgress {
	return &CycleProgress{
		CycleID:         c.ID,
		Sequence:        c.Sequence,
		Status:          c.Status,
		BeneficiaryID:   c.BeneficiaryID,
		Confirmed:       c.ConfirmedCount,
		Expected:        c.ActiveMemberCount,
		CollectedAmount: c.CollectedAmount,
		Deadline:        c.Deadline,
		Late:            c.Status == domain.CycleOpen && c.IsLate(now),
	}
}

// ============================================================
// Member Dashboard
// ============================================================

// MembershipSummary is one of the user's group seats
type MembershipSummary struct {
	MembershipID      uint                    `json:"membership_id"`
	GroupID           uint                    `json:"group_id"`
	GroupName         string                  `json:"group_name"`
	Position          int                     `json:"position"`
	Status            domain.MembershipStatus `json:"status"`
	TotalContributed  decimal.Decimal         `json:"total_contributed"`
	HasReceivedPayout bool                    `json:"has_received_payout"`
	CurrentCycle      *CycleProgress          `json:"current_cycle,omitempty"`
	PaidCurrentCycle  bool                    `json:"paid_current_cycle"`
}

// MemberDashboardData represents member dashboard data
type MemberDashboardData struct {
	UserID            uint                    `json:"user_id"`
	Memberships       []MembershipSummary     `json:"memberships"`
	Loans             []*models.Loan          `json:"loans"`
	PendingGuarantees []*models.LoanGuarantor `json:"pending_guarantees"`
	UnreadNotices     int64                   `json:"unread_notifications"`
}

// GetMemberDashboard returns the user's own view across groups
func (s *DashboardService) GetMemberDashboard(ctx context.Context, userID uint) (*MemberDashboardData, error) {
	memberships, err := s.store.Memberships.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	data := &MemberDashboardData{UserID: userID, Memberships: []MembershipSummary{}, Loans: []*models.Loan{}}
	memberIDs := make([]uint, 0, len(memberships))
	for _, m := range memberships {
		memberIDs = append(memberIDs, m.ID)
		group, err := s.store.Groups.GetByID(ctx, m.GroupID)
		if err != nil {
			return nil, err
		}
		summary := MembershipSummary{
			MembershipID:      m.ID,
			GroupID:           group.ID,
			GroupName:         group.Name,
			Position:          m.Position,
			Status:            m.Status,
			TotalContributed:  m.TotalContributed,
			HasReceivedPayout: m.HasReceivedPayout,
		}
		if group.CurrentCycleID != nil {
			cycle, err := s.store.Cycles.GetByID(ctx, *group.CurrentCycleID)
			if err != nil {
				return nil, err
			}
			summary.CurrentCycle = progressOf(cycle, now)
			c, err := s.store.Contributions.GetByCycleAndMember(ctx, cycle.ID, m.ID)
			summary.PaidCurrentCycle = err == nil && c.Status == domain.ContributionConfirmed
		}
		data.Memberships = append(data.Memberships, summary)

		loans, _, err := s.store.Loans.List(ctx, repositories.LoanFilter{BorrowerID: m.ID}, 0, 50)
		if err != nil {
			return nil, err
		}
		data.Loans = append(data.Loans, loans...)
	}

	if data.PendingGuarantees, err = s.store.Loans.PendingGuaranteesFor(ctx, memberIDs); err != nil {
		return nil, err
	}
	if data.UnreadNotices, err = s.store.Notifications.CountUnread(ctx, userID); err != nil {
		return nil, err
	}
	return data, nil
}

// ============================================================
// Secretary Dashboard
// ============================================================

// SecretaryDashboardData represents the meetings and membership desk
type SecretaryDashboardData struct {
	Groups            []*models.Group      `json:"groups"`
	UpcomingMeetings  []*models.Meeting    `json:"upcoming_meetings"`
	CompletedMeetings int64                `json:"completed_meetings"`
	PendingMinutes    int64                `json:"pending_minutes"`
	RecentMeetings    []*models.Meeting    `json:"recent_meetings"`
	ActiveMembers     int64                `json:"active_members"`
	PendingMembers    []*models.Membership `json:"pending_members"`
	UnreadNotices     int64                `json:"unread_notifications"`
}

// GetSecretaryDashboard covers the groups the caller created or belongs to
func (s *DashboardService) GetSecretaryDashboard(ctx context.Context, actor domain.Actor) (*SecretaryDashboardData, error) {
	if err := s.authorize(ctx, actor, OpMeetingManage, Target{Kind: "system"}); err != nil {
		return nil, err
	}
	groups, err := s.store.Groups.ListForUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	data := &SecretaryDashboardData{Groups: groups, PendingMembers: []*models.Membership{}}
	if data.Groups == nil {
		data.Groups = []*models.Group{}
	}
	ids := make([]uint, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
		members, err := s.store.Memberships.ListByGroup(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			switch m.Status {
			case domain.MembershipActive:
				data.ActiveMembers++
			case domain.MembershipPending:
				data.PendingMembers = append(data.PendingMembers, m)
			}
		}
	}

	if data.UpcomingMeetings, err = s.store.Meetings.Upcoming(ctx, ids, time.Now(), 10); err != nil {
		return nil, err
	}
	if data.CompletedMeetings, err = s.store.Meetings.CountByStatus(ctx, ids, domain.MeetingCompleted); err != nil {
		return nil, err
	}
	if data.PendingMinutes, err = s.store.Meetings.CountPendingMinutes(ctx, ids); err != nil {
		return nil, err
	}
	if data.RecentMeetings, err = s.store.Meetings.Recent(ctx, ids, 10); err != nil {
		return nil, err
	}
	if data.UnreadNotices, err = s.store.Notifications.CountUnread(ctx, actor.UserID); err != nil {
		return nil, err
	}
	return data, nil
}

// ============================================================
// Admin Dashboard
// ============================================================

// AdminDashboardData represents admin dashboard data
type AdminDashboardData struct {
	TotalUsers      int64             `json:"total_users"`
	UsersByRole     map[string]int64  `json:"users_by_role"`
	TotalGroups     int64             `json:"total_groups"`
	OpenCycles      int64             `json:"open_cycles"`
	LoansByStatus   map[string]int64  `json:"loans_by_status"`
	OutboxPending   int64             `json:"outbox_pending"`
	OutboxFailed    int64             `json:"outbox_failed"`
	RecentAuditLogs []models.AuditLog `json:"recent_audit_logs"`
}

type statusCount struct {
	Bucket string
	Total  int64
}

// GetAdminDashboard returns system-wide counts
func (s *DashboardService) GetAdminDashboard(ctx context.Context, actor domain.Actor) (*AdminDashboardData, error) {
	if err := s.authorize(ctx, actor, OpUserManage, Target{Kind: "system"}); err != nil {
		return nil, err
	}
	db := s.store.DB().WithContext(ctx)
	data := &AdminDashboardData{UsersByRole: map[string]int64{}, LoansByStatus: map[string]int64{}}

	if err := db.Model(&models.User{}).Count(&data.TotalUsers).Error; err != nil {
		return nil, err
	}
	var roles []statusCount
	if err := db.Model(&models.User{}).Select("role AS bucket, COUNT(*) AS total").Group("role").Scan(&roles).Error; err != nil {
		return nil, err
	}
	for _, r := range roles {
		data.UsersByRole[r.Bucket] = r.Total
	}

	if err := db.Model(&models.Group{}).Count(&data.TotalGroups).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Cycle{}).Where("status = ?", domain.CycleOpen).Count(&data.OpenCycles).Error; err != nil {
		return nil, err
	}

	var loans []statusCount
	if err := db.Model(&models.Loan{}).Select("status AS bucket, COUNT(*) AS total").Group("status").Scan(&loans).Error; err != nil {
		return nil, err
	}
	for _, l := range loans {
		data.LoansByStatus[l.Bucket] = l.Total
	}

	var err error
	if data.OutboxPending, err = s.store.Outbox.CountByStatus(ctx, models.OutboxPending); err != nil {
		return nil, err
	}
	if data.OutboxFailed, err = s.store.Outbox.CountByStatus(ctx, models.OutboxFailed); err != nil {
		return nil, err
	}

	if err := db.Order("id DESC").Limit(20).Find(&data.RecentAuditLogs).Error; err != nil {
		return nil, err
	}
	return data, nil
}
