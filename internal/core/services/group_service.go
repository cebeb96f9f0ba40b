package services

import (
	"context"
	"fmt"
	"strings"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Group errors
var (
	ErrGroupNameTaken   = fmt.Errorf("%w: group name already taken", domain.ErrDuplicate)
	ErrAlreadyMember    = fmt.Errorf("%w: user is already a member of this group", domain.ErrDuplicate)
	ErrGroupFull        = fmt.Errorf("%w: group has reached its member limit", domain.ErrInvalidState)
	ErrGroupNotActive   = fmt.Errorf("%w: group is not active", domain.ErrInvalidState)
	ErrMemberNotInGroup = fmt.Errorf("%w: member does not belong to this group", domain.ErrNotFound)
)

// GroupService manages chamas, their memberships and rotation order.
type GroupService struct {
	engine
}

// NewGroupService creates a new group service
func NewGroupService(store *repositories.Store, authz Authorizer, log *zap.Logger, m *metrics.Metrics) *GroupService {
	return &GroupService{engine: newEngine(store, authz, nil, log, m)}
}

// CreateGroupInput represents group creation input
type CreateGroupInput struct {
	Name                  string          `json:"name"`
	Description           string          `json:"description"`
	ContributionAmount    decimal.Decimal `json:"contribution_amount"`
	ContributionFrequency string          `json:"contribution_frequency"`
	GracePeriodHours      int             `json:"grace_period_hours"`
	LatePenaltyRate       decimal.Decimal `json:"late_penalty_rate"`
	LoanInterestRate      decimal.Decimal `json:"loan_interest_rate"`
	MaxMembers            int             `json:"max_members"`
	PaybillNumber         string          `json:"paybill_number"`
}

func (in *CreateGroupInput) validate() (domain.Frequency, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return "", domain.Validationf("group name is required")
	}
	if !in.ContributionAmount.IsPositive() {
		return "", domain.Validationf("contribution amount must be positive")
	}
	if !in.ContributionAmount.Equal(in.ContributionAmount.Round(2)) {
		return "", domain.Validationf("contribution amount has more than two decimal places")
	}
	freq, err := domain.ParseFrequency(in.ContributionFrequency)
	if err != nil {
		return "", err
	}
	if in.GracePeriodHours < 0 {
		return "", domain.Validationf("grace period cannot be negative")
	}
	if in.LatePenaltyRate.IsNegative() || in.LatePenaltyRate.GreaterThan(decimal.NewFromInt(100)) {
		return "", domain.Validationf("late penalty rate must be within 0-100")
	}
	if in.LoanInterestRate.IsNegative() {
		return "", domain.Validationf("loan interest rate cannot be negative")
	}
	if in.MaxMembers < 2 {
		return "", domain.Validationf("a group needs room for at least 2 members")
	}
	return freq, nil
}

// CreateGroup registers a new chama
func (s *GroupService) CreateGroup(ctx context.Context, actor domain.Actor, input CreateGroupInput, ip string) (*models.Group, error) {
	if err := s.authorize(ctx, actor, OpGroupManage, Target{Kind: "group"}); err != nil {
		return nil, err
	}
	freq, err := input.validate()
	if err != nil {
		return nil, err
	}

	group := &models.Group{
		Name:                  input.Name,
		Description:           input.Description,
		ContributionAmount:    domain.Money(input.ContributionAmount),
		ContributionFrequency: freq,
		GracePeriodHours:      input.GracePeriodHours,
		LatePenaltyRate:       input.LatePenaltyRate,
		LoanInterestRate:      input.LoanInterestRate,
		MaxMembers:            input.MaxMembers,
		PaybillNumber:         input.PaybillNumber,
		Status:                domain.GroupActive,
		CreatedBy:             actor.UserID,
	}

	err = s.run(ctx, func(tx *repositories.Store) error {
		taken, err := tx.Groups.ExistsByName(ctx, group.Name)
		if err != nil {
			return err
		}
		if taken {
			return ErrGroupNameTaken
		}
		if err := tx.Groups.Create(ctx, group); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionCreate, entityType: "group", entityID: group.ID,
			to: string(group.Status), details: "group created",
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("group created", zap.Uint("group_id", group.ID), zap.String("name", group.Name))
	return group, nil
}

// AddMemberInput represents a new membership
type AddMemberInput struct {
	UserID uint   `json:"user_id"`
	Status string `json:"status"`
}

// AddMember seats a user in the group at the end of the rotation
func (s *GroupService) AddMember(ctx context.Context, actor domain.Actor, groupID uint, input AddMemberInput, ip string) (*models.Membership, error) {
	if err := s.authorize(ctx, actor, OpGroupManage, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, err
	}
	status := domain.MembershipActive
	if input.Status != "" {
		st, err := domain.ParseMembershipStatus(input.Status)
		if err != nil {
			return nil, err
		}
		if st != domain.MembershipActive && st != domain.MembershipPending {
			return nil, domain.Validationf("new members start ACTIVE or PENDING")
		}
		status = st
	}

	var member *models.Membership
	err := s.run(ctx, func(tx *repositories.Store) error {
		group, err := tx.Groups.GetForUpdate(ctx, groupID)
		if err != nil {
			return err
		}
		if group.Status != domain.GroupActive {
			return ErrGroupNotActive
		}
		user, err := tx.Users.GetByID(ctx, input.UserID)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return domain.Validationf("user %d is inactive", user.ID)
		}
		if existing, err := tx.Memberships.GetByGroupAndUser(ctx, groupID, user.ID); err == nil {
			if existing.Status != domain.MembershipWithdrawn {
				return ErrAlreadyMember
			}
			return domain.InvalidStatef("user %d withdrew from this group; reinstate the membership instead", user.ID)
		} else if domain.Kind(err) != domain.ErrNotFound {
			return err
		}

		seated, err := tx.Memberships.CountSeated(ctx, groupID)
		if err != nil {
			return err
		}
		if int(seated) >= group.MaxMembers {
			return ErrGroupFull
		}
		pos, err := tx.Memberships.MaxPosition(ctx, groupID)
		if err != nil {
			return err
		}

		member = &models.Membership{
			GroupID:          groupID,
			UserID:           user.ID,
			Position:         pos + 1,
			MembershipNumber: fmt.Sprintf("G%04d-M%04d", groupID, pos+1),
			Status:           status,
			TotalContributed: decimal.Zero,
			JoinedAt:         s.now(),
		}
		if err := tx.Memberships.Create(ctx, member); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionCreate, entityType: "membership", entityID: member.ID,
			to: string(status), details: fmt.Sprintf("user %d joined group %d at position %d", user.ID, groupID, member.Position),
		})
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// UpdateMemberStatus changes a membership status. Changes only affect
// cycles opened afterwards.
func (s *GroupService) UpdateMemberStatus(ctx context.Context, actor domain.Actor, groupID, memberID uint, status string, ip string) (*models.Membership, error) {
	if err := s.authorize(ctx, actor, OpGroupManage, Target{Kind: "membership", ID: memberID, GroupID: groupID}); err != nil {
		return nil, err
	}
	next, err := domain.ParseMembershipStatus(status)
	if err != nil {
		return nil, err
	}

	var member *models.Membership
	err = s.run(ctx, func(tx *repositories.Store) error {
		m, err := tx.Memberships.GetByID(ctx, memberID)
		if err != nil {
			return err
		}
		if m.GroupID != groupID {
			return ErrMemberNotInGroup
		}
		if m.Status == domain.MembershipWithdrawn {
			return domain.InvalidStatef("member %d has withdrawn", memberID)
		}
		if m.Status == next {
			member = m
			return nil
		}
		prev := m.Status
		m.Status = next
		m.User = nil
		if err := tx.Memberships.Update(ctx, m); err != nil {
			return err
		}
		member = m
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionUpdate, entityType: "membership", entityID: m.ID,
			from: string(prev), to: string(next),
		})
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// SetRotation reorders the payout rotation. order must list every active
// member exactly once.
func (s *GroupService) SetRotation(ctx context.Context, actor domain.Actor, groupID uint, order []uint, ip string) ([]*models.Membership, error) {
	if err := s.authorize(ctx, actor, OpGroupManage, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, err
	}

	var rotation []*models.Membership
	err := s.run(ctx, func(tx *repositories.Store) error {
		group, err := tx.Groups.GetForUpdate(ctx, groupID)
		if err != nil {
			return err
		}
		all, err := tx.Memberships.ListByGroup(ctx, groupID)
		if err != nil {
			return err
		}
		byID := make(map[uint]*models.Membership, len(all))
		var active []uint
		for _, m := range all {
			byID[m.ID] = m
			if m.Status == domain.MembershipActive {
				active = append(active, m.ID)
			}
		}
		if err := domain.ValidateRotation(order, active); err != nil {
			return err
		}

		// Active members take positions 1..n in the new order; everyone else
		// keeps their relative order behind them.
		inOrder := make(map[uint]bool, len(order))
		pos := 0
		for _, id := range order {
			pos++
			inOrder[id] = true
			if err := reposition(ctx, tx, byID[id], pos); err != nil {
				return err
			}
			rotation = append(rotation, byID[id])
		}
		for _, m := range all {
			if inOrder[m.ID] {
				continue
			}
			pos++
			if err := reposition(ctx, tx, m, pos); err != nil {
				return err
			}
		}

		if err := tx.Groups.Update(ctx, group); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionUpdate, entityType: "group", entityID: groupID,
			details: fmt.Sprintf("rotation set to %v", order),
		})
	})
	if err != nil {
		return nil, err
	}
	return rotation, nil
}

func reposition(ctx context.Context, tx *repositories.Store, m *models.Membership, pos int) error {
	if m.Position == pos {
		return nil
	}
	m.Position = pos
	user := m.User
	m.User = nil
	err := tx.Memberships.Update(ctx, m)
	m.User = user
	return err
}

// Rotation returns the active members in payout order
func (s *GroupService) Rotation(ctx context.Context, actor domain.Actor, groupID uint) ([]*models.Membership, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, err
	}
	if _, err := s.store.Groups.GetByID(ctx, groupID); err != nil {
		return nil, err
	}
	return s.store.Memberships.ListActive(ctx, groupID)
}

// GetGroup returns one group
func (s *GroupService) GetGroup(ctx context.Context, actor domain.Actor, groupID uint) (*models.Group, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, err
	}
	return s.store.Groups.GetByID(ctx, groupID)
}

// ListGroups lists groups with pagination
func (s *GroupService) ListGroups(ctx context.Context, actor domain.Actor, offset, limit int) ([]*models.Group, int64, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "group"}); err != nil {
		return nil, 0, err
	}
	return s.store.Groups.List(ctx, offset, limit)
}

// Members lists every membership of a group in rotation order
func (s *GroupService) Members(ctx context.Context, actor domain.Actor, groupID uint) ([]*models.Membership, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, err
	}
	return s.store.Memberships.ListByGroup(ctx, groupID)
}
