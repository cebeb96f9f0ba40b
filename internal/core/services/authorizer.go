package services

import (
	"context"

	"chama-engine/internal/core/domain"
)

// Scope limits a granted operation.
type Scope int

const (
	// ScopeAny allows the operation on any target.
	ScopeAny Scope = iota + 1
	// ScopeSelf allows it only when the actor owns the target.
	ScopeSelf
)

// RolePolicy maps each role to its capability set. ADMIN is implicitly
// granted everything.
type RolePolicy map[domain.Role]map[Operation]Scope

// DefaultRolePolicy returns the standard chama capability sets.
func DefaultRolePolicy() RolePolicy {
	return RolePolicy{
		domain.RoleTreasurer: {
			OpView:               ScopeAny,
			OpCycleOpen:          ScopeAny,
			OpCycleClose:         ScopeAny,
			OpContributionRecord: ScopeAny,
			OpPayoutManage:       ScopeAny,
			OpPenaltySettle:      ScopeAny,
			OpLoanReview:         ScopeAny,
			OpLoanDisburse:       ScopeAny,
			OpLoanRepay:          ScopeAny,
			OpLoanApply:          ScopeSelf,
			OpLoanGuarantee:      ScopeSelf,
		},
		domain.RoleSecretary: {
			OpView:               ScopeAny,
			OpGroupManage:        ScopeAny,
			OpContributionRecord: ScopeAny,
			OpMeetingManage:      ScopeAny,
			OpLoanApply:          ScopeSelf,
			OpLoanGuarantee:      ScopeSelf,
		},
		domain.RoleMember: {
			OpView:          ScopeAny,
			OpLoanApply:     ScopeSelf,
			OpLoanGuarantee: ScopeSelf,
		},
	}
}

// Authorize implements Authorizer.
func (p RolePolicy) Authorize(_ context.Context, actor domain.Actor, op Operation, target Target) error {
	if actor.Role == domain.RoleAdmin {
		return nil
	}
	scope, ok := p[actor.Role][op]
	if !ok {
		return domain.Forbiddenf("role %s may not %s", actor.Role, op)
	}
	if scope == ScopeSelf && target.OwnerID != actor.UserID {
		return domain.Forbiddenf("role %s may only %s for themselves", actor.Role, op)
	}
	return nil
}
