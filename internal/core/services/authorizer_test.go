package services

import (
	"context"
	"testing"

	"chama-engine/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestRolePolicyAuthorize(t *testing.T) {
	p := DefaultRolePolicy()
	ctx := context.Background()

	tests := []struct {
		name   string
		actor  domain.Actor
		op     Operation
		target Target
		allow  bool
	}{
		{"admin may do anything", domain.Actor{UserID: 1, Role: domain.RoleAdmin}, OpUserManage, Target{}, true},
		{"treasurer disburses", domain.Actor{UserID: 2, Role: domain.RoleTreasurer}, OpLoanDisburse, Target{Kind: "loan", ID: 9}, true},
		{"treasurer cannot manage groups", domain.Actor{UserID: 2, Role: domain.RoleTreasurer}, OpGroupManage, Target{}, false},
		{"secretary manages groups", domain.Actor{UserID: 3, Role: domain.RoleSecretary}, OpGroupManage, Target{}, true},
		{"secretary runs meetings", domain.Actor{UserID: 3, Role: domain.RoleSecretary}, OpMeetingManage, Target{Kind: "meeting", ID: 1}, true},
		{"treasurer cannot run meetings", domain.Actor{UserID: 2, Role: domain.RoleTreasurer}, OpMeetingManage, Target{}, false},
		{"member cannot run meetings", domain.Actor{UserID: 4, Role: domain.RoleMember}, OpMeetingManage, Target{}, false},
		{"secretary cannot close cycles", domain.Actor{UserID: 3, Role: domain.RoleSecretary}, OpCycleClose, Target{}, false},
		{"member applies for self", domain.Actor{UserID: 4, Role: domain.RoleMember}, OpLoanApply, Target{OwnerID: 4}, true},
		{"member applies for another", domain.Actor{UserID: 4, Role: domain.RoleMember}, OpLoanApply, Target{OwnerID: 5}, false},
		{"member cannot record contributions", domain.Actor{UserID: 4, Role: domain.RoleMember}, OpContributionRecord, Target{}, false},
		{"member cannot run checks", domain.Actor{UserID: 4, Role: domain.RoleMember}, OpChecksRun, Target{}, false},
		{"unknown role", domain.Actor{UserID: 6, Role: "GUEST"}, OpView, Target{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(ctx, tt.actor, tt.op, tt.target)
			if tt.allow {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrForbidden)
		})
	}
}

func TestSystemActorPassesPolicy(t *testing.T) {
	err := DefaultRolePolicy().Authorize(context.Background(), domain.SystemActor, OpChecksRun, Target{Kind: "checks"})
	assert.NoError(t, err)
}
