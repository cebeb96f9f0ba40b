package services

import (
	"testing"

	"chama-engine/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupDashboard(t *testing.T) {
	h := newHarness(t)
	g, members := h.group("kesho", "1000", 3)
	h.fundCycle(g, members, "1000")
	_, err := h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)

	svc := NewDashboardService(h.store, DefaultRolePolicy())
	data, err := svc.GetGroupDashboard(h.ctx, h.admin, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), data.Members)
	assert.True(t, data.TotalContributions.Equal(dec("3000")))
	assert.Equal(t, int64(1), data.PayoutsMade)
	require.NotNil(t, data.CurrentCycle)
	assert.Equal(t, domain.CycleComplete, data.CurrentCycle.Status)
	assert.Equal(t, 3, data.CurrentCycle.Confirmed)
	assert.True(t, data.OutstandingLoans.IsZero())
}

func TestMemberDashboard(t *testing.T) {
	h := newHarness(t)
	members := fundedGroup(t, h, "yangu")
	loan := h.apply(members[0], "2000", members[1].ID)
	require.Equal(t, domain.LoanGuarantorsPending, loan.Status)

	svc := NewDashboardService(h.store, DefaultRolePolicy())

	borrower, err := svc.GetMemberDashboard(h.ctx, members[0].UserID)
	require.NoError(t, err)
	require.Len(t, borrower.Memberships, 1)
	assert.Equal(t, 1, borrower.Memberships[0].Position)
	assert.True(t, borrower.Memberships[0].HasReceivedPayout)
	require.Len(t, borrower.Loans, 1)
	assert.Equal(t, loan.ID, borrower.Loans[0].ID)

	guarantor, err := svc.GetMemberDashboard(h.ctx, members[1].UserID)
	require.NoError(t, err)
	require.Len(t, guarantor.PendingGuarantees, 1)
	assert.Equal(t, loan.ID, guarantor.PendingGuarantees[0].LoanID)

	_, err = svc.GetAdminDashboard(h.ctx, h.memberActor(members[0]))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	admin, err := svc.GetAdminDashboard(h.ctx, h.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), admin.TotalGroups)
}
