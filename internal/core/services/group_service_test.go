package services

import (
	"testing"

	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGroupValidation(t *testing.T) {
	h := newHarness(t)
	valid := func() CreateGroupInput {
		return CreateGroupInput{
			Name:                  "Tumaini",
			ContributionAmount:    dec("1000"),
			ContributionFrequency: "weekly",
			MaxMembers:            5,
		}
	}

	tests := []struct {
		name   string
		mutate func(*CreateGroupInput)
	}{
		{"blank name", func(in *CreateGroupInput) { in.Name = "  " }},
		{"zero amount", func(in *CreateGroupInput) { in.ContributionAmount = decimal.Zero }},
		{"sub-cent amount", func(in *CreateGroupInput) { in.ContributionAmount = dec("10.005") }},
		{"unknown frequency", func(in *CreateGroupInput) { in.ContributionFrequency = "YEARLY" }},
		{"penalty above 100", func(in *CreateGroupInput) { in.LatePenaltyRate = dec("101") }},
		{"single seat", func(in *CreateGroupInput) { in.MaxMembers = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)
			_, err := h.groups.CreateGroup(h.ctx, h.admin, in, "")
			assert.Equal(t, domain.ErrValidation, domain.Kind(err), "got %v", err)
		})
	}

	in := valid()
	in.ContributionAmount = dec("1000.000")
	g, err := h.groups.CreateGroup(h.ctx, h.admin, in, "")
	require.NoError(t, err)
	assert.Equal(t, domain.FrequencyWeekly, g.ContributionFrequency)

	_, err = h.groups.CreateGroup(h.ctx, h.admin, valid(), "")
	assert.ErrorIs(t, err, ErrGroupNameTaken)
}

func TestAddMemberSeatsInOrder(t *testing.T) {
	h := newHarness(t)
	g, err := h.groups.CreateGroup(h.ctx, h.admin, CreateGroupInput{
		Name: "Wawili", ContributionAmount: dec("200"), ContributionFrequency: "DAILY", MaxMembers: 2,
	}, "")
	require.NoError(t, err)

	a, b, c := h.user("wa-a", domain.RoleMember), h.user("wa-b", domain.RoleMember), h.user("wa-c", domain.RoleMember)
	ma, err := h.groups.AddMember(h.ctx, h.admin, g.ID, AddMemberInput{UserID: a.ID}, "")
	require.NoError(t, err)
	mb, err := h.groups.AddMember(h.ctx, h.admin, g.ID, AddMemberInput{UserID: b.ID, Status: "pending"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, ma.Position)
	assert.Equal(t, 2, mb.Position)
	assert.Equal(t, domain.MembershipPending, mb.Status)

	_, err = h.groups.AddMember(h.ctx, h.admin, g.ID, AddMemberInput{UserID: a.ID}, "")
	assert.ErrorIs(t, err, ErrAlreadyMember)
	_, err = h.groups.AddMember(h.ctx, h.admin, g.ID, AddMemberInput{UserID: c.ID}, "")
	assert.ErrorIs(t, err, ErrGroupFull)
	_, err = h.groups.AddMember(h.ctx, h.admin, g.ID, AddMemberInput{UserID: c.ID, Status: "SUSPENDED"}, "")
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))
}

func TestSetRotationDrivesBeneficiaries(t *testing.T) {
	h := newHarness(t)
	g, members := h.group("zamu", "500", 3)

	_, err := h.groups.SetRotation(h.ctx, h.admin, g.ID, []uint{members[0].ID, members[1].ID}, "")
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))

	order := []uint{members[2].ID, members[0].ID, members[1].ID}
	rotation, err := h.groups.SetRotation(h.ctx, h.admin, g.ID, order, "")
	require.NoError(t, err)
	require.Len(t, rotation, 3)
	for i, m := range rotation {
		assert.Equal(t, order[i], m.ID)
		assert.Equal(t, i+1, m.Position)
	}

	active, err := h.groups.Rotation(h.ctx, h.admin, g.ID)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, members[2].ID, active[0].ID)

	// Beneficiaries follow the new order and wrap around.
	cycle, err := h.cycles.OpenCycle(h.ctx, h.admin, g.ID, "")
	require.NoError(t, err)
	want := []uint{members[2].ID, members[0].ID, members[1].ID, members[2].ID}
	for i, id := range want {
		assert.Equal(t, i+1, cycle.Sequence)
		assert.Equal(t, id, cycle.BeneficiaryID, "cycle %d", i+1)
		for _, m := range members {
			h.contribute(cycle.ID, m.ID, "500")
		}
		_, err := h.dispatcher.DispatchPending(h.ctx)
		require.NoError(t, err)
		res, err := h.cycles.CloseCycle(h.ctx, h.admin, cycle.ID, "")
		require.NoError(t, err)
		require.NotNil(t, res.Next)
		cycle = res.Next
	}
}
