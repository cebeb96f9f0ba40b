package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBeneficiary(t *testing.T) {
	slots := func(paid ...bool) []RotationSlot {
		ids := []uint{7, 3, 9, 4}
		out := make([]RotationSlot, len(paid))
		for i, p := range paid {
			out[i] = RotationSlot{MemberID: ids[i], Paid: p}
		}
		return out
	}

	tests := []struct {
		name         string
		rotation     []RotationSlot
		want         uint
		wantNewRound bool
	}{
		{"fresh round starts at the head", slots(false, false, false), 7, false},
		{"skips members already paid", slots(true, true, false), 9, false},
		{"unpaid member ahead of paid ones", slots(true, false, true, false), 3, false},
		{"everyone paid wraps around", slots(true, true, true), 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, newRound, err := NextBeneficiary(tt.rotation)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantNewRound, newRound)
		})
	}

	_, _, err := NextBeneficiary(nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateRotation(t *testing.T) {
	active := []uint{1, 2, 3}

	tests := []struct {
		name    string
		order   []uint
		wantErr bool
	}{
		{"permutation", []uint{3, 1, 2}, false},
		{"missing member", []uint{1, 2}, true},
		{"duplicate", []uint{1, 1, 2}, true},
		{"stranger", []uint{1, 2, 4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRotation(tt.order, active)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestComputePayout(t *testing.T) {
	amounts := []decimal.Decimal{d("1000"), d("1000"), d("1000")}

	q := ComputePayout(amounts, nil)
	assert.True(t, q.Gross.Equal(d("3000")))
	assert.True(t, q.Net.Equal(d("3000")))

	q = ComputePayout(amounts, CombinedDeduction{PercentageDeduction{Rate: d("2")}, FlatFeeDeduction{Fee: d("15")}})
	assert.True(t, q.Deduction.Equal(d("75")), "deduction %s", q.Deduction)
	assert.True(t, q.Net.Equal(d("2925")))

	q = ComputePayout([]decimal.Decimal{d("10")}, FlatFeeDeduction{Fee: d("50")})
	assert.True(t, q.Net.IsZero())
}

func TestLatePenaltyAndCeiling(t *testing.T) {
	assert.True(t, LatePenalty(d("1000"), d("10")).Equal(d("100")))
	assert.True(t, EligibilityCeiling(d("3000"), d("3")).Equal(d("9000")))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CycleOpen.CanTransitionTo(CycleComplete))
	assert.False(t, CycleOpen.CanTransitionTo(CycleClosed))
	assert.True(t, LoanGuarantorsPending.CanTransitionTo(LoanRejected))
	assert.False(t, LoanRejected.CanTransitionTo(LoanDisbursed))
	assert.False(t, LoanApproved.CanTransitionTo(LoanRepaying))
	assert.True(t, LoanDefaulted.Terminal())
	assert.True(t, MeetingScheduled.CanTransitionTo(MeetingCancelled))
	assert.False(t, MeetingScheduled.CanTransitionTo(MeetingCompleted))
	assert.False(t, MeetingCompleted.CanTransitionTo(MeetingCancelled))
}

func TestParseMeetingEnums(t *testing.T) {
	st, err := ParseAttendanceStatus(" late ")
	require.NoError(t, err)
	assert.Equal(t, AttendanceLate, st)
	assert.True(t, st.Arrived())
	assert.False(t, AttendanceExcused.Arrived())

	_, err = ParseAttendanceStatus("asleep")
	assert.ErrorIs(t, err, ErrValidation)

	ms, err := ParseMeetingStatus("")
	require.NoError(t, err)
	assert.Empty(t, ms)
	_, err = ParseMeetingStatus("POSTPONED")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestKind(t *testing.T) {
	err := InvalidStatef("cycle %d is closed", 4)
	assert.Equal(t, ErrInvalidState, Kind(err))
	assert.Nil(t, Kind(errors.New("boom")))
	assert.Contains(t, err.Error(), "cycle 4 is closed")
}
