package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuildScheduleSimple(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	plan, err := BuildSchedule(ScheduleInput{
		Principal:   d("5000"),
		RatePercent: d("1"),
		Count:       10,
		Method:      InterestSimple,
		Start:       start,
		Every:       FrequencyMonthly,
	})
	require.NoError(t, err)

	assert.True(t, plan.TotalInterest.Equal(d("500")), "interest %s", plan.TotalInterest)
	assert.True(t, plan.TotalRepayable.Equal(d("5500")))
	require.Len(t, plan.Installments, 10)
	for i, row := range plan.Installments {
		assert.Equal(t, i+1, row.Number)
		assert.True(t, row.Amount.Equal(d("550")), "row %d amount %s", i, row.Amount)
		assert.True(t, row.Principal.Equal(d("500")))
		assert.True(t, row.Interest.Equal(d("50")))
	}
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), plan.Installments[0].DueDate)
	assert.Equal(t, time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC), plan.Installments[9].DueDate)
}

func TestBuildScheduleSimpleRoundingGoesToLastInstallment(t *testing.T) {
	plan, err := BuildSchedule(ScheduleInput{
		Principal:   d("1000"),
		RatePercent: decimal.Zero,
		Count:       3,
		Method:      InterestSimple,
		Start:       time.Now(),
		Every:       FrequencyWeekly,
	})
	require.NoError(t, err)

	assert.True(t, plan.Installments[0].Amount.Equal(d("333.33")))
	assert.True(t, plan.Installments[1].Amount.Equal(d("333.33")))
	assert.True(t, plan.Installments[2].Amount.Equal(d("333.34")))

	sum := decimal.Zero
	for _, row := range plan.Installments {
		sum = sum.Add(row.Amount)
	}
	assert.True(t, sum.Equal(plan.TotalRepayable))
}

func TestBuildScheduleReducingBalance(t *testing.T) {
	plan, err := BuildSchedule(ScheduleInput{
		Principal:   d("1000"),
		RatePercent: d("10"),
		Count:       2,
		Method:      InterestReducingBalance,
		Start:       time.Now(),
		Every:       FrequencyMonthly,
	})
	require.NoError(t, err)
	require.Len(t, plan.Installments, 2)

	first, second := plan.Installments[0], plan.Installments[1]
	assert.True(t, first.Interest.Equal(d("100")), "first interest %s", first.Interest)
	assert.True(t, first.Amount.Equal(d("576.19")), "first amount %s", first.Amount)
	assert.True(t, second.Interest.Equal(d("52.38")), "second interest %s", second.Interest)
	assert.True(t, second.Amount.Equal(d("576.19")), "second amount %s", second.Amount)
	assert.True(t, first.Principal.Add(second.Principal).Equal(d("1000")))
	assert.True(t, plan.TotalInterest.Equal(d("152.38")))
	assert.True(t, plan.TotalRepayable.Equal(d("1152.38")))
}

func TestBuildScheduleRejectsBadInput(t *testing.T) {
	base := ScheduleInput{Principal: d("100"), RatePercent: d("1"), Count: 2, Method: InterestSimple, Every: FrequencyMonthly}

	tests := []struct {
		name   string
		mutate func(in *ScheduleInput)
	}{
		{"zero principal", func(in *ScheduleInput) { in.Principal = decimal.Zero }},
		{"no installments", func(in *ScheduleInput) { in.Count = 0 }},
		{"negative rate", func(in *ScheduleInput) { in.RatePercent = d("-1") }},
		{"unset method", func(in *ScheduleInput) { in.Method = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := BuildSchedule(in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestAllocateFIFO(t *testing.T) {
	outstanding := []decimal.Decimal{d("0"), d("100"), d("100"), d("100")}

	allocs, left := AllocateFIFO(outstanding, d("150"))
	require.Len(t, allocs, 2)
	assert.Equal(t, 1, allocs[0].Index)
	assert.True(t, allocs[0].Amount.Equal(d("100")))
	assert.Equal(t, 2, allocs[1].Index)
	assert.True(t, allocs[1].Amount.Equal(d("50")))
	assert.True(t, left.IsZero())

	_, left = AllocateFIFO(outstanding, d("350"))
	assert.True(t, left.Equal(d("50")))
}

func TestConsecutiveOverdue(t *testing.T) {
	assert.Equal(t, 0, ConsecutiveOverdue(nil))
	assert.Equal(t, 2, ConsecutiveOverdue([]InstallmentStatus{
		InstallmentPaid, InstallmentOverdue, InstallmentOverdue, InstallmentPending, InstallmentOverdue,
	}))
}

func TestParseInterestMethodRequiresExplicitValue(t *testing.T) {
	_, err := ParseInterestMethod("")
	assert.Error(t, err)

	m, err := ParseInterestMethod("reducing_balance")
	require.NoError(t, err)
	assert.Equal(t, InterestReducingBalance, m)
}
