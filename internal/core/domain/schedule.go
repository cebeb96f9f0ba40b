package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Money rounds an amount to cents.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// InstallmentPlan is one row of a generated repayment schedule.
type InstallmentPlan struct {
	Number    int
	DueDate   time.Time
	Principal decimal.Decimal
	Interest  decimal.Decimal
	Amount    decimal.Decimal
}

// SchedulePlan is the full repayment schedule produced at disbursement.
type SchedulePlan struct {
	Method         InterestMethod
	Installments   []InstallmentPlan
	TotalInterest  decimal.Decimal
	TotalRepayable decimal.Decimal
}

// ScheduleInput carries everything needed to build a schedule.
// RatePercent is the interest rate per repayment period.
type ScheduleInput struct {
	Principal   decimal.Decimal
	RatePercent decimal.Decimal
	Count       int
	Method      InterestMethod
	Start       time.Time
	Every       Frequency
}

// BuildSchedule splits principal plus interest into Count installments.
// SIMPLE charges P*r*n up front and splits the total equally. REDUCING_BALANCE
// uses an annuity: equal installments, interest on the remaining balance.
// The last installment absorbs rounding in both methods.
func BuildSchedule(in ScheduleInput) (*SchedulePlan, error) {
	if !in.Principal.IsPositive() {
		return nil, Validationf("principal must be positive")
	}
	if in.Count < 1 {
		return nil, Validationf("installment count must be at least 1")
	}
	if in.RatePercent.IsNegative() {
		return nil, Validationf("interest rate cannot be negative")
	}

	var plan *SchedulePlan
	switch in.Method {
	case InterestSimple:
		plan = simpleSchedule(in)
	case InterestReducingBalance:
		plan = reducingSchedule(in)
	default:
		return nil, Validationf("interest method %q is not configured", in.Method)
	}

	plan.Method = in.Method
	for i := range plan.Installments {
		plan.Installments[i].Number = i + 1
		plan.Installments[i].DueDate = in.Every.Advance(in.Start, i+1)
	}
	return plan, nil
}

func simpleSchedule(in ScheduleInput) *SchedulePlan {
	n := decimal.NewFromInt(int64(in.Count))
	interest := Money(in.Principal.Mul(in.RatePercent).Div(hundred).Mul(n))
	total := in.Principal.Add(interest)

	amount := total.DivRound(n, 2)
	principalPart := in.Principal.DivRound(n, 2)

	rows := make([]InstallmentPlan, in.Count)
	paidAmount, paidPrincipal := zero, zero
	for i := 0; i < in.Count; i++ {
		a, p := amount, principalPart
		if i == in.Count-1 {
			a = total.Sub(paidAmount)
			p = in.Principal.Sub(paidPrincipal)
		}
		rows[i] = InstallmentPlan{Principal: p, Interest: a.Sub(p), Amount: a}
		paidAmount = paidAmount.Add(a)
		paidPrincipal = paidPrincipal.Add(p)
	}

	return &SchedulePlan{Installments: rows, TotalInterest: interest, TotalRepayable: total}
}

func reducingSchedule(in ScheduleInput) *SchedulePlan {
	r := in.RatePercent.Div(hundred)
	n := decimal.NewFromInt(int64(in.Count))

	var payment decimal.Decimal
	if r.IsZero() {
		payment = in.Principal.DivRound(n, 2)
	} else {
		factor := decimal.NewFromInt(1)
		onePlusR := factor.Add(r)
		for i := 0; i < in.Count; i++ {
			factor = factor.Mul(onePlusR)
		}
		payment = Money(in.Principal.Mul(r).Mul(factor).Div(factor.Sub(decimal.NewFromInt(1))))
	}

	rows := make([]InstallmentPlan, in.Count)
	balance := in.Principal
	total := zero
	for i := 0; i < in.Count; i++ {
		interest := Money(balance.Mul(r))
		principal := payment.Sub(interest)
		if i == in.Count-1 || principal.GreaterThan(balance) {
			principal = balance
		}
		amount := principal.Add(interest)
		rows[i] = InstallmentPlan{Principal: principal, Interest: interest, Amount: amount}
		balance = balance.Sub(principal)
		total = total.Add(amount)
	}

	return &SchedulePlan{Installments: rows, TotalInterest: total.Sub(in.Principal), TotalRepayable: total}
}

// Allocation records how much of a repayment landed on one installment.
type Allocation struct {
	Index  int
	Amount decimal.Decimal
}

// AllocateFIFO spreads amount over the outstanding balances in order,
// filling each before moving to the next. It returns the per-installment
// allocations and any remainder that did not fit.
func AllocateFIFO(outstanding []decimal.Decimal, amount decimal.Decimal) ([]Allocation, decimal.Decimal) {
	var out []Allocation
	left := amount
	for i, due := range outstanding {
		if !left.IsPositive() {
			break
		}
		if !due.IsPositive() {
			continue
		}
		take := decimal.Min(due, left)
		out = append(out, Allocation{Index: i, Amount: take})
		left = left.Sub(take)
	}
	return out, left
}

// ConsecutiveOverdue counts the longest run of overdue installments,
// given in schedule order.
func ConsecutiveOverdue(statuses []InstallmentStatus) int {
	best, run := 0, 0
	for _, s := range statuses {
		if s == InstallmentOverdue {
			run++
			if run > best {
				best = run
			}
			continue
		}
		run = 0
	}
	return best
}
