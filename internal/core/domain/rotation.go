package domain

import (
	"github.com/shopspring/decimal"
)

// RotationSlot is one active member in rotation order.
type RotationSlot struct {
	MemberID uint
	Paid     bool
}

// NextBeneficiary picks the first member in rotation order who has not been
// paid in the current round. When everyone has been paid a new round starts
// at the head of the rotation and newRound is true; the caller clears the
// paid flags.
func NextBeneficiary(rotation []RotationSlot) (memberID uint, newRound bool, err error) {
	if len(rotation) == 0 {
		return 0, false, Validationf("rotation has no active members")
	}
	for _, slot := range rotation {
		if !slot.Paid {
			return slot.MemberID, false, nil
		}
	}
	return rotation[0].MemberID, true, nil
}

// ValidateRotation checks that order is a permutation of active.
func ValidateRotation(order, active []uint) error {
	if len(order) != len(active) {
		return Validationf("rotation has %d members, group has %d active", len(order), len(active))
	}
	want := make(map[uint]bool, len(active))
	for _, id := range active {
		want[id] = true
	}
	seen := make(map[uint]bool, len(order))
	for _, id := range order {
		if !want[id] {
			return Validationf("member %d is not an active member of the group", id)
		}
		if seen[id] {
			return Validationf("member %d appears twice in rotation", id)
		}
		seen[id] = true
	}
	return nil
}

// PayoutDeduction is the pluggable fee policy applied to a cycle payout.
type PayoutDeduction interface {
	Deduction(gross decimal.Decimal) decimal.Decimal
}

// NoDeduction pays out the full pot.
type NoDeduction struct{}

func (NoDeduction) Deduction(decimal.Decimal) decimal.Decimal { return zero }

// PercentageDeduction keeps Rate percent of the pot.
type PercentageDeduction struct {
	Rate decimal.Decimal
}

func (p PercentageDeduction) Deduction(gross decimal.Decimal) decimal.Decimal {
	return Money(gross.Mul(p.Rate).Div(hundred))
}

// FlatFeeDeduction keeps a fixed fee per payout.
type FlatFeeDeduction struct {
	Fee decimal.Decimal
}

func (f FlatFeeDeduction) Deduction(decimal.Decimal) decimal.Decimal { return f.Fee }

// CombinedDeduction sums several deductions.
type CombinedDeduction []PayoutDeduction

func (c CombinedDeduction) Deduction(gross decimal.Decimal) decimal.Decimal {
	total := zero
	for _, d := range c {
		total = total.Add(d.Deduction(gross))
	}
	return total
}

// PayoutQuote is the computed payout for a cycle.
type PayoutQuote struct {
	Gross     decimal.Decimal `json:"gross"`
	Deduction decimal.Decimal `json:"deduction"`
	Net       decimal.Decimal `json:"net"`
}

// ComputePayout sums confirmed amounts and applies the deduction policy.
// The deduction is capped at the gross so the net is never negative.
func ComputePayout(confirmed []decimal.Decimal, policy PayoutDeduction) PayoutQuote {
	gross := zero
	for _, a := range confirmed {
		gross = gross.Add(a)
	}
	if policy == nil {
		policy = NoDeduction{}
	}
	ded := decimal.Max(zero, decimal.Min(policy.Deduction(gross), gross))
	return PayoutQuote{Gross: gross, Deduction: ded, Net: gross.Sub(ded)}
}

// LatePenalty is ratePercent of the required contribution.
func LatePenalty(required, ratePercent decimal.Decimal) decimal.Decimal {
	return Money(required.Mul(ratePercent).Div(hundred))
}

// EligibilityCeiling is multiple times the borrower's confirmed contributions.
func EligibilityCeiling(confirmedTotal, multiple decimal.Decimal) decimal.Decimal {
	return Money(confirmedTotal.Mul(multiple))
}
