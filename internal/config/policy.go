package config

import (
	"fmt"
	"os"
	"time"

	"chama-engine/internal/core/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PolicyConfig holds the engine rules a chama can tune. Values come from
// the environment and may be overridden by a YAML policy file.
type PolicyConfig struct {
	GracePeriod             time.Duration `env:"POLICY_GRACE_PERIOD" envDefault:"72h" yaml:"grace_period"`
	LatePenaltyRate         float64       `env:"POLICY_LATE_PENALTY_RATE" envDefault:"10" yaml:"late_penalty_rate"`
	PartialPayments         bool          `env:"POLICY_PARTIAL_PAYMENTS" envDefault:"false" yaml:"partial_payments"`
	PayoutFeeRate           float64       `env:"POLICY_PAYOUT_FEE_RATE" envDefault:"0" yaml:"payout_fee_rate"`
	PayoutFlatFee           float64       `env:"POLICY_PAYOUT_FLAT_FEE" envDefault:"0" yaml:"payout_flat_fee"`
	LoanEligibilityMultiple float64       `env:"POLICY_LOAN_ELIGIBILITY_MULTIPLE" envDefault:"3" yaml:"loan_eligibility_multiple"`
	LoanTermInstallments    int           `env:"POLICY_LOAN_TERM_INSTALLMENTS" envDefault:"12" yaml:"loan_term_installments"`
	LoanRepaymentFrequency  string        `env:"POLICY_LOAN_REPAYMENT_FREQUENCY" envDefault:"MONTHLY" yaml:"loan_repayment_frequency"`
	// InterestMethod has no default; SIMPLE or REDUCING_BALANCE must be chosen.
	InterestMethod          string        `env:"POLICY_INTEREST_METHOD" yaml:"interest_method"`
	AutoApproveOnGuarantors bool          `env:"POLICY_AUTO_APPROVE_ON_GUARANTORS" envDefault:"false" yaml:"auto_approve_on_guarantors"`
	DefaultAfterOverdue     int           `env:"POLICY_DEFAULT_AFTER_OVERDUE" envDefault:"3" yaml:"default_after_overdue"`
	ReminderLeadTime        time.Duration `env:"POLICY_REMINDER_LEAD_TIME" envDefault:"72h" yaml:"reminder_lead_time"`
}

// MergeFile overlays the keys present in a YAML policy file.
func (p *PolicyConfig) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return nil
}

// Validate rejects policies the engines cannot run with.
func (p *PolicyConfig) Validate() error {
	if _, err := domain.ParseInterestMethod(p.InterestMethod); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := domain.ParseFrequency(p.LoanRepaymentFrequency); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	switch {
	case p.GracePeriod < 0:
		return fmt.Errorf("policy: grace_period cannot be negative")
	case p.LatePenaltyRate < 0 || p.LatePenaltyRate > 100:
		return fmt.Errorf("policy: late_penalty_rate must be within 0-100")
	case p.PayoutFeeRate < 0 || p.PayoutFeeRate > 100:
		return fmt.Errorf("policy: payout_fee_rate must be within 0-100")
	case p.PayoutFlatFee < 0:
		return fmt.Errorf("policy: payout_flat_fee cannot be negative")
	case p.LoanEligibilityMultiple <= 0:
		return fmt.Errorf("policy: loan_eligibility_multiple must be positive")
	case p.LoanTermInstallments < 1:
		return fmt.Errorf("policy: loan_term_installments must be at least 1")
	case p.DefaultAfterOverdue < 1:
		return fmt.Errorf("policy: default_after_overdue must be at least 1")
	case p.ReminderLeadTime < 0:
		return fmt.Errorf("policy: reminder_lead_time cannot be negative")
	}
	return nil
}

// Method returns the validated interest method.
func (p PolicyConfig) Method() domain.InterestMethod {
	m, _ := domain.ParseInterestMethod(p.InterestMethod)
	return m
}

// RepaymentFrequency returns the validated loan repayment frequency.
func (p PolicyConfig) RepaymentFrequency() domain.Frequency {
	f, err := domain.ParseFrequency(p.LoanRepaymentFrequency)
	if err != nil {
		return domain.FrequencyMonthly
	}
	return f
}

// PayoutDeduction builds the fee policy applied to cycle payouts.
func (p PolicyConfig) PayoutDeduction() domain.PayoutDeduction {
	var parts domain.CombinedDeduction
	if p.PayoutFeeRate > 0 {
		parts = append(parts, domain.PercentageDeduction{Rate: decimal.NewFromFloat(p.PayoutFeeRate)})
	}
	if p.PayoutFlatFee > 0 {
		parts = append(parts, domain.FlatFeeDeduction{Fee: decimal.NewFromFloat(p.PayoutFlatFee)})
	}
	if len(parts) == 0 {
		return domain.NoDeduction{}
	}
	return parts
}

func (p PolicyConfig) LatePenaltyPercent() decimal.Decimal {
	return decimal.NewFromFloat(p.LatePenaltyRate)
}

func (p PolicyConfig) EligibilityMultiple() decimal.Decimal {
	return decimal.NewFromFloat(p.LoanEligibilityMultiple)
}
