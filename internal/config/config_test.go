package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"chama-engine/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_MODE", "dev")
	t.Setenv("POLICY_FILE", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("POLICY_INTEREST_METHOD", "simple")
}

func TestParseReadsPrefixedSections(t *testing.T) {
	baseEnv(t)
	t.Setenv("APP_MODE", "prod")
	t.Setenv("PROD_DB_DRIVER", "postgres")
	t.Setenv("PROD_DB_PORT", "5432")
	t.Setenv("PROD_JWT_SECRET", "prod-secret")
	t.Setenv("DEV_JWT_SECRET", "dev-secret")
	t.Setenv("OUTBOX_BASE_BACKOFF", "2s")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "prod-secret", cfg.JWT.Secret)
	assert.Equal(t, 2*time.Second, cfg.Outbox.BaseBackoff)
	assert.Equal(t, domain.InterestSimple, cfg.Policy.Method())
	assert.Equal(t, domain.FrequencyMonthly, cfg.Policy.RepaymentFrequency())
	assert.Equal(t, "https://chama.local", cfg.GetAllowedOrigins())
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Run("unknown mode", func(t *testing.T) {
		baseEnv(t)
		t.Setenv("APP_MODE", "staging")
		_, err := Parse()
		assert.ErrorContains(t, err, "APP_MODE")
	})
	t.Run("interest method unset", func(t *testing.T) {
		baseEnv(t)
		t.Setenv("POLICY_INTEREST_METHOD", "")
		_, err := Parse()
		assert.ErrorContains(t, err, "interest method")
	})
	t.Run("penalty out of range", func(t *testing.T) {
		baseEnv(t)
		t.Setenv("POLICY_LATE_PENALTY_RATE", "150")
		_, err := Parse()
		assert.ErrorContains(t, err, "late_penalty_rate")
	})
	t.Run("missing policy file", func(t *testing.T) {
		baseEnv(t)
		t.Setenv("POLICY_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Parse()
		assert.Error(t, err)
	})
}

func TestPolicyFileOverridesEnvironment(t *testing.T) {
	baseEnv(t)
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
grace_period: 48h
interest_method: REDUCING_BALANCE
loan_term_installments: 6
payout_flat_fee: 50
`), 0o600))
	t.Setenv("POLICY_FILE", path)
	t.Setenv("POLICY_DEFAULT_AFTER_OVERDUE", "2")

	cfg, err := Parse()
	require.NoError(t, err)
	p := cfg.Policy
	assert.Equal(t, 48*time.Hour, p.GracePeriod)
	assert.Equal(t, domain.InterestReducingBalance, p.Method())
	assert.Equal(t, 6, p.LoanTermInstallments)
	assert.Equal(t, 2, p.DefaultAfterOverdue)
	assert.Equal(t, float64(10), p.LatePenaltyRate)
	assert.NotEqual(t, domain.NoDeduction{}, p.PayoutDeduction())
}
