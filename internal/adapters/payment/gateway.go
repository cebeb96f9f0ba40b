package payment

import (
	"fmt"
	"strings"

	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/core/services"

	"go.uber.org/zap"
)

// New builds the configured payment gateway
func New(cfg config.PaymentConfig, log *zap.Logger) (services.PaymentGateway, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "sandbox":
		return NewSandboxGateway(domain.PaymentStatus(strings.ToUpper(cfg.SandboxOutcome)), log), nil
	case "mpesa":
		return NewMpesaGateway(cfg, log)
	default:
		return nil, fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.Provider)
	}
}
