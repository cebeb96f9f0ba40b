package notify

import (
	"chama-engine/internal/config"
	"chama-engine/internal/core/services"

	"go.uber.org/zap"
)

// Channels returns the external channels enabled by configuration. The
// in-app channel is always on and lives in the notification service.
func Channels(cfg *config.Config, log *zap.Logger) []services.Channel {
	if log == nil {
		log = zap.NewNop()
	}
	var out []services.Channel
	if cfg.SMS.GatewayURL != "" {
		out = append(out, NewSMSChannel(cfg.SMS, log))
	}
	if cfg.SMTP.Host != "" {
		out = append(out, NewEmailChannel(cfg.SMTP, log))
	}
	for _, ch := range out {
		log.Info("notification channel enabled", zap.String("channel", ch.Name()))
	}
	return out
}
