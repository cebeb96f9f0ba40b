package notify

import (
	"context"
	"errors"
	"fmt"

	"chama-engine/internal/config"
	"chama-engine/internal/core/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SMSChannel posts messages to an HTTP SMS gateway. The event ID is sent as
// the message reference so the gateway can drop redeliveries.
type SMSChannel struct {
	cfg config.SMSConfig
	log *zap.Logger
}

// NewSMSChannel creates a new SMS channel
func NewSMSChannel(cfg config.SMSConfig, log *zap.Logger) *SMSChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMSChannel{cfg: cfg, log: log.Named("sms")}
}

type smsRequest struct {
	To        string `json:"to"`
	From      string `json:"from"`
	Message   string `json:"message"`
	Reference string `json:"reference"`
}

// Name implements services.Channel
func (c *SMSChannel) Name() string { return "sms" }

// Send implements services.Channel. Users without a phone are skipped.
func (c *SMSChannel) Send(ctx context.Context, msg services.Message) error {
	if msg.User == nil || msg.User.Phone == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	code, body, errs := fiber.Post(c.cfg.GatewayURL).
		Set(fiber.HeaderAuthorization, "Bearer "+c.cfg.APIKey).
		JSON(smsRequest{
			To:        msg.User.Phone,
			From:      c.cfg.SenderID,
			Message:   msg.Body,
			Reference: fmt.Sprintf("%s:%d", msg.EventID, msg.User.ID),
		}).
		Timeout(c.cfg.Timeout).
		Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("sms gateway: %w", errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("sms gateway error (%d): %s", code, string(body))
	}
	c.log.Debug("sms sent", zap.Uint("user_id", msg.User.ID), zap.String("event_id", msg.EventID))
	return nil
}
