package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"chama-engine/internal/config"
	"chama-engine/internal/core/services"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"
)

// EmailChannel sends messages over SMTP
type EmailChannel struct {
	cfg  config.SMTPConfig
	log  *zap.Logger
	send func(e *email.Email) error
}

// NewEmailChannel creates a new email channel
func NewEmailChannel(cfg config.SMTPConfig, log *zap.Logger) *EmailChannel {
	if log == nil {
		log = zap.NewNop()
	}
	c := &EmailChannel{cfg: cfg, log: log.Named("email")}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	c.send = func(e *email.Email) error { return e.Send(addr, auth) }
	return c
}

// Name implements services.Channel
func (c *EmailChannel) Name() string { return "email" }

// Send implements services.Channel. Users without an email are skipped.
func (c *EmailChannel) Send(ctx context.Context, msg services.Message) error {
	if msg.User == nil || msg.User.Email == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = c.cfg.From
	e.To = []string{msg.User.Email}
	e.Subject = msg.Title
	e.Headers.Set("X-Event-ID", msg.EventID)

	name := msg.User.FullName
	if name == "" {
		name = msg.User.Username
	}
	e.Text = []byte(fmt.Sprintf("Dear %s,\n\n%s\n\nRegards,\nYour Chama", name, msg.Body))

	if err := c.send(e); err != nil {
		c.log.Error("failed to send email", zap.String("to", msg.User.Email), zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}
	c.log.Info("email sent", zap.String("to", msg.User.Email), zap.String("subject", e.Subject))
	return nil
}
