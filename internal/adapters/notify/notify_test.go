package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/core/services"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() services.Message {
	u := &models.User{Username: "wanjiru", FullName: "Wanjiru Kamau", Email: "wanjiru@example.com", Phone: "0712345678"}
	u.ID = 7
	return services.Message{
		EventID: "evt-1",
		Type:    domain.EventCycleOpened,
		User:    u,
		Title:   "Cycle opened",
		Body:    "Umoja: cycle 1 is open.",
	}
}

func TestSMSChannel_Send(t *testing.T) {
	got := make(chan smsRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req smsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got <- req
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewSMSChannel(config.SMSConfig{GatewayURL: srv.URL, APIKey: "k", SenderID: "CHAMA", Timeout: 5 * time.Second}, nil)
	require.NoError(t, ch.Send(context.Background(), testMessage()))

	req := <-got
	assert.Equal(t, "0712345678", req.To)
	assert.Equal(t, "CHAMA", req.From)
	assert.Equal(t, "evt-1:7", req.Reference)
	assert.Equal(t, "Umoja: cycle 1 is open.", req.Message)
}

func TestSMSChannel_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewSMSChannel(config.SMSConfig{GatewayURL: srv.URL, Timeout: 5 * time.Second}, nil)
	assert.Error(t, ch.Send(context.Background(), testMessage()))
}

func TestSMSChannel_SkipsUserWithoutPhone(t *testing.T) {
	ch := NewSMSChannel(config.SMSConfig{GatewayURL: "http://127.0.0.1:0"}, nil)
	msg := testMessage()
	msg.User.Phone = ""
	assert.NoError(t, ch.Send(context.Background(), msg))
}

func TestEmailChannel_Send(t *testing.T) {
	ch := NewEmailChannel(config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "Chama <no-reply@chama.local>"}, nil)
	var sent *email.Email
	ch.send = func(e *email.Email) error {
		sent = e
		return nil
	}

	require.NoError(t, ch.Send(context.Background(), testMessage()))
	require.NotNil(t, sent)
	assert.Equal(t, []string{"wanjiru@example.com"}, sent.To)
	assert.Equal(t, "Cycle opened", sent.Subject)
	assert.Equal(t, "evt-1", sent.Headers.Get("X-Event-ID"))
	assert.Contains(t, string(sent.Text), "Dear Wanjiru Kamau")

	ch.send = func(*email.Email) error { return errors.New("connection refused") }
	assert.Error(t, ch.Send(context.Background(), testMessage()))
}

func TestChannels_FromConfig(t *testing.T) {
	cfg := &config.Config{}
	assert.Empty(t, Channels(cfg, nil))

	cfg.SMS.GatewayURL = "https://sms.example.com/send"
	cfg.SMTP.Host = "smtp.example.com"
	chs := Channels(cfg, nil)
	require.Len(t, chs, 2)
	assert.Equal(t, "sms", chs[0].Name())
	assert.Equal(t, "email", chs[1].Name())
}
