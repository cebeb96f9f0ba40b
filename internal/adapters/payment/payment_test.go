package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/core/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMSISDN(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0712345678", "254712345678", true},
		{"+254 712 345 678", "254712345678", true},
		{"712345678", "254712345678", true},
		{"0110123456", "254110123456", true},
		{"12345", "", false},
		{"07123abc78", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := MSISDN(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSandboxGateway_RepeatsFirstResult(t *testing.T) {
	g := NewSandboxGateway(domain.PaymentConfirmed, nil)
	req := services.PaymentRequest{Reference: "PO-1", Purpose: "payout", Amount: decimal.NewFromInt(3000)}

	first, err := g.InitiatePayment(context.Background(), req)
	require.NoError(t, err)
	second, err := g.InitiatePayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentConfirmed, first.Status)
	assert.Equal(t, first, second)
	assert.Len(t, g.Requests(), 1)
}

func TestNew_SelectsProvider(t *testing.T) {
	g, err := New(config.PaymentConfig{Provider: "sandbox", SandboxOutcome: "pending"}, nil)
	require.NoError(t, err)
	res, err := g.InitiatePayment(context.Background(), services.PaymentRequest{Reference: "x"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, res.Status)

	_, err = New(config.PaymentConfig{Provider: "mpesa"}, nil)
	assert.Error(t, err)

	_, err = New(config.PaymentConfig{Provider: "paypal"}, nil)
	assert.Error(t, err)
}

func newMpesaServer(t *testing.T, tokenCalls *int32, b2c http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/b2c/v3/paymentrequest", b2c)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func mpesaConfig(baseURL string) config.PaymentConfig {
	return config.PaymentConfig{
		Provider:       "mpesa",
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "600000",
		InitiatorName:  "api",
		ResultURL:      "https://chama.local/api/v1/payments/mpesa/result",
		Timeout:        5 * time.Second,
	}
}

func TestMpesaGateway_Accepted(t *testing.T) {
	var tokenCalls int32
	var got b2cRequest
	srv := newMpesaServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ConversationID":"AG_1","OriginatorConversationID":"PO-1","ResponseCode":"0","ResponseDescription":"Accept the service request successfully."}`))
	})

	g, err := NewMpesaGateway(mpesaConfig(srv.URL), nil)
	require.NoError(t, err)

	req := services.PaymentRequest{Reference: "PO-1", Purpose: "payout", Phone: "0712345678", Amount: decimal.NewFromInt(3000)}
	res, err := g.InitiatePayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, res.Status)
	assert.Equal(t, "PO-1", got.OriginatorConversationID)
	assert.Equal(t, "254712345678", got.PartyB)
	assert.Equal(t, "3000", got.Amount)

	_, err = g.InitiatePayment(context.Background(), services.PaymentRequest{Reference: "PO-2", Phone: "0712345678", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls), "token is cached")
}

func TestMpesaGateway_RejectedAndUnavailable(t *testing.T) {
	var tokenCalls int32
	var status int32 = http.StatusBadRequest
	srv := newMpesaServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(atomic.LoadInt32(&status)))
		_, _ = w.Write([]byte(`{"errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PartyB"}`))
	})
	g, err := NewMpesaGateway(mpesaConfig(srv.URL), nil)
	require.NoError(t, err)
	req := services.PaymentRequest{Reference: "LD-1", Phone: "0712345678", Amount: decimal.NewFromInt(500)}

	res, err := g.InitiatePayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, res.Status)
	assert.Contains(t, res.Message, "Invalid PartyB")

	atomic.StoreInt32(&status, http.StatusServiceUnavailable)
	_, err = g.InitiatePayment(context.Background(), req)
	assert.Error(t, err, "5xx is retried by the outbox")
}

func TestMpesaGateway_FractionalAmountFails(t *testing.T) {
	g, err := NewMpesaGateway(mpesaConfig("http://127.0.0.1:0"), nil)
	require.NoError(t, err)
	res, err := g.InitiatePayment(context.Background(), services.PaymentRequest{
		Reference: "PO-3", Phone: "0712345678", Amount: decimal.RequireFromString("99.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, res.Status)
}

func TestParseResult(t *testing.T) {
	ok, err := ParseResult([]byte(`{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","OriginatorConversationID":"PO-1","TransactionID":"NLJ41HAY6Q"}}`))
	require.NoError(t, err)
	assert.Equal(t, "PO-1", ok.Reference)
	assert.Equal(t, domain.PaymentConfirmed, ok.Status)

	failed, err := ParseResult([]byte(`{"Result":{"ResultCode":2001,"ResultDesc":"The initiator information is invalid.","OriginatorConversationID":"LD-9"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, failed.Status)
	assert.Equal(t, "The initiator information is invalid.", failed.Message)

	_, err = ParseResult([]byte(`{"Result":{}}`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
