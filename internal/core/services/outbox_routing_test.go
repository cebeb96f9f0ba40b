package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, notice Notice) error {
	return m.Called(ctx, notice).Error(0)
}

type mockGateway struct{ mock.Mock }

func (m *mockGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*PaymentResult)
	return res, args.Error(1)
}

type mockSettler struct{ mock.Mock }

func (m *mockSettler) OnPaymentAccepted(ctx context.Context, reference string) error {
	return m.Called(ctx, reference).Error(0)
}

func (m *mockSettler) OnPaymentConfirmed(ctx context.Context, reference string) error {
	return m.Called(ctx, reference).Error(0)
}

func (m *mockSettler) OnPaymentFailed(ctx context.Context, reference, reason string) error {
	return m.Called(ctx, reference, reason).Error(0)
}

func seedOutbox(t *testing.T, h *harness, kind, typ string, recipients []uint, payload interface{}) {
	t.Helper()
	rcpt, err := json.Marshal(recipients)
	require.NoError(t, err)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, h.store.Outbox.Create(h.ctx, &models.OutboxEvent{
		EventID:       uuid.NewString(),
		Kind:          kind,
		EventType:     typ,
		Recipients:    string(rcpt),
		Payload:       string(body),
		Status:        models.OutboxPending,
		NextAttemptAt: time.Now().Add(-time.Second),
	}))
}

func TestDispatcherRoutesByKindAndResult(t *testing.T) {
	h := newHarness(t)
	notifier := &mockNotifier{}
	gateway := &mockGateway{}
	settler := &mockSettler{}
	d := NewOutboxDispatcher(h.store, gateway, notifier, config.OutboxConfig{MaxAttempts: 3, BaseBackoff: time.Minute, MaxBackoff: time.Hour}, nil, nil)
	d.SetSettler(settler)

	seedOutbox(t, h, models.OutboxKindNotify, string(domain.EventCycleOpened), []uint{1, 2}, map[string]interface{}{"sequence": 1})
	for _, ref := range []string{"PO-ok", "PO-bad", "PO-wait"} {
		seedOutbox(t, h, models.OutboxKindPayment, "PAYOUT", []uint{1}, PaymentRequest{Reference: ref, Purpose: "PAYOUT", Amount: dec("100")})
	}

	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n Notice) bool {
		return n.Type == domain.EventCycleOpened && len(n.Recipients) == 2 && n.Payload["sequence"] == float64(1)
	})).Return(nil).Once()

	paid := func(ref string) interface{} {
		return mock.MatchedBy(func(r PaymentRequest) bool { return r.Reference == ref })
	}
	gateway.On("InitiatePayment", mock.Anything, paid("PO-ok")).Return(&PaymentResult{Reference: "PO-ok", Status: domain.PaymentConfirmed}, nil)
	gateway.On("InitiatePayment", mock.Anything, paid("PO-bad")).Return(&PaymentResult{Reference: "PO-bad", Status: domain.PaymentFailed, Message: "insufficient float"}, nil)
	gateway.On("InitiatePayment", mock.Anything, paid("PO-wait")).Return(&PaymentResult{Reference: "PO-wait", Status: domain.PaymentPending}, nil)

	settler.On("OnPaymentConfirmed", mock.Anything, "PO-ok").Return(nil).Once()
	settler.On("OnPaymentFailed", mock.Anything, "PO-bad", "insufficient float").Return(nil).Once()
	settler.On("OnPaymentAccepted", mock.Anything, "PO-wait").Return(nil).Once()

	delivered, err := d.DispatchPending(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, delivered)

	notifier.AssertExpectations(t)
	gateway.AssertExpectations(t)
	settler.AssertExpectations(t)

	// Nothing is left to deliver.
	delivered, err = d.DispatchPending(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	settler.AssertNumberOfCalls(t, "OnPaymentConfirmed", 1)
}

func TestDispatcherFailsAbandonedPayment(t *testing.T) {
	h := newHarness(t)
	gateway := &mockGateway{}
	settler := &mockSettler{}
	d := NewOutboxDispatcher(h.store, gateway, nil, config.OutboxConfig{MaxAttempts: 1}, nil, nil)
	d.SetSettler(settler)

	seedOutbox(t, h, models.OutboxKindPayment, "loan.disbursement", []uint{1}, PaymentRequest{Reference: "LD-lost", Amount: dec("500")})
	gateway.On("InitiatePayment", mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()
	settler.On("OnPaymentFailed", mock.Anything, "LD-lost", mock.MatchedBy(func(reason string) bool {
		return strings.Contains(reason, "abandoned after 1 attempts")
	})).Return(nil).Once()

	delivered, err := d.DispatchPending(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	gateway.AssertExpectations(t)
	settler.AssertExpectations(t)
}
