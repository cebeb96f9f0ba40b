package services

import (
	"testing"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentEvents(t *testing.T, h *harness) []models.OutboxEvent {
	t.Helper()
	var out []models.OutboxEvent
	require.NoError(t, h.store.DB().Where("kind = ?", models.OutboxKindPayment).Order("id").Find(&out).Error)
	return out
}

func TestDispatcherRetriesWithBackoff(t *testing.T) {
	h := newHarness(t)
	h.gateway.failFirst = 1
	g, members := h.group("subira", "1000", 2)
	cycle, _ := h.fundCycle(g, members, "1000")

	t0 := time.Now().Add(time.Second)
	h.dispatcher.now = func() time.Time { return t0 }

	_, err := h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	events := paymentEvents(t, h)
	require.Len(t, events, 1)
	assert.Equal(t, models.OutboxPending, events[0].Status)
	assert.Equal(t, 1, events[0].Attempts)
	assert.NotEmpty(t, events[0].LastError)
	assert.WithinDuration(t, t0.Add(time.Minute), events[0].NextAttemptAt, time.Second)

	// Not due yet.
	_, err = h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	assert.Len(t, h.gateway.Calls(), 1)

	h.dispatcher.now = func() time.Time { return t0.Add(time.Minute) }
	_, err = h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	calls := h.gateway.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Reference, calls[1].Reference)

	events = paymentEvents(t, h)
	assert.Equal(t, models.OutboxDelivered, events[0].Status)
	payout, err := h.store.Payouts.GetByCycle(h.ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutConfirmed, payout.Status)
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.gateway.failFirst = 100
	g, members := h.group("mwisho", "1000", 2)
	cycle, payout := h.fundCycle(g, members, "1000")

	t0 := time.Now().Add(time.Second)
	for _, at := range []time.Time{t0, t0.Add(time.Minute), t0.Add(3 * time.Minute)} {
		at := at
		h.dispatcher.now = func() time.Time { return at }
		_, err := h.dispatcher.DispatchPending(h.ctx)
		require.NoError(t, err)
	}

	events := paymentEvents(t, h)
	require.Len(t, events, 1)
	assert.Equal(t, models.OutboxFailed, events[0].Status)
	assert.Equal(t, 3, events[0].Attempts)
	assert.Len(t, h.gateway.Calls(), 3)

	n, err := h.store.Outbox.CountByStatus(h.ctx, models.OutboxFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Giving up fails the payout so the group is not left waiting on it.
	got, err := h.store.Payouts.GetByCycle(h.ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutFailed, got.Status)
	assert.Contains(t, got.FailureReason, "abandoned after 3 attempts")

	_, err = h.cycles.CloseCycle(h.ctx, h.admin, cycle.ID, "")
	assert.ErrorIs(t, err, ErrPayoutNotConfirmed)

	h.gateway.failFirst = 0
	retried, err := h.cycles.RetryPayout(h.ctx, h.admin, cycle.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, payout.Reference, retried.Reference)

	_, err = h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	got, err = h.store.Payouts.GetByCycle(h.ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutConfirmed, got.Status)

	closed, err := h.cycles.CloseCycle(h.ctx, h.admin, cycle.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.CycleClosed, closed.Closed.Status)
	require.NotNil(t, closed.Next)
	assert.Equal(t, 2, closed.Next.Sequence)
}

func TestDispatcherBackoff(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher

	assert.Equal(t, time.Minute, d.backoff(1))
	assert.Equal(t, 2*time.Minute, d.backoff(2))
	assert.Equal(t, 4*time.Minute, d.backoff(3))
	assert.Equal(t, 10*time.Minute, d.backoff(5))
	assert.Equal(t, 10*time.Minute, d.backoff(40))
}

func TestDispatcherPendingGatewayLeavesPayoutProcessing(t *testing.T) {
	h := newHarness(t)
	h.gateway.status = domain.PaymentPending
	g, members := h.group("subiri", "1000", 2)
	cycle, payout := h.fundCycle(g, members, "1000")

	_, err := h.dispatcher.DispatchPending(h.ctx)
	require.NoError(t, err)
	got, err := h.store.Payouts.GetByCycle(h.ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutProcessing, got.Status)

	// The asynchronous callback settles it.
	require.NoError(t, h.settlement.Settle(h.ctx, PaymentResult{Reference: payout.Reference, Status: domain.PaymentConfirmed}))
	got, err = h.store.Payouts.GetByCycle(h.ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutConfirmed, got.Status)

	err = h.settlement.Settle(h.ctx, PaymentResult{Reference: "PO-unknown", Status: domain.PaymentConfirmed})
	assert.Equal(t, domain.ErrNotFound, domain.Kind(err))
	err = h.settlement.Settle(h.ctx, PaymentResult{Reference: payout.Reference, Status: "MAYBE"})
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))
}
