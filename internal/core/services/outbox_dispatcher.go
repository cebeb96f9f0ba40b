package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/metrics"

	"go.uber.org/zap"
)

// ============================================================
// Outbox dispatcher: delivers committed collaborator signals
// ============================================================

// OutboxDispatcher delivers outbox events to the notification and payment
// collaborators at least once, backing off between failed attempts.
type OutboxDispatcher struct {
	store    *repositories.Store
	gateway  PaymentGateway
	notifier Notifier
	settler  PaymentSettler
	cfg      config.OutboxConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	kick     chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewOutboxDispatcher creates a new dispatcher
func NewOutboxDispatcher(
	store *repositories.Store,
	gateway PaymentGateway,
	notifier Notifier,
	cfg config.OutboxConfig,
	log *zap.Logger,
	m *metrics.Metrics,
) *OutboxDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &OutboxDispatcher{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		cfg:      cfg,
		log:      log.Named("outbox"),
		metrics:  m,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// SetSettler wires the engine that applies payment outcomes. It is set after
// construction because the engines themselves kick this dispatcher.
func (d *OutboxDispatcher) SetSettler(settler PaymentSettler) {
	d.settler = settler
}

// Kick implements Kicker. It never blocks.
func (d *OutboxDispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Start launches the delivery loop
func (d *OutboxDispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
	d.log.Info("outbox dispatcher started", zap.Duration("poll_interval", d.cfg.PollInterval))
}

// Stop stops the delivery loop and waits for the current batch to finish
func (d *OutboxDispatcher) Stop() {
	close(d.stopChan)
	d.wg.Wait()
	d.log.Info("outbox dispatcher stopped")
}

func (d *OutboxDispatcher) loop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-d.stopChan
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
		case <-d.kick:
		case <-d.stopChan:
			return
		}
		if _, err := d.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("outbox sweep failed", zap.Error(err))
		}
	}
}

// DispatchPending delivers one batch of due events and reports how many were
// delivered. Events stuck in PROCESSING past StaleAfter are released first.
func (d *OutboxDispatcher) DispatchPending(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.cfg.StaleAfter > 0 {
		released, err := d.store.Outbox.ReleaseStale(ctx, now.Add(-d.cfg.StaleAfter))
		if err != nil {
			return 0, err
		}
		if released > 0 {
			d.log.Warn("released stale outbox events", zap.Int64("count", released))
		}
	}

	events, err := d.store.Outbox.ListDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		claimed, err := d.store.Outbox.Claim(ctx, ev.ID, now)
		if err != nil {
			return delivered, err
		}
		if !claimed {
			continue
		}
		if d.dispatch(ctx, ev) {
			delivered++
		}
	}

	if pending, err := d.store.Outbox.CountByStatus(ctx, models.OutboxPending); err == nil {
		d.metrics.OutboxPending(pending)
	}
	return delivered, nil
}

func (d *OutboxDispatcher) dispatch(ctx context.Context, ev *models.OutboxEvent) bool {
	attempts := ev.Attempts + 1
	err := d.deliver(ctx, ev)
	if err == nil {
		if err := d.store.Outbox.MarkDelivered(ctx, ev.ID, d.now()); err != nil {
			d.log.Error("mark delivered failed", zap.String("event_id", ev.EventID), zap.Error(err))
		}
		d.metrics.OutboxDelivery(ev.Kind, "delivered")
		return true
	}

	if attempts >= d.cfg.MaxAttempts {
		d.log.Error("outbox event abandoned",
			zap.String("event_id", ev.EventID),
			zap.String("kind", ev.Kind),
			zap.String("type", ev.EventType),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if markErr := d.store.Outbox.MarkFailed(ctx, ev.ID, attempts, err.Error()); markErr != nil {
			d.log.Error("mark failed failed", zap.String("event_id", ev.EventID), zap.Error(markErr))
		}
		d.metrics.OutboxDelivery(ev.Kind, "failed")
		if ev.Kind == models.OutboxKindPayment {
			d.abandonPayment(ctx, ev, attempts, err)
		}
		return false
	}

	next := d.now().Add(d.backoff(attempts))
	d.log.Warn("outbox delivery failed, will retry",
		zap.String("event_id", ev.EventID),
		zap.String("kind", ev.Kind),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(err),
	)
	if markErr := d.store.Outbox.MarkRetry(ctx, ev.ID, attempts, next, err.Error()); markErr != nil {
		d.log.Error("mark retry failed", zap.String("event_id", ev.EventID), zap.Error(markErr))
	}
	d.metrics.OutboxDelivery(ev.Kind, "retry")
	return false
}

// abandonPayment fails the payout or disbursement behind an instruction the
// dispatcher gave up on, so its owner can retry it under a new reference.
func (d *OutboxDispatcher) abandonPayment(ctx context.Context, ev *models.OutboxEvent, attempts int, cause error) {
	if d.settler == nil {
		return
	}
	var req PaymentRequest
	if err := json.Unmarshal([]byte(ev.Payload), &req); err != nil || req.Reference == "" {
		d.log.Error("abandoned payment has no readable reference", zap.String("event_id", ev.EventID), zap.Error(err))
		return
	}
	reason := fmt.Sprintf("payment instruction abandoned after %d attempts: %v", attempts, cause)
	if err := d.settler.OnPaymentFailed(ctx, req.Reference, reason); err != nil {
		d.log.Error("fail abandoned payment",
			zap.String("event_id", ev.EventID),
			zap.String("reference", req.Reference),
			zap.Error(err),
		)
	}
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff.
func (d *OutboxDispatcher) backoff(attempts int) time.Duration {
	wait := d.cfg.BaseBackoff
	if wait <= 0 {
		wait = time.Second
	}
	for i := 1; i < attempts; i++ {
		wait *= 2
		if d.cfg.MaxBackoff > 0 && wait >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return wait
}

func (d *OutboxDispatcher) deliver(ctx context.Context, ev *models.OutboxEvent) error {
	switch ev.Kind {
	case models.OutboxKindNotify:
		return d.deliverNotice(ctx, ev)
	case models.OutboxKindPayment:
		return d.deliverPayment(ctx, ev)
	}
	return fmt.Errorf("unknown outbox kind %q", ev.Kind)
}

func (d *OutboxDispatcher) deliverNotice(ctx context.Context, ev *models.OutboxEvent) error {
	if d.notifier == nil {
		return nil
	}
	notice := Notice{EventID: ev.EventID, Type: domain.EventType(ev.EventType)}
	if err := json.Unmarshal([]byte(ev.Recipients), &notice.Recipients); err != nil {
		return fmt.Errorf("decode recipients: %w", err)
	}
	if ev.Payload != "" {
		if err := json.Unmarshal([]byte(ev.Payload), &notice.Payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return d.notifier.Notify(ctx, notice)
}

func (d *OutboxDispatcher) deliverPayment(ctx context.Context, ev *models.OutboxEvent) error {
	if d.gateway == nil {
		return fmt.Errorf("no payment gateway configured")
	}
	var req PaymentRequest
	if err := json.Unmarshal([]byte(ev.Payload), &req); err != nil {
		return fmt.Errorf("decode payment request: %w", err)
	}

	res, err := d.gateway.InitiatePayment(ctx, req)
	if err != nil {
		return fmt.Errorf("initiate payment %s: %w", req.Reference, err)
	}
	if d.settler == nil {
		return nil
	}

	switch res.Status {
	case domain.PaymentConfirmed:
		err = d.settler.OnPaymentConfirmed(ctx, req.Reference)
	case domain.PaymentFailed:
		err = d.settler.OnPaymentFailed(ctx, req.Reference, res.Message)
	default:
		err = d.settler.OnPaymentAccepted(ctx, req.Reference)
	}
	if err != nil {
		return fmt.Errorf("settle payment %s: %w", req.Reference, err)
	}
	d.log.Info("payment instruction delivered",
		zap.String("reference", req.Reference),
		zap.String("purpose", req.Purpose),
		zap.String("status", string(res.Status)),
	)
	return nil
}
