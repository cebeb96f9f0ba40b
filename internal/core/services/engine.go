package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// engine carries what every state-machine service needs: the store, the
// access check, the outbox kick and observability.
type engine struct {
	store   *repositories.Store
	authz   Authorizer
	kicker  Kicker
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func newEngine(store *repositories.Store, authz Authorizer, kicker Kicker, log *zap.Logger, m *metrics.Metrics) engine {
	if kicker == nil {
		kicker = noKick{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return engine{store: store, authz: authz, kicker: kicker, log: log, metrics: m, now: time.Now}
}

// run executes fn in one transaction and wakes the dispatcher on commit.
func (e *engine) run(ctx context.Context, fn func(tx *repositories.Store) error) error {
	if err := e.store.Transaction(ctx, fn); err != nil {
		return err
	}
	e.kicker.Kick()
	return nil
}

func (e *engine) authorize(ctx context.Context, actor domain.Actor, op Operation, target Target) error {
	if e.authz == nil {
		return nil
	}
	return e.authz.Authorize(ctx, actor, op, target)
}

type auditEntry struct {
	action     string
	entityType string
	entityID   uint
	from, to   string
	details    string
}

func (e *engine) audit(ctx context.Context, tx *repositories.Store, actor domain.Actor, ip string, a auditEntry) error {
	row := &models.AuditLog{
		Action:     a.action,
		EntityType: a.entityType,
		EntityID:   a.entityID,
		FromStatus: a.from,
		ToStatus:   a.to,
		Details:    a.details,
		IPAddress:  ip,
	}
	if !actor.IsSystem() {
		id := actor.UserID
		row.ActorID = &id
	}
	return tx.Audit.Create(ctx, row)
}

// notify writes a notification event to the outbox inside tx.
func (e *engine) notify(ctx context.Context, tx *repositories.Store, typ domain.EventType, recipients []uint, payload map[string]interface{}) error {
	recipients = uniqueIDs(recipients)
	if len(recipients) == 0 {
		return nil
	}
	rcpt, err := json.Marshal(recipients)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return tx.Outbox.Create(ctx, &models.OutboxEvent{
		EventID:       uuid.NewString(),
		Kind:          models.OutboxKindNotify,
		EventType:     string(typ),
		Recipients:    string(rcpt),
		Payload:       string(body),
		Status:        models.OutboxPending,
		NextAttemptAt: e.now(),
	})
}

// requestPayment writes a payment instruction to the outbox inside tx.
func (e *engine) requestPayment(ctx context.Context, tx *repositories.Store, req PaymentRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	rcpt, _ := json.Marshal([]uint{req.RecipientID})
	return tx.Outbox.Create(ctx, &models.OutboxEvent{
		EventID:       uuid.NewString(),
		Kind:          models.OutboxKindPayment,
		EventType:     req.Purpose,
		Recipients:    string(rcpt),
		Payload:       string(body),
		Status:        models.OutboxPending,
		NextAttemptAt: e.now(),
	})
}

// userIDsOf resolves membership IDs to the users holding them.
func userIDsOf(ctx context.Context, tx *repositories.Store, memberIDs ...uint) ([]uint, error) {
	members, err := tx.Memberships.ListByIDs(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	out := make([]uint, 0, len(members))
	for _, m := range members {
		out = append(out, m.UserID)
	}
	return out, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func money(d interface{ StringFixed(int32) string }) string {
	return d.StringFixed(2)
}
