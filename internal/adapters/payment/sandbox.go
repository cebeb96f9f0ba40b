package payment

import (
	"context"
	"sync"

	"chama-engine/internal/core/domain"
	"chama-engine/internal/core/services"

	"go.uber.org/zap"
)

// SandboxGateway accepts every instruction and reports a fixed outcome.
// Repeated references return the first result.
type SandboxGateway struct {
	outcome domain.PaymentStatus
	log     *zap.Logger

	mu       sync.Mutex
	results  map[string]*services.PaymentResult
	requests []services.PaymentRequest
}

// NewSandboxGateway creates a sandbox gateway. An unknown outcome falls back
// to CONFIRMED.
func NewSandboxGateway(outcome domain.PaymentStatus, log *zap.Logger) *SandboxGateway {
	switch outcome {
	case domain.PaymentConfirmed, domain.PaymentPending, domain.PaymentFailed:
	default:
		outcome = domain.PaymentConfirmed
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SandboxGateway{
		outcome: outcome,
		log:     log.Named("sandbox"),
		results: make(map[string]*services.PaymentResult),
	}
}

// InitiatePayment records the request and returns the configured outcome
func (g *SandboxGateway) InitiatePayment(ctx context.Context, req services.PaymentRequest) (*services.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.results[req.Reference]; ok {
		cp := *res
		return &cp, nil
	}
	res := &services.PaymentResult{Reference: req.Reference, Status: g.outcome, Message: "sandbox"}
	g.results[req.Reference] = res
	g.requests = append(g.requests, req)
	g.log.Info("payment initiated",
		zap.String("reference", req.Reference),
		zap.String("purpose", req.Purpose),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("status", string(g.outcome)),
	)
	cp := *res
	return &cp, nil
}

// Requests returns the distinct instructions received so far
func (g *SandboxGateway) Requests() []services.PaymentRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]services.PaymentRequest(nil), g.requests...)
}
