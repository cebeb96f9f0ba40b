package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cycle errors
var (
	ErrCycleAlreadyOpen      = fmt.Errorf("%w: group already has an open cycle", domain.ErrConflict)
	ErrCycleNotOpen          = fmt.Errorf("%w: cycle is not open", domain.ErrInvalidState)
	ErrCycleNotComplete      = fmt.Errorf("%w: cycle is not complete", domain.ErrInvalidState)
	ErrPayoutNotConfirmed    = fmt.Errorf("%w: payout has not been confirmed", domain.ErrInvalidState)
	ErrNoActiveMembers       = fmt.Errorf("%w: group has no active members", domain.ErrInvalidState)
	ErrNotParticipant        = fmt.Errorf("%w: member is not a participant of this cycle", domain.ErrValidation)
	ErrContributionConfirmed = fmt.Errorf("%w: contribution already confirmed for this member", domain.ErrDuplicate)
	ErrReferenceUsed         = fmt.Errorf("%w: payment reference already recorded", domain.ErrDuplicate)
	ErrPenaltySettled        = fmt.Errorf("%w: penalty already settled", domain.ErrInvalidState)
)

// CycleService runs the contribution-cycle state machine:
// OPEN -> COMPLETE -> CLOSED, with the next cycle opened on close.
type CycleService struct {
	engine
	policy    config.PolicyConfig
	deduction domain.PayoutDeduction
}

// NewCycleService creates a new cycle service
func NewCycleService(
	store *repositories.Store,
	authz Authorizer,
	kicker Kicker,
	policy config.PolicyConfig,
	log *zap.Logger,
	m *metrics.Metrics,
) *CycleService {
	return &CycleService{
		engine:    newEngine(store, authz, kicker, log, m),
		policy:    policy,
		deduction: policy.PayoutDeduction(),
	}
}

// ============================================================
// Open
// ============================================================

// OpenCycle opens the next cycle for a group. It fails with ErrConflict while
// the group's current cycle is not yet closed.
func (s *CycleService) OpenCycle(ctx context.Context, actor domain.Actor, groupID uint, ip string) (*models.Cycle, error) {
	if err := s.authorize(ctx, actor, OpCycleOpen, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, err
	}

	var cycle *models.Cycle
	err := s.run(ctx, func(tx *repositories.Store) error {
		group, err := tx.Groups.GetForUpdate(ctx, groupID)
		if err != nil {
			return err
		}
		if group.Status != domain.GroupActive {
			return ErrGroupNotActive
		}
		if group.CurrentCycleID != nil {
			current, err := tx.Cycles.GetByID(ctx, *group.CurrentCycleID)
			if err != nil {
				return err
			}
			if current.Status.Active() {
				return ErrCycleAlreadyOpen
			}
		}

		cycle, err = s.openNext(ctx, tx, actor, group, ip)
		if err != nil {
			return err
		}
		if cycle == nil {
			return ErrNoActiveMembers
		}
		return tx.Groups.Update(ctx, group)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CycleTransition(string(domain.CycleOpen))
	s.log.Info("cycle opened",
		zap.Uint("group_id", groupID),
		zap.Uint("cycle_id", cycle.ID),
		zap.Int("sequence", cycle.Sequence),
		zap.Uint("beneficiary_id", cycle.BeneficiaryID),
	)
	return cycle, nil
}

// openNext creates the next cycle from the current active-member snapshot
// and points the group at it. The caller persists the group. It returns nil
// without error when there is nobody to rotate through.
func (s *CycleService) openNext(ctx context.Context, tx *repositories.Store, actor domain.Actor, group *models.Group, ip string) (*models.Cycle, error) {
	active, err := tx.Memberships.ListActive(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	rotation := make([]domain.RotationSlot, len(active))
	recipients := make([]uint, len(active))
	for i, m := range active {
		rotation[i] = domain.RotationSlot{MemberID: m.ID, Paid: m.HasReceivedPayout}
		recipients[i] = m.UserID
	}
	seq := group.LastSequence + 1
	beneficiary, newRound, err := domain.NextBeneficiary(rotation)
	if err != nil {
		return nil, err
	}
	if newRound {
		if err := s.startRound(ctx, tx, group.ID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	cycle := &models.Cycle{
		GroupID:           group.ID,
		Sequence:          seq,
		BeneficiaryID:     beneficiary,
		RequiredAmount:    group.ContributionAmount,
		ActiveMemberCount: len(active),
		CollectedAmount:   decimal.Zero,
		Status:            domain.CycleOpen,
		OpenedAt:          now,
		Deadline:          now.Add(group.GracePeriod(s.policy.GracePeriod)),
	}
	if err := tx.Cycles.Create(ctx, cycle); err != nil {
		return nil, err
	}

	participants := make([]models.CycleParticipant, len(active))
	for i, m := range active {
		participants[i] = models.CycleParticipant{CycleID: cycle.ID, MemberID: m.ID, Position: i + 1}
	}
	if err := tx.Cycles.CreateParticipants(ctx, participants); err != nil {
		return nil, err
	}
	cycle.Participants = participants

	group.CurrentCycleID = &cycle.ID
	group.LastSequence = seq

	if err := s.audit(ctx, tx, actor, ip, auditEntry{
		action: models.ActionCreate, entityType: "cycle", entityID: cycle.ID,
		to:      string(domain.CycleOpen),
		details: fmt.Sprintf("sequence %d, beneficiary member %d, %d participants", seq, beneficiary, len(active)),
	}); err != nil {
		return nil, err
	}
	err = s.notify(ctx, tx, domain.EventCycleOpened, recipients, map[string]interface{}{
		"group_id":        group.ID,
		"group_name":      group.Name,
		"cycle_id":        cycle.ID,
		"sequence":        seq,
		"beneficiary_id":  beneficiary,
		"required_amount": money(cycle.RequiredAmount),
		"deadline":        cycle.Deadline.Format(time.RFC3339),
	})
	return cycle, err
}

// startRound clears every member's paid flag once the whole active rotation
// has received a payout, including members who are currently suspended.
func (s *CycleService) startRound(ctx context.Context, tx *repositories.Store, groupID uint) error {
	members, err := tx.Memberships.ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if !m.HasReceivedPayout {
			continue
		}
		m.HasReceivedPayout = false
		m.User = nil
		if err := tx.Memberships.Update(ctx, m); err != nil {
			return err
		}
	}
	s.log.Info("rotation round complete", zap.Uint("group_id", groupID))
	return nil
}

// ============================================================
// Contributions
// ============================================================

// ContributionInput records a member payment towards a cycle
type ContributionInput struct {
	MemberID  uint            `json:"member_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
}

// ContributionResult reports the contribution and what it did to the cycle.
type ContributionResult struct {
	Contribution *models.Contribution `json:"contribution"`
	Cycle        *models.Cycle        `json:"cycle"`
	Penalty      *models.Penalty      `json:"penalty,omitempty"`
	Payout       *models.Payout       `json:"payout,omitempty"`
}

// RecordContribution accepts a member's payment for an open cycle. When the
// last snapshotted participant is confirmed the cycle completes and its
// payout is issued.
func (s *CycleService) RecordContribution(ctx context.Context, actor domain.Actor, cycleID uint, input ContributionInput, ip string) (*ContributionResult, error) {
	if err := s.authorize(ctx, actor, OpContributionRecord, Target{Kind: "cycle", ID: cycleID}); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, domain.Validationf("amount must be positive")
	}
	if !input.Amount.Equal(input.Amount.Round(2)) {
		return nil, domain.Validationf("amount has more than two decimal places")
	}
	method, err := domain.ParsePaymentMethod(input.Method)
	if err != nil {
		return nil, err
	}

	result := &ContributionResult{}
	err = s.run(ctx, func(tx *repositories.Store) error {
		cycle, err := tx.Cycles.GetForUpdate(ctx, cycleID)
		if err != nil {
			return err
		}
		if cycle.Status != domain.CycleOpen {
			return ErrCycleNotOpen
		}
		ok, err := tx.Cycles.IsParticipant(ctx, cycleID, input.MemberID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotParticipant
		}
		if input.Reference != "" {
			used, err := tx.Contributions.ExistsByReference(ctx, input.Reference)
			if err != nil {
				return err
			}
			if used {
				return ErrReferenceUsed
			}
		}

		contribution, err := tx.Contributions.GetByCycleAndMember(ctx, cycleID, input.MemberID)
		switch {
		case err == nil:
			if contribution.Status == domain.ContributionConfirmed {
				return ErrContributionConfirmed
			}
		case domain.Kind(err) == domain.ErrNotFound:
			contribution = nil
		default:
			return err
		}

		total := input.Amount
		if contribution != nil && contribution.Status == domain.ContributionPending {
			total = contribution.Amount.Add(input.Amount)
		}
		if !s.policy.PartialPayments && !total.Equal(cycle.RequiredAmount) {
			return domain.Validationf("amount %s does not match the required %s", money(input.Amount), money(cycle.RequiredAmount))
		}
		if total.GreaterThan(cycle.RequiredAmount) {
			return domain.Validationf("amount %s would exceed the required %s (already paid %s)",
				money(input.Amount), money(cycle.RequiredAmount), money(total.Sub(input.Amount)))
		}

		now := s.now()
		late := cycle.IsLate(now)
		status := domain.ContributionPending
		if total.Equal(cycle.RequiredAmount) {
			status = domain.ContributionConfirmed
		}

		var ref *string
		if input.Reference != "" {
			r := input.Reference
			ref = &r
		}
		if contribution == nil {
			contribution = &models.Contribution{
				CycleID:    cycleID,
				MemberID:   input.MemberID,
				Amount:     total,
				Method:     method,
				Reference:  ref,
				Status:     status,
				IsLate:     late,
				RecordedBy: actor.UserID,
			}
			if status == domain.ContributionConfirmed {
				contribution.ConfirmedAt = timePtr(now)
			}
			if err := tx.Contributions.Create(ctx, contribution); err != nil {
				return err
			}
		} else {
			if contribution.Status == domain.ContributionFailed {
				contribution.Reference = nil
				contribution.FailReason = ""
			}
			contribution.Amount = total
			contribution.Method = method
			if ref != nil {
				contribution.Reference = ref
			}
			contribution.Status = status
			contribution.IsLate = contribution.IsLate || late
			contribution.RecordedBy = actor.UserID
			if status == domain.ContributionConfirmed {
				contribution.ConfirmedAt = timePtr(now)
			}
			if err := tx.Contributions.Update(ctx, contribution); err != nil {
				return err
			}
		}
		result.Contribution = contribution

		member, err := tx.Memberships.GetByID(ctx, input.MemberID)
		if err != nil {
			return err
		}
		group, err := tx.Groups.GetByID(ctx, cycle.GroupID)
		if err != nil {
			return err
		}

		if late {
			penalty, err := s.ensurePenalty(ctx, tx, group, cycle, input.MemberID, &contribution.ID, "contribution received after deadline")
			if err != nil {
				return err
			}
			result.Penalty = penalty
		}

		if err := s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionPayment, entityType: "contribution", entityID: contribution.ID,
			to:      string(status),
			details: fmt.Sprintf("member %d paid %s via %s (late=%t)", input.MemberID, money(input.Amount), method, late),
		}); err != nil {
			return err
		}
		if err := s.notify(ctx, tx, domain.EventContributionRecorded, []uint{member.UserID}, map[string]interface{}{
			"group_id":  group.ID,
			"cycle_id":  cycleID,
			"member_id": input.MemberID,
			"amount":    money(input.Amount),
			"paid":      money(total),
			"required":  money(cycle.RequiredAmount),
			"status":    status,
			"late":      late,
		}); err != nil {
			return err
		}

		if status == domain.ContributionConfirmed {
			member.TotalContributed = member.TotalContributed.Add(total)
			member.User = nil
			if err := tx.Memberships.Update(ctx, member); err != nil {
				return err
			}
			cycle.ConfirmedCount++
			cycle.CollectedAmount = cycle.CollectedAmount.Add(total)

			if cycle.ConfirmedCount >= cycle.ActiveMemberCount {
				payout, err := s.complete(ctx, tx, actor, group, cycle, ip)
				if err != nil {
					return err
				}
				result.Payout = payout
			}
		}

		if err := tx.Cycles.Update(ctx, cycle); err != nil {
			return err
		}
		result.Cycle = cycle
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Contribution(string(result.Contribution.Status), result.Contribution.IsLate)
	if result.Payout != nil {
		s.metrics.CycleTransition(string(domain.CycleComplete))
		s.log.Info("cycle complete",
			zap.Uint("cycle_id", cycleID),
			zap.String("gross", money(result.Payout.GrossAmount)),
			zap.String("net", money(result.Payout.NetAmount)),
		)
	}
	return result, nil
}

// FailContribution reverses a partial payment that did not clear, such as a
// bounced cheque. Confirmed contributions already count toward the pool and
// cannot be reversed. The member pays the full amount again afterwards.
func (s *CycleService) FailContribution(ctx context.Context, actor domain.Actor, cycleID, contributionID uint, reason, ip string) (*models.Contribution, error) {
	if err := s.authorize(ctx, actor, OpContributionRecord, Target{Kind: "cycle", ID: cycleID}); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Validationf("a reason is required")
	}

	var contribution *models.Contribution
	err := s.run(ctx, func(tx *repositories.Store) error {
		c, err := tx.Contributions.GetForUpdate(ctx, contributionID)
		if err != nil {
			return err
		}
		if c.CycleID != cycleID {
			return domain.NotFoundf("contribution %d not found in cycle %d", contributionID, cycleID)
		}
		contribution = c
		switch c.Status {
		case domain.ContributionFailed:
			return nil
		case domain.ContributionConfirmed:
			return domain.InvalidStatef("contribution %d is confirmed and cannot be reversed", c.ID)
		}
		cycle, err := tx.Cycles.GetForUpdate(ctx, c.CycleID)
		if err != nil {
			return err
		}
		if cycle.Status != domain.CycleOpen {
			return ErrCycleNotOpen
		}

		c.Status = domain.ContributionFailed
		c.FailReason = reason
		if err := tx.Contributions.Update(ctx, c); err != nil {
			return err
		}
		member, err := tx.Memberships.GetByID(ctx, c.MemberID)
		if err != nil {
			return err
		}
		if err := s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionUpdate, entityType: "contribution", entityID: c.ID,
			from: string(domain.ContributionPending), to: string(domain.ContributionFailed),
			details: fmt.Sprintf("%s reversed: %s", money(c.Amount), reason),
		}); err != nil {
			return err
		}
		return s.notify(ctx, tx, domain.EventContributionFailed, []uint{member.UserID}, map[string]interface{}{
			"cycle_id":  cycle.ID,
			"member_id": c.MemberID,
			"amount":    money(c.Amount),
			"required":  money(cycle.RequiredAmount),
			"reason":    reason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Contribution(string(contribution.Status), contribution.IsLate)
	return contribution, nil
}

// complete moves a cycle to COMPLETE, computes its payout and hands the
// payment instruction to the outbox. The caller persists the cycle.
func (s *CycleService) complete(ctx context.Context, tx *repositories.Store, actor domain.Actor, group *models.Group, cycle *models.Cycle, ip string) (*models.Payout, error) {
	if !cycle.Status.CanTransitionTo(domain.CycleComplete) {
		return nil, ErrCycleNotOpen
	}
	amounts, err := tx.Contributions.ConfirmedAmounts(ctx, cycle.ID)
	if err != nil {
		return nil, err
	}
	quote := domain.ComputePayout(amounts, s.deduction)

	now := s.now()
	cycle.Status = domain.CycleComplete
	cycle.CompletedAt = timePtr(now)

	payout := &models.Payout{
		CycleID:       cycle.ID,
		GroupID:       cycle.GroupID,
		BeneficiaryID: cycle.BeneficiaryID,
		GrossAmount:   quote.Gross,
		Deduction:     quote.Deduction,
		NetAmount:     quote.Net,
		Reference:     newReference("PO"),
		Status:        domain.PayoutPending,
		Attempts:      1,
		InitiatedAt:   timePtr(now),
	}
	if err := tx.Payouts.Create(ctx, payout); err != nil {
		return nil, err
	}

	beneficiary, err := tx.Memberships.GetByID(ctx, cycle.BeneficiaryID)
	if err != nil {
		return nil, err
	}
	if err := s.requestPayment(ctx, tx, PaymentRequest{
		Reference:   payout.Reference,
		Purpose:     "cycle.payout",
		RecipientID: beneficiary.UserID,
		Phone:       phoneOf(beneficiary),
		Amount:      payout.NetAmount,
	}); err != nil {
		return nil, err
	}

	if err := s.audit(ctx, tx, actor, ip, auditEntry{
		action: models.ActionUpdate, entityType: "cycle", entityID: cycle.ID,
		from: string(domain.CycleOpen), to: string(domain.CycleComplete),
		details: fmt.Sprintf("payout %s gross %s net %s", payout.Reference, money(quote.Gross), money(quote.Net)),
	}); err != nil {
		return nil, err
	}

	participants, err := tx.Cycles.Participants(ctx, cycle.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(participants))
	for i, p := range participants {
		ids[i] = p.MemberID
	}
	users, err := userIDsOf(ctx, tx, ids...)
	if err != nil {
		return nil, err
	}
	return payout, s.notify(ctx, tx, domain.EventCycleCompleted, users, map[string]interface{}{
		"group_id":       group.ID,
		"group_name":     group.Name,
		"cycle_id":       cycle.ID,
		"sequence":       cycle.Sequence,
		"beneficiary_id": cycle.BeneficiaryID,
		"gross":          money(quote.Gross),
		"net":            money(quote.Net),
	})
}

// ComputePayout reports what the cycle's beneficiary would receive from the
// confirmed contributions so far. It moves no money.
func (s *CycleService) ComputePayout(ctx context.Context, actor domain.Actor, cycleID uint) (*domain.PayoutQuote, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "cycle", ID: cycleID}); err != nil {
		return nil, err
	}
	if _, err := s.store.Cycles.GetByID(ctx, cycleID); err != nil {
		return nil, err
	}
	amounts, err := s.store.Contributions.ConfirmedAmounts(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	quote := domain.ComputePayout(amounts, s.deduction)
	return &quote, nil
}

// ============================================================
// Close
// ============================================================

// CloseResult is the closed cycle and, when members remain, its successor.
type CloseResult struct {
	Closed *models.Cycle `json:"closed"`
	Next   *models.Cycle `json:"next,omitempty"`
}

// CloseCycle closes a COMPLETE cycle whose payout was confirmed and opens the
// next one in the same transaction.
func (s *CycleService) CloseCycle(ctx context.Context, actor domain.Actor, cycleID uint, ip string) (*CloseResult, error) {
	if err := s.authorize(ctx, actor, OpCycleClose, Target{Kind: "cycle", ID: cycleID}); err != nil {
		return nil, err
	}

	result := &CloseResult{}
	err := s.run(ctx, func(tx *repositories.Store) error {
		peek, err := tx.Cycles.GetByID(ctx, cycleID)
		if err != nil {
			return err
		}
		// Group first, then cycle: the same order OpenCycle takes its locks.
		group, err := tx.Groups.GetForUpdate(ctx, peek.GroupID)
		if err != nil {
			return err
		}
		cycle, err := tx.Cycles.GetForUpdate(ctx, cycleID)
		if err != nil {
			return err
		}
		if cycle.Status != domain.CycleComplete {
			return ErrCycleNotComplete
		}
		payout, err := tx.Payouts.GetByCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if payout.Status != domain.PayoutConfirmed {
			return ErrPayoutNotConfirmed
		}

		cycle.Status = domain.CycleClosed
		cycle.ClosedAt = timePtr(s.now())
		if err := tx.Cycles.Update(ctx, cycle); err != nil {
			return err
		}
		result.Closed = cycle

		if err := s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionUpdate, entityType: "cycle", entityID: cycle.ID,
			from: string(domain.CycleComplete), to: string(domain.CycleClosed),
		}); err != nil {
			return err
		}
		participants, err := tx.Cycles.Participants(ctx, cycle.ID)
		if err != nil {
			return err
		}
		ids := make([]uint, len(participants))
		for i, p := range participants {
			ids[i] = p.MemberID
		}
		users, err := userIDsOf(ctx, tx, ids...)
		if err != nil {
			return err
		}
		if err := s.notify(ctx, tx, domain.EventCycleClosed, users, map[string]interface{}{
			"group_id":   group.ID,
			"group_name": group.Name,
			"cycle_id":   cycle.ID,
			"sequence":   cycle.Sequence,
		}); err != nil {
			return err
		}

		group.CurrentCycleID = nil
		if group.Status == domain.GroupActive {
			next, err := s.openNext(ctx, tx, actor, group, ip)
			if err != nil {
				return err
			}
			result.Next = next
		}
		return tx.Groups.Update(ctx, group)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CycleTransition(string(domain.CycleClosed))
	if result.Next != nil {
		s.metrics.CycleTransition(string(domain.CycleOpen))
	} else {
		s.log.Warn("cycle closed without a successor", zap.Uint("cycle_id", cycleID))
	}
	return result, nil
}

// ============================================================
// Payout settlement
// ============================================================

// MarkPayoutProcessing records that the payment collaborator accepted the
// instruction and will confirm later.
func (s *CycleService) MarkPayoutProcessing(ctx context.Context, reference string) error {
	return s.run(ctx, func(tx *repositories.Store) error {
		payout, err := tx.Payouts.GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if payout.Status != domain.PayoutPending {
			return nil
		}
		payout.Status = domain.PayoutProcessing
		return tx.Payouts.Update(ctx, payout)
	})
}

// ConfirmPayout applies the collaborator's confirmation. Repeated
// confirmations of the same reference are no-ops.
func (s *CycleService) ConfirmPayout(ctx context.Context, reference string) (*models.Payout, error) {
	var payout *models.Payout
	confirmed := false
	err := s.run(ctx, func(tx *repositories.Store) error {
		p, err := tx.Payouts.GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		payout = p
		switch p.Status {
		case domain.PayoutConfirmed:
			return nil
		case domain.PayoutFailed:
			return domain.InvalidStatef("payout %s already failed; retry issues a new reference", reference)
		}
		prev := p.Status
		p.Status = domain.PayoutConfirmed
		p.ConfirmedAt = timePtr(s.now())
		p.FailureReason = ""
		if err := tx.Payouts.Update(ctx, p); err != nil {
			return err
		}

		beneficiary, err := tx.Memberships.GetByID(ctx, p.BeneficiaryID)
		if err != nil {
			return err
		}
		beneficiary.HasReceivedPayout = true
		userID := beneficiary.UserID
		beneficiary.User = nil
		if err := tx.Memberships.Update(ctx, beneficiary); err != nil {
			return err
		}
		confirmed = true

		if err := s.audit(ctx, tx, domain.SystemActor, "", auditEntry{
			action: models.ActionPayment, entityType: "payout", entityID: p.ID,
			from: string(prev), to: string(domain.PayoutConfirmed), details: "reference " + reference,
		}); err != nil {
			return err
		}
		return s.notify(ctx, tx, domain.EventPayoutProcessed, []uint{userID}, map[string]interface{}{
			"cycle_id":  p.CycleID,
			"group_id":  p.GroupID,
			"reference": p.Reference,
			"amount":    money(p.NetAmount),
		})
	})
	if err != nil {
		return nil, err
	}
	if confirmed {
		s.log.Info("payout confirmed", zap.String("reference", reference), zap.Uint("cycle_id", payout.CycleID))
	}
	return payout, nil
}

// FailPayout records a failed payout. The treasurer may retry it.
func (s *CycleService) FailPayout(ctx context.Context, reference, reason string) (*models.Payout, error) {
	var payout *models.Payout
	err := s.run(ctx, func(tx *repositories.Store) error {
		p, err := tx.Payouts.GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		payout = p
		switch p.Status {
		case domain.PayoutFailed:
			return nil
		case domain.PayoutConfirmed:
			return domain.InvalidStatef("payout %s is already confirmed", reference)
		}
		prev := p.Status
		p.Status = domain.PayoutFailed
		p.FailureReason = reason
		if err := tx.Payouts.Update(ctx, p); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, domain.SystemActor, "", auditEntry{
			action: models.ActionPayment, entityType: "payout", entityID: p.ID,
			from: string(prev), to: string(domain.PayoutFailed), details: reason,
		}); err != nil {
			return err
		}

		recipients, err := userIDsOf(ctx, tx, p.BeneficiaryID)
		if err != nil {
			return err
		}
		treasurers, err := tx.Users.ListByRoles(ctx, domain.RoleTreasurer)
		if err != nil {
			return err
		}
		for _, u := range treasurers {
			recipients = append(recipients, u.ID)
		}
		return s.notify(ctx, tx, domain.EventPayoutFailed, recipients, map[string]interface{}{
			"cycle_id":  p.CycleID,
			"group_id":  p.GroupID,
			"reference": p.Reference,
			"amount":    money(p.NetAmount),
			"reason":    reason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn("payout failed", zap.String("reference", reference), zap.String("reason", reason))
	return payout, nil
}

// RetryPayout re-issues a FAILED payout under a fresh reference.
func (s *CycleService) RetryPayout(ctx context.Context, actor domain.Actor, cycleID uint, ip string) (*models.Payout, error) {
	if err := s.authorize(ctx, actor, OpPayoutManage, Target{Kind: "cycle", ID: cycleID}); err != nil {
		return nil, err
	}

	var payout *models.Payout
	err := s.run(ctx, func(tx *repositories.Store) error {
		p, err := tx.Payouts.GetByCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		p, err = tx.Payouts.GetByReferenceForUpdate(ctx, p.Reference)
		if err != nil {
			return err
		}
		if p.Status != domain.PayoutFailed {
			return domain.InvalidStatef("only failed payouts can be retried (status %s)", p.Status)
		}
		old := p.Reference
		p.Reference = newReference("PO")
		p.Status = domain.PayoutPending
		p.Attempts++
		p.FailureReason = ""
		p.InitiatedAt = timePtr(s.now())
		if err := tx.Payouts.Update(ctx, p); err != nil {
			return err
		}
		payout = p

		beneficiary, err := tx.Memberships.GetByID(ctx, p.BeneficiaryID)
		if err != nil {
			return err
		}
		if err := s.requestPayment(ctx, tx, PaymentRequest{
			Reference:   p.Reference,
			Purpose:     "cycle.payout",
			RecipientID: beneficiary.UserID,
			Phone:       phoneOf(beneficiary),
			Amount:      p.NetAmount,
		}); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionUpdate, entityType: "payout", entityID: p.ID,
			from: string(domain.PayoutFailed), to: string(domain.PayoutPending),
			details: fmt.Sprintf("retry %d, reference %s replaces %s", p.Attempts, p.Reference, old),
		})
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// ============================================================
// Late payments & penalties
// ============================================================

// RunLatePenaltyCheck flags participants of overdue open cycles who have not
// paid in full. Each cycle is checked once; reruns are no-ops.
func (s *CycleService) RunLatePenaltyCheck(ctx context.Context) (int, error) {
	start := time.Now()
	defer s.metrics.ObserveCheck("late_penalty", start)

	now := s.now()
	cycles, err := s.store.Cycles.ListLateUnchecked(ctx, now)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, c := range cycles {
		n := 0
		err := s.run(ctx, func(tx *repositories.Store) error {
			cycle, err := tx.Cycles.GetForUpdate(ctx, c.ID)
			if err != nil {
				return err
			}
			if cycle.LateCheckedAt != nil || cycle.Status != domain.CycleOpen {
				return nil
			}
			group, err := tx.Groups.GetByID(ctx, cycle.GroupID)
			if err != nil {
				return err
			}
			participants, err := tx.Cycles.Participants(ctx, cycle.ID)
			if err != nil {
				return err
			}
			for _, p := range participants {
				contribution, err := tx.Contributions.GetByCycleAndMember(ctx, cycle.ID, p.MemberID)
				if err == nil && contribution.Status == domain.ContributionConfirmed {
					continue
				}
				if err != nil && domain.Kind(err) != domain.ErrNotFound {
					return err
				}
				var contributionID *uint
				if contribution != nil {
					contributionID = &contribution.ID
				}
				penalty, err := s.ensurePenalty(ctx, tx, group, cycle, p.MemberID, contributionID, "no full contribution by deadline")
				if err != nil {
					return err
				}
				if penalty != nil {
					n++
				}
			}
			cycle.LateCheckedAt = timePtr(now)
			return tx.Cycles.Update(ctx, cycle)
		})
		if err != nil {
			s.log.Error("late penalty check failed", zap.Uint("cycle_id", c.ID), zap.Error(err))
			continue
		}
		created += n
	}
	if created > 0 {
		s.log.Info("late penalties raised", zap.Int("count", created))
	}
	return created, nil
}

// ensurePenalty raises the late penalty for (cycle, member) unless one
// exists. It returns nil when nothing new was created.
func (s *CycleService) ensurePenalty(ctx context.Context, tx *repositories.Store, group *models.Group, cycle *models.Cycle, memberID uint, contributionID *uint, reason string) (*models.Penalty, error) {
	existing, err := tx.Penalties.GetByCycleAndMember(ctx, cycle.ID, memberID)
	if err == nil {
		if existing.ContributionID == nil && contributionID != nil {
			existing.ContributionID = contributionID
			return nil, tx.Penalties.Update(ctx, existing)
		}
		return nil, nil
	}
	if domain.Kind(err) != domain.ErrNotFound {
		return nil, err
	}

	rate := group.LatePenaltyRate
	if !rate.IsPositive() {
		rate = s.policy.LatePenaltyPercent()
	}
	penalty := &models.Penalty{
		GroupID:        cycle.GroupID,
		CycleID:        cycle.ID,
		MemberID:       memberID,
		ContributionID: contributionID,
		Amount:         domain.LatePenalty(cycle.RequiredAmount, rate),
		Rate:           rate,
		Status:         domain.PenaltyUnpaid,
		Reason:         reason,
	}
	if err := tx.Penalties.Create(ctx, penalty); err != nil {
		return nil, err
	}

	if err := s.audit(ctx, tx, domain.SystemActor, "", auditEntry{
		action: models.ActionSystem, entityType: "penalty", entityID: penalty.ID,
		to:      string(domain.PenaltyUnpaid),
		details: fmt.Sprintf("member %d cycle %d: %s", memberID, cycle.ID, reason),
	}); err != nil {
		return nil, err
	}
	users, err := userIDsOf(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}
	return penalty, s.notify(ctx, tx, domain.EventContributionLate, users, map[string]interface{}{
		"group_id":   group.ID,
		"group_name": group.Name,
		"cycle_id":   cycle.ID,
		"member_id":  memberID,
		"penalty":    money(penalty.Amount),
		"deadline":   cycle.Deadline.Format(time.RFC3339),
	})
}

// SettlePenalty marks a penalty as paid
func (s *CycleService) SettlePenalty(ctx context.Context, actor domain.Actor, penaltyID uint, ip string) (*models.Penalty, error) {
	if err := s.authorize(ctx, actor, OpPenaltySettle, Target{Kind: "penalty", ID: penaltyID}); err != nil {
		return nil, err
	}

	var penalty *models.Penalty
	err := s.run(ctx, func(tx *repositories.Store) error {
		p, err := tx.Penalties.GetForUpdate(ctx, penaltyID)
		if err != nil {
			return err
		}
		if p.Status == domain.PenaltyPaid {
			return ErrPenaltySettled
		}
		p.Status = domain.PenaltyPaid
		p.SettledAt = timePtr(s.now())
		settledBy := actor.UserID
		p.SettledBy = &settledBy
		if err := tx.Penalties.Update(ctx, p); err != nil {
			return err
		}
		penalty = p
		return s.audit(ctx, tx, actor, ip, auditEntry{
			action: models.ActionPayment, entityType: "penalty", entityID: p.ID,
			from: string(domain.PenaltyUnpaid), to: string(domain.PenaltyPaid),
		})
	})
	if err != nil {
		return nil, err
	}
	return penalty, nil
}

// ============================================================
// Queries
// ============================================================

// GetCycle returns a cycle with its participant snapshot
func (s *CycleService) GetCycle(ctx context.Context, actor domain.Actor, cycleID uint) (*models.Cycle, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "cycle", ID: cycleID}); err != nil {
		return nil, err
	}
	return s.store.Cycles.GetByID(ctx, cycleID)
}

// ListCycles lists a group's cycles, newest first
func (s *CycleService) ListCycles(ctx context.Context, actor domain.Actor, groupID uint, offset, limit int) ([]*models.Cycle, int64, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, 0, err
	}
	return s.store.Cycles.ListByGroup(ctx, groupID, offset, limit)
}

// Contributions lists a cycle's contributions
func (s *CycleService) Contributions(ctx context.Context, actor domain.Actor, cycleID uint) ([]*models.Contribution, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "cycle", ID: cycleID}); err != nil {
		return nil, err
	}
	return s.store.Contributions.ListByCycle(ctx, cycleID)
}

// Payout returns the payout issued for a cycle
func (s *CycleService) Payout(ctx context.Context, actor domain.Actor, cycleID uint) (*models.Payout, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "cycle", ID: cycleID}); err != nil {
		return nil, err
	}
	return s.store.Payouts.GetByCycle(ctx, cycleID)
}

// Penalties lists a group's penalties, optionally by status
func (s *CycleService) Penalties(ctx context.Context, actor domain.Actor, groupID uint, status string, offset, limit int) ([]*models.Penalty, int64, error) {
	if err := s.authorize(ctx, actor, OpView, Target{Kind: "group", ID: groupID, GroupID: groupID}); err != nil {
		return nil, 0, err
	}
	var st domain.PenaltyStatus
	switch status {
	case "":
	case string(domain.PenaltyUnpaid), string(domain.PenaltyPaid):
		st = domain.PenaltyStatus(status)
	default:
		return nil, 0, domain.Validationf("unknown penalty status %q", status)
	}
	return s.store.Penalties.List(ctx, groupID, st, offset, limit)
}

func newReference(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func phoneOf(m *models.Membership) string {
	if m.User == nil {
		return ""
	}
	return m.User.Phone
}
