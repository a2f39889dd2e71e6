package service

import (
	"fmt"
	"time"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/shopspring/decimal"
)

// RetryPolicy controls payment retry backoff: base × 2^n capped at Max.
type RetryPolicy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 5 * time.Minute, Max: time.Hour, MaxRetries: domain.DefaultMaxRetries}
}

// Backoff returns the delay before retry number n (zero based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// PaymentStateMachine applies payment transitions in memory.
type PaymentStateMachine struct {
	clock  Clock
	policy RetryPolicy
}

func NewPaymentStateMachine(clock Clock, policy RetryPolicy) *PaymentStateMachine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PaymentStateMachine{clock: clock, policy: policy}
}

func (m *PaymentStateMachine) transition(p *models.Payment, next domain.PaymentStatus, action, actor, details string) error {
	current := p.Status
	if !canTransitionPayment(current, next) {
		return domain.InvalidTransitionf("payment %s: %s -> %s", p.PaymentID, current, next)
	}
	now := m.clock.Now()
	p.Status = next
	switch next {
	case domain.PaymentProcessing:
		p.ProcessedAt = &now
	case domain.PaymentCaptured:
		if p.CapturedAt == nil {
			p.CapturedAt = &now
		}
	case domain.PaymentFailed:
		p.FailedAt = &now
	case domain.PaymentRefunded, domain.PaymentPartiallyRefunded:
		p.RefundedAt = &now
	}
	p.Record(action, actor, now, details, current, next)
	return nil
}

// Submit hands an initiated payment to the gateway.
func (m *PaymentStateMachine) Submit(p *models.Payment, actorID string) error {
	return m.transition(p, domain.PaymentPending, "submit", actorID, string(p.PaymentMethod))
}

func (m *PaymentStateMachine) MarkProcessing(p *models.Payment, actorID string) error {
	return m.transition(p, domain.PaymentProcessing, "processing", actorID, "")
}

// Capture confirms the gateway collected the funds. A captured payment
// yields domain.ErrAlreadyCaptured; callers compare the reference to tell a
// replay from a conflict.
func (m *PaymentStateMachine) Capture(p *models.Payment, gatewayRef, actorID string) error {
	if gatewayRef == "" {
		return domain.Validationf("gateway reference is required")
	}
	if p.CapturedAt != nil {
		return fmt.Errorf("%w: payment %s (%s)", domain.ErrAlreadyCaptured, p.PaymentID, p.Gateway.TransactionID)
	}
	if p.Status != domain.PaymentPending && p.Status != domain.PaymentProcessing {
		return domain.InvalidTransitionf("payment %s cannot be captured from %s", p.PaymentID, p.Status)
	}
	if err := m.transition(p, domain.PaymentCaptured, "capture", actorID, gatewayRef); err != nil {
		return err
	}
	p.Gateway.TransactionID = gatewayRef
	p.NextRetryAt = nil
	p.FailureReason = ""
	if p.PaymentType == domain.PaymentEscrowDeposit {
		p.Escrow.HoldStartDate = p.CapturedAt
	}
	return nil
}

func (m *PaymentStateMachine) Fail(p *models.Payment, reason, actorID string) error {
	if err := m.transition(p, domain.PaymentFailed, "fail", actorID, reason); err != nil {
		return err
	}
	p.FailureReason = reason
	p.NextRetryAt = nil
	return nil
}

// ScheduleRetry sets NextRetryAt from the backoff policy and counts the retry.
func (m *PaymentStateMachine) ScheduleRetry(p *models.Payment) error {
	if p.Status != domain.PaymentFailed {
		return domain.InvalidTransitionf("payment %s is %s", p.PaymentID, p.Status)
	}
	if p.RetryCount >= p.MaxRetries {
		return domain.InvalidTransitionf("payment %s exhausted %d retries", p.PaymentID, p.MaxRetries)
	}
	now := m.clock.Now()
	next := now.Add(m.policy.Backoff(p.RetryCount))
	p.NextRetryAt = &next
	p.RetryCount++
	p.Record("schedule_retry", domain.SystemActorID, now, fmt.Sprintf("retry %d/%d at %s", p.RetryCount, p.MaxRetries, next.Format(time.RFC3339)), p.Status, p.Status)
	return nil
}

// BeginRetry moves a failed payment whose retry came due back to pending.
func (m *PaymentStateMachine) BeginRetry(p *models.Payment, actorID string) error {
	now := m.clock.Now()
	if !p.RetryDue(now) {
		return domain.InvalidTransitionf("payment %s has no retry due", p.PaymentID)
	}
	if err := m.transition(p, domain.PaymentPending, "retry", actorID, fmt.Sprintf("attempt %d", p.RetryCount)); err != nil {
		return err
	}
	p.NextRetryAt = nil
	return nil
}

func (m *PaymentStateMachine) Cancel(p *models.Payment, actorID, reason string) error {
	if err := m.transition(p, domain.PaymentCancelled, "cancel", actorID, reason); err != nil {
		return err
	}
	p.NextRetryAt = nil
	return nil
}

// Dispute freezes captured funds while the deal is disputed.
func (m *PaymentStateMachine) Dispute(p *models.Payment, actorID, reason string) error {
	return m.transition(p, domain.PaymentDisputed, "dispute", actorID, reason)
}

// Reinstate returns a disputed payment to captured.
func (m *PaymentStateMachine) Reinstate(p *models.Payment, actorID, resolution string) error {
	return m.transition(p, domain.PaymentCaptured, "dispute_resolved", actorID, resolution)
}

// Release pays the held funds out to the payee.
func (m *PaymentStateMachine) Release(p *models.Payment, deal *models.Deal, actorID string, reason domain.ReleaseReason) error {
	if !reason.Valid() {
		return domain.Validationf("invalid release reason %q", reason)
	}
	if !p.IsInEscrow() {
		return domain.InvalidTransitionf("payment %s holds no escrow funds", p.PaymentID)
	}
	if p.RefundInFlight() {
		return domain.InvalidTransitionf("payment %s has a refund in flight", p.PaymentID)
	}
	now := m.clock.Now()
	if reason == domain.ReleaseTimeout {
		if deal.Dispute != nil || deal.Workflow.Delivered.CompletedAt == nil ||
			now.Before(deal.Workflow.Delivered.CompletedAt.AddDate(0, 0, deal.InspectionPeriod)) {
			return domain.InvalidTransitionf("payment %s: inspection period has not elapsed without dispute", p.PaymentID)
		}
	}
	p.Escrow.ReleaseDate = &now
	p.Escrow.ReleasedBy = actorID
	p.Escrow.ReleaseReason = reason
	if p.Escrow.HoldEndDate == nil {
		p.Escrow.HoldEndDate = &now
	}
	p.Record("release", actorID, now, string(reason), p.Status, p.Status)
	return nil
}

func refundable(p *models.Payment) error {
	if p.Status == domain.PaymentRefunded || p.Status == domain.PaymentPartiallyRefunded {
		return fmt.Errorf("%w: payment %s", domain.ErrAlreadyRefunded, p.PaymentID)
	}
	if p.Status != domain.PaymentCaptured && p.Status != domain.PaymentDisputed {
		return domain.InvalidTransitionf("payment %s cannot be refunded from %s", p.PaymentID, p.Status)
	}
	if p.Escrow.ReleaseDate != nil {
		return domain.InvalidTransitionf("payment %s was already released", p.PaymentID)
	}
	return nil
}

// RequestRefund reserves the payment for one gateway refund. The reservation
// is committed before the gateway is called; a second request while it is
// held fails with domain.ErrInvalidTransition.
func (m *PaymentStateMachine) RequestRefund(p *models.Payment, actorID, reason string) error {
	if err := refundable(p); err != nil {
		return err
	}
	if p.RefundInFlight() {
		return domain.InvalidTransitionf("payment %s has a refund in flight", p.PaymentID)
	}
	now := m.clock.Now()
	p.Refund.RequestedAt = &now
	p.Refund.RequestedBy = actorID
	p.Record("refund_requested", actorID, now, reason, p.Status, p.Status)
	return nil
}

// AbandonRefund drops a reservation whose gateway refund was declined.
func (m *PaymentStateMachine) AbandonRefund(p *models.Payment, actorID, reason string) error {
	if !p.RefundInFlight() {
		return domain.InvalidTransitionf("payment %s has no refund in flight", p.PaymentID)
	}
	p.Refund.RequestedAt = nil
	p.Refund.RequestedBy = ""
	p.Record("refund_failed", actorID, m.clock.Now(), reason, p.Status, p.Status)
	return nil
}

// Refund returns amount of a captured payment. A second refund of the same
// payment fails with domain.ErrAlreadyRefunded.
func (m *PaymentStateMachine) Refund(p *models.Payment, actorID string, amount decimal.Decimal, reason, refundRef string) error {
	if err := refundable(p); err != nil {
		return err
	}
	if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
		return domain.Validationf("refund amount must be in (0, %s]", p.Amount)
	}
	next := domain.PaymentRefunded
	if amount.LessThan(p.Amount) {
		next = domain.PaymentPartiallyRefunded
	}
	if err := m.transition(p, next, "refund", actorID, reason); err != nil {
		return err
	}
	p.Refund.RefundAmount = amount
	p.Refund.RefundReason = reason
	p.Refund.RefundDate = p.RefundedAt
	p.Refund.RefundTransactionID = refundRef
	p.Escrow.HoldEndDate = p.RefundedAt
	return nil
}
