package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/ayo6706/deal-escrow/internal/observability"
	"github.com/ayo6706/deal-escrow/internal/repository"
	"go.uber.org/zap"
)

// mutation is one attempt at applying an event: private copies of the deal
// and its payments plus everything the event produced.
type mutation struct {
	deal      *models.Deal
	payments  []*models.Payment
	actorID   string
	actor     *models.User
	sellerKYC domain.KYCStatus

	changed  bool
	replayed bool
	dirty    []*models.Payment
	payment  *models.Payment
	intents  []models.NotificationIntent
}

func (m *mutation) touch() {
	m.changed = true
}

// save queues p for the commit and makes it the payment of the result.
func (m *mutation) save(p *models.Payment) {
	m.changed = true
	m.payment = p
	for _, d := range m.dirty {
		if d == p {
			return
		}
	}
	m.dirty = append(m.dirty, p)
}

func (m *mutation) add(p *models.Payment) {
	m.payments = append(m.payments, p)
	m.save(p)
}

func (m *mutation) paymentByID(paymentID string) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.PaymentID == paymentID {
			return p, nil
		}
	}
	return nil, domain.NotFoundf("payment %s", paymentID)
}

// deposit returns the latest escrow deposit that was not cancelled.
func (m *mutation) deposit() *models.Payment {
	for i := len(m.payments) - 1; i >= 0; i-- {
		p := m.payments[i]
		if p.PaymentType == domain.PaymentEscrowDeposit && p.Status != domain.PaymentCancelled {
			return p
		}
	}
	return nil
}

func (m *mutation) notify(recipient, template string, data map[string]string) {
	intent := models.NotificationIntent{
		Recipient: recipient,
		Template:  template,
		DealID:    m.deal.DealID,
		Data:      data,
	}
	if m.payment != nil {
		intent.PaymentID = m.payment.PaymentID
	}
	m.intents = append(m.intents, intent)
}

func (m *mutation) notifyParties(template string, data map[string]string) {
	m.notify(m.deal.Buyer, template, data)
	m.notify(m.deal.Seller, template, data)
}

func (m *mutation) notifyCounterpart(template string, data map[string]string) {
	if role, ok := m.deal.RoleOf(m.actorID); ok {
		m.notify(m.deal.PartyID(role.Counterpart()), template, data)
	}
}

func (m *mutation) result() *Result {
	res := &Result{
		Deal:     m.deal,
		Payment:  m.payment,
		Replayed: m.replayed && !m.changed,
	}
	if !res.Replayed {
		res.Intents = m.intents
	}
	return res
}

func (o *Orchestrator) loadActor(ctx context.Context, actorID string) (*models.User, error) {
	if actorID == "" {
		return nil, domain.Unauthorizedf("actor is required")
	}
	if actorID == domain.SystemActorID {
		return &models.User{ID: domain.SystemActorID, Role: domain.SystemActorID}, nil
	}
	user, err := o.users.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Unauthorizedf("unknown user %s", actorID)
		}
		return nil, fmt.Errorf("load actor %s: %w", actorID, err)
	}
	return user, nil
}

func (o *Orchestrator) sellerKYC(ctx context.Context, deal *models.Deal) (domain.KYCStatus, error) {
	seller, err := o.users.GetUser(ctx, deal.Seller)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.KYCNotStarted, nil
		}
		return "", fmt.Errorf("load seller %s: %w", deal.Seller, err)
	}
	if seller.KYCStatus == "" {
		return domain.KYCNotStarted, nil
	}
	return seller.KYCStatus, nil
}

func (o *Orchestrator) load(ctx context.Context, dealID, actorID string, actor *models.User) (*mutation, error) {
	deal, err := o.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("load deal %s: %w", dealID, err)
	}
	payments, err := o.store.ListPaymentsForDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("load payments for %s: %w", dealID, err)
	}
	kyc, err := o.sellerKYC(ctx, deal)
	if err != nil {
		return nil, err
	}
	m := &mutation{
		deal:      deal.Clone(),
		payments:  make([]*models.Payment, 0, len(payments)),
		actorID:   actorID,
		actor:     actor,
		sellerKYC: kyc,
	}
	for _, p := range payments {
		m.payments = append(m.payments, p.Clone())
	}
	return m, nil
}

// mutate runs fn against fresh copies of the deal until its changeset
// commits without a version conflict. Nothing is written when fn fails.
func (o *Orchestrator) mutate(ctx context.Context, dealID, actorID string, fn func(m *mutation) error) (*Result, error) {
	actor, err := o.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		m, err := o.load(ctx, dealID, actorID, actor)
		if err != nil {
			return nil, err
		}
		if err := fn(m); err != nil {
			return nil, err
		}
		if !m.changed {
			return m.result(), nil
		}

		err = o.store.Commit(ctx, repository.Changeset{Deal: m.deal, Payments: m.dirty})
		if err == nil {
			return m.result(), nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("commit deal %s: %w", dealID, err)
		}
		observability.IncrementConcurrencyConflict("deal")
		zap.L().Debug("deal version conflict, retrying",
			zap.String("deal_id", dealID),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("%w: deal %s still contended after %d attempts", domain.ErrConcurrencyConflict, dealID, o.maxAttempts)
}
