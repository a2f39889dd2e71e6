package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/deal-escrow/internal/documents"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/fees"
	"github.com/ayo6706/deal-escrow/internal/gateway"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/ayo6706/deal-escrow/internal/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultMaxCommitAttempts = 5

// Orchestrator is the single entry point for deal and payment transitions.
// It authorizes each event, applies it to private copies of the entities and
// commits the result under optimistic versioning. Gateway calls happen
// before or after a commit, never during one.
type Orchestrator struct {
	store       Store
	users       UserDirectory
	gateway     gateway.Gateway
	clock       Clock
	fees        *fees.Calculator
	policy      RetryPolicy
	deals       *DealStateMachine
	payments    *PaymentStateMachine
	gate        AuthorizationGate
	maxAttempts int
	provider    string
	tracer      trace.Tracer
}

func NewOrchestrator(store Store, users UserDirectory, gw gateway.Gateway) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		users:       users,
		gateway:     gw,
		clock:       SystemClock{},
		fees:        fees.NewCalculator(),
		policy:      DefaultRetryPolicy(),
		maxAttempts: defaultMaxCommitAttempts,
		provider:    domain.DefaultPaymentProvider,
		tracer:      otel.Tracer("github.com/ayo6706/deal-escrow/internal/service"),
	}
	o.rebuild()
	return o
}

func (o *Orchestrator) rebuild() {
	o.deals = NewDealStateMachine(o.clock)
	o.payments = NewPaymentStateMachine(o.clock, o.policy)
}

func (o *Orchestrator) WithClock(clock Clock) *Orchestrator {
	o.clock = clock
	o.rebuild()
	return o
}

func (o *Orchestrator) WithRetryPolicy(policy RetryPolicy) *Orchestrator {
	o.policy = policy
	o.rebuild()
	return o
}

func (o *Orchestrator) WithFeeCalculator(calc *fees.Calculator) *Orchestrator {
	o.fees = calc
	return o
}

// WithMaxAttempts bounds optimistic commit retries before ErrConcurrencyConflict.
func (o *Orchestrator) WithMaxAttempts(n int) *Orchestrator {
	if n > 0 {
		o.maxAttempts = n
	}
	return o
}

func (o *Orchestrator) WithProvider(name string) *Orchestrator {
	if name != "" {
		o.provider = name
	}
	return o
}

// CreateDeal validates terms, freezes the escrow fee and stores a new deal in
// created with the initiator's acceptance already recorded.
func (o *Orchestrator) CreateDeal(ctx context.Context, initiatorID string, role domain.Role, terms models.Terms) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "escrow.create_deal", trace.WithAttributes(attribute.String("escrow.actor_id", initiatorID)))
	defer span.End()
	start := time.Now()

	res, err := o.createDeal(ctx, initiatorID, role, terms)
	observability.ObserveTransition("create_deal", outcomeOf(res, err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("escrow.deal_id", res.Deal.DealID))
	zap.L().Info("deal created",
		zap.String("deal_id", res.Deal.DealID),
		zap.String("initiator", initiatorID),
		zap.String("category", string(res.Deal.Category)),
		zap.String("amount", res.Deal.Amount.String()),
	)
	return res, nil
}

func validateTerms(initiatorID string, role domain.Role, terms *models.Terms) error {
	terms.Title = strings.TrimSpace(terms.Title)
	if terms.Title == "" {
		return domain.Validationf("title is required")
	}
	if !role.Valid() {
		return domain.Validationf("role must be buyer or seller")
	}
	if !terms.Category.Valid() {
		return domain.Validationf("invalid category %q", terms.Category)
	}
	if !domain.WithinDealBounds(terms.Amount) {
		return domain.Validationf("amount must be between %d and %d", domain.MinDealAmount, domain.MaxDealAmount)
	}
	if terms.InspectionPeriod < domain.MinInspectionPeriodDays || terms.InspectionPeriod > domain.MaxInspectionPeriodDays {
		return domain.Validationf("inspection_period must be between %d and %d days", domain.MinInspectionPeriodDays, domain.MaxInspectionPeriodDays)
	}
	if terms.PartyType == "" {
		terms.PartyType = domain.PartyPersonal
	}
	if !terms.PartyType.Valid() {
		return domain.Validationf("invalid party_type %q", terms.PartyType)
	}
	if terms.CounterpartyID == "" {
		return domain.Validationf("counterparty_id is required")
	}
	if terms.CounterpartyID == initiatorID {
		return domain.Validationf("buyer and seller must be different users")
	}
	return nil
}

func (o *Orchestrator) createDeal(ctx context.Context, initiatorID string, role domain.Role, terms models.Terms) (*Result, error) {
	if _, err := o.loadActor(ctx, initiatorID); err != nil {
		return nil, err
	}
	if err := validateTerms(initiatorID, role, &terms); err != nil {
		return nil, err
	}
	if _, err := o.users.GetUser(ctx, terms.CounterpartyID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Validationf("counterparty %s does not exist", terms.CounterpartyID)
		}
		return nil, fmt.Errorf("load counterparty: %w", err)
	}

	escrowFee, err := o.fees.EscrowFee(terms.Amount, terms.PartyType)
	if err != nil {
		return nil, err
	}
	number, err := o.store.NextDealNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("next deal number: %w", err)
	}

	now := o.clock.Now()
	deal := &models.Deal{
		ID:                  uuid.New(),
		DealID:              fmt.Sprintf("DEAL%08d", number),
		InitiatedBy:         initiatorID,
		Title:               terms.Title,
		Description:         terms.Description,
		Category:            terms.Category,
		Amount:              terms.Amount,
		DeliveryMethod:      terms.DeliveryMethod,
		InspectionPeriod:    terms.InspectionPeriod,
		AdditionalTerms:     terms.AdditionalTerms,
		PartyType:           terms.PartyType,
		EscrowFee:           escrowFee,
		EscrowFeePercentage: escrowFee.Percentage,
		Status:              domain.DealCreated,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if role == domain.RoleBuyer {
		deal.Buyer, deal.Seller = initiatorID, terms.CounterpartyID
	} else {
		deal.Buyer, deal.Seller = terms.CounterpartyID, initiatorID
	}
	deal.Workflow.DealCreated.Mark(now, initiatorID)
	deal.Workflow.PartiesAccepted.Set(role, now)
	deal.Record("create_deal", initiatorID, now, fmt.Sprintf("created by %s", role), "", domain.DealCreated)
	deal.AddSystemMessage(fmt.Sprintf("Deal created by the %s", role), now)

	if err := o.store.CreateDeal(ctx, deal); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}
	return &Result{
		Deal: deal,
		Intents: []models.NotificationIntent{{
			Recipient: terms.CounterpartyID,
			Template:  models.TemplateDealCreated,
			DealID:    deal.DealID,
			Data:      map[string]string{"title": deal.Title, "amount": deal.Amount.String()},
		}},
	}, nil
}

func outcomeOf(res *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res != nil && res.Replayed:
		return "replayed"
	default:
		return "applied"
	}
}

// Apply authorizes and commits ev on behalf of actorID.
func (o *Orchestrator) Apply(ctx context.Context, actorID string, ev Event) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "escrow."+ev.Name(), trace.WithAttributes(
		attribute.String("escrow.event", ev.Name()),
		attribute.String("escrow.actor_id", actorID),
	))
	defer span.End()
	start := time.Now()

	res, err := o.dispatch(ctx, actorID, ev)
	observability.ObserveTransition(ev.Name(), outcomeOf(res, err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		zap.L().Info("escrow event rejected",
			zap.String("event", ev.Name()),
			zap.String("actor", actorID),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("escrow.deal_id", res.Deal.DealID),
		attribute.String("escrow.deal_status", string(res.Deal.Status)),
		attribute.Bool("escrow.replayed", res.Replayed),
	)
	fields := []zap.Field{
		zap.String("event", ev.Name()),
		zap.String("deal_id", res.Deal.DealID),
		zap.String("status", string(res.Deal.Status)),
		zap.Bool("replayed", res.Replayed),
	}
	if res.Payment != nil {
		fields = append(fields, zap.String("payment_id", res.Payment.PaymentID), zap.String("payment_status", string(res.Payment.Status)))
	}
	zap.L().Info("escrow event applied", fields...)
	return res, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, actorID string, ev Event) (*Result, error) {
	switch e := ev.(type) {
	case AcceptDeal:
		return o.mutate(ctx, e.DealID, actorID, o.acceptDeal)
	case RefreshGates:
		return o.mutate(ctx, e.DealID, actorID, o.refreshGates)
	case UploadDocument:
		return o.mutate(ctx, e.DealID, actorID, func(m *mutation) error { return o.uploadDocument(m, e) })
	case VerifyDocument:
		return o.mutate(ctx, e.DealID, actorID, func(m *mutation) error { return o.verifyDocument(m, e) })
	case SignContract:
		return o.mutate(ctx, e.DealID, actorID, o.signContract)
	case SendReminder:
		return o.mutate(ctx, e.DealID, actorID, o.sendReminder)
	case DepositPayment:
		return o.mutate(ctx, e.DealID, actorID, func(m *mutation) error { return o.depositPayment(ctx, m, e) })
	case PaymentCaptured:
		return o.mutatePayment(ctx, e.PaymentID, actorID, func(m *mutation) error { return o.paymentCaptured(m, e) })
	case PaymentFailed:
		return o.mutatePayment(ctx, e.PaymentID, actorID, func(m *mutation) error { return o.paymentFailed(m, e) })
	case BeginRetry:
		return o.mutatePayment(ctx, e.PaymentID, actorID, func(m *mutation) error { return o.beginRetry(m, e) })
	case StartDelivery:
		return o.mutate(ctx, e.DealID, actorID, o.startDelivery)
	case MarkDelivered:
		return o.mutate(ctx, e.DealID, actorID, o.markDelivered)
	case ConfirmReceipt:
		return o.mutate(ctx, e.DealID, actorID, o.confirmReceipt)
	case RaiseDispute:
		return o.mutate(ctx, e.DealID, actorID, func(m *mutation) error { return o.raiseDispute(m, e) })
	case ResolveDispute:
		if e.Outcome == domain.DealRefunded {
			return o.resolveWithRefund(ctx, actorID, e)
		}
		return o.mutate(ctx, e.DealID, actorID, func(m *mutation) error { return o.resolveDispute(m, e) })
	case AdminRelease:
		return o.mutate(ctx, e.DealID, actorID, func(m *mutation) error { return o.adminRelease(m, e) })
	case InspectionTimeout:
		return o.mutate(ctx, e.DealID, actorID, o.inspectionTimeout)
	case CancelDeal:
		return o.mutate(ctx, e.DealID, actorID, func(m *mutation) error { return o.cancelDeal(m, e) })
	case AddMessage:
		return o.mutate(ctx, e.DealID, actorID, func(m *mutation) error { return o.addMessage(m, e) })
	default:
		return nil, domain.Validationf("unsupported event %T", ev)
	}
}

func (o *Orchestrator) mutatePayment(ctx context.Context, paymentID, actorID string, fn func(m *mutation) error) (*Result, error) {
	p, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", paymentID, err)
	}
	return o.mutate(ctx, p.DealID, actorID, fn)
}

func (o *Orchestrator) check(m *mutation, action domain.Action) error {
	return o.gate.Check(m.deal, m.actor, m.actorID, m.sellerKYC, action)
}

func requireSystem(m *mutation) error {
	if m.actorID != domain.SystemActorID {
		return domain.Unauthorizedf("only the system actor reports gateway outcomes")
	}
	return nil
}

func (o *Orchestrator) acceptDeal(m *mutation) error {
	if err := o.check(m, domain.ActionAcceptDeal); err != nil {
		return err
	}
	changed, err := o.deals.Accept(m.deal, m.actorID)
	if err != nil {
		return err
	}
	if !changed {
		m.replayed = true
		return nil
	}
	m.touch()
	m.notifyCounterpart(models.TemplateDealAccepted, nil)
	if m.deal.Status == domain.DealAccepted {
		m.notifyParties(models.TemplateDealFullyAccepted, nil)
		return o.advance(m)
	}
	return nil
}

// advance runs the gates and emits one intent set per status reached.
func (o *Orchestrator) advance(m *mutation) error {
	reached, err := o.deals.AdvanceGates(m.deal, m.sellerKYC, m.actorID)
	if err != nil {
		return err
	}
	if len(reached) > 0 {
		m.touch()
	}
	for _, status := range reached {
		switch status {
		case domain.DealKYCPending:
			m.notify(m.deal.Seller, models.TemplateKYCRequired, nil)
		case domain.DealDocumentsPending:
			for _, role := range []domain.Role{domain.RoleSeller, domain.RoleBuyer} {
				if missing := documents.Missing(m.deal, role); len(missing) > 0 {
					m.notify(m.deal.PartyID(role), models.TemplateDocumentsRequired, map[string]string{"missing": strings.Join(missing, ",")})
				}
			}
		case domain.DealContractPending:
			m.notifyParties(models.TemplateContractRequired, nil)
		case domain.DealPaymentPending:
			m.notify(m.deal.Buyer, models.TemplatePaymentRequired, map[string]string{"amount": m.deal.Amount.String()})
		}
	}
	return nil
}

func (o *Orchestrator) refreshGates(m *mutation) error {
	if _, ok := m.deal.RoleOf(m.actorID); !ok && !m.actor.IsAdmin() && m.actorID != domain.SystemActorID {
		return domain.Unauthorizedf("user %s is not a party to deal %s", m.actorID, m.deal.DealID)
	}
	if err := o.advance(m); err != nil {
		return err
	}
	if !m.changed {
		m.replayed = true
	}
	return nil
}

func (o *Orchestrator) uploadDocument(m *mutation, e UploadDocument) error {
	if err := o.check(m, domain.ActionUploadDocument); err != nil {
		return err
	}
	if err := o.deals.UploadDocument(m.deal, m.actorID, e.DocumentType, e.FileName, e.FileURL); err != nil {
		return err
	}
	m.touch()
	m.notifyCounterpart(models.TemplateDocumentUploaded, map[string]string{"document_type": e.DocumentType})
	return o.advance(m)
}

func (o *Orchestrator) verifyDocument(m *mutation, e VerifyDocument) error {
	if err := o.check(m, domain.ActionVerifyDocument); err != nil {
		return err
	}
	changed, err := o.deals.VerifyDocument(m.deal, m.actorID, e.DocumentType)
	if err != nil {
		return err
	}
	if !changed {
		m.replayed = true
		return nil
	}
	m.touch()
	doc, _ := m.deal.Document(e.DocumentType)
	m.notify(doc.UploadedBy, models.TemplateDocumentVerified, map[string]string{"document_type": e.DocumentType})
	return nil
}

func (o *Orchestrator) signContract(m *mutation) error {
	if err := o.check(m, domain.ActionSignContract); err != nil {
		return err
	}
	changed, err := o.deals.SignContract(m.deal, m.actorID)
	if err != nil {
		return err
	}
	if !changed {
		m.replayed = true
		return nil
	}
	m.touch()
	m.notifyCounterpart(models.TemplateContractSigned, nil)
	return o.advance(m)
}

func (o *Orchestrator) sendReminder(m *mutation) error {
	if err := o.check(m, domain.ActionSendReminder); err != nil {
		return err
	}
	m.notify(m.deal.Seller, models.TemplateKYCReminder, map[string]string{"requested_by": m.actorID})
	return nil
}

func (o *Orchestrator) newDeposit(ctx context.Context, m *mutation, method domain.PaymentMethod) (*models.Payment, error) {
	number, err := o.store.NextPaymentNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("next payment number: %w", err)
	}
	now := o.clock.Now()
	escrow := m.deal.EscrowFee
	gw := o.fees.GatewayFee(m.deal.Amount, method)
	p := &models.Payment{
		ID:            uuid.New(),
		PaymentID:     fmt.Sprintf("PAY%08d", number),
		DealID:        m.deal.DealID,
		Payer:         m.deal.Buyer,
		Payee:         m.deal.Seller,
		Amount:        m.deal.Amount,
		PaymentType:   domain.PaymentEscrowDeposit,
		PaymentMethod: method,
		Gateway: models.GatewayInfo{
			Provider:   o.provider,
			OrderID:    "ORD-" + uuid.NewString(),
			GatewayFee: gw.Fee,
			GST:        gw.GST,
		},
		Status:     domain.PaymentInitiated,
		MaxRetries: o.policy.MaxRetries,
		Fees: models.PaymentFees{
			EscrowFee:     escrow.BaseFee,
			ProcessingFee: gw.Fee,
			GST:           escrow.GST.Add(gw.GST),
			TotalFees:     escrow.TotalFee.Add(gw.TotalFee),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Record("create", m.actorID, now, string(p.PaymentType), "", domain.PaymentInitiated)
	return p, nil
}

func (o *Orchestrator) depositPayment(ctx context.Context, m *mutation, e DepositPayment) error {
	if role, ok := m.deal.RoleOf(m.actorID); !ok || role != domain.RoleBuyer {
		return domain.Unauthorizedf("only the buyer can deposit payment")
	}
	existing := m.deposit()
	if existing != nil && existing.CapturedAt != nil {
		if e.GatewayRef != "" && existing.Gateway.TransactionID == e.GatewayRef {
			m.payment = existing
			m.replayed = true
			return nil
		}
		return fmt.Errorf("%w: deal %s deposit %s", domain.ErrAlreadyCaptured, m.deal.DealID, existing.PaymentID)
	}
	if err := o.check(m, domain.ActionDepositPayment); err != nil {
		return err
	}

	p := existing
	if p == nil || p.Status == domain.PaymentFailed {
		if p != nil {
			if err := o.payments.Cancel(p, m.actorID, "superseded by a new deposit"); err != nil {
				return err
			}
			m.save(p)
		}
		var err error
		if p, err = o.newDeposit(ctx, m, fees.NormalizeMethod(e.Method)); err != nil {
			return err
		}
		if err := o.payments.Submit(p, m.actorID); err != nil {
			return err
		}
		m.add(p)
		m.notify(m.deal.Buyer, models.TemplatePaymentInitiated, map[string]string{
			"amount":      p.Amount.String(),
			"total_fees":  p.Fees.TotalFees.String(),
			"grand_total": p.Amount.Add(p.Fees.TotalFees).String(),
		})
	} else {
		m.payment = p
	}

	if e.GatewayRef != "" {
		return o.capture(m, p, e.GatewayRef)
	}
	// Only the request that moves the deposit to processing may charge it.
	if p.Status != domain.PaymentPending {
		m.replayed = true
		return nil
	}
	if err := o.payments.MarkProcessing(p, m.actorID); err != nil {
		return err
	}
	m.save(p)
	return nil
}

func (o *Orchestrator) capture(m *mutation, p *models.Payment, gatewayRef string) error {
	if err := o.payments.Capture(p, gatewayRef, m.actorID); err != nil {
		return err
	}
	m.save(p)
	if p.PaymentType == domain.PaymentEscrowDeposit {
		if err := o.deals.MarkFundsDeposited(m.deal, m.actorID, p.PaymentID); err != nil {
			return err
		}
	}
	m.notifyParties(models.TemplatePaymentCaptured, map[string]string{"amount": p.Amount.String()})
	return nil
}

func (o *Orchestrator) paymentCaptured(m *mutation, e PaymentCaptured) error {
	if err := requireSystem(m); err != nil {
		return err
	}
	p, err := m.paymentByID(e.PaymentID)
	if err != nil {
		return err
	}
	if p.CapturedAt != nil && p.Gateway.TransactionID == e.GatewayRef {
		m.payment = p
		m.replayed = true
		return nil
	}
	return o.capture(m, p, e.GatewayRef)
}

func (o *Orchestrator) paymentFailed(m *mutation, e PaymentFailed) error {
	if err := requireSystem(m); err != nil {
		return err
	}
	p, err := m.paymentByID(e.PaymentID)
	if err != nil {
		return err
	}
	if p.Status == domain.PaymentFailed {
		m.payment = p
		m.replayed = true
		return nil
	}
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "gateway declined"
	}
	if err := o.payments.Fail(p, reason, m.actorID); err != nil {
		return err
	}
	m.save(p)

	if p.RetryCount < p.MaxRetries {
		if err := o.payments.ScheduleRetry(p); err != nil {
			return err
		}
		m.notify(m.deal.Buyer, models.TemplatePaymentFailed, map[string]string{
			"reason":        reason,
			"next_retry_at": p.NextRetryAt.Format(time.RFC3339),
			"retry_count":   strconv.Itoa(p.RetryCount),
		})
		return nil
	}
	m.notifyParties(models.TemplatePaymentRetryFailed, map[string]string{"reason": reason})
	return nil
}

func (o *Orchestrator) beginRetry(m *mutation, e BeginRetry) error {
	if err := requireSystem(m); err != nil {
		return err
	}
	p, err := m.paymentByID(e.PaymentID)
	if err != nil {
		return err
	}
	if err := o.payments.BeginRetry(p, m.actorID); err != nil {
		return err
	}
	if err := o.payments.MarkProcessing(p, m.actorID); err != nil {
		return err
	}
	m.save(p)
	return nil
}

func (o *Orchestrator) startDelivery(m *mutation) error {
	if err := o.check(m, domain.ActionStartDelivery); err != nil {
		return err
	}
	if err := o.deals.StartDelivery(m.deal, m.actorID); err != nil {
		return err
	}
	m.touch()
	m.notify(m.deal.Buyer, models.TemplateDeliveryStarted, nil)
	return nil
}

func (o *Orchestrator) markDelivered(m *mutation) error {
	if err := o.check(m, domain.ActionMarkDelivered); err != nil {
		return err
	}
	if err := o.deals.MarkDelivered(m.deal, m.actorID); err != nil {
		return err
	}
	m.touch()
	m.notify(m.deal.Buyer, models.TemplateDelivered, map[string]string{"inspection_period": strconv.Itoa(m.deal.InspectionPeriod)})
	return nil
}

// release pays out the held deposit as part of completing the deal.
func (o *Orchestrator) release(m *mutation, reason domain.ReleaseReason) error {
	p := m.deposit()
	if p == nil {
		return domain.InvalidTransitionf("deal %s has no escrow deposit", m.deal.DealID)
	}
	if err := o.payments.Release(p, m.deal, m.actorID, reason); err != nil {
		return err
	}
	m.save(p)
	m.notifyParties(models.TemplateDealCompleted, nil)
	m.notify(m.deal.Seller, models.TemplateFundsReleased, map[string]string{"amount": p.Amount.String(), "reason": string(reason)})
	return nil
}

func (o *Orchestrator) confirmReceipt(m *mutation) error {
	if err := o.check(m, domain.ActionConfirmReceipt); err != nil {
		return err
	}
	if err := o.deals.ConfirmReceipt(m.deal, m.actorID); err != nil {
		return err
	}
	m.touch()
	return o.release(m, domain.ReleaseBuyerConfirmed)
}

func (o *Orchestrator) inspectionTimeout(m *mutation) error {
	if err := requireSystem(m); err != nil {
		return err
	}
	if err := o.deals.CompleteOnTimeout(m.deal); err != nil {
		return err
	}
	m.touch()
	return o.release(m, domain.ReleaseTimeout)
}

func (o *Orchestrator) adminRelease(m *mutation, e AdminRelease) error {
	if err := o.check(m, domain.ActionAdminRelease); err != nil {
		return err
	}
	if err := o.deals.AdminRelease(m.deal, m.actorID, e.Note); err != nil {
		return err
	}
	m.touch()
	return o.release(m, domain.ReleaseAdminRelease)
}

func (o *Orchestrator) raiseDispute(m *mutation, e RaiseDispute) error {
	if err := o.check(m, domain.ActionRaiseDispute); err != nil {
		return err
	}
	if err := o.deals.RaiseDispute(m.deal, m.actorID, e.Reason, e.Details); err != nil {
		return err
	}
	m.touch()
	if p := m.deposit(); p != nil && p.Status == domain.PaymentCaptured {
		if err := o.payments.Dispute(p, m.actorID, e.Reason); err != nil {
			return err
		}
		m.save(p)
	}
	m.notifyCounterpart(models.TemplateDisputeRaised, map[string]string{"reason": e.Reason})
	return nil
}

func (o *Orchestrator) resolveDispute(m *mutation, e ResolveDispute) error {
	if err := o.check(m, domain.ActionResolveDispute); err != nil {
		return err
	}
	if p := m.deposit(); p != nil && p.RefundInFlight() {
		return domain.InvalidTransitionf("deal %s has a refund in flight", m.deal.DealID)
	}
	if err := o.deals.ResolveDispute(m.deal, m.actorID, e.Outcome, e.Resolution); err != nil {
		return err
	}
	m.touch()
	if p := m.deposit(); p != nil && p.Status == domain.PaymentDisputed {
		if err := o.payments.Reinstate(p, m.actorID, e.Resolution); err != nil {
			return err
		}
		m.save(p)
	}
	m.notifyParties(models.TemplateDisputeResolved, map[string]string{"outcome": string(e.Outcome)})
	if e.Outcome == domain.DealCompleted {
		return o.release(m, domain.ReleaseDisputeResolved)
	}
	return nil
}

// resolveWithRefund reserves the deposit for refund, refunds it through the
// gateway and then commits the refund and the deal's move to refunded. The
// reservation is committed first so a concurrent resolution cannot reach the
// gateway; a repeat after the deal was refunded is a no-op.
func (o *Orchestrator) resolveWithRefund(ctx context.Context, actorID string, e ResolveDispute) (*Result, error) {
	var target *models.Payment
	reserved, err := o.mutate(ctx, e.DealID, actorID, func(m *mutation) error {
		target = nil
		if refundReplay(m) {
			return nil
		}
		if err := o.check(m, domain.ActionResolveDispute); err != nil {
			return err
		}
		p := m.deposit()
		if p == nil || p.CapturedAt == nil {
			return domain.InvalidTransitionf("deal %s has no captured deposit to refund", m.deal.DealID)
		}
		if err := o.payments.RequestRefund(p, m.actorID, e.Resolution); err != nil {
			return err
		}
		m.save(p)
		target = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reserved.Replayed || target == nil {
		return reserved, nil
	}

	// The reservation is held from here on, so follow-up commits must not be
	// abandoned with the request context.
	bg := context.WithoutCancel(ctx)
	refundRef, gwErr := o.gateway.Refund(ctx, gateway.RefundRequest{
		PaymentID:      target.PaymentID,
		TransactionID:  target.Gateway.TransactionID,
		Amount:         target.Amount,
		Reason:         e.Resolution,
		IdempotencyKey: "refund-" + target.PaymentID,
	})
	if gwErr != nil {
		zap.L().Warn("gateway refund failed",
			zap.String("deal_id", e.DealID),
			zap.String("payment_id", target.PaymentID),
			zap.Error(gwErr),
		)
		if _, err := o.mutate(bg, e.DealID, actorID, func(m *mutation) error {
			p, err := m.paymentByID(target.PaymentID)
			if err != nil {
				return err
			}
			if err := o.payments.AbandonRefund(p, m.actorID, gwErr.Error()); err != nil {
				return err
			}
			m.save(p)
			return nil
		}); err != nil {
			zap.L().Error("refund reservation not released",
				zap.String("deal_id", e.DealID),
				zap.String("payment_id", target.PaymentID),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("%w: refund %s: %v", domain.ErrGatewayFailure, target.PaymentID, gwErr)
	}

	res, err := o.mutate(bg, e.DealID, actorID, func(m *mutation) error {
		if refundReplay(m) {
			return nil
		}
		p, err := m.paymentByID(target.PaymentID)
		if err != nil {
			return err
		}
		if err := o.payments.Refund(p, m.actorID, p.Amount, e.Resolution, refundRef); err != nil {
			return err
		}
		m.save(p)
		if err := o.deals.ResolveDispute(m.deal, m.actorID, domain.DealRefunded, e.Resolution); err != nil {
			return err
		}
		m.notifyParties(models.TemplateDisputeResolved, map[string]string{"outcome": string(domain.DealRefunded)})
		m.notify(m.deal.Buyer, models.TemplateRefundProcessed, map[string]string{"amount": p.Amount.String()})
		return nil
	})
	if err != nil {
		// The reservation stays in place, which blocks any second refund.
		zap.L().Error("gateway refund not recorded",
			zap.String("deal_id", e.DealID),
			zap.String("payment_id", target.PaymentID),
			zap.String("refund_ref", refundRef),
			zap.Error(err),
		)
		return nil, err
	}
	return res, nil
}

func refundReplay(m *mutation) bool {
	if m.deal.Status != domain.DealRefunded {
		return false
	}
	for _, p := range m.payments {
		if p.Status == domain.PaymentRefunded && p.Refund.RefundAmount.Equal(p.Amount) {
			m.payment = p
			m.replayed = true
			return true
		}
	}
	return false
}

func (o *Orchestrator) cancelDeal(m *mutation, e CancelDeal) error {
	if err := o.check(m, domain.ActionCancelDeal); err != nil {
		return err
	}
	captured := false
	for _, p := range m.payments {
		if p.PaymentType == domain.PaymentEscrowDeposit && p.CapturedAt != nil {
			captured = true
		}
	}
	if err := o.deals.Cancel(m.deal, m.actorID, e.Reason, captured); err != nil {
		return err
	}
	m.touch()
	for _, p := range m.payments {
		switch p.Status {
		case domain.PaymentInitiated, domain.PaymentPending, domain.PaymentProcessing, domain.PaymentFailed:
			if err := o.payments.Cancel(p, m.actorID, "deal cancelled"); err != nil {
				return err
			}
			m.save(p)
		}
	}
	m.notifyCounterpart(models.TemplateDealCancelled, map[string]string{"reason": e.Reason})
	return nil
}

func (o *Orchestrator) addMessage(m *mutation, e AddMessage) error {
	if err := o.check(m, domain.ActionSendMessage); err != nil {
		return err
	}
	if err := o.deals.AddMessage(m.deal, m.actorID, e.Text); err != nil {
		return err
	}
	m.touch()
	m.notifyCounterpart(models.TemplateMessageReceived, nil)
	return nil
}
