package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/deal-escrow/internal/documents"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/fees"
	"github.com/ayo6706/deal-escrow/internal/gateway"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DealView is a deal as seen by one user.
type DealView struct {
	Deal       *models.Deal                     `json:"deal"`
	Payments   []*models.Payment                `json:"payments"`
	Role       domain.Role                      `json:"role,omitempty"`
	Progress   int                              `json:"progress"`
	NextAction NextAction                       `json:"next_action"`
	Checklist  map[domain.Role][]documents.Slot `json:"checklist"`
}

// View loads dealID for a party or an administrator.
func (o *Orchestrator) View(ctx context.Context, userID, dealID string) (*DealView, error) {
	actor, err := o.loadActor(ctx, userID)
	if err != nil {
		return nil, err
	}
	m, err := o.load(ctx, dealID, userID, actor)
	if err != nil {
		return nil, err
	}
	role, isParty := m.deal.RoleOf(userID)
	if !isParty && !actor.IsAdmin() {
		return nil, domain.Unauthorizedf("user %s is not a party to deal %s", userID, dealID)
	}
	return &DealView{
		Deal:       m.deal,
		Payments:   m.payments,
		Role:       role,
		Progress:   Progress(m.deal),
		NextAction: NextStep(m.deal, userID, m.sellerKYC),
		Checklist: map[domain.Role][]documents.Slot{
			domain.RoleSeller: documents.Checklist(m.deal, domain.RoleSeller),
			domain.RoleBuyer:  documents.Checklist(m.deal, domain.RoleBuyer),
		},
	}, nil
}

// Payment loads paymentID for a party to its deal or an administrator.
func (o *Orchestrator) Payment(ctx context.Context, userID, paymentID string) (*models.Payment, error) {
	p, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", paymentID, err)
	}
	if _, err := o.View(ctx, userID, p.DealID); err != nil {
		return nil, err
	}
	return p, nil
}

// CanPerformAction reports whether userID may attempt action on dealID now.
func (o *Orchestrator) CanPerformAction(ctx context.Context, userID, dealID string, action domain.Action) (bool, error) {
	actor, err := o.loadActor(ctx, userID)
	if err != nil {
		return false, err
	}
	m, err := o.load(ctx, dealID, userID, actor)
	if err != nil {
		return false, err
	}
	return o.gate.CanPerformAction(m.deal, actor, userID, m.sellerKYC, action), nil
}

// QuoteFees prices a deal amount before payment initiation.
func (o *Orchestrator) QuoteFees(amount decimal.Decimal, party domain.PartyType, method string) (fees.TransactionCost, error) {
	if !domain.WithinDealBounds(amount) {
		return fees.TransactionCost{}, domain.Validationf("amount must be between %d and %d", domain.MinDealAmount, domain.MaxDealAmount)
	}
	if party == "" {
		party = domain.PartyPersonal
	}
	return o.fees.TotalTransactionCost(amount, party, fees.NormalizeMethod(method))
}

// InitiateDeposit opens the escrow deposit and charges it through the
// gateway. On a gateway failure the failed payment is committed with a
// retry scheduled, and its result is returned together with an error
// wrapping domain.ErrGatewayFailure. A request that finds the deposit
// already processing returns it as a replay without charging again.
func (o *Orchestrator) InitiateDeposit(ctx context.Context, actorID, dealID, method string) (*Result, error) {
	res, err := o.Apply(ctx, actorID, DepositPayment{DealID: dealID, Method: method})
	if err != nil {
		return nil, err
	}
	if res.Replayed || res.Payment == nil || res.Payment.Status != domain.PaymentProcessing {
		return res, nil
	}
	return o.charge(ctx, res)
}

// RetryPayment moves a due payment back to pending and charges it again.
func (o *Orchestrator) RetryPayment(ctx context.Context, paymentID string) (*Result, error) {
	res, err := o.Apply(ctx, domain.SystemActorID, BeginRetry{PaymentID: paymentID})
	if err != nil {
		return nil, err
	}
	return o.charge(ctx, res)
}

// charge captures a payment this caller moved to processing. The outcome is
// committed even when ctx is cancelled after the gateway answered.
func (o *Orchestrator) charge(ctx context.Context, prior *Result) (*Result, error) {
	p := prior.Payment
	if p.Status != domain.PaymentProcessing {
		return nil, domain.InvalidTransitionf("payment %s is %s, not processing", p.PaymentID, p.Status)
	}
	ref, gwErr := o.gateway.Capture(ctx, gateway.CaptureRequest{
		PaymentID:      p.PaymentID,
		OrderID:        p.Gateway.OrderID,
		Method:         string(p.PaymentMethod),
		Amount:         p.Amount.Add(p.Fees.TotalFees),
		IdempotencyKey: captureKey(p),
	})

	var next Event = PaymentCaptured{PaymentID: p.PaymentID, GatewayRef: ref}
	if gwErr != nil {
		zap.L().Warn("gateway capture failed",
			zap.String("deal_id", p.DealID),
			zap.String("payment_id", p.PaymentID),
			zap.Int("retry_count", p.RetryCount),
			zap.Error(gwErr),
		)
		next = PaymentFailed{PaymentID: p.PaymentID, Reason: gwErr.Error()}
	}

	res, err := o.Apply(context.WithoutCancel(ctx), domain.SystemActorID, next)
	if err != nil {
		return nil, err
	}
	res.Intents = append(append([]models.NotificationIntent(nil), prior.Intents...), res.Intents...)
	if gwErr != nil {
		return res, fmt.Errorf("%w: capture %s: %v", domain.ErrGatewayFailure, p.PaymentID, gwErr)
	}
	return res, nil
}

// captureKey is stable for one attempt of an order: the first charge and
// every retry get their own key.
func captureKey(p *models.Payment) string {
	return fmt.Sprintf("%s-%d", p.Gateway.OrderID, p.RetryCount)
}

// ProcessDueRetries charges up to limit failed payments whose retry came due.
func (o *Orchestrator) ProcessDueRetries(ctx context.Context, limit int) ([]*Result, error) {
	due, err := o.store.ListDueRetries(ctx, o.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}
	results := make([]*Result, 0, len(due))
	for _, p := range due {
		res, err := o.RetryPayment(ctx, p.PaymentID)
		if res != nil {
			results = append(results, res)
		}
		if err != nil && !errors.Is(err, domain.ErrGatewayFailure) {
			zap.L().Error("payment retry failed",
				zap.String("payment_id", p.PaymentID),
				zap.Error(err),
			)
		}
	}
	return results, nil
}

// ProcessInspectionTimeouts completes up to limit delivered deals whose
// inspection period elapsed without dispute.
func (o *Orchestrator) ProcessInspectionTimeouts(ctx context.Context, limit int) ([]*Result, error) {
	delivered, err := o.store.ListDealsByStatus(ctx, domain.DealDelivered, limit)
	if err != nil {
		return nil, fmt.Errorf("list delivered deals: %w", err)
	}
	now := o.clock.Now()
	var results []*Result
	for _, deal := range delivered {
		if !InspectionElapsed(deal, now) {
			continue
		}
		res, err := o.Apply(ctx, domain.SystemActorID, InspectionTimeout{DealID: deal.DealID})
		if err != nil {
			zap.L().Error("inspection timeout failed",
				zap.String("deal_id", deal.DealID),
				zap.Error(err),
			)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}
