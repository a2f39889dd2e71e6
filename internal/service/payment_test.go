package service

import (
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 5*time.Minute, p.Backoff(0))
	assert.Equal(t, 10*time.Minute, p.Backoff(1))
	assert.Equal(t, 20*time.Minute, p.Backoff(2))
	assert.Equal(t, 40*time.Minute, p.Backoff(3))
	assert.Equal(t, time.Hour, p.Backoff(4))
	assert.Equal(t, time.Hour, p.Backoff(30))
}

func TestInitiateDepositCapturesThroughGateway(t *testing.T) {
	f := newFixture(t)
	d := f.toPaymentPending(domain.CategoryVehicle)
	f.gw.set("CAP-777", nil)

	res, err := f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "UPI")
	require.NoError(t, err)
	require.NotNil(t, res.Payment)

	p := res.Payment
	assert.Equal(t, "PAY00000001", p.PaymentID)
	assert.Equal(t, domain.PaymentCaptured, p.Status)
	assert.Equal(t, domain.MethodUPI, p.PaymentMethod)
	assert.Equal(t, "CAP-777", p.Gateway.TransactionID)
	assert.True(t, p.Amount.Equal(d.Amount))
	require.NotNil(t, p.CapturedAt)
	assert.Equal(t, p.CapturedAt, p.Escrow.HoldStartDate)
	assert.True(t, p.IsInEscrow())

	assert.Equal(t, domain.DealFundsDeposited, res.Deal.Status)
	assert.True(t, res.Deal.Workflow.PaymentDeposited.Completed)
	assert.Equal(t, 1, f.gw.captures)
	assert.Equal(t, []string{
		models.TemplatePaymentInitiated,
		models.TemplatePaymentCaptured,
		models.TemplatePaymentCaptured,
	}, templates(res.Intents))

	audit, err := f.store.AuditLog(f.ctx, "payment", p.PaymentID)
	require.NoError(t, err)
	require.Len(t, audit, 4)
	assert.Equal(t, "create", audit[0].Action)
	assert.Equal(t, "submit", audit[1].Action)
	assert.Equal(t, "processing", audit[2].Action)
	assert.Equal(t, "capture", audit[3].Action)
	assert.Equal(t, []string{p.Gateway.OrderID + "-0"}, f.gw.captureKeys())
}

func TestConcurrentDepositChargesOnce(t *testing.T) {
	f := newFixture(t)
	d := f.toPaymentPending(domain.CategoryVehicle)
	f.gw.set("CAP-ONCE", nil)

	// A second deposit lands while the first is still at the gateway.
	var second *Result
	var secondErr error
	f.gw.onCapture = func() {
		second, secondErr = f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "upi")
	}

	first, err := f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "upi")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCaptured, first.Payment.Status)
	assert.Equal(t, domain.DealFundsDeposited, first.Deal.Status)

	require.NoError(t, secondErr)
	require.NotNil(t, second)
	assert.True(t, second.Replayed)
	assert.Equal(t, domain.PaymentProcessing, second.Payment.Status)
	assert.Equal(t, first.Payment.PaymentID, second.Payment.PaymentID)
	assert.Equal(t, 1, f.gw.captures)

	_, err = f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "upi")
	require.ErrorIs(t, err, domain.ErrAlreadyCaptured)
	assert.Equal(t, 1, f.gw.captures)
	assert.Equal(t, []string{first.Payment.Gateway.OrderID + "-0"}, f.gw.captureKeys())
}

func TestProcessingDepositSettledByWebhook(t *testing.T) {
	f := newFixture(t)
	d := f.toPaymentPending(domain.CategoryVehicle)

	// Apply claims the charge without calling the gateway, as a request
	// that died mid-charge would leave it.
	res := f.apply(buyerID, DepositPayment{DealID: d.DealID, Method: "card"})
	require.Equal(t, domain.PaymentProcessing, res.Payment.Status)
	assert.Zero(t, f.gw.captures)

	res = f.apply(domain.SystemActorID, PaymentCaptured{PaymentID: res.Payment.PaymentID, GatewayRef: "CAP-HOOK"})
	assert.Equal(t, domain.PaymentCaptured, res.Payment.Status)
	assert.Equal(t, domain.DealFundsDeposited, res.Deal.Status)
	assert.Zero(t, f.gw.captures)
}

func TestDepositRequiresPaymentPending(t *testing.T) {
	f := newFixture(t)
	d := f.createDeal(domain.CategoryVehicle)
	_, err := f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "card")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	d = f.toPaymentPending(domain.CategoryVehicle)
	_, err = f.orch.InitiateDeposit(f.ctx, sellerID, d.DealID, "card")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Zero(t, f.gw.captures)
}

func TestDepositBlockedWhenSellerKYCRevoked(t *testing.T) {
	f := newFixture(t)
	d := f.toPaymentPending(domain.CategoryDomain)
	f.setSellerKYC(domain.KYCRejected)

	_, err := f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "card")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCaptureIsIdempotentPerGatewayReference(t *testing.T) {
	f := newFixture(t)
	d, p := f.toFundsDeposited(domain.CategoryVehicle)
	ref := p.Gateway.TransactionID

	again := f.apply(domain.SystemActorID, PaymentCaptured{PaymentID: p.PaymentID, GatewayRef: ref})
	assert.True(t, again.Replayed)
	assert.Empty(t, again.Intents)

	deposit := f.apply(buyerID, DepositPayment{DealID: d.DealID, Method: "upi", GatewayRef: ref})
	assert.True(t, deposit.Replayed)
	assert.Equal(t, p.PaymentID, deposit.Payment.PaymentID)

	_, err := f.orch.Apply(f.ctx, domain.SystemActorID, PaymentCaptured{PaymentID: p.PaymentID, GatewayRef: "OTHER"})
	require.ErrorIs(t, err, domain.ErrAlreadyCaptured)

	_, err = f.orch.Apply(f.ctx, buyerID, PaymentCaptured{PaymentID: p.PaymentID, GatewayRef: ref})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	stored, err := f.store.GetPayment(f.ctx, p.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, p.Version, stored.Version)
	assert.Equal(t, domain.DealFundsDeposited, f.deal(d.DealID).Status)
}

func TestGatewayFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	d := f.toPaymentPending(domain.CategoryVehicle)
	f.gw.set("", errors.New("card declined"))

	res, err := f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "card")
	require.ErrorIs(t, err, domain.ErrGatewayFailure)
	require.NotNil(t, res)

	p := res.Payment
	assert.Equal(t, domain.PaymentFailed, p.Status)
	assert.Equal(t, "card declined", p.FailureReason)
	assert.Equal(t, 1, p.RetryCount)
	require.NotNil(t, p.NextRetryAt)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *p.NextRetryAt)
	assert.Equal(t, domain.DealPaymentPending, res.Deal.Status)
	assert.Contains(t, templates(res.Intents), models.TemplatePaymentFailed)

	results, err := f.orch.ProcessDueRetries(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	f.clock.Advance(5 * time.Minute)
	f.gw.set("CAP-RETRY", nil)
	results, err = f.orch.ProcessDueRetries(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.PaymentCaptured, results[0].Payment.Status)
	assert.Equal(t, "CAP-RETRY", results[0].Payment.Gateway.TransactionID)
	assert.Equal(t, domain.DealFundsDeposited, f.deal(d.DealID).Status)
	assert.Equal(t, 2, f.gw.captures)

	order := p.Gateway.OrderID
	assert.Equal(t, []string{order + "-0", order + "-1"}, f.gw.captureKeys())
}

func TestRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	d := f.toPaymentPending(domain.CategoryVehicle)
	f.gw.set("", errors.New("insufficient funds"))

	res, err := f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "netbanking")
	require.ErrorIs(t, err, domain.ErrGatewayFailure)
	paymentID := res.Payment.PaymentID

	var last *Result
	for _, wait := range []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute} {
		f.clock.Advance(wait)
		results, err := f.orch.ProcessDueRetries(f.ctx, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		last = results[0]
	}

	p := last.Payment
	assert.Equal(t, domain.PaymentFailed, p.Status)
	assert.Equal(t, p.MaxRetries, p.RetryCount)
	assert.Nil(t, p.NextRetryAt)
	assert.Contains(t, templates(last.Intents), models.TemplatePaymentRetryFailed)
	assert.Equal(t, 4, f.gw.captures)

	f.clock.Advance(24 * time.Hour)
	results, err := f.orch.ProcessDueRetries(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = f.orch.RetryPayment(f.ctx, paymentID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// A fresh deposit supersedes the exhausted one.
	f.gw.set("CAP-NEW", nil)
	res, err = f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "upi")
	require.NoError(t, err)
	assert.Equal(t, "PAY00000002", res.Payment.PaymentID)
	assert.Equal(t, domain.PaymentCaptured, res.Payment.Status)

	old, err := f.store.GetPayment(f.ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCancelled, old.Status)
}

func TestConfirmReceiptReleasesFunds(t *testing.T) {
	f := newFixture(t)
	d, p := f.toDelivered(domain.CategoryVehicle)

	_, err := f.orch.Apply(f.ctx, sellerID, ConfirmReceipt{DealID: d.DealID})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	res := f.apply(buyerID, ConfirmReceipt{DealID: d.DealID})
	assert.Equal(t, domain.DealCompleted, res.Deal.Status)
	assert.True(t, res.Deal.Workflow.Confirmed.Completed)
	require.NotNil(t, res.Payment)
	assert.Equal(t, p.PaymentID, res.Payment.PaymentID)
	require.NotNil(t, res.Payment.Escrow.ReleaseDate)
	assert.Equal(t, domain.ReleaseBuyerConfirmed, res.Payment.Escrow.ReleaseReason)
	assert.Equal(t, buyerID, res.Payment.Escrow.ReleasedBy)
	assert.False(t, res.Payment.IsInEscrow())
	assert.Contains(t, templates(res.Intents), models.TemplateFundsReleased)
	assert.Equal(t, 100, Progress(res.Deal))

	_, err = f.orch.Apply(f.ctx, buyerID, ConfirmReceipt{DealID: d.DealID})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestInspectionTimeoutReleasesFunds(t *testing.T) {
	f := newFixture(t)
	d, _ := f.toDelivered(domain.CategoryOther)

	results, err := f.orch.ProcessInspectionTimeouts(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = f.orch.Apply(f.ctx, domain.SystemActorID, InspectionTimeout{DealID: d.DealID})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.orch.Apply(f.ctx, buyerID, InspectionTimeout{DealID: d.DealID})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	f.clock.Advance(time.Duration(d.InspectionPeriod) * 24 * time.Hour)
	results, err = f.orch.ProcessInspectionTimeouts(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.DealCompleted, results[0].Deal.Status)
	assert.Equal(t, domain.ReleaseTimeout, results[0].Payment.Escrow.ReleaseReason)
	assert.Equal(t, domain.SystemActorID, results[0].Deal.Workflow.Confirmed.CompletedBy)
}

func TestInspectionTimeoutSkipsDisputedDeals(t *testing.T) {
	f := newFixture(t)
	d, _ := f.toDelivered(domain.CategoryVehicle)
	f.apply(buyerID, RaiseDispute{DealID: d.DealID, Reason: "scratches not disclosed"})

	f.clock.Advance(60 * 24 * time.Hour)
	results, err := f.orch.ProcessInspectionTimeouts(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, domain.DealDisputed, f.deal(d.DealID).Status)
}

func TestAdminRelease(t *testing.T) {
	f := newFixture(t)
	d, _ := f.toFundsDeposited(domain.CategoryVehicle)

	_, err := f.orch.Apply(f.ctx, adminID, AdminRelease{DealID: d.DealID, Note: "too early"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	f.apply(sellerID, StartDelivery{DealID: d.DealID})
	_, err = f.orch.Apply(f.ctx, buyerID, AdminRelease{DealID: d.DealID})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	res := f.apply(adminID, AdminRelease{DealID: d.DealID, Note: "courier confirmed delivery"})
	assert.Equal(t, domain.DealCompleted, res.Deal.Status)
	assert.True(t, res.Deal.Workflow.Delivered.Completed)
	assert.Equal(t, domain.ReleaseAdminRelease, res.Payment.Escrow.ReleaseReason)
}

func TestDisputeRefundRunsOnce(t *testing.T) {
	f := newFixture(t)
	d, p := f.toFundsDeposited(domain.CategoryVehicle)

	_, err := f.orch.Apply(f.ctx, buyerID, RaiseDispute{DealID: d.DealID})
	require.ErrorIs(t, err, domain.ErrValidation)

	res := f.apply(buyerID, RaiseDispute{DealID: d.DealID, Reason: "item not as described", Details: "engine noise"})
	assert.Equal(t, domain.DealDisputed, res.Deal.Status)
	require.NotNil(t, res.Deal.Dispute)
	assert.Equal(t, models.DisputeOpen, res.Deal.Dispute.Status)
	assert.Equal(t, domain.PaymentDisputed, res.Payment.Status)
	assert.Equal(t, []string{models.TemplateDisputeRaised}, templates(res.Intents))
	assert.Equal(t, sellerID, res.Intents[0].Recipient)

	_, err = f.orch.Apply(f.ctx, buyerID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealRefunded})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	f.gw.refundRef = "RFD-42"
	res = f.apply(adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealRefunded, Resolution: "seller misrepresented condition"})
	assert.Equal(t, domain.DealRefunded, res.Deal.Status)
	assert.Equal(t, models.DisputeResolved, res.Deal.Dispute.Status)
	assert.Equal(t, adminID, res.Deal.Dispute.ResolvedBy)
	assert.Equal(t, domain.PaymentRefunded, res.Payment.Status)
	assert.True(t, res.Payment.Refund.RefundAmount.Equal(p.Amount))
	assert.Equal(t, "RFD-42", res.Payment.Refund.RefundTransactionID)
	assert.Contains(t, templates(res.Intents), models.TemplateRefundProcessed)
	assert.Equal(t, 1, f.gw.refunds)

	again := f.apply(adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealRefunded, Resolution: "seller misrepresented condition"})
	assert.True(t, again.Replayed)
	assert.Empty(t, again.Intents)
	assert.Equal(t, 1, f.gw.refunds)
	assert.Equal(t, res.Deal.Version, f.deal(d.DealID).Version)

	_, err = f.orch.Apply(f.ctx, buyerID, CancelDeal{DealID: d.DealID})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDisputeRefundGatewayFailureLeavesDealDisputed(t *testing.T) {
	f := newFixture(t)
	d, p := f.toFundsDeposited(domain.CategoryVehicle)
	f.apply(sellerID, RaiseDispute{DealID: d.DealID, Reason: "buyer unreachable"})
	f.gw.refundErr = errors.New("gateway timeout")

	_, err := f.orch.Apply(f.ctx, adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealRefunded})
	require.ErrorIs(t, err, domain.ErrGatewayFailure)

	assert.Equal(t, domain.DealDisputed, f.deal(d.DealID).Status)
	stored, err := f.store.GetPayment(f.ctx, p.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentDisputed, stored.Status)
	assert.False(t, stored.RefundInFlight())

	audit, err := f.store.AuditLog(f.ctx, "payment", p.PaymentID)
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.Equal(t, "refund_failed", audit[len(audit)-1].Action)

	// The released reservation lets a later attempt through.
	f.gw.mu.Lock()
	f.gw.refundErr = nil
	f.gw.mu.Unlock()
	res := f.apply(adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealRefunded})
	assert.Equal(t, domain.DealRefunded, res.Deal.Status)
	assert.Equal(t, domain.PaymentRefunded, res.Payment.Status)
	assert.Equal(t, 2, f.gw.refunds)
}

func TestConcurrentDisputeRefundRefundsOnce(t *testing.T) {
	f := newFixture(t)
	d, p := f.toFundsDeposited(domain.CategoryVehicle)
	f.apply(buyerID, RaiseDispute{DealID: d.DealID, Reason: "wrong model"})

	// Two more resolutions arrive while the first refund is at the gateway.
	var refundErr, releaseErr error
	f.gw.onRefund = func() {
		_, refundErr = f.orch.Apply(f.ctx, adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealRefunded})
		_, releaseErr = f.orch.Apply(f.ctx, adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealCompleted})
	}

	res := f.apply(adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealRefunded, Resolution: "refund buyer"})
	assert.Equal(t, domain.DealRefunded, res.Deal.Status)
	assert.Equal(t, domain.PaymentRefunded, res.Payment.Status)
	assert.Equal(t, "RFD-1", res.Payment.Refund.RefundTransactionID)
	assert.False(t, res.Payment.RefundInFlight())

	require.ErrorIs(t, refundErr, domain.ErrInvalidTransition)
	require.ErrorIs(t, releaseErr, domain.ErrInvalidTransition)
	assert.Equal(t, 1, f.gw.refunds)
	require.Len(t, f.gw.refundReqs, 1)
	assert.Equal(t, "refund-"+p.PaymentID, f.gw.refundReqs[0].IdempotencyKey)

	again := f.apply(adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealRefunded})
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, f.gw.refunds)
}

func TestDisputeResolvedInFavourOfSeller(t *testing.T) {
	f := newFixture(t)
	d, _ := f.toDelivered(domain.CategoryVehicle)
	f.apply(buyerID, RaiseDispute{DealID: d.DealID, Reason: "late delivery"})

	res := f.apply(adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealCompleted, Resolution: "delivered as agreed"})
	assert.Equal(t, domain.DealCompleted, res.Deal.Status)
	assert.Equal(t, domain.PaymentCaptured, res.Payment.Status)
	assert.Equal(t, domain.ReleaseDisputeResolved, res.Payment.Escrow.ReleaseReason)
	assert.Contains(t, templates(res.Intents), models.TemplateFundsReleased)
	assert.Zero(t, f.gw.refunds)
}

func TestDisputeResolvedBackToDelivery(t *testing.T) {
	f := newFixture(t)
	d, _ := f.toFundsDeposited(domain.CategoryVehicle)
	f.apply(buyerID, RaiseDispute{DealID: d.DealID, Reason: "no tracking number"})

	res := f.apply(adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealInDelivery, Resolution: "tracking shared"})
	assert.Equal(t, domain.DealInDelivery, res.Deal.Status)
	assert.Equal(t, domain.PaymentCaptured, res.Payment.Status)
	assert.True(t, res.Payment.IsInEscrow())

	_, err := f.orch.Apply(f.ctx, adminID, ResolveDispute{DealID: d.DealID, Outcome: domain.DealCancelled})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	res = f.apply(sellerID, MarkDelivered{DealID: d.DealID})
	assert.Equal(t, domain.DealDelivered, res.Deal.Status)
}

func TestCancelDealCancelsOpenPayments(t *testing.T) {
	f := newFixture(t)
	d := f.toPaymentPending(domain.CategoryVehicle)
	f.gw.set("", errors.New("card declined"))
	res, err := f.orch.InitiateDeposit(f.ctx, buyerID, d.DealID, "card")
	require.ErrorIs(t, err, domain.ErrGatewayFailure)

	// payment_pending is past the cancellable window.
	_, err = f.orch.Apply(f.ctx, buyerID, CancelDeal{DealID: d.DealID})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	f.forceStatus(d.DealID, domain.DealDocumentsPending)
	f.apply(buyerID, CancelDeal{DealID: d.DealID, Reason: "financing fell through"})

	stored, err := f.store.GetPayment(f.ctx, res.Payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCancelled, stored.Status)
	assert.Nil(t, stored.NextRetryAt)
}

func newPayment(status domain.PaymentStatus) *models.Payment {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.Payment{
		PaymentID:   "PAY1",
		DealID:      "DEAL1",
		Amount:      decimal.NewFromInt(50000),
		PaymentType: domain.PaymentEscrowDeposit,
		Status:      status,
		MaxRetries:  domain.DefaultMaxRetries,
		CapturedAt:  &now,
	}
}

func TestRefundRules(t *testing.T) {
	m := NewPaymentStateMachine(newFakeClock(), DefaultRetryPolicy())

	p := newPayment(domain.PaymentCaptured)
	require.NoError(t, m.Refund(p, adminID, decimal.NewFromInt(50000), "full", "R1"))
	assert.Equal(t, domain.PaymentRefunded, p.Status)
	require.NotNil(t, p.RefundedAt)
	assert.Equal(t, p.RefundedAt, p.Refund.RefundDate)
	require.ErrorIs(t, m.Refund(p, adminID, decimal.NewFromInt(1), "again", "R2"), domain.ErrAlreadyRefunded)

	p = newPayment(domain.PaymentDisputed)
	require.NoError(t, m.Refund(p, adminID, decimal.NewFromInt(20000), "partial", "R3"))
	assert.Equal(t, domain.PaymentPartiallyRefunded, p.Status)
	require.ErrorIs(t, m.Refund(p, adminID, decimal.NewFromInt(30000), "rest", "R4"), domain.ErrAlreadyRefunded)

	p = newPayment(domain.PaymentCaptured)
	require.ErrorIs(t, m.Refund(p, adminID, decimal.NewFromInt(50001), "too much", "R5"), domain.ErrValidation)
	require.ErrorIs(t, m.Refund(p, adminID, decimal.Zero, "nothing", "R6"), domain.ErrValidation)

	released := time.Now()
	p.Escrow.ReleaseDate = &released
	require.ErrorIs(t, m.Refund(p, adminID, decimal.NewFromInt(100), "late", "R7"), domain.ErrInvalidTransition)

	p = newPayment(domain.PaymentPending)
	require.ErrorIs(t, m.Refund(p, adminID, decimal.NewFromInt(100), "early", "R8"), domain.ErrInvalidTransition)
}

func TestRefundReservation(t *testing.T) {
	m := NewPaymentStateMachine(newFakeClock(), DefaultRetryPolicy())
	deal := &models.Deal{DealID: "DEAL1"}

	p := newPayment(domain.PaymentDisputed)
	require.NoError(t, m.RequestRefund(p, adminID, "seller misrepresented"))
	assert.True(t, p.RefundInFlight())
	assert.Equal(t, adminID, p.Refund.RequestedBy)
	require.ErrorIs(t, m.RequestRefund(p, adminID, "again"), domain.ErrInvalidTransition)

	require.NoError(t, m.AbandonRefund(p, adminID, "gateway timeout"))
	assert.False(t, p.RefundInFlight())
	require.ErrorIs(t, m.AbandonRefund(p, adminID, "twice"), domain.ErrInvalidTransition)

	require.NoError(t, m.RequestRefund(p, adminID, "retry"))
	require.NoError(t, m.Refund(p, adminID, p.Amount, "retry", "R1"))
	assert.False(t, p.RefundInFlight())
	assert.NotNil(t, p.Refund.RequestedAt)
	require.ErrorIs(t, m.RequestRefund(p, adminID, "after refund"), domain.ErrAlreadyRefunded)

	held := newPayment(domain.PaymentCaptured)
	require.NoError(t, m.RequestRefund(held, adminID, "hold"))
	require.ErrorIs(t, m.Release(held, deal, adminID, domain.ReleaseAdminRelease), domain.ErrInvalidTransition)

	actions := make([]string, 0, p.AuditTrail.Len())
	for _, e := range p.AuditTrail.Entries() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"refund_requested", "refund_failed", "refund_requested", "refund"}, actions)
}

func TestReleaseRules(t *testing.T) {
	clock := newFakeClock()
	m := NewPaymentStateMachine(clock, DefaultRetryPolicy())
	delivered := clock.Now()
	deal := &models.Deal{DealID: "DEAL1", InspectionPeriod: 2}
	deal.Workflow.Delivered.Mark(delivered, sellerID)

	p := newPayment(domain.PaymentCaptured)
	require.ErrorIs(t, m.Release(p, deal, domain.SystemActorID, domain.ReleaseTimeout), domain.ErrInvalidTransition)
	require.ErrorIs(t, m.Release(p, deal, adminID, "whim"), domain.ErrValidation)

	clock.Advance(48 * time.Hour)
	require.NoError(t, m.Release(p, deal, domain.SystemActorID, domain.ReleaseTimeout))
	assert.NotNil(t, p.Escrow.ReleaseDate)
	require.ErrorIs(t, m.Release(p, deal, adminID, domain.ReleaseAdminRelease), domain.ErrInvalidTransition)

	p = newPayment(domain.PaymentDisputed)
	require.ErrorIs(t, m.Release(p, deal, adminID, domain.ReleaseAdminRelease), domain.ErrInvalidTransition)
}

func TestCaptureRules(t *testing.T) {
	m := NewPaymentStateMachine(newFakeClock(), DefaultRetryPolicy())
	p := newPayment(domain.PaymentPending)
	p.CapturedAt = nil

	require.ErrorIs(t, m.Capture(p, "", buyerID), domain.ErrValidation)
	require.NoError(t, m.Capture(p, "CAP-1", domain.SystemActorID))
	first := *p.CapturedAt
	require.ErrorIs(t, m.Capture(p, "CAP-1", domain.SystemActorID), domain.ErrAlreadyCaptured)
	assert.Equal(t, first, *p.CapturedAt)

	failed := newPayment(domain.PaymentFailed)
	failed.CapturedAt = nil
	require.ErrorIs(t, m.Capture(failed, "CAP-2", domain.SystemActorID), domain.ErrInvalidTransition)
}

func TestPaymentTransitionTable(t *testing.T) {
	assert.True(t, canTransitionPayment(domain.PaymentFailed, domain.PaymentPending))
	assert.True(t, canTransitionPayment(domain.PaymentDisputed, domain.PaymentCaptured))
	assert.False(t, canTransitionPayment(domain.PaymentRefunded, domain.PaymentCaptured))
	assert.False(t, canTransitionPayment(domain.PaymentCancelled, domain.PaymentPending))
	assert.False(t, canTransitionPayment(domain.PaymentInitiated, domain.PaymentCaptured))
}

func TestPaymentVisibleToPartiesOnly(t *testing.T) {
	f := newFixture(t)
	_, p := f.toFundsDeposited(domain.CategoryDomain)

	for _, id := range []string{buyerID, sellerID, adminID} {
		got, err := f.orch.Payment(f.ctx, id, p.PaymentID)
		require.NoError(t, err, id)
		assert.Equal(t, domain.PaymentCaptured, got.Status)
	}

	_, err := f.orch.Payment(f.ctx, strangerID, p.PaymentID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.orch.Payment(f.ctx, buyerID, "PAY99999999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
