package service

import (
	"testing"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gateDeal(status domain.DealStatus) *models.Deal {
	return &models.Deal{
		DealID:   "DEAL00000001",
		Buyer:    buyerID,
		Seller:   sellerID,
		Category: domain.CategoryVehicle,
		Status:   status,
	}
}

func TestAuthorizationGate(t *testing.T) {
	buyer := &models.User{ID: buyerID, Role: domain.UserRoleUser}
	seller := &models.User{ID: sellerID, Role: domain.UserRoleUser}
	admin := &models.User{ID: adminID, Role: domain.UserRoleAdmin}
	stranger := &models.User{ID: strangerID, Role: domain.UserRoleUser}

	cases := []struct {
		name    string
		status  domain.DealStatus
		actor   *models.User
		kyc     domain.KYCStatus
		action  domain.Action
		wantErr error
	}{
		{name: "buyer_deposits", status: domain.DealPaymentPending, actor: buyer, kyc: domain.KYCApproved, action: domain.ActionDepositPayment},
		{name: "seller_cannot_deposit", status: domain.DealPaymentPending, actor: seller, kyc: domain.KYCApproved, action: domain.ActionDepositPayment, wantErr: domain.ErrUnauthorized},
		{name: "deposit_needs_seller_kyc", status: domain.DealPaymentPending, actor: buyer, kyc: domain.KYCPending, action: domain.ActionDepositPayment, wantErr: domain.ErrUnauthorized},
		{name: "deposit_wrong_state", status: domain.DealDocumentsPending, actor: buyer, kyc: domain.KYCApproved, action: domain.ActionDepositPayment, wantErr: domain.ErrInvalidTransition},
		{name: "seller_marks_delivered", status: domain.DealFundsDeposited, actor: seller, kyc: domain.KYCApproved, action: domain.ActionMarkDelivered},
		{name: "seller_marks_delivered_in_delivery", status: domain.DealInDelivery, actor: seller, kyc: domain.KYCApproved, action: domain.ActionMarkDelivered},
		{name: "buyer_cannot_mark_delivered", status: domain.DealFundsDeposited, actor: buyer, kyc: domain.KYCApproved, action: domain.ActionMarkDelivered, wantErr: domain.ErrUnauthorized},
		{name: "buyer_confirms", status: domain.DealDelivered, actor: buyer, kyc: domain.KYCApproved, action: domain.ActionConfirmReceipt},
		{name: "confirm_too_early", status: domain.DealInDelivery, actor: buyer, kyc: domain.KYCApproved, action: domain.ActionConfirmReceipt, wantErr: domain.ErrInvalidTransition},
		{name: "dispute_after_deposit", status: domain.DealFundsDeposited, actor: seller, kyc: domain.KYCApproved, action: domain.ActionRaiseDispute},
		{name: "dispute_before_deposit", status: domain.DealPaymentPending, actor: buyer, kyc: domain.KYCApproved, action: domain.ActionRaiseDispute, wantErr: domain.ErrInvalidTransition},
		{name: "stranger_rejected", status: domain.DealCreated, actor: stranger, kyc: domain.KYCApproved, action: domain.ActionSendMessage, wantErr: domain.ErrUnauthorized},
		{name: "terminal_rejects_messages", status: domain.DealCompleted, actor: buyer, kyc: domain.KYCApproved, action: domain.ActionSendMessage, wantErr: domain.ErrInvalidTransition},
		{name: "admin_resolves", status: domain.DealDisputed, actor: admin, kyc: domain.KYCApproved, action: domain.ActionResolveDispute},
		{name: "party_cannot_resolve", status: domain.DealDisputed, actor: buyer, kyc: domain.KYCApproved, action: domain.ActionResolveDispute, wantErr: domain.ErrUnauthorized},
		{name: "resolve_needs_dispute", status: domain.DealDelivered, actor: admin, kyc: domain.KYCApproved, action: domain.ActionResolveDispute, wantErr: domain.ErrInvalidTransition},
		{name: "admin_releases_delivered", status: domain.DealDelivered, actor: admin, kyc: domain.KYCApproved, action: domain.ActionAdminRelease},
		{name: "admin_cannot_release_deposit", status: domain.DealFundsDeposited, actor: admin, kyc: domain.KYCApproved, action: domain.ActionAdminRelease, wantErr: domain.ErrInvalidTransition},
		{name: "upload_while_gating", status: domain.DealKYCPending, actor: seller, kyc: domain.KYCPending, action: domain.ActionUploadDocument},
		{name: "upload_after_gating", status: domain.DealPaymentPending, actor: seller, kyc: domain.KYCApproved, action: domain.ActionUploadDocument, wantErr: domain.ErrInvalidTransition},
		{name: "reminder_by_buyer", status: domain.DealKYCPending, actor: buyer, kyc: domain.KYCPending, action: domain.ActionSendReminder},
		{name: "reminder_without_pending_kyc", status: domain.DealKYCPending, actor: buyer, kyc: domain.KYCNotStarted, action: domain.ActionSendReminder, wantErr: domain.ErrInvalidTransition},
		{name: "unknown_action", status: domain.DealCreated, actor: buyer, kyc: domain.KYCApproved, action: "teleport", wantErr: domain.ErrValidation},
	}

	var gate AuthorizationGate
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			deal := gateDeal(tc.status)
			err := gate.Check(deal, tc.actor, tc.actor.ID, tc.kyc, tc.action)
			if tc.wantErr == nil {
				require.NoError(t, err)
				assert.True(t, gate.CanPerformAction(deal, tc.actor, tc.actor.ID, tc.kyc, tc.action))
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
			assert.False(t, gate.CanPerformAction(deal, tc.actor, tc.actor.ID, tc.kyc, tc.action))
		})
	}
}

func TestAcceptGateAllowsRepeatAfterAcceptance(t *testing.T) {
	var gate AuthorizationGate
	deal := gateDeal(domain.DealDocumentsPending)
	buyer := &models.User{ID: buyerID}

	require.ErrorIs(t, gate.Check(deal, buyer, buyerID, domain.KYCApproved, domain.ActionAcceptDeal), domain.ErrInvalidTransition)

	deal.Workflow.PartiesAccepted.BuyerDone = true
	require.NoError(t, gate.Check(deal, buyer, buyerID, domain.KYCApproved, domain.ActionAcceptDeal))
}

func TestViewRestrictedToPartiesAndAdmins(t *testing.T) {
	f := newFixture(t)
	d := f.createDeal(domain.CategoryFreelancing)

	view, err := f.orch.View(f.ctx, sellerID, d.DealID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSeller, view.Role)
	assert.Equal(t, "Review and accept deal", view.NextAction.Text)
	assert.Len(t, view.Checklist[domain.RoleBuyer], 1)
	assert.Equal(t, 1*100/8, view.Progress)

	view, err = f.orch.View(f.ctx, adminID, d.DealID)
	require.NoError(t, err)
	assert.Empty(t, view.Role)
	assert.Equal(t, "No action required", view.NextAction.Text)

	_, err = f.orch.View(f.ctx, strangerID, d.DealID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.orch.View(f.ctx, sellerID, "DEAL99999999")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQuoteFees(t *testing.T) {
	f := newFixture(t)
	cost, err := f.orch.QuoteFees(domain.Rupees(100000), "", "UPI")
	require.NoError(t, err)
	assert.Equal(t, "2500", cost.EscrowFees.BaseFee.String())
	assert.Equal(t, domain.MethodUPI, cost.GatewayFees.Method)
	assert.True(t, cost.Breakdown.GrandTotal.GreaterThan(domain.Rupees(100000)))

	_, err = f.orch.QuoteFees(domain.Rupees(10), domain.PartyPersonal, "upi")
	require.ErrorIs(t, err, domain.ErrValidation)
}
