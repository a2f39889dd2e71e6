package service

import (
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
)

// AuthorizationGate decides whether an actor may attempt an action on a deal.
// Denials wrap domain.ErrUnauthorized for identity or KYC failures and
// domain.ErrInvalidTransition when the deal is in the wrong state.
type AuthorizationGate struct{}

func (AuthorizationGate) Check(deal *models.Deal, actor *models.User, actorID string, sellerKYC domain.KYCStatus, action domain.Action) error {
	switch action {
	case domain.ActionResolveDispute, domain.ActionAdminRelease, domain.ActionVerifyDocument:
		if !actor.IsAdmin() {
			return domain.Unauthorizedf("%s requires an administrator", action)
		}
		return adminStateCheck(deal, action)
	}

	role, ok := deal.RoleOf(actorID)
	if !ok {
		return domain.Unauthorizedf("user %s is not a party to deal %s", actorID, deal.DealID)
	}
	if deal.Status.Terminal() {
		return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
	}

	switch action {
	case domain.ActionAcceptDeal:
		if deal.Status != domain.DealCreated && !deal.Workflow.PartiesAccepted.Has(role) {
			return domain.InvalidTransitionf("deal %s is no longer awaiting acceptance", deal.DealID)
		}
	case domain.ActionUploadDocument:
		if !acceptsDocuments(deal.Status) {
			return domain.InvalidTransitionf("deal %s no longer accepts documents", deal.DealID)
		}
	case domain.ActionSignContract:
		if deal.Status != domain.DealContractPending && !deal.Workflow.ContractSigned.Has(role) {
			return domain.InvalidTransitionf("deal %s is not awaiting signatures", deal.DealID)
		}
	case domain.ActionDepositPayment:
		if role != domain.RoleBuyer {
			return domain.Unauthorizedf("only the buyer can deposit payment")
		}
		if sellerKYC != domain.KYCApproved {
			return domain.Unauthorizedf("seller KYC is not approved")
		}
		if deal.Status != domain.DealPaymentPending {
			return domain.InvalidTransitionf("deal %s is not awaiting payment", deal.DealID)
		}
	case domain.ActionStartDelivery:
		if role != domain.RoleSeller {
			return domain.Unauthorizedf("only the seller can start delivery")
		}
		if deal.Status != domain.DealFundsDeposited {
			return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
		}
	case domain.ActionMarkDelivered:
		if role != domain.RoleSeller {
			return domain.Unauthorizedf("only the seller can mark delivery")
		}
		if deal.Status != domain.DealFundsDeposited && deal.Status != domain.DealInDelivery {
			return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
		}
	case domain.ActionConfirmReceipt:
		if role != domain.RoleBuyer {
			return domain.Unauthorizedf("only the buyer can confirm receipt")
		}
		if deal.Status != domain.DealDelivered {
			return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
		}
	case domain.ActionRaiseDispute:
		if !isDisputable(deal.Status) {
			return domain.InvalidTransitionf("deal %s cannot be disputed from %s", deal.DealID, deal.Status)
		}
	case domain.ActionCancelDeal:
		if !isCancellable(deal.Status) {
			return domain.InvalidTransitionf("deal %s cannot be cancelled from %s", deal.DealID, deal.Status)
		}
	case domain.ActionSendReminder:
		if !NextStep(deal, actorID, sellerKYC).CanSendReminder {
			return domain.InvalidTransitionf("no reminder can be sent for deal %s", deal.DealID)
		}
	case domain.ActionSendMessage:
	default:
		return domain.Validationf("unknown action %q", action)
	}
	return nil
}

func adminStateCheck(deal *models.Deal, action domain.Action) error {
	switch action {
	case domain.ActionResolveDispute:
		if deal.Status != domain.DealDisputed {
			return domain.InvalidTransitionf("deal %s has no open dispute", deal.DealID)
		}
	case domain.ActionAdminRelease:
		if deal.Status != domain.DealInDelivery && deal.Status != domain.DealDelivered {
			return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
		}
	case domain.ActionVerifyDocument:
		if deal.Status.Terminal() {
			return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
		}
	}
	return nil
}

// CanPerformAction is the boolean form of Check.
func (g AuthorizationGate) CanPerformAction(deal *models.Deal, actor *models.User, actorID string, sellerKYC domain.KYCStatus, action domain.Action) bool {
	return g.Check(deal, actor, actorID, sellerKYC, action) == nil
}
