package service

import (
	"github.com/ayo6706/deal-escrow/internal/documents"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
)

type NextAction struct {
	Text            string `json:"text"`
	CanSendReminder bool   `json:"can_send_reminder"`
}

// NextStep derives what userID should do next. It reads only the deal and
// the seller's KYC verdict.
func NextStep(deal *models.Deal, userID string, sellerKYC domain.KYCStatus) NextAction {
	role, isParty := deal.RoleOf(userID)

	switch deal.Status {
	case domain.DealCompleted:
		return NextAction{Text: "Deal completed"}
	case domain.DealCancelled:
		return NextAction{Text: "Deal cancelled"}
	case domain.DealRefunded:
		return NextAction{Text: "Deal refunded"}
	case domain.DealDisputed:
		return NextAction{Text: "Dispute under review"}
	}
	if !isParty {
		return NextAction{Text: "No action required"}
	}

	switch deal.Status {
	case domain.DealCreated:
		if deal.Workflow.PartiesAccepted.Has(role) {
			return NextAction{Text: "Waiting for counterparty acceptance"}
		}
		return NextAction{Text: "Review and accept deal"}
	case domain.DealAccepted, domain.DealKYCPending:
		if sellerKYC != domain.KYCApproved {
			if role == domain.RoleSeller {
				return NextAction{Text: "Complete KYC verification"}
			}
			if sellerKYC == domain.KYCPending {
				return NextAction{Text: "Waiting for seller KYC approval — Send reminder", CanSendReminder: true}
			}
			return NextAction{Text: "Waiting for seller KYC approval"}
		}
		return documentsStep(deal, role)
	case domain.DealDocumentsPending:
		return documentsStep(deal, role)
	case domain.DealContractPending:
		if deal.Workflow.ContractSigned.Has(role) {
			return NextAction{Text: "Waiting for counterparty signature"}
		}
		return NextAction{Text: "Sign contract"}
	case domain.DealPaymentPending:
		if role == domain.RoleBuyer {
			return NextAction{Text: "Deposit payment into escrow"}
		}
		return NextAction{Text: "Waiting for buyer payment"}
	case domain.DealFundsDeposited, domain.DealInDelivery:
		if role == domain.RoleBuyer {
			return NextAction{Text: "Waiting for delivery"}
		}
		return NextAction{Text: "Mark as delivered"}
	case domain.DealDelivered:
		if role == domain.RoleBuyer {
			return NextAction{Text: "Confirm receipt"}
		}
		return NextAction{Text: "Waiting for buyer confirmation"}
	}
	return NextAction{}
}

func documentsStep(deal *models.Deal, role domain.Role) NextAction {
	if len(documents.Missing(deal, role)) > 0 {
		return NextAction{Text: "Upload required documents"}
	}
	return NextAction{Text: "Waiting for counterparty documents"}
}

// MilestoneTotal is the number of workflow milestones that apply to category.
func MilestoneTotal(category domain.Category) int {
	if category.RequiresContract() {
		return 8
	}
	return 7
}

// Progress is the percentage of applicable milestones completed. Milestones
// are never cleared, so it never decreases.
func Progress(deal *models.Deal) int {
	w := deal.Workflow
	done := 0
	for _, ok := range []bool{
		w.DealCreated.Completed,
		w.PartiesAccepted.Completed,
		w.KYCCompleted.Completed,
		w.DocumentsUploaded.Completed,
		w.PaymentDeposited.Completed,
		w.Delivered.Completed,
		w.Confirmed.Completed,
	} {
		if ok {
			done++
		}
	}
	if deal.Category.RequiresContract() && w.ContractSigned.Completed {
		done++
	}
	total := MilestoneTotal(deal.Category)
	if done >= total {
		return 100
	}
	return done * 100 / total
}
