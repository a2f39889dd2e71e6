package service

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ayo6706/deal-escrow/internal/documents"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
)

// DealStateMachine applies deal transitions in memory. Callers own
// persistence; every method mutates only the deal it is given and appends
// one audit entry per status hop.
type DealStateMachine struct {
	clock Clock
}

func NewDealStateMachine(clock Clock) *DealStateMachine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &DealStateMachine{clock: clock}
}

func (m *DealStateMachine) transition(deal *models.Deal, next domain.DealStatus, action, actor, details string) error {
	current := deal.Status
	if current == next {
		return nil
	}
	if !canTransitionDeal(current, next) {
		return domain.InvalidTransitionf("deal %s: %s -> %s", deal.DealID, current, next)
	}
	deal.Status = next
	deal.Record(action, actor, m.clock.Now(), details, current, next)
	return nil
}

func partyRole(deal *models.Deal, actorID string) (domain.Role, error) {
	role, ok := deal.RoleOf(actorID)
	if !ok {
		return "", domain.Unauthorizedf("user %s is not a party to deal %s", actorID, deal.DealID)
	}
	return role, nil
}

// Accept records the caller's acceptance. It reports false when the caller
// had already accepted. The deal becomes accepted once both flags are set.
func (m *DealStateMachine) Accept(deal *models.Deal, actorID string) (bool, error) {
	role, err := partyRole(deal, actorID)
	if err != nil {
		return false, err
	}
	if deal.Workflow.PartiesAccepted.Has(role) {
		return false, nil
	}
	if deal.Status != domain.DealCreated {
		return false, domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
	}

	now := m.clock.Now()
	deal.Workflow.PartiesAccepted.Set(role, now)
	if !deal.Workflow.PartiesAccepted.Completed {
		deal.Record(string(domain.ActionAcceptDeal), actorID, now, fmt.Sprintf("%s accepted", role), deal.Status, deal.Status)
		return true, nil
	}
	if err := m.transition(deal, domain.DealAccepted, string(domain.ActionAcceptDeal), actorID, fmt.Sprintf("%s accepted; both parties accepted", role)); err != nil {
		return false, err
	}
	deal.AddSystemMessage("Both parties have accepted the deal", now)
	return true, nil
}

// AdvanceGates moves the deal through the KYC, documents and contract gates
// as far as the current facts allow and returns every status reached.
func (m *DealStateMachine) AdvanceGates(deal *models.Deal, sellerKYC domain.KYCStatus, actorID string) ([]domain.DealStatus, error) {
	var reached []domain.DealStatus
	for {
		next, ok := m.gateTarget(deal, sellerKYC)
		if !ok {
			return reached, nil
		}
		now := m.clock.Now()
		switch next {
		case domain.DealDocumentsPending:
			deal.Workflow.KYCCompleted.Mark(now, deal.Seller)
		case domain.DealPaymentPending, domain.DealContractPending:
			if deal.Status == domain.DealDocumentsPending {
				deal.Workflow.DocumentsUploaded.Mark(now, actorID)
			}
		}
		if err := m.transition(deal, next, "gate_check", actorID, gateDetails(next)); err != nil {
			return reached, err
		}
		reached = append(reached, next)
	}
}

func (m *DealStateMachine) gateTarget(deal *models.Deal, sellerKYC domain.KYCStatus) (domain.DealStatus, bool) {
	switch deal.Status {
	case domain.DealAccepted:
		if sellerKYC == domain.KYCApproved {
			return domain.DealDocumentsPending, true
		}
		return domain.DealKYCPending, true
	case domain.DealKYCPending:
		if sellerKYC == domain.KYCApproved {
			return domain.DealDocumentsPending, true
		}
	case domain.DealDocumentsPending:
		if documents.Complete(deal) {
			if deal.Category.RequiresContract() {
				return domain.DealContractPending, true
			}
			return domain.DealPaymentPending, true
		}
	case domain.DealContractPending:
		if deal.Workflow.ContractSigned.Completed {
			return domain.DealPaymentPending, true
		}
	}
	return "", false
}

func gateDetails(next domain.DealStatus) string {
	switch next {
	case domain.DealKYCPending:
		return "seller KYC not approved"
	case domain.DealDocumentsPending:
		return "seller KYC approved"
	case domain.DealContractPending:
		return "required documents present; contract signature required"
	default:
		return "all prerequisites satisfied"
	}
}

// UploadDocument stores a document in one of the caller's slots,
// replacing any earlier upload of the same type.
func (m *DealStateMachine) UploadDocument(deal *models.Deal, actorID, docType, fileName, fileURL string) error {
	role, err := partyRole(deal, actorID)
	if err != nil {
		return err
	}
	if _, ok := documents.Lookup(deal.Category, role, docType); !ok {
		return domain.Validationf("document type %q is not accepted from the %s of a %s deal", docType, role, deal.Category)
	}
	if strings.TrimSpace(fileURL) == "" {
		return domain.Validationf("file_url is required")
	}
	if !acceptsDocuments(deal.Status) {
		return domain.InvalidTransitionf("deal %s no longer accepts documents (%s)", deal.DealID, deal.Status)
	}

	now := m.clock.Now()
	kept := deal.Documents[:0]
	for _, d := range deal.Documents {
		if d.DocumentType != docType {
			kept = append(kept, d)
		}
	}
	deal.Documents = append(kept, models.Document{
		DocumentType: docType,
		FileName:     fileName,
		FileURL:      fileURL,
		UploadedBy:   actorID,
		UploadedAt:   now,
	})
	deal.Record(string(domain.ActionUploadDocument), actorID, now, docType, deal.Status, deal.Status)
	return nil
}

// VerifyDocument marks the latest upload of docType verified. It reports
// false when it already was.
func (m *DealStateMachine) VerifyDocument(deal *models.Deal, adminID, docType string) (bool, error) {
	doc, ok := deal.Document(docType)
	if !ok {
		return false, domain.NotFoundf("document %s on deal %s", docType, deal.DealID)
	}
	if doc.Verified {
		return false, nil
	}
	now := m.clock.Now()
	doc.Verified = true
	doc.VerifiedBy = adminID
	doc.VerifiedAt = &now
	deal.Record(string(domain.ActionVerifyDocument), adminID, now, docType, deal.Status, deal.Status)
	return true, nil
}

// SignContract records the caller's signature. It reports false on a repeat.
func (m *DealStateMachine) SignContract(deal *models.Deal, actorID string) (bool, error) {
	role, err := partyRole(deal, actorID)
	if err != nil {
		return false, err
	}
	if deal.Workflow.ContractSigned.Has(role) {
		return false, nil
	}
	if deal.Status != domain.DealContractPending {
		return false, domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
	}
	now := m.clock.Now()
	deal.Workflow.ContractSigned.Set(role, now)
	deal.Record(string(domain.ActionSignContract), actorID, now, fmt.Sprintf("%s signed", role), deal.Status, deal.Status)
	return true, nil
}

// MarkFundsDeposited follows the capture of the escrow deposit.
func (m *DealStateMachine) MarkFundsDeposited(deal *models.Deal, actorID, paymentID string) error {
	if err := m.transition(deal, domain.DealFundsDeposited, "payment_captured", actorID, paymentID); err != nil {
		return err
	}
	now := m.clock.Now()
	deal.Workflow.PaymentDeposited.Mark(now, actorID)
	deal.AddSystemMessage("Payment received and held in escrow", now)
	return nil
}

func (m *DealStateMachine) StartDelivery(deal *models.Deal, actorID string) error {
	if deal.Status != domain.DealFundsDeposited {
		return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
	}
	return m.transition(deal, domain.DealInDelivery, string(domain.ActionStartDelivery), actorID, "")
}

// MarkDelivered passes through in_delivery when the seller skips the start step.
func (m *DealStateMachine) MarkDelivered(deal *models.Deal, actorID string) error {
	switch deal.Status {
	case domain.DealFundsDeposited:
		if err := m.transition(deal, domain.DealInDelivery, string(domain.ActionMarkDelivered), actorID, ""); err != nil {
			return err
		}
	case domain.DealInDelivery:
	default:
		return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
	}
	if err := m.transition(deal, domain.DealDelivered, string(domain.ActionMarkDelivered), actorID, ""); err != nil {
		return err
	}
	now := m.clock.Now()
	deal.Workflow.Delivered.Mark(now, actorID)
	deal.AddSystemMessage(fmt.Sprintf("Seller marked the deal as delivered; inspection period is %d days", deal.InspectionPeriod), now)
	return nil
}

func (m *DealStateMachine) ConfirmReceipt(deal *models.Deal, actorID string) error {
	if deal.Status != domain.DealDelivered {
		return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
	}
	if err := m.transition(deal, domain.DealCompleted, string(domain.ActionConfirmReceipt), actorID, ""); err != nil {
		return err
	}
	now := m.clock.Now()
	deal.Workflow.Confirmed.Mark(now, actorID)
	deal.AddSystemMessage("Buyer confirmed receipt; funds released to seller", now)
	return nil
}

// InspectionElapsed reports whether the buyer's inspection window closed
// without a dispute being raised.
func InspectionElapsed(deal *models.Deal, now time.Time) bool {
	if deal.Status != domain.DealDelivered || deal.Dispute != nil {
		return false
	}
	at := deal.Workflow.Delivered.CompletedAt
	if at == nil {
		return false
	}
	return !now.Before(at.AddDate(0, 0, deal.InspectionPeriod))
}

// CompleteOnTimeout completes a delivered deal whose inspection period elapsed.
func (m *DealStateMachine) CompleteOnTimeout(deal *models.Deal) error {
	now := m.clock.Now()
	if !InspectionElapsed(deal, now) {
		return domain.InvalidTransitionf("deal %s inspection period has not elapsed", deal.DealID)
	}
	if err := m.transition(deal, domain.DealCompleted, "inspection_timeout", domain.SystemActorID, fmt.Sprintf("%d day inspection period elapsed", deal.InspectionPeriod)); err != nil {
		return err
	}
	deal.Workflow.Confirmed.Mark(now, domain.SystemActorID)
	deal.AddSystemMessage("Inspection period elapsed without dispute; funds released to seller", now)
	return nil
}

func (m *DealStateMachine) RaiseDispute(deal *models.Deal, actorID, reason, details string) error {
	if _, err := partyRole(deal, actorID); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return domain.Validationf("dispute reason is required")
	}
	if !isDisputable(deal.Status) {
		return domain.InvalidTransitionf("deal %s cannot be disputed from %s", deal.DealID, deal.Status)
	}
	if err := m.transition(deal, domain.DealDisputed, string(domain.ActionRaiseDispute), actorID, reason); err != nil {
		return err
	}
	now := m.clock.Now()
	deal.Dispute = &models.Dispute{
		RaisedBy: actorID,
		Reason:   reason,
		Details:  details,
		RaisedAt: now,
		Status:   models.DisputeOpen,
	}
	deal.AddSystemMessage("A dispute has been raised: "+reason, now)
	return nil
}

// ResolveDispute closes an open dispute with outcome in_delivery, completed or refunded.
func (m *DealStateMachine) ResolveDispute(deal *models.Deal, adminID string, outcome domain.DealStatus, resolution string) error {
	if deal.Status != domain.DealDisputed || deal.Dispute == nil {
		return domain.InvalidTransitionf("deal %s has no open dispute", deal.DealID)
	}
	switch outcome {
	case domain.DealInDelivery, domain.DealCompleted, domain.DealRefunded:
	default:
		return domain.Validationf("invalid dispute outcome %q", outcome)
	}
	if err := m.transition(deal, outcome, string(domain.ActionResolveDispute), adminID, resolution); err != nil {
		return err
	}
	now := m.clock.Now()
	deal.Dispute.Status = models.DisputeResolved
	deal.Dispute.Resolution = resolution
	deal.Dispute.ResolvedBy = adminID
	deal.Dispute.ResolvedAt = &now
	if outcome == domain.DealCompleted {
		deal.Workflow.Confirmed.Mark(now, adminID)
	}
	deal.AddSystemMessage(fmt.Sprintf("Dispute resolved (%s): %s", outcome, resolution), now)
	return nil
}

// AdminRelease completes a deal in delivery on an administrator's decision.
func (m *DealStateMachine) AdminRelease(deal *models.Deal, adminID, note string) error {
	switch deal.Status {
	case domain.DealInDelivery:
		if err := m.transition(deal, domain.DealDelivered, string(domain.ActionAdminRelease), adminID, note); err != nil {
			return err
		}
		deal.Workflow.Delivered.Mark(m.clock.Now(), adminID)
	case domain.DealDelivered:
	default:
		return domain.InvalidTransitionf("deal %s is %s", deal.DealID, deal.Status)
	}
	if err := m.transition(deal, domain.DealCompleted, string(domain.ActionAdminRelease), adminID, note); err != nil {
		return err
	}
	now := m.clock.Now()
	deal.Workflow.Confirmed.Mark(now, adminID)
	deal.AddSystemMessage("Escrow released by administrator", now)
	return nil
}

// Cancel is allowed only before any escrow deposit has been captured.
func (m *DealStateMachine) Cancel(deal *models.Deal, actorID, reason string, depositCaptured bool) error {
	if _, err := partyRole(deal, actorID); err != nil {
		return err
	}
	if !isCancellable(deal.Status) {
		return domain.InvalidTransitionf("deal %s cannot be cancelled from %s", deal.DealID, deal.Status)
	}
	if depositCaptured {
		return domain.InvalidTransitionf("deal %s has captured escrow funds", deal.DealID)
	}
	if err := m.transition(deal, domain.DealCancelled, string(domain.ActionCancelDeal), actorID, reason); err != nil {
		return err
	}
	text := "Deal cancelled"
	if reason = strings.TrimSpace(reason); reason != "" {
		text += ": " + reason
	}
	deal.AddSystemMessage(text, m.clock.Now())
	return nil
}

func (m *DealStateMachine) AddMessage(deal *models.Deal, actorID, text string) error {
	if _, err := partyRole(deal, actorID); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Validationf("message text is required")
	}
	if utf8.RuneCountInString(text) > domain.MaxMessageLength {
		return domain.Validationf("message exceeds %d characters", domain.MaxMessageLength)
	}
	now := m.clock.Now()
	deal.Messages = append(deal.Messages, models.Message{
		Sender:    actorID,
		Text:      text,
		Timestamp: now,
	})
	deal.Record(string(domain.ActionSendMessage), actorID, now, fmt.Sprintf("message %d", len(deal.Messages)), deal.Status, deal.Status)
	return nil
}
