package service

import (
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
)

// Event is one action applied to a deal through Orchestrator.Apply.
type Event interface {
	Name() string
}

type AcceptDeal struct {
	DealID string
}

// RefreshGates re-evaluates the KYC, documents and contract gates.
type RefreshGates struct {
	DealID string
}

type UploadDocument struct {
	DealID       string
	DocumentType string
	FileName     string
	FileURL      string
}

type VerifyDocument struct {
	DealID       string
	DocumentType string
}

type SignContract struct {
	DealID string
}

type SendReminder struct {
	DealID string
}

// DepositPayment opens (or reuses) the escrow deposit of a deal. A non-empty
// GatewayRef captures it immediately.
type DepositPayment struct {
	DealID     string
	Method     string
	GatewayRef string
}

// PaymentCaptured and PaymentFailed are gateway outcomes reported by the system actor.
type PaymentCaptured struct {
	PaymentID  string
	GatewayRef string
}

type PaymentFailed struct {
	PaymentID string
	Reason    string
}

type BeginRetry struct {
	PaymentID string
}

type StartDelivery struct {
	DealID string
}

type MarkDelivered struct {
	DealID string
}

type ConfirmReceipt struct {
	DealID string
}

type RaiseDispute struct {
	DealID  string
	Reason  string
	Details string
}

type ResolveDispute struct {
	DealID     string
	Outcome    domain.DealStatus
	Resolution string
}

type AdminRelease struct {
	DealID string
	Note   string
}

type InspectionTimeout struct {
	DealID string
}

type CancelDeal struct {
	DealID string
	Reason string
}

type AddMessage struct {
	DealID string
	Text   string
}

func (AcceptDeal) Name() string { return "accept_deal" }
func (RefreshGates) Name() string { return "refresh_gates" }
func (UploadDocument) Name() string { return "upload_document" }
func (VerifyDocument) Name() string { return "verify_document" }
func (SignContract) Name() string { return "sign_contract" }
func (SendReminder) Name() string { return "send_reminder" }
func (DepositPayment) Name() string { return "deposit_payment" }
func (PaymentCaptured) Name() string { return "payment_captured" }
func (PaymentFailed) Name() string { return "payment_failed" }
func (BeginRetry) Name() string { return "begin_retry" }
func (StartDelivery) Name() string { return "start_delivery" }
func (MarkDelivered) Name() string { return "mark_delivered" }
func (ConfirmReceipt) Name() string { return "confirm_receipt" }
func (RaiseDispute) Name() string { return "raise_dispute" }
func (ResolveDispute) Name() string { return "resolve_dispute" }
func (AdminRelease) Name() string { return "admin_release" }
func (InspectionTimeout) Name() string { return "inspection_timeout" }
func (CancelDeal) Name() string { return "cancel_deal" }
func (AddMessage) Name() string { return "add_message" }

// Result is the committed outcome of an event. Intents must be dispatched
// by the caller; Replayed marks a duplicate that changed nothing.
type Result struct {
	Deal     *models.Deal                `json:"deal"`
	Payment  *models.Payment             `json:"payment,omitempty"`
	Intents  []models.NotificationIntent `json:"-"`
	Replayed bool                        `json:"replayed"`
}
