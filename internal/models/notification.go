package models

// NotificationIntent describes a message the caller should deliver after a
// transition commits. The engine never sends it itself.
type NotificationIntent struct {
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	DealID    string            `json:"deal_id"`
	PaymentID string            `json:"payment_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

const (
	TemplateDealCreated        = "deal_created"
	TemplateDealAccepted       = "deal_accepted"
	TemplateDealFullyAccepted  = "deal_fully_accepted"
	TemplateKYCRequired        = "kyc_required"
	TemplateKYCReminder        = "kyc_reminder"
	TemplateDocumentsRequired  = "documents_required"
	TemplateDocumentUploaded   = "document_uploaded"
	TemplateDocumentVerified   = "document_verified"
	TemplateContractRequired   = "contract_required"
	TemplateContractSigned     = "contract_signed"
	TemplatePaymentRequired    = "payment_required"
	TemplatePaymentInitiated   = "payment_initiated"
	TemplatePaymentCaptured    = "payment_captured"
	TemplatePaymentFailed      = "payment_failed"
	TemplatePaymentRetryFailed = "payment_retries_exhausted"
	TemplateDeliveryStarted    = "delivery_started"
	TemplateDelivered          = "delivered"
	TemplateDealCompleted      = "deal_completed"
	TemplateFundsReleased      = "funds_released"
	TemplateDisputeRaised      = "dispute_raised"
	TemplateDisputeResolved    = "dispute_resolved"
	TemplateDealCancelled      = "deal_cancelled"
	TemplateRefundProcessed    = "refund_processed"
	TemplateMessageReceived    = "message_received"
)
