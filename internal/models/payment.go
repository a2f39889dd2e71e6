package models

import (
	"time"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type GatewayInfo struct {
	Provider      string          `json:"provider"`
	TransactionID string          `json:"transaction_id,omitempty"`
	OrderID       string          `json:"order_id"`
	GatewayFee    decimal.Decimal `json:"gateway_fee"`
	GST           decimal.Decimal `json:"gst"`
}

type EscrowHold struct {
	HoldStartDate *time.Time           `json:"hold_start_date,omitempty"`
	HoldEndDate   *time.Time           `json:"hold_end_date,omitempty"`
	ReleaseDate   *time.Time           `json:"release_date,omitempty"`
	ReleasedBy    string               `json:"released_by,omitempty"`
	ReleaseReason domain.ReleaseReason `json:"release_reason,omitempty"`
}

type RefundInfo struct {
	RefundAmount        decimal.Decimal `json:"refund_amount"`
	RefundReason        string          `json:"refund_reason,omitempty"`
	RefundDate          *time.Time      `json:"refund_date,omitempty"`
	RefundTransactionID string          `json:"refund_transaction_id,omitempty"`
	RequestedAt         *time.Time      `json:"requested_at,omitempty"`
	RequestedBy         string          `json:"requested_by,omitempty"`
}

type PaymentFees struct {
	EscrowFee     decimal.Decimal `json:"escrow_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	GST           decimal.Decimal `json:"gst"`
	TotalFees     decimal.Decimal `json:"total_fees"`
}

type Payment struct {
	ID            uuid.UUID            `json:"id"`
	PaymentID     string               `json:"payment_id"`
	DealID        string               `json:"deal_id"`
	Payer         string               `json:"payer"`
	Payee         string               `json:"payee"`
	Amount        decimal.Decimal      `json:"amount"`
	PaymentType   domain.PaymentType   `json:"payment_type"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Gateway       GatewayInfo          `json:"gateway"`
	Status        domain.PaymentStatus `json:"status"`
	Escrow        EscrowHold           `json:"escrow"`
	Refund        RefundInfo           `json:"refund"`

	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`

	Fees PaymentFees `json:"fees"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`

	AuditTrail AuditTrail `json:"audit_trail"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsInEscrow reports whether captured deposit funds are still held.
func (p *Payment) IsInEscrow() bool {
	return p.Status == domain.PaymentCaptured &&
		p.PaymentType == domain.PaymentEscrowDeposit &&
		p.Escrow.ReleaseDate == nil
}

// RetryDue reports whether a scheduled retry has come due. NextRetryAt is
// only set while retries remain, so an exhausted payment is never due.
func (p *Payment) RetryDue(now time.Time) bool {
	return p.Status == domain.PaymentFailed && p.NextRetryAt != nil && !now.Before(*p.NextRetryAt)
}

// RefundInFlight reports whether a refund was reserved and sent to the
// gateway but not yet recorded.
func (p *Payment) RefundInFlight() bool {
	return p.Refund.RequestedAt != nil && p.RefundedAt == nil
}

func (p *Payment) Record(action, actor string, at time.Time, details string, from, to domain.PaymentStatus) {
	p.AuditTrail.Append(AuditEntry{
		Action:      action,
		PerformedBy: actor,
		Timestamp:   at,
		Details:     details,
		OldStatus:   string(from),
		NewStatus:   string(to),
	})
	p.UpdatedAt = at
}

func (p *Payment) Clone() *Payment {
	out := *p
	out.AuditTrail = p.AuditTrail.clone()
	return &out
}
