package models

import (
	"time"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/fees"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Milestone struct {
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
}

// Mark completes the milestone once; later calls keep the first stamp.
func (m *Milestone) Mark(at time.Time, actor string) bool {
	if m.Completed {
		return false
	}
	m.Completed = true
	m.CompletedAt = &at
	m.CompletedBy = actor
	return true
}

// PartyFlags records a per-role confirmation such as acceptance or signature.
type PartyFlags struct {
	BuyerDone   bool       `json:"buyer_done"`
	BuyerAt     *time.Time `json:"buyer_at,omitempty"`
	SellerDone  bool       `json:"seller_done"`
	SellerAt    *time.Time `json:"seller_at,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Set records role's flag. It reports false when the flag was already set.
// Completed is recomputed so it holds iff both flags are set.
func (p *PartyFlags) Set(role domain.Role, at time.Time) bool {
	switch role {
	case domain.RoleBuyer:
		if p.BuyerDone {
			return false
		}
		p.BuyerDone, p.BuyerAt = true, &at
	case domain.RoleSeller:
		if p.SellerDone {
			return false
		}
		p.SellerDone, p.SellerAt = true, &at
	default:
		return false
	}
	if p.BuyerDone && p.SellerDone && !p.Completed {
		p.Completed, p.CompletedAt = true, &at
	}
	return true
}

func (p PartyFlags) Has(role domain.Role) bool {
	if role == domain.RoleBuyer {
		return p.BuyerDone
	}
	return p.SellerDone
}

type Workflow struct {
	DealCreated       Milestone  `json:"deal_created"`
	PartiesAccepted   PartyFlags `json:"parties_accepted"`
	KYCCompleted      Milestone  `json:"kyc_completed"`
	DocumentsUploaded Milestone  `json:"documents_uploaded"`
	ContractSigned    PartyFlags `json:"contract_signed"`
	PaymentDeposited  Milestone  `json:"payment_deposited"`
	Delivered         Milestone  `json:"delivered"`
	Confirmed         Milestone  `json:"confirmed"`
}

type Message struct {
	Sender          string    `json:"sender"`
	Text            string    `json:"text"`
	IsSystemMessage bool      `json:"is_system_message"`
	Timestamp       time.Time `json:"timestamp"`
}

type Document struct {
	DocumentType string     `json:"document_type"`
	FileName     string     `json:"file_name"`
	FileURL      string     `json:"file_url"`
	UploadedBy   string     `json:"uploaded_by"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	Verified     bool       `json:"verified"`
	VerifiedBy   string     `json:"verified_by,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
}

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

type Dispute struct {
	RaisedBy   string        `json:"raised_by"`
	Reason     string        `json:"reason"`
	Details    string        `json:"details,omitempty"`
	RaisedAt   time.Time     `json:"raised_at"`
	Status     DisputeStatus `json:"status"`
	Resolution string        `json:"resolution,omitempty"`
	ResolvedBy string        `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// Terms are the user-supplied parts of a deal.
type Terms struct {
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Category         domain.Category  `json:"category"`
	Amount           decimal.Decimal  `json:"amount"`
	DeliveryMethod   string           `json:"delivery_method"`
	InspectionPeriod int              `json:"inspection_period"`
	AdditionalTerms  string           `json:"additional_terms,omitempty"`
	PartyType        domain.PartyType `json:"party_type,omitempty"`
	CounterpartyID   string           `json:"counterparty_id"`
}

type Deal struct {
	ID          uuid.UUID `json:"id"`
	DealID      string    `json:"deal_id"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	InitiatedBy string    `json:"initiated_by"`

	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Category         domain.Category  `json:"category"`
	Amount           decimal.Decimal  `json:"amount"`
	DeliveryMethod   string           `json:"delivery_method"`
	InspectionPeriod int              `json:"inspection_period"`
	AdditionalTerms  string           `json:"additional_terms,omitempty"`
	PartyType        domain.PartyType `json:"party_type"`

	EscrowFee           fees.EscrowFee  `json:"escrow_fee"`
	EscrowFeePercentage decimal.Decimal `json:"escrow_fee_percentage"`

	Status     domain.DealStatus `json:"status"`
	Workflow   Workflow          `json:"workflow"`
	Messages   []Message         `json:"messages"`
	Documents  []Document        `json:"documents"`
	Dispute    *Dispute          `json:"dispute,omitempty"`
	AuditTrail AuditTrail        `json:"audit_trail"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleOf returns the party role of userID in the deal.
func (d *Deal) RoleOf(userID string) (domain.Role, bool) {
	switch userID {
	case d.Buyer:
		return domain.RoleBuyer, true
	case d.Seller:
		return domain.RoleSeller, true
	default:
		return "", false
	}
}

// PartyID returns the user id holding role.
func (d *Deal) PartyID(role domain.Role) string {
	if role == domain.RoleBuyer {
		return d.Buyer
	}
	return d.Seller
}

// Document returns the latest document of the given type.
func (d *Deal) Document(docType string) (*Document, bool) {
	for i := len(d.Documents) - 1; i >= 0; i-- {
		if d.Documents[i].DocumentType == docType {
			return &d.Documents[i], true
		}
	}
	return nil, false
}

// Record appends one audit entry for a status change (or a same-status action).
func (d *Deal) Record(action, actor string, at time.Time, details string, from, to domain.DealStatus) {
	d.AuditTrail.Append(dealAuditEntry(action, actor, at, details, from, to))
	d.UpdatedAt = at
}

func (d *Deal) AddSystemMessage(text string, at time.Time) {
	d.Messages = append(d.Messages, Message{
		Sender:          domain.SystemActorID,
		Text:            text,
		IsSystemMessage: true,
		Timestamp:       at,
	})
}

// Clone returns a deep copy safe to mutate independently.
func (d *Deal) Clone() *Deal {
	out := *d
	out.Messages = append([]Message(nil), d.Messages...)
	out.Documents = append([]Document(nil), d.Documents...)
	if d.Dispute != nil {
		dispute := *d.Dispute
		out.Dispute = &dispute
	}
	out.AuditTrail = d.AuditTrail.clone()
	return &out
}
