// Package documents resolves which documents each party must upload for a
// deal category, and checks a deal's uploads against those slots.
package documents

import (
	"strings"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
)

// Document type identifiers.
const (
	PANCard                = "pan_card"
	AadhaarCard            = "aadhaar_card"
	RCBook                 = "rc_book"
	VehicleInsurance       = "vehicle_insurance"
	PUCCertificate         = "puc_certificate"
	HypothecationNOC       = "hypothecation_noc"
	ServiceRecords         = "service_records"
	SaleDeed               = "sale_deed"
	PropertyTaxReceipt     = "property_tax_receipt"
	EncumbranceCertificate = "encumbrance_certificate"
	BuildingApproval       = "building_approval"
	KhataCertificate       = "khata_certificate"
	DomainOwnershipProof   = "domain_ownership_proof"
	RegistrarAuthorization = "registrar_authorization"
	DomainTransferCode     = "domain_transfer_code"
	GSTCertificate         = "gst_certificate"
	Portfolio              = "portfolio"
	ProjectRequirements    = "project_requirements"
	OwnershipProof         = "ownership_proof"
	PurchaseInvoice        = "purchase_invoice"
)

type Requirement struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// Slot pairs a requirement with what the deal currently holds for it.
type Slot struct {
	Requirement
	Present  bool             `json:"present"`
	Document *models.Document `json:"document,omitempty"`
}

type table struct {
	seller []Requirement
	buyer  []Requirement
}

var tables = map[domain.Category]table{
	domain.CategoryVehicle: {
		seller: []Requirement{
			{Type: RCBook, Name: "Registration Certificate (RC)", Required: true},
			{Type: VehicleInsurance, Name: "Vehicle Insurance", Required: true},
			{Type: PANCard, Name: "PAN Card", Required: true},
			{Type: PUCCertificate, Name: "Pollution Under Control Certificate", Required: false},
			{Type: HypothecationNOC, Name: "Hypothecation NOC from Lender", Required: false},
			{Type: ServiceRecords, Name: "Service Records", Required: false},
		},
	},
	domain.CategoryRealEstate: {
		seller: []Requirement{
			{Type: SaleDeed, Name: "Sale Deed / Title Deed", Required: true},
			{Type: PropertyTaxReceipt, Name: "Latest Property Tax Receipt", Required: true},
			{Type: EncumbranceCertificate, Name: "Encumbrance Certificate", Required: true},
			{Type: PANCard, Name: "PAN Card", Required: true},
			{Type: BuildingApproval, Name: "Building Plan Approval", Required: false},
			{Type: KhataCertificate, Name: "Khata Certificate", Required: false},
		},
	},
	domain.CategoryDomain: {
		seller: []Requirement{
			{Type: DomainOwnershipProof, Name: "Domain Ownership Proof (WHOIS/Registrar)", Required: true},
			{Type: RegistrarAuthorization, Name: "Registrar Account Authorization", Required: true},
			{Type: PANCard, Name: "PAN Card", Required: true},
			{Type: DomainTransferCode, Name: "Transfer Authorization Code", Required: false},
		},
	},
	domain.CategoryFreelancing: {
		seller: []Requirement{
			{Type: PANCard, Name: "PAN Card", Required: true},
			{Type: Portfolio, Name: "Portfolio / Work Samples", Required: false},
			{Type: GSTCertificate, Name: "GST Registration Certificate", Required: false},
		},
		buyer: []Requirement{
			{Type: ProjectRequirements, Name: "Project Requirements Document", Required: true},
		},
	},
	domain.CategoryOther: {
		seller: []Requirement{
			{Type: OwnershipProof, Name: "Proof of Ownership", Required: true},
			{Type: PANCard, Name: "PAN Card", Required: true},
			{Type: PurchaseInvoice, Name: "Original Purchase Invoice", Required: false},
		},
	},
}

// Requirements returns the ordered slots for category and role. Unknown
// categories yield no slots.
func Requirements(category domain.Category, role domain.Role) []Requirement {
	t, ok := tables[category]
	if !ok {
		return nil
	}
	src := t.seller
	if role == domain.RoleBuyer {
		src = t.buyer
	}
	out := make([]Requirement, len(src))
	copy(out, src)
	return out
}

// Lookup finds the requirement for docType under category and role.
func Lookup(category domain.Category, role domain.Role, docType string) (Requirement, bool) {
	for _, r := range Requirements(category, role) {
		if r.Type == docType {
			return r, true
		}
	}
	return Requirement{}, false
}

// Checklist reports each of role's slots against the deal's uploads.
func Checklist(deal *models.Deal, role domain.Role) []Slot {
	reqs := Requirements(deal.Category, role)
	out := make([]Slot, 0, len(reqs))
	for _, r := range reqs {
		slot := Slot{Requirement: r}
		if doc, ok := deal.Document(r.Type); ok && strings.TrimSpace(doc.FileURL) != "" {
			d := *doc
			slot.Present = true
			slot.Document = &d
		}
		out = append(out, slot)
	}
	return out
}

// Missing lists the required document types role has not uploaded.
func Missing(deal *models.Deal, role domain.Role) []string {
	var missing []string
	for _, slot := range Checklist(deal, role) {
		if slot.Required && !slot.Present {
			missing = append(missing, slot.Type)
		}
	}
	return missing
}

// Complete reports whether every required slot of both parties is filled.
func Complete(deal *models.Deal) bool {
	return len(Missing(deal, domain.RoleSeller)) == 0 && len(Missing(deal, domain.RoleBuyer)) == 0
}
