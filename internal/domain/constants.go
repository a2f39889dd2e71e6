package domain

// Deal bounds.
const (
	MinDealAmount           = 1_000
	MaxDealAmount           = 100_000_000
	MinInspectionPeriodDays = 1
	MaxInspectionPeriodDays = 30
	MaxMessageLength        = 2000
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}

// Counterpart returns the opposite party role.
func (r Role) Counterpart() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

type Category string

const (
	CategoryVehicle     Category = "vehicle"
	CategoryRealEstate  Category = "real_estate"
	CategoryDomain      Category = "domain"
	CategoryFreelancing Category = "freelancing"
	CategoryOther       Category = "other"
)

var Categories = []Category{CategoryVehicle, CategoryRealEstate, CategoryDomain, CategoryFreelancing, CategoryOther}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// RequiresContract reports whether both parties sign a contract before payment.
func (c Category) RequiresContract() bool {
	return c == CategoryRealEstate || c == CategoryFreelancing
}

type PartyType string

const (
	PartyPersonal PartyType = "personal"
	PartyBusiness PartyType = "business"
)

func (p PartyType) Valid() bool {
	return p == PartyPersonal || p == PartyBusiness
}

type DealStatus string

const (
	DealCreated          DealStatus = "created"
	DealAccepted         DealStatus = "accepted"
	DealKYCPending       DealStatus = "kyc_pending"
	DealDocumentsPending DealStatus = "documents_pending"
	DealPaymentPending   DealStatus = "payment_pending"
	DealContractPending  DealStatus = "contract_pending"
	DealFundsDeposited   DealStatus = "funds_deposited"
	DealInDelivery       DealStatus = "in_delivery"
	DealDelivered        DealStatus = "delivered"
	DealCompleted        DealStatus = "completed"
	DealDisputed         DealStatus = "disputed"
	DealCancelled        DealStatus = "cancelled"
	DealRefunded         DealStatus = "refunded"
)

// Terminal reports whether the deal accepts no further transitions.
func (s DealStatus) Terminal() bool {
	return s == DealCompleted || s == DealCancelled || s == DealRefunded
}

type PaymentStatus string

const (
	PaymentInitiated         PaymentStatus = "initiated"
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentCaptured          PaymentStatus = "captured"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentDisputed          PaymentStatus = "disputed"
)

type PaymentType string

const (
	PaymentEscrowDeposit PaymentType = "escrow_deposit"
	PaymentEscrowRelease PaymentType = "escrow_release"
	PaymentFeePayment    PaymentType = "fee_payment"
	PaymentRefund        PaymentType = "refund"
)

type PaymentMethod string

const (
	MethodUPI        PaymentMethod = "upi"
	MethodNetBanking PaymentMethod = "netbanking"
	MethodDebitCard  PaymentMethod = "debit_card"
	MethodCreditCard PaymentMethod = "credit_card"
	MethodWallet     PaymentMethod = "wallet"
	MethodOther      PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodUPI, MethodNetBanking, MethodDebitCard, MethodCreditCard, MethodWallet, MethodOther:
		return true
	default:
		return false
	}
}

type ReleaseReason string

const (
	ReleaseDealCompleted   ReleaseReason = "deal_completed"
	ReleaseBuyerConfirmed  ReleaseReason = "buyer_confirmed"
	ReleaseDisputeResolved ReleaseReason = "dispute_resolved"
	ReleaseAdminRelease    ReleaseReason = "admin_release"
	ReleaseTimeout         ReleaseReason = "timeout"
)

func (r ReleaseReason) Valid() bool {
	switch r {
	case ReleaseDealCompleted, ReleaseBuyerConfirmed, ReleaseDisputeResolved, ReleaseAdminRelease, ReleaseTimeout:
		return true
	default:
		return false
	}
}

type KYCStatus string

const (
	KYCNotStarted KYCStatus = "not_started"
	KYCPending    KYCStatus = "pending"
	KYCApproved   KYCStatus = "approved"
	KYCRejected   KYCStatus = "rejected"
)

// Action names checked by the authorization gate.
type Action string

const (
	ActionAcceptDeal     Action = "accept_deal"
	ActionDepositPayment Action = "deposit_payment"
	ActionSignContract   Action = "sign_contract"
	ActionMarkDelivered  Action = "mark_delivered"
	ActionConfirmReceipt Action = "confirm_receipt"
	ActionRaiseDispute   Action = "raise_dispute"
	ActionStartDelivery  Action = "start_delivery"
	ActionUploadDocument Action = "upload_document"
	ActionCancelDeal     Action = "cancel_deal"
	ActionSendMessage    Action = "send_message"
	ActionSendReminder   Action = "send_reminder"

	ActionResolveDispute Action = "resolve_dispute"
	ActionAdminRelease   Action = "admin_release"
	ActionVerifyDocument Action = "verify_document"
)

const (
	UserRoleAdmin = "admin"
	UserRoleUser  = "user"

	// SystemActorID performs transitions driven by workers and gateway callbacks.
	SystemActorID = "system"

	DefaultPaymentProvider = "mockpay"
	DefaultMaxRetries      = 3
)
