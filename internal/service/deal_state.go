package service

import (
	"github.com/ayo6706/deal-escrow/internal/domain"
)

var dealTransitions = map[domain.DealStatus]map[domain.DealStatus]struct{}{
	domain.DealCreated: {
		domain.DealAccepted:  {},
		domain.DealCancelled: {},
	},
	domain.DealAccepted: {
		domain.DealKYCPending:       {},
		domain.DealDocumentsPending: {},
		domain.DealCancelled:        {},
	},
	domain.DealKYCPending: {
		domain.DealDocumentsPending: {},
		domain.DealCancelled:        {},
	},
	domain.DealDocumentsPending: {
		domain.DealPaymentPending:  {},
		domain.DealContractPending: {},
		domain.DealCancelled:       {},
	},
	domain.DealContractPending: {
		domain.DealPaymentPending: {},
	},
	domain.DealPaymentPending: {
		domain.DealFundsDeposited: {},
	},
	domain.DealFundsDeposited: {
		domain.DealInDelivery: {},
		domain.DealDisputed:   {},
	},
	domain.DealInDelivery: {
		domain.DealDelivered: {},
		domain.DealDisputed:  {},
	},
	domain.DealDelivered: {
		domain.DealCompleted: {},
		domain.DealDisputed:  {},
	},
	domain.DealDisputed: {
		domain.DealInDelivery: {},
		domain.DealCompleted:  {},
		domain.DealRefunded:   {},
	},
	domain.DealCompleted: {},
	domain.DealCancelled: {},
	domain.DealRefunded:  {},
}

func canTransitionDeal(current, next domain.DealStatus) bool {
	nextStates, ok := dealTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func isCancellable(status domain.DealStatus) bool {
	switch status {
	case domain.DealCreated, domain.DealAccepted, domain.DealKYCPending, domain.DealDocumentsPending:
		return true
	default:
		return false
	}
}

func isDisputable(status domain.DealStatus) bool {
	switch status {
	case domain.DealFundsDeposited, domain.DealInDelivery, domain.DealDelivered:
		return true
	default:
		return false
	}
}

// Documents may change until the deal leaves the gating stages.
func acceptsDocuments(status domain.DealStatus) bool {
	switch status {
	case domain.DealCreated, domain.DealAccepted, domain.DealKYCPending, domain.DealDocumentsPending:
		return true
	default:
		return false
	}
}

var paymentTransitions = map[domain.PaymentStatus]map[domain.PaymentStatus]struct{}{
	domain.PaymentInitiated: {
		domain.PaymentPending:   {},
		domain.PaymentFailed:    {},
		domain.PaymentCancelled: {},
	},
	domain.PaymentPending: {
		domain.PaymentProcessing: {},
		domain.PaymentCaptured:   {},
		domain.PaymentFailed:     {},
		domain.PaymentCancelled:  {},
	},
	domain.PaymentProcessing: {
		domain.PaymentCaptured:  {},
		domain.PaymentFailed:    {},
		domain.PaymentCancelled: {},
	},
	domain.PaymentFailed: {
		domain.PaymentPending:   {},
		domain.PaymentCancelled: {},
	},
	domain.PaymentCaptured: {
		domain.PaymentRefunded:          {},
		domain.PaymentPartiallyRefunded: {},
		domain.PaymentDisputed:          {},
	},
	domain.PaymentDisputed: {
		domain.PaymentCaptured:          {},
		domain.PaymentRefunded:          {},
		domain.PaymentPartiallyRefunded: {},
	},
	domain.PaymentCancelled:         {},
	domain.PaymentRefunded:          {},
	domain.PaymentPartiallyRefunded: {},
}

func canTransitionPayment(current, next domain.PaymentStatus) bool {
	nextStates, ok := paymentTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}
