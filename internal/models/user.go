package models

import "github.com/ayo6706/deal-escrow/internal/domain"

// User is the engine's view of an account; identity and KYC verdicts are owned elsewhere.
type User struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	Phone       string           `json:"phone,omitempty"`
	Role        string           `json:"role"`
	KYCStatus   domain.KYCStatus `json:"kyc_status"`
	AccountType domain.PartyType `json:"account_type"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == domain.UserRoleAdmin
}

func (u *User) KYCApproved() bool {
	return u != nil && u.KYCStatus == domain.KYCApproved
}
