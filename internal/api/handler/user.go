package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UserWriter stores users synced from the identity and KYC providers.
type UserWriter interface {
	PutUser(ctx context.Context, user *models.User) error
}

type UserHandler struct {
	users UserWriter
}

func NewUserHandler(users UserWriter) *UserHandler {
	return &UserHandler{users: users}
}

type putUserRequest struct {
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	Phone       string           `json:"phone"`
	Role        string           `json:"role"`
	KYCStatus   domain.KYCStatus `json:"kyc_status"`
	AccountType domain.PartyType `json:"account_type"`
}

// PutUser handles PUT /v1/admin/users/{id}
// KYC verdicts are owned by the KYC provider; this endpoint records them.
func (h *UserHandler) PutUser(w http.ResponseWriter, r *http.Request) {
	var req putUserRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	if req.Role == "" {
		req.Role = domain.UserRoleUser
	}
	if req.Role != domain.UserRoleUser && req.Role != domain.UserRoleAdmin {
		RespondError(w, r, http.StatusBadRequest, "user/invalid-role", "role must be user or admin")
		return
	}
	switch req.KYCStatus {
	case "":
		req.KYCStatus = domain.KYCNotStarted
	case domain.KYCNotStarted, domain.KYCPending, domain.KYCApproved, domain.KYCRejected:
	default:
		RespondError(w, r, http.StatusBadRequest, "user/invalid-kyc-status", "unknown kyc_status")
		return
	}
	if req.AccountType == "" {
		req.AccountType = domain.PartyPersonal
	}
	if !req.AccountType.Valid() {
		RespondError(w, r, http.StatusBadRequest, "user/invalid-account-type", "account_type must be personal or business")
		return
	}

	user := &models.User{
		ID:          chi.URLParam(r, "id"),
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Role:        req.Role,
		KYCStatus:   req.KYCStatus,
		AccountType: req.AccountType,
	}
	if err := h.users.PutUser(r.Context(), user); err != nil {
		zap.L().Error("put user failed", zap.Error(err), zap.String("user_id", user.ID))
		respondServiceError(w, r, "put user", err)
		return
	}
	RespondJSON(w, http.StatusOK, user)
}
