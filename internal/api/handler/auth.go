package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ayo6706/deal-escrow/internal/api/middleware"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/service"
	"go.uber.org/zap"
)

const devTokenTTL = 24 * time.Hour

// AuthHandler mints tokens for users already in the directory. It is only
// mounted for local in-memory deployments; production tokens come from the
// identity provider.
type AuthHandler struct {
	users service.UserDirectory
}

func NewAuthHandler(users service.UserDirectory) *AuthHandler {
	return &AuthHandler{users: users}
}

// IssueToken handles POST /v1/auth/token
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	user, err := h.users.GetUser(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			RespondError(w, r, http.StatusNotFound, "auth/user-not-found", "User not found")
			return
		}
		respondServiceError(w, r, "issue token", err)
		return
	}

	tokenString, err := middleware.SignToken(user.ID, user.Role, devTokenTTL)
	if err != nil {
		zap.L().Error("sign token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-signing-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"token": tokenString,
	})
}
