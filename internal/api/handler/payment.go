package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/service"
	"github.com/go-chi/chi/v5"
)

// PaymentHandler serves escrow payments.
type PaymentHandler struct {
	orchestrator *service.Orchestrator
	dispatcher   *service.Dispatcher
}

func NewPaymentHandler(orchestrator *service.Orchestrator, dispatcher *service.Dispatcher) *PaymentHandler {
	return &PaymentHandler{orchestrator: orchestrator, dispatcher: dispatcher}
}

// GetPayment handles GET /v1/payments/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	p, err := h.orchestrator.Payment(r.Context(), actorID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, "get payment", err)
		return
	}
	RespondJSON(w, http.StatusOK, p)
}

// RetryPayment handles POST /v1/admin/payments/{id}/retry
// It charges a failed payment whose retry is due without waiting for the worker.
func (h *PaymentHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.orchestrator.RetryPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrGatewayFailure) && res != nil {
			respondResult(w, r, h.dispatcher, http.StatusAccepted, res)
			return
		}
		respondServiceError(w, r, "retry payment", err)
		return
	}
	respondResult(w, r, h.dispatcher, http.StatusOK, res)
}
