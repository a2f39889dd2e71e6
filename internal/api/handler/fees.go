package handler

import (
	"net/http"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/service"
	"github.com/shopspring/decimal"
)

// FeeHandler prices deals before they are created.
type FeeHandler struct {
	orchestrator *service.Orchestrator
}

func NewFeeHandler(orchestrator *service.Orchestrator) *FeeHandler {
	return &FeeHandler{orchestrator: orchestrator}
}

// Quote handles GET /v1/fees/quote?amount=&party_type=&method=
func (h *FeeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "amount must be a decimal number")
		return
	}
	party := domain.PartyType(q.Get("party_type"))
	if party != "" && !party.Valid() {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-party-type", "party_type must be personal or business")
		return
	}

	cost, err := h.orchestrator.QuoteFees(amount, party, q.Get("method"))
	if err != nil {
		respondServiceError(w, r, "quote fees", err)
		return
	}
	RespondJSON(w, http.StatusOK, cost)
}
