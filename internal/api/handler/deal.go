package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/ayo6706/deal-escrow/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DealHandler exposes the deal lifecycle to buyers, sellers and admins.
type DealHandler struct {
	orchestrator *service.Orchestrator
	dispatcher   *service.Dispatcher
}

func NewDealHandler(orchestrator *service.Orchestrator, dispatcher *service.Dispatcher) *DealHandler {
	return &DealHandler{orchestrator: orchestrator, dispatcher: dispatcher}
}

// CreateDealRequest carries the deal terms and the initiator's role.
type CreateDealRequest struct {
	Role domain.Role `json:"role"`
	models.Terms
}

type uploadDocumentRequest struct {
	DocumentType string `json:"document_type"`
	FileName     string `json:"file_name"`
	FileURL      string `json:"file_url"`
}

type depositRequest struct {
	Method string `json:"method"`
}

type disputeRequest struct {
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type resolveRequest struct {
	Outcome    domain.DealStatus `json:"outcome"`
	Resolution string            `json:"resolution"`
}

type releaseRequest struct {
	Note string `json:"note"`
}

// CreateDeal handles POST /v1/deals
func (h *DealHandler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateDealRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	res, err := h.orchestrator.CreateDeal(r.Context(), actorID, req.Role, req.Terms)
	if err != nil {
		respondServiceError(w, r, "create deal", err)
		return
	}
	respondResult(w, r, h.dispatcher, http.StatusCreated, res)
}

// GetDeal handles GET /v1/deals/{id}
func (h *DealHandler) GetDeal(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	view, err := h.orchestrator.View(r.Context(), actorID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, "get deal", err)
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

// CanPerform handles GET /v1/deals/{id}/actions/{action}
func (h *DealHandler) CanPerform(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	action := domain.Action(chi.URLParam(r, "action"))
	allowed, err := h.orchestrator.CanPerformAction(r.Context(), actorID, chi.URLParam(r, "id"), action)
	if err != nil {
		respondServiceError(w, r, "check action", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"action":  action,
		"allowed": allowed,
	})
}

// Accept handles POST /v1/deals/{id}/accept
func (h *DealHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(dealID string) service.Event {
		return service.AcceptDeal{DealID: dealID}
	})
}

// Refresh handles POST /v1/deals/{id}/refresh
func (h *DealHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(dealID string) service.Event {
		return service.RefreshGates{DealID: dealID}
	})
}

// UploadDocument handles POST /v1/deals/{id}/documents
func (h *DealHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	var req uploadDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	h.apply(w, r, func(dealID string) service.Event {
		return service.UploadDocument{
			DealID:       dealID,
			DocumentType: req.DocumentType,
			FileName:     req.FileName,
			FileURL:      req.FileURL,
		}
	})
}

// VerifyDocument handles POST /v1/admin/deals/{id}/documents/{type}/verify
func (h *DealHandler) VerifyDocument(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(dealID string) service.Event {
		return service.VerifyDocument{DealID: dealID, DocumentType: chi.URLParam(r, "type")}
	})
}

// SignContract handles POST /v1/deals/{id}/contract/sign
func (h *DealHandler) SignContract(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(dealID string) service.Event {
		return service.SignContract{DealID: dealID}
	})
}

// SendReminder handles POST /v1/deals/{id}/reminders
func (h *DealHandler) SendReminder(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(dealID string) service.Event {
		return service.SendReminder{DealID: dealID}
	})
}

// Deposit handles POST /v1/deals/{id}/deposit
// A gateway decline is answered with 202 Accepted: the failed payment is
// stored with its retry schedule and the retry worker takes over.
func (h *DealHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	res, err := h.orchestrator.InitiateDeposit(r.Context(), actorID, chi.URLParam(r, "id"), req.Method)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayFailure) && res != nil {
			zap.L().Warn("deposit declined by gateway",
				zap.String("deal_id", res.Deal.DealID),
				zap.Error(err),
			)
			respondResult(w, r, h.dispatcher, http.StatusAccepted, res)
			return
		}
		respondServiceError(w, r, "deposit", err)
		return
	}
	// Another request holds the charge; its outcome arrives later.
	if res.Payment != nil && res.Payment.Status == domain.PaymentProcessing {
		respondResult(w, r, h.dispatcher, http.StatusAccepted, res)
		return
	}
	respondResult(w, r, h.dispatcher, http.StatusOK, res)
}

// StartDelivery handles POST /v1/deals/{id}/delivery/start
func (h *DealHandler) StartDelivery(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(dealID string) service.Event {
		return service.StartDelivery{DealID: dealID}
	})
}

// MarkDelivered handles POST /v1/deals/{id}/delivery/complete
func (h *DealHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(dealID string) service.Event {
		return service.MarkDelivered{DealID: dealID}
	})
}

// ConfirmReceipt handles POST /v1/deals/{id}/confirm
func (h *DealHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(dealID string) service.Event {
		return service.ConfirmReceipt{DealID: dealID}
	})
}

// RaiseDispute handles POST /v1/deals/{id}/dispute
func (h *DealHandler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	h.apply(w, r, func(dealID string) service.Event {
		return service.RaiseDispute{DealID: dealID, Reason: req.Reason, Details: req.Details}
	})
}

// Cancel handles POST /v1/deals/{id}/cancel
func (h *DealHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	h.apply(w, r, func(dealID string) service.Event {
		return service.CancelDeal{DealID: dealID, Reason: req.Reason}
	})
}

// AddMessage handles POST /v1/deals/{id}/messages
func (h *DealHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	h.apply(w, r, func(dealID string) service.Event {
		return service.AddMessage{DealID: dealID, Text: req.Text}
	})
}

// ResolveDispute handles POST /v1/admin/deals/{id}/resolve
func (h *DealHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	h.apply(w, r, func(dealID string) service.Event {
		return service.ResolveDispute{DealID: dealID, Outcome: req.Outcome, Resolution: req.Resolution}
	})
}

// Release handles POST /v1/admin/deals/{id}/release
func (h *DealHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	h.apply(w, r, func(dealID string) service.Event {
		return service.AdminRelease{DealID: dealID, Note: req.Note}
	})
}

func (h *DealHandler) apply(w http.ResponseWriter, r *http.Request, build func(dealID string) service.Event) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	ev := build(chi.URLParam(r, "id"))
	res, err := h.orchestrator.Apply(r.Context(), actorID, ev)
	if err != nil {
		respondServiceError(w, r, ev.Name(), err)
		return
	}
	respondResult(w, r, h.dispatcher, http.StatusOK, res)
}
