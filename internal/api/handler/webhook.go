package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/observability"
	"github.com/ayo6706/deal-escrow/internal/service"
	"go.uber.org/zap"
)

const (
	WebhookSignatureHeader = "X-Webhook-Signature"

	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// GatewayEvent is the callback body sent by the payment gateway.
type GatewayEvent struct {
	Event      string `json:"event"`
	PaymentID  string `json:"payment_id"`
	GatewayRef string `json:"gateway_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// WebhookHandler handles incoming gateway callbacks.
type WebhookHandler struct {
	orchestrator  *service.Orchestrator
	dispatcher    *service.Dispatcher
	hmacKey       []byte
	skipSignature bool
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(orchestrator *service.Orchestrator, dispatcher *service.Dispatcher, hmacKey string, skipSignature bool) *WebhookHandler {
	return &WebhookHandler{
		orchestrator:  orchestrator,
		dispatcher:    dispatcher,
		hmacKey:       []byte(hmacKey),
		skipSignature: skipSignature,
	}
}

// SignPayload returns the hex HMAC-SHA256 of body under key.
func SignPayload(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) verify(body []byte, signature string) bool {
	if h.skipSignature {
		return true
	}
	if len(h.hmacKey) == 0 || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.hmacKey)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// HandleGatewayWebhook handles POST /v1/webhooks/gateway
// It verifies the HMAC signature and applies the capture or failure as the
// system actor. Redelivered callbacks are answered from the stored state.
func (h *WebhookHandler) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	if !h.verify(body, r.Header.Get(WebhookSignatureHeader)) {
		observability.IncrementWebhook("invalid_signature")
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		return
	}

	var evt GatewayEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.PaymentID == "" {
		observability.IncrementWebhook("invalid_payload")
		RespondError(w, r, http.StatusBadRequest, "webhook/invalid-payload", "Invalid webhook payload")
		return
	}

	var ev service.Event
	switch evt.Event {
	case EventPaymentCaptured:
		ev = service.PaymentCaptured{PaymentID: evt.PaymentID, GatewayRef: evt.GatewayRef}
	case EventPaymentFailed:
		ev = service.PaymentFailed{PaymentID: evt.PaymentID, Reason: evt.Reason}
	default:
		observability.IncrementWebhook("unknown_event")
		RespondError(w, r, http.StatusBadRequest, "webhook/unknown-event", "Unknown event "+evt.Event)
		return
	}

	res, err := h.orchestrator.Apply(r.Context(), domain.SystemActorID, ev)
	if err != nil {
		zap.L().Error("process gateway webhook failed",
			zap.String("event", evt.Event),
			zap.String("payment_id", evt.PaymentID),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrAlreadyCaptured) {
			observability.IncrementWebhook("duplicate")
		} else {
			observability.IncrementWebhook("rejected")
		}
		respondServiceError(w, r, "gateway webhook", err)
		return
	}

	if res.Replayed {
		observability.IncrementWebhook("replayed")
	} else {
		observability.IncrementWebhook("applied")
	}
	respondResult(w, r, h.dispatcher, http.StatusOK, res)
}
