package problem

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayo6706/deal-escrow/internal/domain"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.deal-escrow.dev/"

// Details represents RFC 7807 Problem Details.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	instance := ""
	requestID := ""
	if r != nil {
		instance = r.URL.Path
		requestID = r.Header.Get("X-Trace-ID")
	}
	if requestID == "" {
		requestID = w.Header().Get("X-Trace-ID")
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Details{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  instance,
		RequestID: requestID,
	})
}

// Classify maps an engine error onto an HTTP status and problem type slug.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "deal/validation"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "deal/unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "deal/not-found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "deal/invalid-transition"
	case errors.Is(err, domain.ErrAlreadyCaptured):
		return http.StatusConflict, "payment/already-captured"
	case errors.Is(err, domain.ErrAlreadyRefunded):
		return http.StatusConflict, "payment/already-refunded"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "deal/concurrency-conflict"
	case errors.Is(err, domain.ErrGatewayFailure):
		return http.StatusBadGateway, "payment/gateway-failure"
	default:
		return http.StatusInternalServerError, "internal-server-error"
	}
}

// FromError writes the problem document for an engine error. Internal
// errors are reported without their message.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	status, slug := Classify(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "unexpected server error"
	}
	Write(w, r, status, Type(slug), http.StatusText(status), detail)
}
