package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/deal-escrow/internal/api/middleware"
	"github.com/ayo6706/deal-escrow/internal/api/problem"
	"github.com/ayo6706/deal-escrow/internal/service"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// respondServiceError maps an orchestrator or store error to a problem document.
func respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status, pType, msg, ok := mapDBError(err); ok {
		RespondError(w, r, status, pType, msg)
		return
	}
	status, _ := problem.Classify(err)
	if status == http.StatusInternalServerError {
		zap.L().Error(op+" failed",
			zap.Error(err),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
		)
	}
	problem.FromError(w, r, err)
}

// respondResult dispatches the result's notification intents and writes it.
func respondResult(w http.ResponseWriter, r *http.Request, dispatcher *service.Dispatcher, status int, res *service.Result) {
	dispatcher.Dispatch(r.Context(), res.Intents)
	if res.Replayed && status == http.StatusCreated {
		status = http.StatusOK
	}
	RespondJSON(w, status, res)
}

func requestActor(r *http.Request) (string, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return "", errors.New("missing user in auth context")
	}
	return userID, nil
}

// decodeBody reads an optional JSON body; an empty body leaves dst untouched.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
