// Package http exposes the platform over HTTP: verification, proof
// generation, submission, and status. Handlers decode, call one service,
// and encode; no domain decisions are made here.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"communique/internal/proof"
	dErrors "communique/pkg/domain-errors"
	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError maps domain error codes onto HTTP statuses. Internal detail
// stays in the log; the caller sees the code and a safe message.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	code := dErrors.CodeInternal

	switch {
	case errors.Is(err, proof.ErrTimeout):
		respondJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:       "proof_timeout",
			Description: "proof generation timed out, retry the request",
		})
		return
	case errors.Is(err, proof.ErrInvalid):
		respondJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:       "proof_invalid",
			Description: "generated proof failed verification",
		})
		return
	case errors.Is(err, sentinel.ErrNotFound):
		status, code = http.StatusNotFound, dErrors.CodeNotFound
	default:
		if c, ok := dErrors.CodeOf(err); ok {
			code = c
			status = statusFor(c)
		}
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"error", err,
			"request_id", requestcontext.RequestID(r.Context()),
		)
		respondJSON(w, status, errorBody{Error: string(code), Description: "internal error"})
		return
	}
	respondJSON(w, status, errorBody{Error: string(code), Description: err.Error()})
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
