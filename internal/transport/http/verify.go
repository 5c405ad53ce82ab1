package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"communique/internal/identity/evidence"
	"communique/internal/identity/verification"
	dErrors "communique/pkg/domain-errors"
)

// VerifyHandler exchanges provider evidence for a session credential.
type VerifyHandler struct {
	service *verification.Service
	logger  *slog.Logger
}

func NewVerifyHandler(service *verification.Service, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{service: service, logger: logger}
}

// verifyRequest carries evidence only. The pseudonym is taken from the
// bearer credential when one is presented; a first contact without one gets
// a freshly minted pseudonym.
type verifyRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type verifyResponse struct {
	Token     string    `json:"token"`
	Pseudonym string    `json:"pseudonym"`
	Tier      int       `json:"tier"`
	TierName  string    `json:"tierName"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, h.logger, dErrors.New(dErrors.CodeBadRequest, "request body is not valid JSON"))
		return
	}
	if req.Kind == "" || len(req.Payload) == 0 {
		respondError(w, r, h.logger, dErrors.New(dErrors.CodeInvalidInput, "kind and payload are required"))
		return
	}

	outcome, err := h.service.Verify(r.Context(), verification.Input{
		Kind:    evidence.Kind(req.Kind),
		Payload: req.Payload,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, verifyResponse{
		Token:     outcome.Token,
		Pseudonym: outcome.Credential.Pseudonym.String(),
		Tier:      int(outcome.Credential.Tier),
		TierName:  outcome.Credential.Tier.String(),
		ExpiresAt: outcome.Credential.ExpiresAt,
	})
}
