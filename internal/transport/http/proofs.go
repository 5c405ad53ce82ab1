package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"communique/internal/identity/credential"
	"communique/internal/proof"
	"communique/internal/witness/keystore"
	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

// ProofHandler drives proof generation for an authenticated participant:
// it issues a one-time envelope key, runs the orchestrator, and returns the
// material the submission endpoint expects.
type ProofHandler struct {
	orchestrator *proof.Orchestrator
	keys         keystore.Store
	creds        credential.Cache
	logger       *slog.Logger
}

func NewProofHandler(orchestrator *proof.Orchestrator, keys keystore.Store, creds credential.Cache, logger *slog.Logger) *ProofHandler {
	return &ProofHandler{orchestrator: orchestrator, keys: keys, creds: creds, logger: logger}
}

type proofRequest struct {
	ActionID string `json:"actionId"`
	// Address is the constituent's routing block. It goes into the witness
	// and leaves this handler only inside the sealed envelope.
	Address       json.RawMessage `json:"address"`
	NullifierSeed string          `json:"nullifierSeed"`
}

type proofResponse struct {
	Proof            string          `json:"proof"`
	Nullifier        string          `json:"nullifier"`
	TreeRoot         string          `json:"treeRoot"`
	EncryptedWitness json.RawMessage `json:"encryptedWitness"`
	WitnessKeyID     string          `json:"witnessKeyId"`
}

func (h *ProofHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, h.logger, dErrors.New(dErrors.CodeBadRequest, "request body is not valid JSON"))
		return
	}
	actionID, err := id.ParseActionID(req.ActionID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	seed, err := base64.StdEncoding.DecodeString(req.NullifierSeed)
	if err != nil {
		respondError(w, r, h.logger, dErrors.New(dErrors.CodeInvalidInput, "nullifier seed is not valid base64"))
		return
	}

	cred, err := h.creds.Get(r.Context(), requestcontext.Pseudonym(r.Context()))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			respondError(w, r, h.logger, dErrors.New(dErrors.CodeUnauthorized, "session credential expired, re-verify to continue"))
			return
		}
		respondError(w, r, h.logger, err)
		return
	}

	issued, err := h.keys.Issue(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	result, err := h.orchestrator.GenerateAndEncrypt(r.Context(), cred, actionID, req.Address, seed, issued.Public)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	envelope, err := json.Marshal(result.EncryptedWitness)
	if err != nil {
		respondError(w, r, h.logger, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode envelope"))
		return
	}
	respondJSON(w, http.StatusOK, proofResponse{
		Proof:            base64.StdEncoding.EncodeToString(result.Proof),
		Nullifier:        result.Nullifier.String(),
		TreeRoot:         base64.StdEncoding.EncodeToString(result.PublicOutputs.TreeRoot),
		EncryptedWitness: envelope,
		WitnessKeyID:     issued.KeyID,
	})
}
