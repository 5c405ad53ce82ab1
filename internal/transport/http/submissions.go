package http

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"communique/internal/delivery"
	"communique/internal/proof"
	"communique/internal/submission"
	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
)

// SubmissionHandler accepts verified-delivery submissions and serves their
// status.
type SubmissionHandler struct {
	service *submission.Service
	tracker *delivery.Tracker
	logger  *slog.Logger
}

func NewSubmissionHandler(service *submission.Service, tracker *delivery.Tracker, logger *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{service: service, tracker: tracker, logger: logger}
}

type submissionRecipient struct {
	Channel  string `json:"channel"`
	OfficeID string `json:"officeId"`
}

type createSubmissionRequest struct {
	Proof            string                `json:"proof"`
	Nullifier        string                `json:"nullifier"`
	TreeRoot         string                `json:"treeRoot"`
	EncryptedWitness json.RawMessage       `json:"encryptedWitness"`
	WitnessKeyID     string                `json:"witnessKeyId"`
	IdempotencyKey   string                `json:"idempotencyKey"`
	ActionID         string                `json:"actionId"`
	Subject          string                `json:"subject"`
	Body             string                `json:"body"`
	Recipients       []submissionRecipient `json:"recipients"`
}

type createSubmissionResponse struct {
	SubmissionID id.SubmissionID `json:"submissionId"`
}

func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, h.logger, dErrors.New(dErrors.CodeBadRequest, "request body is not valid JSON"))
		return
	}

	proofBytes, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		respondError(w, r, h.logger, dErrors.New(dErrors.CodeValidation, "proof is not valid base64"))
		return
	}
	treeRoot, err := base64.StdEncoding.DecodeString(req.TreeRoot)
	if err != nil {
		respondError(w, r, h.logger, dErrors.New(dErrors.CodeValidation, "tree root is not valid base64"))
		return
	}
	key, err := id.ParseIdempotencyKey(req.IdempotencyKey)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	actionID, err := id.ParseActionID(req.ActionID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	recipients := make([]submission.Recipient, 0, len(req.Recipients))
	for _, rec := range req.Recipients {
		recipients = append(recipients, submission.Recipient{
			Channel:  submission.Channel(rec.Channel),
			OfficeID: rec.OfficeID,
		})
	}

	subID, err := h.service.Create(r.Context(), submission.CreateRequest{
		Proof:            proof.Proof(proofBytes),
		PublicOutputs:    proof.PublicOutputs{Nullifier: req.Nullifier, TreeRoot: treeRoot},
		EncryptedWitness: req.EncryptedWitness,
		WitnessKeyID:     req.WitnessKeyID,
		IdempotencyKey:   key,
		ActionID:         actionID,
		Subject:          req.Subject,
		Body:             req.Body,
		Recipients:       recipients,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, createSubmissionResponse{SubmissionID: subID})
}

func (h *SubmissionHandler) Status(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubmissionID(chi.URLParam(r, "submissionID"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	report, err := h.tracker.GetStatus(r.Context(), subID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
