package verification

import (
	"context"
	"encoding/json"
	"time"

	"communique/internal/identity/evidence"
	dErrors "communique/pkg/domain-errors"
	"communique/pkg/requestcontext"
)

// DocumentChecker is the external identity-document verification service.
// The platform only consumes its result; document images never transit this
// system.
type DocumentChecker interface {
	// CheckSession looks up a verification session the participant
	// completed directly with the provider and reports its outcome.
	CheckSession(ctx context.Context, providerSessionID string) (verified bool, authorityLevel int, err error)
}

// DocumentProvider establishes government-credential evidence.
type DocumentProvider struct {
	checker  DocumentChecker
	validity time.Duration
}

func NewDocumentProvider(checker DocumentChecker, validity time.Duration) *DocumentProvider {
	return &DocumentProvider{checker: checker, validity: validity}
}

func (p *DocumentProvider) Kind() evidence.Kind {
	return evidence.KindGovCredential
}

type documentPayload struct {
	ProviderSessionID string `json:"provider_session_id"`
}

func (p *DocumentProvider) Verify(ctx context.Context, input Input) (Result, error) {
	var payload documentPayload
	if err := json.Unmarshal(input.Payload, &payload); err != nil {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "malformed document payload")
	}
	if payload.ProviderSessionID == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "provider session id is required")
	}

	verified, authority, err := p.checker.CheckSession(ctx, payload.ProviderSessionID)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "document check unavailable")
	}
	if !verified {
		return Result{}, dErrors.New(dErrors.CodeUnauthorized, "document verification rejected")
	}

	now := requestcontext.Now(ctx)
	return Result{
		Kind:           evidence.KindGovCredential,
		AuthorityLevel: authority,
		VerifiedAt:     now,
		ExpiresAt:      now.Add(p.validity),
	}, nil
}
