package verification

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"communique/internal/identity/evidence"
	dErrors "communique/pkg/domain-errors"
	"communique/pkg/requestcontext"
)

// PasskeyChecker is the external WebAuthn verifier. It validates an
// assertion against the stored credential public key and reports the
// authority level of the binding.
type PasskeyChecker interface {
	CheckAssertion(ctx context.Context, credentialID string, assertion []byte) (authorityLevel int, err error)
}

// PasskeyProvider establishes passkey-binding evidence.
type PasskeyProvider struct {
	checker  PasskeyChecker
	validity time.Duration
	logger   *slog.Logger
}

func NewPasskeyProvider(checker PasskeyChecker, validity time.Duration, logger *slog.Logger) *PasskeyProvider {
	return &PasskeyProvider{checker: checker, validity: validity, logger: logger}
}

func (p *PasskeyProvider) Kind() evidence.Kind {
	return evidence.KindPasskeyBinding
}

type passkeyPayload struct {
	CredentialID string `json:"credential_id"`
	Assertion    []byte `json:"assertion"`
	UserAgent    string `json:"user_agent,omitempty"`
}

func (p *PasskeyProvider) Verify(ctx context.Context, input Input) (Result, error) {
	var payload passkeyPayload
	if err := json.Unmarshal(input.Payload, &payload); err != nil {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "malformed passkey payload")
	}
	if payload.CredentialID == "" || len(payload.Assertion) == 0 {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "credential id and assertion are required")
	}

	authority, err := p.checker.CheckAssertion(ctx, payload.CredentialID, payload.Assertion)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "passkey assertion rejected")
	}

	p.logger.InfoContext(ctx, "passkey verified",
		"device", DeviceDisplayName(payload.UserAgent),
		"request_id", requestcontext.RequestID(ctx),
	)

	now := requestcontext.Now(ctx)
	return Result{
		Kind:           evidence.KindPasskeyBinding,
		AuthorityLevel: authority,
		VerifiedAt:     now,
		ExpiresAt:      now.Add(p.validity),
	}, nil
}

// DeviceDisplayName turns a raw User-Agent into a short human-readable
// device label for audit records ("Chrome on Mac OS X"). Falls back to
// "Unknown Device" rather than echoing unparseable input.
func DeviceDisplayName(rawUserAgent string) string {
	if rawUserAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.New(rawUserAgent)
	browser, _ := ua.Browser()
	os := ua.OS()
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}
