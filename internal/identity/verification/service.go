package verification

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"communique/internal/audit"
	"communique/internal/identity/credential"
	"communique/internal/identity/evidence"
	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

// TokenMinter signs session credential tokens.
type TokenMinter interface {
	Mint(pseudonym id.Pseudonym, tier id.TrustTier, commitment id.DistrictCommitment, issuedAt time.Time, ttl time.Duration) (string, error)
}

// Service runs verification inputs through the matching provider, resolves
// the resulting tier, and issues the session credential.
type Service struct {
	providers map[evidence.Kind]Provider
	cache     credential.Cache
	minter    TokenMinter
	ttl       time.Duration
	audit     audit.Publisher
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func New(providers []Provider, cache credential.Cache, minter TokenMinter, ttl time.Duration, opts ...Option) (*Service, error) {
	if cache == nil {
		return nil, fmt.Errorf("credential cache is required")
	}
	if minter == nil {
		return nil, fmt.Errorf("token minter is required")
	}

	byKind := make(map[evidence.Kind]Provider, len(providers))
	for _, p := range providers {
		byKind[p.Kind()] = p
	}

	svc := &Service{
		providers: byKind,
		cache:     cache,
		minter:    minter,
		ttl:       ttl,
		audit:     audit.NopPublisher{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Outcome is what a successful verification hands back to the transport
// layer: the signed credential token plus the credential it encodes.
type Outcome struct {
	Token      string
	Credential credential.SessionCredential
}

// Verify runs the input through its provider and issues a credential for
// the resulting tier. The pseudonym comes from the authenticated request
// context, never from the caller's input: an unauthenticated first contact
// gets a freshly minted one. When the caller already holds a credential, the
// new evidence is combined with the cached tier's implied evidence:
// verification never lowers an unexpired tier.
func (s *Service) Verify(ctx context.Context, input Input) (Outcome, error) {
	pseudonym := requestcontext.Pseudonym(ctx)
	if pseudonym.IsNil() {
		var err error
		pseudonym, err = mintPseudonym()
		if err != nil {
			return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint pseudonym")
		}
	}

	provider, ok := s.providers[input.Kind]
	if !ok {
		return Outcome{}, dErrors.Newf(dErrors.CodeInvalidInput, "no provider for evidence kind %q", input.Kind)
	}

	result, err := provider.Verify(ctx, input)
	if err != nil {
		s.logger.WarnContext(ctx, "verification failed",
			"kind", string(input.Kind),
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		return Outcome{}, err
	}

	now := requestcontext.Now(ctx)
	commitment := result.DistrictCommitment
	tier := evidence.Resolve(now, []evidence.Evidence{result.Evidence()})

	// Merge with the existing credential so a fresh passkey check does not
	// demote an address-attested participant.
	existing, err := s.cache.Get(ctx, pseudonym)
	switch {
	case err == nil:
		commitment = mergeCommitment(existing.DistrictCommitment, commitment)
		if existing.Tier > tier {
			tier = existing.Tier
		}
	case errors.Is(err, sentinel.ErrNotFound):
		// First credential for this pseudonym.
	default:
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "credential cache read failed")
	}

	cred := credential.SessionCredential{
		Pseudonym:          pseudonym,
		Tier:               tier,
		DistrictCommitment: commitment,
		IssuedAt:           now,
		ExpiresAt:          now.Add(s.ttl),
	}
	if err := s.cache.Put(ctx, cred); err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "credential cache write failed")
	}

	tokenStr, err := s.minter.Mint(pseudonym, tier, commitment, now, s.ttl)
	if err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint credential token")
	}

	s.audit.Emit(ctx, audit.Event{
		Kind:      audit.KindCredentialIssued,
		Pseudonym: pseudonym,
		RequestID: requestcontext.RequestID(ctx),
		Detail:    map[string]any{"tier": tier.String(), "evidence": string(input.Kind)},
	})
	s.logger.InfoContext(ctx, "credential issued",
		"tier", tier.String(),
		"kind", string(input.Kind),
		"request_id", requestcontext.RequestID(ctx),
	)

	return Outcome{Token: tokenStr, Credential: cred}, nil
}

// Revoke invalidates the caller's cached credential.
func (s *Service) Revoke(ctx context.Context, pseudonym id.Pseudonym) error {
	if pseudonym.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "pseudonym is required")
	}
	if err := s.cache.Invalidate(ctx, pseudonym); err != nil {
		return err
	}
	s.audit.Emit(ctx, audit.Event{
		Kind:      audit.KindCredentialRevoked,
		Pseudonym: pseudonym,
		RequestID: requestcontext.RequestID(ctx),
	})
	return nil
}

func mergeCommitment(existing, fresh id.DistrictCommitment) id.DistrictCommitment {
	if !fresh.IsNil() {
		return fresh
	}
	return existing
}

func mintPseudonym() (id.Pseudonym, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return id.Pseudonym("anon_" + base64.RawURLEncoding.EncodeToString(buf)), nil
}
