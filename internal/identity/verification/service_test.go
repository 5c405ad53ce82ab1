package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"communique/internal/identity/credential"
	"communique/internal/identity/evidence"
	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
	"communique/pkg/requestcontext"
)

type stubProvider struct {
	kind   evidence.Kind
	result Result
	err    error
}

func (p stubProvider) Verify(context.Context, Input) (Result, error) {
	return p.result, p.err
}

func (p stubProvider) Kind() evidence.Kind { return p.kind }

type recordingMinter struct {
	minted int
}

func (m *recordingMinter) Mint(id.Pseudonym, id.TrustTier, id.DistrictCommitment, time.Time, time.Duration) (string, error) {
	m.minted++
	return "signed-token", nil
}

type ServiceSuite struct {
	suite.Suite
	cache  *credential.InMemoryCache
	minter *recordingMinter
	now    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.cache = credential.NewMemory()
	s.minter = &recordingMinter{}
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

// authed simulates a request whose bearer credential carried the pseudonym.
func (s *ServiceSuite) authed(pseudonym id.Pseudonym) context.Context {
	return requestcontext.WithPseudonym(s.ctx(), pseudonym)
}

func (s *ServiceSuite) service(providers ...Provider) *Service {
	svc, err := New(providers, s.cache, s.minter, time.Hour)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) passkeyProvider() stubProvider {
	return stubProvider{
		kind: evidence.KindPasskeyBinding,
		result: Result{
			Kind:           evidence.KindPasskeyBinding,
			AuthorityLevel: 1,
			VerifiedAt:     s.now,
			ExpiresAt:      s.now.Add(24 * time.Hour),
		},
	}
}

func (s *ServiceSuite) attestationProvider(commitment id.DistrictCommitment) stubProvider {
	return stubProvider{
		kind: evidence.KindAddressAttestation,
		result: Result{
			Kind:               evidence.KindAddressAttestation,
			AuthorityLevel:     2,
			DistrictCommitment: commitment,
			VerifiedAt:         s.now,
			ExpiresAt:          s.now.Add(24 * time.Hour),
		},
	}
}

func (s *ServiceSuite) TestVerify() {
	s.Run("first verification mints a pseudonym and caches the credential", func() {
		s.SetupTest()
		svc := s.service(s.passkeyProvider())

		out, err := svc.Verify(s.ctx(), Input{Kind: evidence.KindPasskeyBinding})
		s.Require().NoError(err)

		s.Equal("signed-token", out.Token)
		s.False(out.Credential.Pseudonym.IsNil())
		s.Equal(id.TierPasskeyBound, out.Credential.Tier)
		s.Equal(s.now.Add(time.Hour), out.Credential.ExpiresAt)

		cached, err := s.cache.Get(s.ctx(), out.Credential.Pseudonym)
		s.Require().NoError(err)
		s.Equal(out.Credential, cached)
	})

	s.Run("attestation resolves the address tier and carries the commitment", func() {
		s.SetupTest()
		svc := s.service(s.attestationProvider("commit-ca12"))

		out, err := svc.Verify(s.authed("anon_p1"), Input{Kind: evidence.KindAddressAttestation})
		s.Require().NoError(err)

		s.Equal(id.TierAddressAttested, out.Credential.Tier)
		s.Equal(id.DistrictCommitment("commit-ca12"), out.Credential.DistrictCommitment)
	})

	s.Run("fresh passkey check never demotes an attested credential", func() {
		s.SetupTest()
		svc := s.service(s.passkeyProvider(), s.attestationProvider("commit-ca12"))

		_, err := svc.Verify(s.authed("anon_p2"), Input{Kind: evidence.KindAddressAttestation})
		s.Require().NoError(err)

		out, err := svc.Verify(s.authed("anon_p2"), Input{Kind: evidence.KindPasskeyBinding})
		s.Require().NoError(err)

		s.Equal(id.TierAddressAttested, out.Credential.Tier)
		s.Equal(id.DistrictCommitment("commit-ca12"), out.Credential.DistrictCommitment)
	})

	s.Run("anonymous evidence cannot attach to another caller's credential", func() {
		s.SetupTest()
		victim := credential.SessionCredential{
			Pseudonym:          "anon_victim",
			Tier:               id.TierGovCredentialed,
			DistrictCommitment: "commit-victim",
			IssuedAt:           s.now,
			ExpiresAt:          s.now.Add(time.Hour),
		}
		s.Require().NoError(s.cache.Put(s.ctx(), victim))
		svc := s.service(s.passkeyProvider())

		// No bearer credential in the context: the pseudonym is minted,
		// regardless of what the caller claims to be.
		out, err := svc.Verify(s.ctx(), Input{Kind: evidence.KindPasskeyBinding})
		s.Require().NoError(err)

		s.NotEqual(victim.Pseudonym, out.Credential.Pseudonym)
		s.Equal(id.TierPasskeyBound, out.Credential.Tier)
		s.Empty(out.Credential.DistrictCommitment)

		cached, err := s.cache.Get(s.ctx(), victim.Pseudonym)
		s.Require().NoError(err)
		s.Equal(victim, cached)
	})

	s.Run("unknown evidence kind is invalid input", func() {
		s.SetupTest()
		svc := s.service(s.passkeyProvider())

		_, err := svc.Verify(s.authed("anon_p3"), Input{Kind: "utility_bill"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("provider failure issues nothing", func() {
		s.SetupTest()
		svc := s.service(stubProvider{
			kind: evidence.KindPasskeyBinding,
			err:  dErrors.New(dErrors.CodeUnauthorized, "assertion rejected"),
		})

		_, err := svc.Verify(s.authed("anon_p4"), Input{Kind: evidence.KindPasskeyBinding})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Zero(s.minter.minted)

		_, err = s.cache.Get(s.ctx(), "anon_p4")
		s.Error(err)
	})
}

func (s *ServiceSuite) TestRevoke() {
	s.Run("revoked credential is gone from the cache", func() {
		s.SetupTest()
		svc := s.service(s.passkeyProvider())

		out, err := svc.Verify(s.authed("anon_p5"), Input{Kind: evidence.KindPasskeyBinding})
		s.Require().NoError(err)

		s.Require().NoError(svc.Revoke(s.ctx(), out.Credential.Pseudonym))
		_, err = s.cache.Get(s.ctx(), out.Credential.Pseudonym)
		s.Error(err)
	})

	s.Run("nil pseudonym is rejected", func() {
		s.SetupTest()
		svc := s.service()
		err := svc.Revoke(s.ctx(), "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
