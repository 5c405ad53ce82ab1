package submission_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"communique/internal/identity/credential"
	"communique/internal/proof"
	"communique/internal/submission"
	"communique/internal/submission/store"
	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
	"communique/pkg/requestcontext"
)

type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(_ context.Context, _ proof.Proof, _ proof.PublicOutputs) (bool, error) {
	return true, nil
}

type rejectVerifier struct{}

func (rejectVerifier) Verify(_ context.Context, _ proof.Proof, _ proof.PublicOutputs) (bool, error) {
	return false, nil
}

type ServiceSuite struct {
	suite.Suite

	store *store.InMemoryStore
	cache *credential.InMemoryCache
	now   time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewMemory()
	s.cache = credential.NewMemory()
	s.now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) newService() *submission.Service {
	svc, err := submission.NewService(s.store, s.cache, credential.DefaultPolicy(10*time.Minute), acceptAllVerifier{})
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) seedCredential(tier id.TrustTier) id.Pseudonym {
	pseudonym := id.Pseudonym("anon_service_test")
	err := s.cache.Put(context.Background(), credential.SessionCredential{
		Pseudonym:          pseudonym,
		Tier:               tier,
		DistrictCommitment: "d1c0",
		IssuedAt:           s.now.Add(-time.Minute),
		ExpiresAt:          s.now.Add(time.Hour),
	})
	s.Require().NoError(err)
	return pseudonym
}

func (s *ServiceSuite) ctxFor(pseudonym id.Pseudonym) context.Context {
	ctx := requestcontext.WithPseudonym(context.Background(), pseudonym)
	ctx = requestcontext.WithTime(ctx, s.now)
	return ctx
}

func nullifierFor(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func (s *ServiceSuite) request(key, nullifierSeed string) submission.CreateRequest {
	return submission.CreateRequest{
		Proof:            proof.Proof("proof-bytes"),
		PublicOutputs:    proof.PublicOutputs{Nullifier: nullifierFor(nullifierSeed), TreeRoot: []byte("root")},
		EncryptedWitness: []byte("envelope"),
		WitnessKeyID:     "key-1",
		IdempotencyKey:   id.IdempotencyKey(key),
		ActionID:         id.NewActionID(),
		Subject:          "Support the bill",
		Body:             "Please vote yes.",
		Recipients: []submission.Recipient{
			{Channel: submission.ChannelCongress, OfficeID: "H001"},
		},
	}
}

func (s *ServiceSuite) TestCreate() {
	s.Run("retry with same idempotency key returns the same submission id", func() {
		s.SetupTest()
		pseudonym := s.seedCredential(id.TierAddressAttested)
		svc := s.newService()
		ctx := s.ctxFor(pseudonym)
		req := s.request("abc123", "n1")

		first, err := svc.Create(ctx, req)
		s.Require().NoError(err)

		second, err := svc.Create(ctx, req)
		s.Require().NoError(err)
		s.Equal(first, second)
		s.Equal(1, s.store.Len())
	})

	s.Run("nullifier reuse under a different key is rejected", func() {
		s.SetupTest()
		pseudonym := s.seedCredential(id.TierAddressAttested)
		svc := s.newService()
		ctx := s.ctxFor(pseudonym)

		first := s.request("x", "n2")
		_, err := svc.Create(ctx, first)
		s.Require().NoError(err)

		replay := s.request("y", "n2")
		_, err = svc.Create(ctx, replay)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(1, s.store.Len())
	})

	s.Run("first accepted submission promotes the cached tier once", func() {
		s.SetupTest()
		pseudonym := s.seedCredential(id.TierAddressAttested)
		svc := s.newService()
		ctx := s.ctxFor(pseudonym)

		_, err := svc.Create(ctx, s.request("k1", "n3"))
		s.Require().NoError(err)

		cred, err := s.cache.Get(s.ctxFor(pseudonym), pseudonym)
		s.Require().NoError(err)
		s.Equal(id.TierDistrictVerified, cred.Tier)

		// A second submission with a fresh nullifier must not touch the
		// already-promoted tier.
		_, err = svc.Create(ctx, s.request("k2", "n4"))
		s.Require().NoError(err)
		cred, err = s.cache.Get(s.ctxFor(pseudonym), pseudonym)
		s.Require().NoError(err)
		s.Equal(id.TierDistrictVerified, cred.Tier)
	})

	s.Run("a replayed promotion against an already-promoted tier is a no-op", func() {
		s.SetupTest()
		// The cache write precedes the store commit, so a retry after an
		// interrupted create re-runs the promotion against a credential
		// that already carries the tier.
		pseudonym := s.seedCredential(id.TierDistrictVerified)
		svc := s.newService()

		_, err := svc.Create(s.ctxFor(pseudonym), s.request("k1", "n3"))
		s.Require().NoError(err)

		cred, err := s.cache.Get(s.ctxFor(pseudonym), pseudonym)
		s.Require().NoError(err)
		s.Equal(id.TierDistrictVerified, cred.Tier)
	})

	s.Run("concurrent submissions with one nullifier accept exactly one", func() {
		s.SetupTest()
		pseudonym := s.seedCredential(id.TierAddressAttested)
		svc := s.newService()

		const goroutines = 16
		var wg sync.WaitGroup
		errs := make([]error, goroutines)
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				req := s.request("k-concurrent", "n5")
				_, errs[n] = svc.Create(s.ctxFor(pseudonym), req)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			s.NoError(err)
		}
		s.Equal(1, s.store.Len())

		cred, err := s.cache.Get(s.ctxFor(pseudonym), pseudonym)
		s.Require().NoError(err)
		s.Equal(id.TierDistrictVerified, cred.Tier)
	})

	s.Run("stale credential is rejected before any ledger write", func() {
		s.SetupTest()
		pseudonym := id.Pseudonym("anon_stale")
		err := s.cache.Put(context.Background(), credential.SessionCredential{
			Pseudonym: pseudonym,
			Tier:      id.TierAddressAttested,
			IssuedAt:  s.now.Add(-time.Hour),
			ExpiresAt: s.now.Add(time.Hour),
		})
		s.Require().NoError(err)
		svc := s.newService()

		_, err = svc.Create(s.ctxFor(pseudonym), s.request("k", "n6"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Equal(0, s.store.Len())
	})

	s.Run("tier below address attested is forbidden", func() {
		s.SetupTest()
		pseudonym := s.seedCredential(id.TierPasskeyBound)
		svc := s.newService()

		_, err := svc.Create(s.ctxFor(pseudonym), s.request("k", "n7"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("failing proof verification rejects the request", func() {
		s.SetupTest()
		pseudonym := s.seedCredential(id.TierAddressAttested)
		svc, err := submission.NewService(s.store, s.cache, credential.DefaultPolicy(10*time.Minute), rejectVerifier{})
		s.Require().NoError(err)

		_, err = svc.Create(s.ctxFor(pseudonym), s.request("k", "n8"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(0, s.store.Len())
	})

	s.Run("malformed requests never reach the store", func() {
		s.SetupTest()
		pseudonym := s.seedCredential(id.TierAddressAttested)
		svc := s.newService()
		ctx := s.ctxFor(pseudonym)

		missingKey := s.request("", "n9")
		_, err := svc.Create(ctx, missingKey)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		badNullifier := s.request("k", "n10")
		badNullifier.PublicOutputs.Nullifier = "not-hex"
		_, err = svc.Create(ctx, badNullifier)
		s.Require().Error(err)

		noRecipients := s.request("k", "n11")
		noRecipients.Recipients = nil
		_, err = svc.Create(ctx, noRecipients)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		s.Equal(0, s.store.Len())
	})
}
