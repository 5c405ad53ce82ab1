package http_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"communique/internal/delivery"
	"communique/internal/identity/credential"
	"communique/internal/identity/evidence"
	"communique/internal/identity/verification"
	"communique/internal/platform/logger"
	"communique/internal/platform/middleware"
	"communique/internal/proof"
	"communique/internal/submission"
	"communique/internal/submission/store"
	transport "communique/internal/transport/http"
	id "communique/pkg/domain"
	"communique/pkg/testutil"
)

type staticValidator struct {
	claims *middleware.CredentialClaims
}

func (v staticValidator) ValidateToken(token string) (*middleware.CredentialClaims, error) {
	if token != "good-token" {
		return nil, fmt.Errorf("unknown token")
	}
	return v.claims, nil
}

type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(_ context.Context, _ proof.Proof, _ proof.PublicOutputs) (bool, error) {
	return true, nil
}

type passkeyStub struct{}

func (passkeyStub) Kind() evidence.Kind { return evidence.KindPasskeyBinding }

func (passkeyStub) Verify(_ context.Context, _ verification.Input) (verification.Result, error) {
	now := time.Now()
	return verification.Result{
		Kind:           evidence.KindPasskeyBinding,
		AuthorityLevel: 1,
		VerifiedAt:     now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}, nil
}

type staticMinter struct{}

func (staticMinter) Mint(id.Pseudonym, id.TrustTier, id.DistrictCommitment, time.Time, time.Duration) (string, error) {
	return "minted-token", nil
}

type HandlersSuite struct {
	suite.Suite

	ledger    *store.InMemoryStore
	attempts  *delivery.InMemoryAttemptStore
	cache     *credential.InMemoryCache
	pseudonym id.Pseudonym
	server    http.Handler
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) SetupTest() {
	s.ledger = store.NewMemory()
	s.attempts = delivery.NewMemoryAttempts()
	s.cache = credential.NewMemory()
	s.pseudonym = "anon_handler_test"

	now := time.Now()
	err := s.cache.Put(context.Background(), credential.SessionCredential{
		Pseudonym:          s.pseudonym,
		Tier:               id.TierAddressAttested,
		DistrictCommitment: "d1c0",
		IssuedAt:           now,
		ExpiresAt:          now.Add(time.Hour),
	})
	s.Require().NoError(err)

	log := logger.New()
	svc, err := submission.NewService(s.ledger, s.cache, credential.DefaultPolicy(10*time.Minute), acceptAllVerifier{})
	s.Require().NoError(err)

	verifySvc, err := verification.New([]verification.Provider{passkeyStub{}}, s.cache, staticMinter{}, time.Hour)
	s.Require().NoError(err)

	s.server = transport.NewRouter(transport.RouterDeps{
		Verify:     transport.NewVerifyHandler(verifySvc, log),
		Submission: transport.NewSubmissionHandler(svc, delivery.NewTracker(s.ledger, s.attempts), log),
		Validator: staticValidator{claims: &middleware.CredentialClaims{
			Pseudonym: s.pseudonym,
			Tier:      id.TierAddressAttested,
		}},
		Logger: log,
	})
}

func (s *HandlersSuite) createBody(key, nullifierSeed string) map[string]any {
	sum := sha256.Sum256([]byte(nullifierSeed))
	return map[string]any{
		"proof":            base64.StdEncoding.EncodeToString([]byte("proof-bytes")),
		"nullifier":        hex.EncodeToString(sum[:]),
		"treeRoot":         base64.StdEncoding.EncodeToString([]byte("root")),
		"encryptedWitness": map[string]any{"v": 1},
		"witnessKeyId":     "key-1",
		"idempotencyKey":   key,
		"actionId":         id.NewActionID().String(),
		"subject":          "Support the bill",
		"body":             "Please vote yes.",
		"recipients": []map[string]string{
			{"channel": "congress", "officeId": "H001"},
		},
	}
}

func (s *HandlersSuite) post(path string, body map[string]any, token string) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, path, body)
	if token != "" {
		req = testutil.WithBearer(req, token)
	}
	return testutil.DoRequest(s.server, req)
}

func (s *HandlersSuite) TestSubmissions() {
	s.Run("create returns 201 with the submission id", func() {
		s.SetupTest()
		rec := s.post("/submissions", s.createBody("abc123", "n1"), "good-token")
		testutil.AssertStatus(s.T(), rec, http.StatusCreated)

		resp := testutil.UnmarshalResponse[struct {
			SubmissionID string `json:"submissionId"`
		}](s.T(), rec)
		_, err := id.ParseSubmissionID(resp.SubmissionID)
		s.NoError(err)
	})

	s.Run("retry with the same idempotency key returns the same id", func() {
		s.SetupTest()
		body := s.createBody("abc123", "n1")
		first := s.post("/submissions", body, "good-token")
		second := s.post("/submissions", body, "good-token")
		s.Equal(http.StatusCreated, first.Code)
		s.Equal(http.StatusCreated, second.Code)
		s.JSONEq(first.Body.String(), second.Body.String())
	})

	s.Run("nullifier replay under a new key returns 409", func() {
		s.SetupTest()
		rec := s.post("/submissions", s.createBody("x", "n2"), "good-token")
		s.Equal(http.StatusCreated, rec.Code)

		rec = s.post("/submissions", s.createBody("y", "n2"), "good-token")
		testutil.AssertStatus(s.T(), rec, http.StatusConflict)
		testutil.AssertErrorCode(s.T(), rec, "conflict")
	})

	s.Run("missing credential returns 401", func() {
		s.SetupTest()
		rec := s.post("/submissions", s.createBody("k", "n3"), "")
		testutil.AssertStatus(s.T(), rec, http.StatusUnauthorized)
		testutil.AssertErrorCode(s.T(), rec, "unauthorized")
	})

	s.Run("malformed body returns 400", func() {
		s.SetupTest()
		req := httptest.NewRequest(http.MethodPost, "/submissions", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		rec := testutil.DoRequest(s.server, testutil.WithBearer(req, "good-token"))
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("status reflects the created attempts", func() {
		s.SetupTest()
		rec := s.post("/submissions", s.createBody("k", "n4"), "good-token")
		s.Require().Equal(http.StatusCreated, rec.Code)

		created := testutil.UnmarshalResponse[struct {
			SubmissionID string `json:"submissionId"`
		}](s.T(), rec)

		req := httptest.NewRequest(http.MethodGet, "/submissions/"+created.SubmissionID+"/status", nil)
		statusRec := testutil.DoRequest(s.server, testutil.WithBearer(req, "good-token"))
		s.Equal(http.StatusOK, statusRec.Code)

		report := testutil.UnmarshalResponse[delivery.StatusReport](s.T(), statusRec)
		s.Equal("pending", report.Overall)
		s.False(report.Terminal)
		s.Len(report.Attempts, 1)
		s.Equal("pending", report.Attempts[0].Status)
	})

	s.Run("unknown submission id returns 404", func() {
		s.SetupTest()
		req := httptest.NewRequest(http.MethodGet, "/submissions/"+id.NewSubmissionID().String()+"/status", nil)
		rec := testutil.DoRequest(s.server, testutil.WithBearer(req, "good-token"))
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlersSuite) TestVerify() {
	type verifyResp struct {
		Token     string `json:"token"`
		Pseudonym string `json:"pseudonym"`
		Tier      int    `json:"tier"`
	}
	body := map[string]any{
		"kind":    "passkey_binding",
		"payload": map[string]string{"credentialId": "c1", "assertion": "sig"},
	}

	s.Run("anonymous verify mints a fresh pseudonym regardless of claimed identity", func() {
		s.SetupTest()
		withClaim := map[string]any{
			"kind":      "passkey_binding",
			"payload":   map[string]string{"credentialId": "c1", "assertion": "sig"},
			"pseudonym": s.pseudonym.String(),
		}
		rec := s.post("/verify", withClaim, "")
		testutil.AssertStatus(s.T(), rec, http.StatusOK)

		resp := testutil.UnmarshalResponse[verifyResp](s.T(), rec)
		s.NotEqual(s.pseudonym.String(), resp.Pseudonym)
		s.Equal(int(id.TierPasskeyBound), resp.Tier)

		// The attested credential seeded for s.pseudonym is untouched.
		cached, err := s.cache.Get(context.Background(), s.pseudonym)
		s.Require().NoError(err)
		s.Equal(id.TierAddressAttested, cached.Tier)
		s.Equal(id.DistrictCommitment("d1c0"), cached.DistrictCommitment)
	})

	s.Run("re-verification under a bearer credential keeps the attested tier", func() {
		s.SetupTest()
		rec := s.post("/verify", body, "good-token")
		testutil.AssertStatus(s.T(), rec, http.StatusOK)

		resp := testutil.UnmarshalResponse[verifyResp](s.T(), rec)
		s.Equal(s.pseudonym.String(), resp.Pseudonym)
		s.Equal(int(id.TierAddressAttested), resp.Tier)
	})

	s.Run("an invalid bearer token is rejected, not treated as anonymous", func() {
		s.SetupTest()
		rec := s.post("/verify", body, "forged-token")
		testutil.AssertStatus(s.T(), rec, http.StatusUnauthorized)
		testutil.AssertErrorCode(s.T(), rec, "unauthorized")
	})
}
