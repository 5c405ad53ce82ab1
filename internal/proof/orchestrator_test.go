package proof

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"communique/internal/identity/credential"
	"communique/internal/witness"
	id "communique/pkg/domain"
)

// stubProver lets tests control prover behavior per step.
type stubProver struct {
	proveFn  func(ctx context.Context, inputs Inputs) (Proof, PublicOutputs, error)
	verifyFn func(ctx context.Context, proof Proof, outputs PublicOutputs) (bool, error)
}

func (p *stubProver) Prove(ctx context.Context, inputs Inputs) (Proof, PublicOutputs, error) {
	return p.proveFn(ctx, inputs)
}

func (p *stubProver) Verify(ctx context.Context, proof Proof, outputs PublicOutputs) (bool, error) {
	if p.verifyFn != nil {
		return p.verifyFn(ctx, proof, outputs)
	}
	return true, nil
}

type stubInclusion struct {
	path [][]byte
	root []byte
	err  error
}

func (s *stubInclusion) Path(ctx context.Context, commitment string) ([][]byte, []byte, error) {
	return s.path, s.root, s.err
}

type OrchestratorSuite struct {
	suite.Suite
	codec     *witness.Codec
	inclusion *stubInclusion
	priv      *ecdh.PrivateKey
	cred      credential.SessionCredential
	actionID  id.ActionID
	seed      []byte
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.codec = witness.NewCodec(witness.VersionV1)
	s.inclusion = &stubInclusion{
		path: [][]byte{[]byte("a"), []byte("b")},
		root: []byte("root"),
	}
	var err error
	s.priv, err = ecdh.X25519().GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.cred = credential.SessionCredential{
		Pseudonym:          "p1",
		Tier:               id.TierDistrictVerified,
		DistrictCommitment: "commitment-1",
		IssuedAt:           time.Now(),
		ExpiresAt:          time.Now().Add(time.Hour),
	}
	s.actionID, err = id.ParseActionID("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")
	s.Require().NoError(err)
	s.seed = []byte{1, 2, 3, 4}
}

// honestProver derives the real nullifier so local verification passes.
func (s *OrchestratorSuite) honestProver() *stubProver {
	return &stubProver{
		proveFn: func(ctx context.Context, inputs Inputs) (Proof, PublicOutputs, error) {
			w := witness.Witness{
				AddressSecret: inputs.AddressSecret,
				MerklePath:    inputs.MerklePath,
				NullifierSeed: inputs.NullifierSeed,
			}
			action, err := id.ParseActionID(inputs.ActionID)
			if err != nil {
				return nil, PublicOutputs{}, err
			}
			return Proof("proof-bytes"), PublicOutputs{
				Nullifier: w.DeriveNullifier(action).String(),
				TreeRoot:  inputs.TreeRoot,
			}, nil
		},
	}
}

func (s *OrchestratorSuite) orchestrator(p Prover, timeout time.Duration) *Orchestrator {
	o, err := NewOrchestrator(p, s.inclusion, s.codec, timeout)
	s.Require().NoError(err)
	return o
}

func (s *OrchestratorSuite) TestHappyPath() {
	o := s.orchestrator(s.honestProver(), time.Second)

	res, err := o.GenerateAndEncrypt(context.Background(), s.cred, s.actionID, []byte("secret"), s.seed, s.priv.PublicKey())
	s.Require().NoError(err)

	s.Equal(Proof("proof-bytes"), res.Proof)
	s.Equal(res.Nullifier.String(), res.PublicOutputs.Nullifier)

	// The sealed witness must decrypt back to the assembled one.
	w, err := s.codec.Decrypt(res.EncryptedWitness, s.priv)
	s.Require().NoError(err)
	s.Equal(s.seed, w.NullifierSeed)
	s.Equal(res.Nullifier, w.DeriveNullifier(s.actionID))
}

func (s *OrchestratorSuite) TestZeroSeedRejectedBeforeProving() {
	proved := false
	p := s.honestProver()
	inner := p.proveFn
	p.proveFn = func(ctx context.Context, inputs Inputs) (Proof, PublicOutputs, error) {
		proved = true
		return inner(ctx, inputs)
	}
	o := s.orchestrator(p, time.Second)

	_, err := o.GenerateAndEncrypt(context.Background(), s.cred, s.actionID, []byte("secret"), []byte{0, 0}, s.priv.PublicKey())
	s.Error(err)
	s.False(proved, "prover must not run for a degenerate witness")
}

func (s *OrchestratorSuite) TestProverTimeoutIsDistinctFromInvalid() {
	slow := &stubProver{
		proveFn: func(ctx context.Context, inputs Inputs) (Proof, PublicOutputs, error) {
			<-ctx.Done()
			return nil, PublicOutputs{}, ctx.Err()
		},
	}
	o := s.orchestrator(slow, 20*time.Millisecond)

	_, err := o.GenerateAndEncrypt(context.Background(), s.cred, s.actionID, []byte("secret"), s.seed, s.priv.PublicKey())
	s.ErrorIs(err, ErrTimeout)
	s.NotErrorIs(err, ErrInvalid)
}

func (s *OrchestratorSuite) TestInvalidProofFailsFast() {
	p := s.honestProver()
	p.verifyFn = func(ctx context.Context, proof Proof, outputs PublicOutputs) (bool, error) {
		return false, nil
	}
	o := s.orchestrator(p, time.Second)

	_, err := o.GenerateAndEncrypt(context.Background(), s.cred, s.actionID, []byte("secret"), s.seed, s.priv.PublicKey())
	s.ErrorIs(err, ErrInvalid)
}

func (s *OrchestratorSuite) TestNullifierMismatchRejected() {
	p := s.honestProver()
	inner := p.proveFn
	p.proveFn = func(ctx context.Context, inputs Inputs) (Proof, PublicOutputs, error) {
		prf, outputs, err := inner(ctx, inputs)
		outputs.Nullifier = "0000000000000000000000000000000000000000000000000000000000000000"
		return prf, outputs, err
	}
	o := s.orchestrator(p, time.Second)

	_, err := o.GenerateAndEncrypt(context.Background(), s.cred, s.actionID, []byte("secret"), s.seed, s.priv.PublicKey())
	s.ErrorIs(err, ErrInvalid)
}

func (s *OrchestratorSuite) TestCancellationBetweenSteps() {
	ctx, cancel := context.WithCancel(context.Background())
	p := s.honestProver()
	inner := p.proveFn
	p.proveFn = func(c context.Context, inputs Inputs) (Proof, PublicOutputs, error) {
		// Caller navigates away while the prover is running.
		cancel()
		return inner(c, inputs)
	}
	o := s.orchestrator(p, time.Second)

	_, err := o.GenerateAndEncrypt(ctx, s.cred, s.actionID, []byte("secret"), s.seed, s.priv.PublicKey())
	s.ErrorIs(err, context.Canceled)
}

func (s *OrchestratorSuite) TestMissingCommitmentRejected() {
	o := s.orchestrator(s.honestProver(), time.Second)
	cred := s.cred
	cred.DistrictCommitment = ""

	_, err := o.GenerateAndEncrypt(context.Background(), cred, s.actionID, []byte("secret"), s.seed, s.priv.PublicKey())
	s.Error(err)
}

func (s *OrchestratorSuite) TestInclusionFetchFailure() {
	s.inclusion.err = errors.New("tree service down")
	o := s.orchestrator(s.honestProver(), time.Second)

	_, err := o.GenerateAndEncrypt(context.Background(), s.cred, s.actionID, []byte("secret"), s.seed, s.priv.PublicKey())
	s.Error(err)
}
