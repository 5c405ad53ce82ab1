package proof

import (
	"context"
	"crypto/ecdh"
	"errors"
	"log/slog"
	"time"

	"communique/internal/identity/credential"
	"communique/internal/witness"
	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
)

// Result is what the orchestrator hands to the submission call: the proof,
// its public outputs, and the witness sealed for the server's one-time key.
type Result struct {
	Proof            Proof
	PublicOutputs    PublicOutputs
	EncryptedWitness witness.Envelope
	Nullifier        id.Nullifier
}

// Orchestrator drives proof generation end to end. The proving step is CPU
// heavy and runs on the caller's goroutine; callers keep their interface
// responsive by running GenerateAndEncrypt off the interactive path and
// cancelling via ctx. Cancellation is checked between major steps, and no
// partial state survives an abandoned run.
type Orchestrator struct {
	prover       Prover
	inclusion    InclusionSource
	codec        *witness.Codec
	proveTimeout time.Duration
	logger       *slog.Logger
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func NewOrchestrator(prover Prover, inclusion InclusionSource, codec *witness.Codec, proveTimeout time.Duration, opts ...OrchestratorOption) (*Orchestrator, error) {
	if prover == nil {
		return nil, errors.New("prover is required")
	}
	if inclusion == nil {
		return nil, errors.New("inclusion source is required")
	}
	if codec == nil {
		return nil, errors.New("witness codec is required")
	}

	o := &Orchestrator{
		prover:       prover,
		inclusion:    inclusion,
		codec:        codec,
		proveTimeout: proveTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// GenerateAndEncrypt assembles the witness for the credential's district
// commitment, proves district membership for the action, verifies the proof
// locally, and seals the witness for the recipient key.
func (o *Orchestrator) GenerateAndEncrypt(
	ctx context.Context,
	cred credential.SessionCredential,
	actionID id.ActionID,
	addressSecret, nullifierSeed []byte,
	recipientPub *ecdh.PublicKey,
) (Result, error) {
	if cred.DistrictCommitment.IsNil() {
		return Result{}, dErrors.New(dErrors.CodeValidation, "credential carries no district commitment")
	}
	if actionID.IsNil() {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "action id is required")
	}

	// Step 1: fetch the inclusion path for the committed district.
	path, root, err := o.inclusion.Path(ctx, cred.DistrictCommitment.String())
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fetch inclusion path")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Step 2: assemble the witness. A zero nullifier seed is rejected here
	// before any expensive work.
	w := witness.Witness{
		AddressSecret: addressSecret,
		MerklePath:    path,
		NullifierSeed: nullifierSeed,
	}
	if err := w.Validate(); err != nil {
		return Result{}, err
	}

	// Step 3: invoke the external prover under its own deadline. A slow
	// device surfaces as ErrTimeout, which is recoverable, unlike a proof
	// the verifier rejects.
	proveCtx, cancel := context.WithTimeout(ctx, o.proveTimeout)
	defer cancel()

	start := time.Now()
	prf, outputs, err := o.prover.Prove(proveCtx, Inputs{
		AddressSecret: w.AddressSecret,
		MerklePath:    w.MerklePath,
		NullifierSeed: w.NullifierSeed,
		ActionID:      actionID.String(),
		TreeRoot:      root,
	})
	if err != nil {
		if errors.Is(proveCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, ErrTimeout
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "prover failed")
	}
	o.logger.DebugContext(ctx, "proof generated", "duration_ms", time.Since(start).Milliseconds())

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Step 4: verify locally before submitting anything.
	ok, err := o.prover.Verify(ctx, prf, outputs)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "local verification failed")
	}
	if !ok {
		return Result{}, ErrInvalid
	}

	expected := w.DeriveNullifier(actionID)
	if outputs.Nullifier != expected.String() {
		return Result{}, ErrInvalid
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Step 5: seal the witness for the server's one-time key.
	env, err := o.codec.Encrypt(w, recipientPub)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "witness encryption failed")
	}

	return Result{
		Proof:            prf,
		PublicOutputs:    outputs,
		EncryptedWitness: env,
		Nullifier:        expected,
	}, nil
}
