// Package proof coordinates client-side proof generation: witness assembly,
// the external prover, local verification, and witness encryption.
package proof

import (
	"context"
	"errors"
)

// Orchestration errors. ErrTimeout is recoverable (device too slow, try
// again); ErrInvalid means the prover produced a proof its own verifier
// rejects and retrying with the same inputs is pointless.
var (
	ErrTimeout = errors.New("proof generation timed out")
	ErrInvalid = errors.New("proof failed local verification")
)

// Inputs is the full witness plus public signals handed to the prover.
type Inputs struct {
	AddressSecret []byte
	MerklePath    [][]byte
	NullifierSeed []byte
	ActionID      string
	TreeRoot      []byte
}

// Proof is the opaque proof blob produced by the external proving module.
type Proof []byte

// PublicOutputs are the circuit's public signals: the nullifier and the
// district tree root the proof was generated against.
type PublicOutputs struct {
	Nullifier string `json:"nullifier"`
	TreeRoot  []byte `json:"tree_root"`
}

// Prover is the external proving module, treated as a versioned, swappable
// black box. Proving may take sub-second to several seconds depending on
// the device.
type Prover interface {
	Prove(ctx context.Context, inputs Inputs) (Proof, PublicOutputs, error)
	Verify(ctx context.Context, proof Proof, outputs PublicOutputs) (bool, error)
}

// InclusionSource serves Merkle inclusion paths for committed districts.
type InclusionSource interface {
	// Path returns the inclusion path and current root for the
	// commitment's leaf in the district tree.
	Path(ctx context.Context, commitment string) (path [][]byte, root []byte, err error)
}
