// Package witness holds the ephemeral proof witness and the codec that
// carries it across the client/server boundary. A witness exists in plaintext
// only in client memory and, briefly, inside the delivery worker while it
// builds the external payload. It is never persisted in plaintext.
package witness

import (
	"crypto/sha256"
	"encoding/hex"

	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
)

// Witness is the secret input material consumed by the external proving
// module.
type Witness struct {
	// AddressSecret is the address-derived value the circuit commits to.
	AddressSecret []byte
	// MerklePath proves district-tree inclusion of the committed leaf.
	MerklePath [][]byte
	// NullifierSeed feeds the anti-replay nullifier. Must be nonzero: a
	// zero seed would make the nullifier predictable and let a degenerate
	// proof bypass replay detection. Enforced here and in the circuit.
	NullifierSeed []byte
}

// Validate rejects structurally unusable witnesses before they reach the
// prover or codec.
func (w Witness) Validate() error {
	if len(w.AddressSecret) == 0 {
		return dErrors.New(dErrors.CodeValidation, "witness address secret is empty")
	}
	if len(w.MerklePath) == 0 {
		return dErrors.New(dErrors.CodeValidation, "witness merkle path is empty")
	}
	if len(w.NullifierSeed) == 0 || allZero(w.NullifierSeed) {
		return dErrors.New(dErrors.CodeInvariantViolation, "witness nullifier seed must be nonzero")
	}
	return nil
}

// DeriveNullifier computes the one-way nullifier binding this witness to an
// action. The same seed and action always derive the same nullifier, which
// is what lets the ledger detect duplicate use without learning the seed.
func (w Witness) DeriveNullifier(actionID id.ActionID) id.Nullifier {
	h := sha256.New()
	h.Write(w.NullifierSeed)
	h.Write([]byte(actionID.String()))
	return id.Nullifier(hex.EncodeToString(h.Sum(nil)))
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
