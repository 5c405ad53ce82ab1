package domain

import (
	"encoding/hex"

	dErrors "communique/pkg/domain-errors"
)

// Nullifier is the one-way value derived from a proof's secret inputs and
// the action identifier. Two submissions carrying the same nullifier used
// the same credential for the same action; the ledger accepts at most one.
type Nullifier string

// nullifierHexLen is the length of a hex-encoded SHA-256 digest.
const nullifierHexLen = 64

// ParseNullifier validates a nullifier from external input. Nullifiers are
// lowercase hex SHA-256 digests; anything else is rejected before it can
// reach the ledger.
func ParseNullifier(s string) (Nullifier, error) {
	if len(s) != nullifierHexLen {
		return "", dErrors.New(dErrors.CodeValidation, "nullifier must be a 64-character hex digest")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "nullifier is not valid hex")
	}
	return Nullifier(s), nil
}

func (n Nullifier) String() string { return string(n) }
func (n Nullifier) IsNil() bool    { return n == "" }

// IdempotencyKey is the caller-supplied token that deduplicates retried
// submission requests. It distinguishes a legitimate client retry (same key,
// same nullifier) from a replay attempt (different key, same nullifier).
type IdempotencyKey string

const maxIdempotencyKeyLen = 128

// ParseIdempotencyKey validates an idempotency key from external input.
func ParseIdempotencyKey(s string) (IdempotencyKey, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "idempotency key cannot be empty")
	}
	if len(s) > maxIdempotencyKeyLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "idempotency key too long")
	}
	return IdempotencyKey(s), nil
}

func (k IdempotencyKey) String() string { return string(k) }
func (k IdempotencyKey) IsNil() bool    { return k == "" }
