// Package verification consumes identity verification providers and turns
// their results into session credentials. Providers are black boxes behind a
// single capability interface; nothing outside this package branches on
// provider identity.
package verification

import (
	"context"
	"time"

	"communique/internal/identity/evidence"
	id "communique/pkg/domain"
)

// Input is the opaque material a provider consumes. The platform forwards
// it without interpreting it; raw addresses and identity documents are never
// retained past the provider call.
type Input struct {
	Kind    evidence.Kind
	Payload []byte
}

// Result is what a provider asserts after verifying its input.
type Result struct {
	Kind           evidence.Kind
	AuthorityLevel int
	// DistrictCommitment is set by providers that can derive the
	// participant's district tree leaf (address attestors). Opaque.
	DistrictCommitment id.DistrictCommitment
	VerifiedAt         time.Time
	ExpiresAt          time.Time
}

// Provider is the capability interface every verification provider
// implements, regardless of its underlying protocol.
type Provider interface {
	// Verify checks the input and returns the evidence it establishes.
	// Providers return coded errors; a failed verification is an error,
	// never a zero-authority result.
	Verify(ctx context.Context, input Input) (Result, error)

	// Kind reports the evidence kind this provider can establish.
	Kind() evidence.Kind
}

// Evidence converts a provider result into a resolver evidence item.
func (r Result) Evidence() evidence.Evidence {
	return evidence.Evidence{
		Kind:           r.Kind,
		AuthorityLevel: r.AuthorityLevel,
		IssuedAt:       r.VerifiedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}
