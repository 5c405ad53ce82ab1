package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"communique/internal/identity/evidence"
	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
	"communique/pkg/requestcontext"
)

// AddressAttestor is the external service that confirms a postal address is
// real and resolves it to a legislative district. The address itself stays
// inside this call: only the district survives, and only as a commitment.
type AddressAttestor interface {
	Attest(ctx context.Context, address string) (district string, authorityLevel int, err error)
}

// AttestationProvider establishes address-attestation evidence.
type AttestationProvider struct {
	attestor AddressAttestor
	// commitmentSalt blinds district commitments so the tree position of a
	// district cannot be precomputed from public district names.
	commitmentSalt []byte
	validity       time.Duration
}

func NewAttestationProvider(attestor AddressAttestor, commitmentSalt []byte, validity time.Duration) *AttestationProvider {
	return &AttestationProvider{
		attestor:       attestor,
		commitmentSalt: commitmentSalt,
		validity:       validity,
	}
}

func (p *AttestationProvider) Kind() evidence.Kind {
	return evidence.KindAddressAttestation
}

type attestationPayload struct {
	Address string `json:"address"`
}

func (p *AttestationProvider) Verify(ctx context.Context, input Input) (Result, error) {
	var payload attestationPayload
	if err := json.Unmarshal(input.Payload, &payload); err != nil {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "malformed attestation payload")
	}
	if payload.Address == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}

	district, authority, err := p.attestor.Attest(ctx, payload.Address)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "address attestation rejected")
	}

	now := requestcontext.Now(ctx)
	return Result{
		Kind:               evidence.KindAddressAttestation,
		AuthorityLevel:     authority,
		DistrictCommitment: p.commit(district),
		VerifiedAt:         now,
		ExpiresAt:          now.Add(p.validity),
	}, nil
}

func (p *AttestationProvider) commit(district string) id.DistrictCommitment {
	h := sha256.New()
	h.Write(p.commitmentSalt)
	h.Write([]byte(district))
	return id.DistrictCommitment(hex.EncodeToString(h.Sum(nil)))
}
