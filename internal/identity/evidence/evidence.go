// Package evidence defines credential evidence and the trust tier
// projection over it.
package evidence

import (
	"time"

	id "communique/pkg/domain"
)

// Kind identifies one category of credential evidence.
type Kind string

const (
	KindPasskeyBinding     Kind = "passkey_binding"
	KindAddressAttestation Kind = "address_attestation"
	KindDistrictProof      Kind = "district_proof"
	KindGovCredential      Kind = "gov_credential"
)

// validKinds is the single source of truth for evidence the resolver
// understands. Anything else is ignored: unknown evidence never elevates a
// tier.
var validKinds = map[Kind]bool{
	KindPasskeyBinding:     true,
	KindAddressAttestation: true,
	KindDistrictProof:      true,
	KindGovCredential:      true,
}

// IsValid reports whether the kind is one of the supported enum values.
func (k Kind) IsValid() bool {
	return validKinds[k]
}

// Evidence is one immutable item of credential evidence. A participant may
// hold multiple items simultaneously; the tier is derived from the set.
type Evidence struct {
	Kind           Kind
	AuthorityLevel int
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the evidence has lapsed as of now. A zero
// ExpiresAt means the evidence does not expire.
func (e Evidence) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// minAuthority is the authority level each kind must carry to count toward a
// tier. Authority levels run 0-5; a provider asserting below the floor for
// its kind is ignored.
var minAuthority = map[Kind]int{
	KindPasskeyBinding:     1,
	KindAddressAttestation: 2,
	KindDistrictProof:      3,
	KindGovCredential:      4,
}

// tierFor maps a qualifying evidence kind to the tier it establishes.
var tierFor = map[Kind]id.TrustTier{
	KindPasskeyBinding:     id.TierPasskeyBound,
	KindAddressAttestation: id.TierAddressAttested,
	KindDistrictProof:      id.TierDistrictVerified,
	KindGovCredential:      id.TierGovCredentialed,
}

// Resolve computes the trust tier established by the evidence set as of now.
//
// Pure, deterministic, and total: unknown kinds, expired items, and items
// below their kind's authority floor are skipped rather than rejected, so a
// malformed item can never lower or raise the result relative to the rest of
// the set. Adding qualifying evidence is monotonic: the result never
// decreases.
//
// Callers must re-resolve per request rather than trust a stored tier,
// because evidence can expire between requests.
func Resolve(now time.Time, set []Evidence) id.TrustTier {
	tier := id.TierAnonymous
	for _, e := range set {
		if !e.Kind.IsValid() {
			continue
		}
		if e.Expired(now) {
			continue
		}
		if e.AuthorityLevel < minAuthority[e.Kind] || e.AuthorityLevel > 5 {
			continue
		}
		if t := tierFor[e.Kind]; t > tier {
			tier = t
		}
	}
	return tier
}
