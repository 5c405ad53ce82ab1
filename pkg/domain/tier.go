package domain

import dErrors "communique/pkg/domain-errors"

// TrustTier is the ordinal classification of how much a participant has
// proven about themselves. It is a projection over presented evidence,
// recomputed per evaluation, never stored as participant-mutable state.
type TrustTier int

const (
	TierAnonymous        TrustTier = 0
	TierPasskeyBound     TrustTier = 1
	TierAddressAttested  TrustTier = 2
	TierDistrictVerified TrustTier = 3
	TierGovCredentialed  TrustTier = 4
)

var tierNames = map[TrustTier]string{
	TierAnonymous:        "anonymous",
	TierPasskeyBound:     "passkey_bound",
	TierAddressAttested:  "address_attested",
	TierDistrictVerified: "district_verified",
	TierGovCredentialed:  "gov_credentialed",
}

// ParseTrustTier validates a tier from external input (e.g. a credential
// token claim).
func ParseTrustTier(n int) (TrustTier, error) {
	t := TrustTier(n)
	if _, ok := tierNames[t]; !ok {
		return TierAnonymous, dErrors.Newf(dErrors.CodeInvalidInput, "unknown trust tier: %d", n)
	}
	return t, nil
}

func (t TrustTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// AtLeast reports whether this tier meets or exceeds the required tier.
func (t TrustTier) AtLeast(required TrustTier) bool {
	return t >= required
}
