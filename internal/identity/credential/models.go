// Package credential owns the session credential lifecycle: created after a
// tier-qualifying verification, read on every gated action, and invalidated
// at expiry or explicit revocation. Nothing outside this package writes
// cache entries.
package credential

import (
	"time"

	id "communique/pkg/domain"
)

// SessionCredential is a cache entry binding a pseudonym to its current
// tier and district commitment for a bounded window. The commitment is
// opaque; the platform never holds a plaintext location.
type SessionCredential struct {
	Pseudonym          id.Pseudonym
	Tier               id.TrustTier
	DistrictCommitment id.DistrictCommitment
	IssuedAt           time.Time
	ExpiresAt          time.Time
}

// Expired reports whether the credential has lapsed as of now.
func (c SessionCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Age returns how long ago the credential was issued.
func (c SessionCredential) Age(now time.Time) time.Duration {
	return now.Sub(c.IssuedAt)
}

// ActionKind names a gated action for freshness policy lookup.
type ActionKind string

const (
	// ActionConstituentMessage is a verified message to an official
	// recipient; it requires a recently issued credential.
	ActionConstituentMessage ActionKind = "constituent_message"
	// ActionStatusPoll is a read-only status check.
	ActionStatusPoll ActionKind = "status_poll"
)

// Policy maps action kinds to the maximum credential age each accepts.
// Actions absent from the map accept any unexpired credential.
type Policy struct {
	MaxAge map[ActionKind]time.Duration
}

// DefaultPolicy returns the freshness windows used in production.
func DefaultPolicy(messageFreshness time.Duration) Policy {
	return Policy{
		MaxAge: map[ActionKind]time.Duration{
			ActionConstituentMessage: messageFreshness,
		},
	}
}

// Admits reports whether a credential is fresh enough for the action as of
// now. Expiry is checked first; freshness only narrows the window further.
func (p Policy) Admits(c SessionCredential, action ActionKind, now time.Time) bool {
	if c.Expired(now) {
		return false
	}
	maxAge, ok := p.MaxAge[action]
	if !ok {
		return true
	}
	return c.Age(now) <= maxAge
}
