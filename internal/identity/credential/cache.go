package credential

import (
	"context"

	id "communique/pkg/domain"
)

// Cache is the session credential store. Implementations enforce TTL on
// read: an expired entry behaves exactly like an absent one, so callers
// never observe a lapsed credential.
//
// Every method takes the caller's context; there is no ambient "current
// session". The pseudonym key always comes from the request context of the
// caller being evaluated.
type Cache interface {
	// Put stores a credential under its pseudonym, replacing any previous
	// entry. The entry becomes unreadable at ExpiresAt even if never
	// explicitly invalidated.
	Put(ctx context.Context, cred SessionCredential) error

	// Get returns the credential for the pseudonym, or
	// sentinel.ErrNotFound if absent or expired.
	Get(ctx context.Context, pseudonym id.Pseudonym) (SessionCredential, error)

	// Invalidate removes the credential for the pseudonym. Removing an
	// absent entry is not an error.
	Invalidate(ctx context.Context, pseudonym id.Pseudonym) error
}
