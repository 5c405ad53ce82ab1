// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// This package defines context keys and getter/setter functions for values
// that are typically set by middleware but consumed by services. By keeping
// this package free of net/http dependencies, services can import only what
// they need without pulling in HTTP-related code.
//
// Every read explicitly threads the caller's context: there is no shared
// global holding the "current" participant, which is what keeps one caller's
// cached tier from leaking into another concurrent caller's evaluation.
//
// Usage in services (read values):
//
//	pseudonym := requestcontext.Pseudonym(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithPseudonym(ctx, pseudonym)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
package requestcontext

import (
	"context"
	"time"

	id "communique/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	pseudonymKey   struct{}
	tierKey        struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyPseudonym   = pseudonymKey{}
	ContextKeyTier        = tierKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Pseudonym retrieves the authenticated participant pseudonym from the
// context. Returns the zero value if not set.
func Pseudonym(ctx context.Context) id.Pseudonym {
	if p, ok := ctx.Value(ContextKeyPseudonym).(id.Pseudonym); ok {
		return p
	}
	return ""
}

// WithPseudonym injects a participant pseudonym into the context.
func WithPseudonym(ctx context.Context, p id.Pseudonym) context.Context {
	return context.WithValue(ctx, ContextKeyPseudonym, p)
}

// Tier retrieves the trust tier carried by the caller's credential.
// Returns TierAnonymous if not set.
func Tier(ctx context.Context) id.TrustTier {
	if t, ok := ctx.Value(ContextKeyTier).(id.TrustTier); ok {
		return t
	}
	return id.TierAnonymous
}

// WithTier injects the caller's credential tier into the context.
func WithTier(ctx context.Context, t id.TrustTier) context.Context {
	return context.WithValue(ctx, ContextKeyTier, t)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() for non-HTTP contexts such as workers and tests.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for workers that need consistent time within a batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
