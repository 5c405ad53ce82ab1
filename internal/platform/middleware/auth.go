package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "communique/pkg/domain"
	"communique/pkg/requestcontext"
)

// CredentialValidator defines the interface for validating session
// credential tokens presented by callers.
type CredentialValidator interface {
	ValidateToken(tokenString string) (*CredentialClaims, error)
}

// CredentialClaims represents the claims we expect from the validator.
type CredentialClaims struct {
	Pseudonym          id.Pseudonym
	Tier               id.TrustTier
	DistrictCommitment id.DistrictCommitment
}

// RequireCredential rejects requests lacking a valid session credential and
// threads the pseudonym and tier through the request context. Handlers never
// read the Authorization header themselves.
func RequireCredential(validator CredentialValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - missing credential",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - invalid credential",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired credential")
				return
			}

			ctx := requestcontext.WithPseudonym(r.Context(), claims.Pseudonym)
			ctx = requestcontext.WithTier(ctx, claims.Tier)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalCredential threads the pseudonym and tier through the request
// context when a valid bearer token is presented, and lets anonymous
// requests through with neither. A token that is present but invalid is
// still rejected: silently downgrading it to anonymous would let an expired
// caller mint a fresh identity without noticing.
func OptionalCredential(validator CredentialValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok {
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - invalid credential",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired credential")
				return
			}

			ctx := requestcontext.WithPseudonym(r.Context(), claims.Pseudonym)
			ctx = requestcontext.WithTier(ctx, claims.Tier)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
