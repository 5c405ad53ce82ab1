package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"communique/internal/platform/metrics"
	"communique/internal/platform/middleware"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RouterDeps collects everything the HTTP surface needs. The credential
// validator gates the submission routes; verification and proof routes are
// reachable without one.
type RouterDeps struct {
	Verify     *VerifyHandler
	Proofs     *ProofHandler
	Submission *SubmissionHandler
	Validator  middleware.CredentialValidator
	Metrics    *metrics.Metrics
	Health     []HealthChecker
	Logger     *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(60 * time.Second))
	if deps.Metrics != nil {
		r.Use(middleware.Latency(deps.Metrics))
	}

	r.Get("/healthz", healthHandler(deps.Health))
	r.Handle("/metrics", promhttp.Handler())

	if deps.Verify != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			// First contact is anonymous; a re-verification carries the
			// caller's credential so the pseudonym comes from the token.
			r.Use(middleware.OptionalCredential(deps.Validator, deps.Logger))
			r.Post("/verify", deps.Verify.Verify)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireCredential(deps.Validator, deps.Logger))
		if deps.Proofs != nil {
			r.Post("/proofs", deps.Proofs.Generate)
		}
		if deps.Submission != nil {
			r.Post("/submissions", deps.Submission.Create)
			r.Get("/submissions/{submissionID}/status", deps.Submission.Status)
		}
	})

	return r
}

func healthHandler(checks []HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, c := range checks {
			if err := c.Health(r.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
