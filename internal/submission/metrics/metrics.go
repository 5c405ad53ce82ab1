package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus metrics.
type Metrics struct {
	Created          prometheus.Counter
	IdempotentRetry  prometheus.Counter
	NullifierReused  prometheus.Counter
	RejectedInvalid  prometheus.Counter
	TierPromotions   prometheus.Counter
	CreateDurationMs prometheus.Histogram
}

// New creates and registers the ledger metrics.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "communique_submissions_created_total",
			Help: "Submissions recorded for the first time",
		}),
		IdempotentRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "communique_submissions_idempotent_retries_total",
			Help: "Create calls answered with an existing submission id",
		}),
		NullifierReused: promauto.NewCounter(prometheus.CounterOpts{
			Name: "communique_submissions_nullifier_reused_total",
			Help: "Create calls rejected for nullifier reuse with a mismatched idempotency key",
		}),
		RejectedInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "communique_submissions_rejected_invalid_total",
			Help: "Create calls rejected before any side effect",
		}),
		TierPromotions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "communique_tier_promotions_total",
			Help: "Credential tier promotions performed by the ledger",
		}),
		CreateDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "communique_submission_create_duration_ms",
			Help:    "Latency of ledger create calls in milliseconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}
