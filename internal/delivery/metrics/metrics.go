package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Claimed      prometheus.Counter
	Delivered    *prometheus.CounterVec
	Rejected     *prometheus.CounterVec
	Failed       *prometheus.CounterVec
	Retried      prometheus.Counter
	CallDuration *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		Claimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "delivery_attempts_claimed_total",
			Help: "Delivery attempts claimed by workers.",
		}),
		Delivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_delivered_total",
			Help: "Attempts that reached their recipient.",
		}, []string{"channel"}),
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_rejected_total",
			Help: "Attempts the recipient endpoint rejected.",
		}, []string{"channel"}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_failed_total",
			Help: "Attempts that exhausted retries or could not be decrypted.",
		}, []string{"channel"}),
		Retried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "delivery_retries_total",
			Help: "Transient failures scheduled for another attempt.",
		}),
		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delivery_call_duration_seconds",
			Help:    "Duration of delivery endpoint calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
	}
}
