package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"communique/internal/audit"
	"communique/internal/delivery/metrics"
	"communique/internal/submission"
	"communique/internal/witness"
	"communique/pkg/platform/sentinel"
)

// WorkerConfig bounds the delivery loop. CallTimeout limits a single
// endpoint call; MaxAttempts bounds the whole retry budget per attempt.
type WorkerConfig struct {
	Workers        int
	BatchSize      int
	PollInterval   time.Duration
	LeaseDuration  time.Duration
	CallTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Worker drains the attempt queue. Each attempt moves through
// pending, decrypting, addressed, submitted, and ends delivered, rejected,
// or failed. Transient endpoint and keystore errors send it back to pending
// with a backoff; everything else is terminal on the spot.
type Worker struct {
	attempts AttemptStore
	ledger   submission.Store
	opener   Opener
	router   *Router
	cfg      WorkerConfig

	metrics *metrics.Metrics
	audit   audit.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func WithWorkerAudit(publisher audit.Publisher) WorkerOption {
	return func(w *Worker) { w.audit = publisher }
}

// WithClock overrides the worker's clock. Tests pin it.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(attempts AttemptStore, ledger submission.Store, opener Opener, router *Router, cfg WorkerConfig, opts ...WorkerOption) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	w := &Worker{
		attempts: attempts,
		ledger:   ledger,
		opener:   opener,
		router:   router,
		cfg:      cfg,
		audit:    audit.NopPublisher{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled, polling for due attempts with a pool
// of workers. Returns the context error on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			ticker := time.NewTicker(w.cfg.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := w.RunOnce(ctx); err != nil {
						w.logger.ErrorContext(ctx, "delivery pass failed", "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

// RunOnce claims and processes one batch. Exposed so tests and the CLI can
// drive the loop deterministically.
func (w *Worker) RunOnce(ctx context.Context) error {
	now := w.now()
	claimed, err := w.attempts.Claim(ctx, now, now.Add(w.cfg.LeaseDuration), w.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, attempt := range claimed {
		if w.metrics != nil {
			w.metrics.Claimed.Inc()
		}
		w.process(ctx, attempt)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, attempt submission.DeliveryAttempt) {
	sub, _, err := w.ledger.Find(ctx, attempt.SubmissionID)
	if err != nil {
		w.logger.ErrorContext(ctx, "submission lookup failed",
			"attempt_id", attempt.ID.String(),
			"submission_id", attempt.SubmissionID.String(),
			"error", err,
		)
		return
	}

	w.transition(ctx, &attempt, submission.AttemptDecrypting)

	wit, err := w.opener.Open(ctx, sub.WitnessKeyID, sub.EncryptedWitness)
	switch {
	case err == nil:
	case errors.Is(err, witness.ErrDecryptionFailed),
		errors.Is(err, witness.ErrUnsupportedVersion),
		errors.Is(err, sentinel.ErrNotFound):
		// The key is gone or the envelope does not open. No retry can
		// change either.
		w.finish(ctx, attempt, submission.AttemptFailed, "witness cannot be decrypted")
		return
	default:
		// Keystore outage or other infrastructure fault. The key may
		// still be there on the next pass.
		w.retry(ctx, attempt, fmt.Errorf("witness key fetch: %w", err))
		return
	}
	addr, err := parseAddress(wit.AddressSecret)
	if err != nil {
		w.finish(ctx, attempt, submission.AttemptFailed, "witness address block unusable")
		return
	}

	w.transition(ctx, &attempt, submission.AttemptAddressed)

	client, err := w.router.For(attempt.Recipient.Channel)
	if err != nil {
		w.finish(ctx, attempt, submission.AttemptFailed, err.Error())
		return
	}

	w.transition(ctx, &attempt, submission.AttemptSubmitted)

	dispatch := Dispatch{
		OfficeID:  attempt.Recipient.OfficeID,
		Address:   addr,
		Subject:   sub.Subject,
		Body:      sub.Body,
		SenderRef: string(sub.SenderPseudonym),
	}
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	callStart := w.now()
	outcome, err := client.Deliver(callCtx, dispatch)
	cancel()
	if w.metrics != nil {
		w.metrics.CallDuration.WithLabelValues(string(attempt.Recipient.Channel)).
			Observe(time.Since(callStart).Seconds())
	}

	switch {
	case err != nil:
		w.retry(ctx, attempt, err)
	case outcome.Delivered:
		w.logger.InfoContext(ctx, "attempt delivered",
			"attempt_id", attempt.ID.String(),
			"channel", string(attempt.Recipient.Channel),
			"receipt", outcome.Receipt,
		)
		w.finish(ctx, attempt, submission.AttemptDelivered, "")
	default:
		w.finish(ctx, attempt, submission.AttemptRejected, outcome.Reason)
	}
}

func (w *Worker) transition(ctx context.Context, attempt *submission.DeliveryAttempt, to submission.AttemptStatus) {
	attempt.Status = to
	attempt.UpdatedAt = w.now()
	if err := w.attempts.Update(ctx, *attempt); err != nil {
		w.logger.WarnContext(ctx, "attempt update failed",
			"attempt_id", attempt.ID.String(),
			"status", string(to),
			"error", err,
		)
	}
}

// retry reschedules a transiently failed attempt, or fails it for good once
// the budget is spent. RetryCount rides the row, so a worker crash between
// claims never resets the budget.
func (w *Worker) retry(ctx context.Context, attempt submission.DeliveryAttempt, cause error) {
	attempt.RetryCount++
	if attempt.RetryCount >= w.cfg.MaxAttempts {
		w.finish(ctx, attempt, submission.AttemptFailed, "retry budget exhausted: "+cause.Error())
		return
	}

	now := w.now()
	attempt.Status = submission.AttemptPending
	attempt.NextAttempt = now.Add(w.backoff(attempt.RetryCount))
	attempt.LeaseUntil = now
	attempt.LastError = cause.Error()
	attempt.UpdatedAt = now
	if err := w.attempts.Update(ctx, attempt); err != nil {
		w.logger.WarnContext(ctx, "retry reschedule failed",
			"attempt_id", attempt.ID.String(),
			"error", err,
		)
		return
	}
	if w.metrics != nil {
		w.metrics.Retried.Inc()
	}
	w.logger.DebugContext(ctx, "attempt rescheduled",
		"attempt_id", attempt.ID.String(),
		"retry_count", attempt.RetryCount,
		"next_attempt", attempt.NextAttempt,
	)
}

func (w *Worker) backoff(retry int) time.Duration {
	d := w.cfg.InitialBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	if d > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return d
}

// finish records a terminal state and folds it into the parent submission.
func (w *Worker) finish(ctx context.Context, attempt submission.DeliveryAttempt, status submission.AttemptStatus, detail string) {
	now := w.now()
	attempt.Status = status
	attempt.LastError = detail
	attempt.LeaseUntil = now
	attempt.UpdatedAt = now
	if err := w.attempts.Update(ctx, attempt); err != nil {
		w.logger.ErrorContext(ctx, "terminal update failed",
			"attempt_id", attempt.ID.String(),
			"error", err,
		)
		return
	}

	if w.metrics != nil {
		channel := string(attempt.Recipient.Channel)
		switch status {
		case submission.AttemptDelivered:
			w.metrics.Delivered.WithLabelValues(channel).Inc()
		case submission.AttemptRejected:
			w.metrics.Rejected.WithLabelValues(channel).Inc()
		case submission.AttemptFailed:
			w.metrics.Failed.WithLabelValues(channel).Inc()
		}
	}

	w.recompute(ctx, attempt)
}

// recompute refreshes the parent submission's aggregate status after a
// terminal transition.
func (w *Worker) recompute(ctx context.Context, attempt submission.DeliveryAttempt) {
	siblings, err := w.attempts.BySubmission(ctx, attempt.SubmissionID)
	if err != nil {
		w.logger.ErrorContext(ctx, "aggregate recompute failed",
			"submission_id", attempt.SubmissionID.String(),
			"error", err,
		)
		return
	}
	overall := submission.Aggregate(siblings)
	if err := w.ledger.SetStatus(ctx, attempt.SubmissionID, overall); err != nil {
		w.logger.ErrorContext(ctx, "submission status update failed",
			"submission_id", attempt.SubmissionID.String(),
			"error", err,
		)
		return
	}

	if submission.AggregateTerminal(siblings) {
		sub, _, err := w.ledger.Find(ctx, attempt.SubmissionID)
		if err == nil {
			if releaser, ok := w.opener.(interface{ Release(string) }); ok {
				releaser.Release(sub.WitnessKeyID)
			}
			w.audit.Emit(ctx, audit.Event{
				Kind:         audit.KindDeliveryTerminal,
				Pseudonym:    sub.SenderPseudonym,
				SubmissionID: sub.ID.String(),
				Detail:       map[string]any{"status": string(overall)},
			})
		}
		w.logger.InfoContext(ctx, "submission settled",
			"submission_id", attempt.SubmissionID.String(),
			"status", string(overall),
		)
	}
}
