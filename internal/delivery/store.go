package delivery

import (
	"context"
	"time"

	"communique/internal/submission"
	id "communique/pkg/domain"
)

// AttemptStore holds delivery attempts. Claim must hand each due attempt to
// at most one caller at a time; everything downstream relies on that.
type AttemptStore interface {
	// Claim leases up to limit attempts that are due and unleased at now,
	// extending each lease to leaseUntil. The returned attempts belong to
	// the caller until the lease expires.
	Claim(ctx context.Context, now, leaseUntil time.Time, limit int) ([]submission.DeliveryAttempt, error)

	// Update persists the attempt's status, retry bookkeeping, and lease.
	Update(ctx context.Context, attempt submission.DeliveryAttempt) error

	// BySubmission returns every attempt of one submission.
	BySubmission(ctx context.Context, submissionID id.SubmissionID) ([]submission.DeliveryAttempt, error)
}
