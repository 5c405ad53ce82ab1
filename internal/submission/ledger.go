package submission

import (
	"context"
	"errors"

	id "communique/pkg/domain"
)

// ErrNullifierReused is returned when a nullifier already exists under a
// different idempotency key: a replay or double-submission attempt, distinct
// from a legitimate client retry.
var ErrNullifierReused = errors.New("nullifier already used for this action")

// CreateResult reports what the atomic create decided.
type CreateResult struct {
	SubmissionID id.SubmissionID
	// Existing is true when the nullifier was already recorded with the
	// same idempotency key and the original id was returned.
	Existing bool
}

// Store is the ledger persistence contract. Implementations live in the
// store subpackage; the Postgres store is production, the in-memory store
// backs unit tests with the same contract.
type Store interface {
	// Create atomically records the submission and its delivery attempts
	// unless the nullifier already exists. Same nullifier and same
	// idempotency key returns the original submission id; same nullifier
	// with a different key fails with ErrNullifierReused. onFirstCreate
	// runs inside the same atomic boundary, exactly once per nullifier,
	// and its error aborts the create.
	Create(ctx context.Context, sub *Submission, attempts []DeliveryAttempt, onFirstCreate func(ctx context.Context) error) (CreateResult, error)

	// Find returns a submission and its attempts.
	Find(ctx context.Context, submissionID id.SubmissionID) (*Submission, []DeliveryAttempt, error)

	// SetStatus updates the parent submission's aggregate status.
	SetStatus(ctx context.Context, submissionID id.SubmissionID, status Status) error
}
