package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"communique/internal/submission"
	id "communique/pkg/domain"
	"communique/pkg/platform/sentinel"
)

// PostgresAttemptStore reads and writes the delivery_attempts table the
// ledger populates. It runs on database/sql so the delivery workers keep
// their own pool, sized independently of the request path.
type PostgresAttemptStore struct {
	db *sql.DB
}

func NewPostgresAttempts(db *sql.DB) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db}
}

var claimableStatuses = []string{
	string(submission.AttemptPending),
	string(submission.AttemptDecrypting),
	string(submission.AttemptAddressed),
	string(submission.AttemptSubmitted),
}

// Claim leases due attempts with a single UPDATE. SKIP LOCKED keeps
// concurrent workers from queueing on each other's rows; the lease keeps a
// second pool from re-claiming until it expires.
func (s *PostgresAttemptStore) Claim(ctx context.Context, now, leaseUntil time.Time, limit int) ([]submission.DeliveryAttempt, error) {
	const q = `
		UPDATE delivery_attempts SET lease_until = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM delivery_attempts
			WHERE status = ANY($3)
			  AND next_attempt <= $2
			  AND lease_until <= $2
			ORDER BY next_attempt
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, submission_id, channel, office_id, status, retry_count,
		          next_attempt, lease_until, last_error, updated_at`

	rows, err := s.db.QueryContext(ctx, q, leaseUntil, now, pq.Array(claimableStatuses), limit)
	if err != nil {
		return nil, fmt.Errorf("claim attempts: %w", err)
	}
	defer rows.Close()

	var out []submission.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresAttemptStore) Update(ctx context.Context, attempt submission.DeliveryAttempt) error {
	const q = `
		UPDATE delivery_attempts
		SET status = $2, retry_count = $3, next_attempt = $4, lease_until = $5,
		    last_error = $6, updated_at = $7
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, q,
		attempt.ID.String(), string(attempt.Status), attempt.RetryCount,
		attempt.NextAttempt, attempt.LeaseUntil, attempt.LastError, attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresAttemptStore) BySubmission(ctx context.Context, submissionID id.SubmissionID) ([]submission.DeliveryAttempt, error) {
	const q = `
		SELECT id, submission_id, channel, office_id, status, retry_count,
		       next_attempt, lease_until, last_error, updated_at
		FROM delivery_attempts WHERE submission_id = $1 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, submissionID.String())
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []submission.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAttempt(rows *sql.Rows) (submission.DeliveryAttempt, error) {
	var (
		a                   submission.DeliveryAttempt
		attemptID, subID    string
		channel, status     string
	)
	err := rows.Scan(&attemptID, &subID, &channel, &a.Recipient.OfficeID, &status,
		&a.RetryCount, &a.NextAttempt, &a.LeaseUntil, &a.LastError, &a.UpdatedAt)
	if err != nil {
		return submission.DeliveryAttempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	if a.ID, err = id.ParseAttemptID(attemptID); err != nil {
		return submission.DeliveryAttempt{}, err
	}
	if a.SubmissionID, err = id.ParseSubmissionID(subID); err != nil {
		return submission.DeliveryAttempt{}, err
	}
	a.Recipient.Channel = submission.Channel(channel)
	a.Status = submission.AttemptStatus(status)
	return a, nil
}
