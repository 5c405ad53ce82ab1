// Package store holds the ledger persistence backends behind
// submission.Store. The Postgres store is production; the in-memory
// store backs unit tests with the same contract.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"communique/internal/submission"
	id "communique/pkg/domain"
	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

// Postgres error codes the create path must distinguish.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

// PostgresStore persists the ledger in PostgreSQL. Nullifier uniqueness is
// enforced twice: by the serializable transaction and, as a backstop, by the
// unique index underneath it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema creates the ledger tables. Applied by deployment tooling and by
// integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id                UUID PRIMARY KEY,
	nullifier         TEXT NOT NULL,
	idempotency_key   TEXT NOT NULL,
	sender_pseudonym  TEXT NOT NULL,
	action_id         UUID NOT NULL,
	subject           TEXT NOT NULL,
	body              TEXT NOT NULL,
	recipients        JSONB NOT NULL,
	encrypted_witness BYTEA NOT NULL,
	witness_key_id    TEXT NOT NULL,
	status            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_submissions_nullifier ON submissions (nullifier);

CREATE TABLE IF NOT EXISTS delivery_attempts (
	id            UUID PRIMARY KEY,
	submission_id UUID NOT NULL REFERENCES submissions (id),
	channel       TEXT NOT NULL,
	office_id     TEXT NOT NULL,
	status        TEXT NOT NULL,
	retry_count   INT NOT NULL DEFAULT 0,
	next_attempt  TIMESTAMPTZ NOT NULL,
	lease_until   TIMESTAMPTZ NOT NULL,
	last_error    TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_delivery_attempts_claimable ON delivery_attempts (status, next_attempt);
`

func (s *PostgresStore) Create(ctx context.Context, sub *submission.Submission, attempts []submission.DeliveryAttempt, onFirstCreate func(ctx context.Context) error) (submission.CreateResult, error) {
	// A serialization failure means a concurrent create of the same
	// nullifier won; one retry re-reads the row it inserted.
	result, err := s.tryCreate(ctx, sub, attempts, onFirstCreate)
	if err != nil && (isPgCode(err, pgSerializationFailure) || isPgCode(err, pgUniqueViolation)) {
		result, err = s.tryCreate(ctx, sub, attempts, onFirstCreate)
	}
	return result, err
}

func (s *PostgresStore) tryCreate(ctx context.Context, sub *submission.Submission, attempts []submission.DeliveryAttempt, onFirstCreate func(ctx context.Context) error) (submission.CreateResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return submission.CreateResult{}, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingID string
	var existingKey string
	err = tx.QueryRow(ctx,
		`SELECT id, idempotency_key FROM submissions WHERE nullifier = $1`,
		sub.Nullifier.String(),
	).Scan(&existingID, &existingKey)
	switch {
	case err == nil:
		if existingKey != sub.IdempotencyKey.String() {
			return submission.CreateResult{}, submission.ErrNullifierReused
		}
		parsed, perr := id.ParseSubmissionID(existingID)
		if perr != nil {
			return submission.CreateResult{}, fmt.Errorf("corrupt ledger row: %w", perr)
		}
		return submission.CreateResult{SubmissionID: parsed, Existing: true}, nil
	case errors.Is(err, pgx.ErrNoRows):
		// First creation for this nullifier.
	default:
		return submission.CreateResult{}, fmt.Errorf("lookup nullifier: %w", err)
	}

	now := requestcontext.Now(ctx)
	recipients, err := json.Marshal(sub.Recipients)
	if err != nil {
		return submission.CreateResult{}, fmt.Errorf("marshal recipients: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO submissions
			(id, nullifier, idempotency_key, sender_pseudonym, action_id,
			 subject, body, recipients, encrypted_witness, witness_key_id,
			 status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)`,
		sub.ID.String(), sub.Nullifier.String(), sub.IdempotencyKey.String(),
		sub.SenderPseudonym.String(), sub.ActionID.String(),
		sub.Subject, sub.Body, recipients, sub.EncryptedWitness,
		sub.WitnessKeyID, string(submission.StatusPending), now,
	)
	if err != nil {
		return submission.CreateResult{}, fmt.Errorf("insert submission: %w", err)
	}

	for _, a := range attempts {
		_, err = tx.Exec(ctx, `
			INSERT INTO delivery_attempts
				(id, submission_id, channel, office_id, status,
				 retry_count, next_attempt, lease_until, last_error, updated_at)
			VALUES ($1,$2,$3,$4,$5,0,$6,$7,'',$8)`,
			a.ID.String(), sub.ID.String(), string(a.Recipient.Channel),
			a.Recipient.OfficeID, string(submission.AttemptPending),
			now, now, now,
		)
		if err != nil {
			return submission.CreateResult{}, fmt.Errorf("insert delivery attempt: %w", err)
		}
	}

	// A failed onFirstCreate aborts the create, and only the one
	// transaction that inserts the row ever runs it. The callback's own
	// side effects land before the commit, so they must tolerate a replay
	// when the commit itself fails and the client retries.
	if onFirstCreate != nil {
		if err := onFirstCreate(ctx); err != nil {
			return submission.CreateResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return submission.CreateResult{}, fmt.Errorf("commit ledger tx: %w", err)
	}
	return submission.CreateResult{SubmissionID: sub.ID}, nil
}

func (s *PostgresStore) Find(ctx context.Context, submissionID id.SubmissionID) (*submission.Submission, []submission.DeliveryAttempt, error) {
	var sub submission.Submission
	var rawID, rawNullifier, rawKey, rawPseudonym, rawAction, rawStatus string
	var recipients []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, nullifier, idempotency_key, sender_pseudonym, action_id,
		       subject, body, recipients, encrypted_witness, witness_key_id,
		       status, created_at, updated_at
		FROM submissions WHERE id = $1`,
		submissionID.String(),
	).Scan(&rawID, &rawNullifier, &rawKey, &rawPseudonym, &rawAction,
		&sub.Subject, &sub.Body, &recipients, &sub.EncryptedWitness,
		&sub.WitnessKeyID, &rawStatus, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find submission: %w", err)
	}

	sub.ID = submissionID
	sub.Nullifier = id.Nullifier(rawNullifier)
	sub.IdempotencyKey = id.IdempotencyKey(rawKey)
	sub.SenderPseudonym = id.Pseudonym(rawPseudonym)
	sub.Status = submission.Status(rawStatus)
	if action, perr := id.ParseActionID(rawAction); perr == nil {
		sub.ActionID = action
	}
	if err := json.Unmarshal(recipients, &sub.Recipients); err != nil {
		return nil, nil, fmt.Errorf("unmarshal recipients: %w", err)
	}

	attempts, err := s.findAttempts(ctx, submissionID)
	if err != nil {
		return nil, nil, err
	}
	return &sub, attempts, nil
}

func (s *PostgresStore) findAttempts(ctx context.Context, submissionID id.SubmissionID) ([]submission.DeliveryAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel, office_id, status, retry_count,
		       next_attempt, lease_until, last_error, updated_at
		FROM delivery_attempts WHERE submission_id = $1
		ORDER BY office_id`,
		submissionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("find attempts: %w", err)
	}
	defer rows.Close()

	var attempts []submission.DeliveryAttempt
	for rows.Next() {
		var a submission.DeliveryAttempt
		var rawID, rawChannel, rawStatus string
		if err := rows.Scan(&rawID, &rawChannel, &a.Recipient.OfficeID,
			&rawStatus, &a.RetryCount, &a.NextAttempt, &a.LeaseUntil,
			&a.LastError, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempt, perr := id.ParseAttemptID(rawID)
		if perr != nil {
			return nil, fmt.Errorf("corrupt attempt row: %w", perr)
		}
		a.ID = attempt
		a.SubmissionID = submissionID
		a.Recipient.Channel = submission.Channel(rawChannel)
		a.Status = submission.AttemptStatus(rawStatus)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *PostgresStore) SetStatus(ctx context.Context, submissionID id.SubmissionID, status submission.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), requestcontext.Now(ctx), submissionID.String(),
	)
	if err != nil {
		return fmt.Errorf("set submission status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
