package store

import (
	"context"
	"sync"

	"communique/internal/submission"
	id "communique/pkg/domain"
	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

// InMemoryStore is a mutex-guarded ledger for unit tests. The single mutex
// gives the same atomicity the Postgres store gets from its transaction.
type InMemoryStore struct {
	mu          sync.Mutex
	submissions map[id.SubmissionID]*submission.Submission
	byNullifier map[id.Nullifier]id.SubmissionID
	attempts    map[id.SubmissionID][]submission.DeliveryAttempt
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		submissions: make(map[id.SubmissionID]*submission.Submission),
		byNullifier: make(map[id.Nullifier]id.SubmissionID),
		attempts:    make(map[id.SubmissionID][]submission.DeliveryAttempt),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, sub *submission.Submission, attempts []submission.DeliveryAttempt, onFirstCreate func(ctx context.Context) error) (submission.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byNullifier[sub.Nullifier]; ok {
		existing := s.submissions[existingID]
		if existing.IdempotencyKey == sub.IdempotencyKey {
			return submission.CreateResult{SubmissionID: existingID, Existing: true}, nil
		}
		return submission.CreateResult{}, submission.ErrNullifierReused
	}

	if onFirstCreate != nil {
		if err := onFirstCreate(ctx); err != nil {
			return submission.CreateResult{}, err
		}
	}

	now := requestcontext.Now(ctx)
	copied := *sub
	copied.Status = submission.StatusPending
	copied.CreatedAt = now
	copied.UpdatedAt = now

	s.submissions[copied.ID] = &copied
	s.byNullifier[copied.Nullifier] = copied.ID
	s.attempts[copied.ID] = append([]submission.DeliveryAttempt(nil), attempts...)

	return submission.CreateResult{SubmissionID: copied.ID}, nil
}

func (s *InMemoryStore) Find(ctx context.Context, submissionID id.SubmissionID) (*submission.Submission, []submission.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}
	copied := *sub
	attempts := append([]submission.DeliveryAttempt(nil), s.attempts[submissionID]...)
	return &copied, attempts, nil
}

func (s *InMemoryStore) SetStatus(ctx context.Context, submissionID id.SubmissionID, status submission.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	sub.Status = status
	sub.UpdatedAt = requestcontext.Now(ctx)
	return nil
}

// Len reports how many submissions the ledger holds.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions)
}

// ReplaceAttempts swaps the stored attempts for a submission. Used by
// delivery worker tests that drive attempts to terminal states.
func (s *InMemoryStore) ReplaceAttempts(submissionID id.SubmissionID, attempts []submission.DeliveryAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[submissionID] = append([]submission.DeliveryAttempt(nil), attempts...)
}
