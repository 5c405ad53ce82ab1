package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"communique/internal/submission"
	id "communique/pkg/domain"
	"communique/pkg/platform/sentinel"
)

// InMemoryAttemptStore is the mutex-guarded store for unit tests and
// single-process runs.
type InMemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[id.AttemptID]submission.DeliveryAttempt
}

func NewMemoryAttempts() *InMemoryAttemptStore {
	return &InMemoryAttemptStore{
		attempts: make(map[id.AttemptID]submission.DeliveryAttempt),
	}
}

// Add seeds an attempt, typically mirroring what the ledger created.
func (s *InMemoryAttemptStore) Add(attempts ...submission.DeliveryAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range attempts {
		s.attempts[a.ID] = a
	}
}

func (s *InMemoryAttemptStore) Claim(ctx context.Context, now, leaseUntil time.Time, limit int) ([]submission.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]submission.DeliveryAttempt, 0, limit)
	for _, a := range s.attempts {
		if a.Status.Terminal() {
			continue
		}
		if a.NextAttempt.After(now) || a.LeaseUntil.After(now) {
			continue
		}
		due = append(due, a)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttempt.Before(due[j].NextAttempt) })
	if len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		due[i].LeaseUntil = leaseUntil
		due[i].UpdatedAt = now
		s.attempts[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *InMemoryAttemptStore) Update(ctx context.Context, attempt submission.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[attempt.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.attempts[attempt.ID] = attempt
	return nil
}

func (s *InMemoryAttemptStore) BySubmission(ctx context.Context, submissionID id.SubmissionID) ([]submission.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []submission.DeliveryAttempt
	for _, a := range s.attempts {
		if a.SubmissionID == submissionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
