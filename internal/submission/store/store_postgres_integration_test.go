//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"communique/internal/submission"
	"communique/internal/submission/store"
	id "communique/pkg/domain"
	"communique/pkg/requestcontext"
	"communique/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite

	pg    *containers.PostgresContainer
	store *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := &PostgresStoreSuite{}
	s.pg = containers.NewPostgresContainer(t, store.Schema)
	suite.Run(t, s)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background(), "delivery_attempts", "submissions"))
	s.store = store.NewPostgres(s.pg.Pool)
}

func (s *PostgresStoreSuite) newSubmission(nullifier, key string) (*submission.Submission, []submission.DeliveryAttempt) {
	sub := &submission.Submission{
		ID:               id.NewSubmissionID(),
		Nullifier:        id.Nullifier(nullifier),
		IdempotencyKey:   id.IdempotencyKey(key),
		SenderPseudonym:  "anon_pg_test",
		ActionID:         id.NewActionID(),
		Subject:          "Support the bill",
		Body:             "Please vote yes.",
		Recipients: []submission.Recipient{
			{Channel: submission.ChannelCongress, OfficeID: "H001"},
		},
		EncryptedWitness: []byte("envelope"),
		WitnessKeyID:     "key-1",
	}
	attempts := []submission.DeliveryAttempt{{
		ID:           id.NewAttemptID(),
		SubmissionID: sub.ID,
		Recipient:    sub.Recipients[0],
		Status:       submission.AttemptPending,
	}}
	return sub, attempts
}

func (s *PostgresStoreSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), time.Now().UTC())
}

func (s *PostgresStoreSuite) TestCreate() {
	s.Run("retry with the same key returns the existing id", func() {
		s.SetupTest()
		sub, attempts := s.newSubmission("n-pg-1", "abc123")

		first, err := s.store.Create(s.ctx(), sub, attempts, nil)
		s.Require().NoError(err)
		s.False(first.Existing)

		retry, retryAttempts := s.newSubmission("n-pg-1", "abc123")
		second, err := s.store.Create(s.ctx(), retry, retryAttempts, nil)
		s.Require().NoError(err)
		s.True(second.Existing)
		s.Equal(first.SubmissionID, second.SubmissionID)
	})

	s.Run("same nullifier under a different key is rejected", func() {
		s.SetupTest()
		sub, attempts := s.newSubmission("n-pg-2", "x")
		_, err := s.store.Create(s.ctx(), sub, attempts, nil)
		s.Require().NoError(err)

		replay, replayAttempts := s.newSubmission("n-pg-2", "y")
		_, err = s.store.Create(s.ctx(), replay, replayAttempts, nil)
		s.Require().ErrorIs(err, submission.ErrNullifierReused)

		var count int
		s.Require().NoError(s.pg.Pool.QueryRow(context.Background(),
			"SELECT COUNT(*) FROM submissions WHERE nullifier = 'n-pg-2'").Scan(&count))
		s.Equal(1, count)
	})

	s.Run("concurrent creates insert one row and run the callback once", func() {
		s.SetupTest()

		const goroutines = 12
		var (
			wg        sync.WaitGroup
			callbacks atomic.Int32
		)
		errs := make([]error, goroutines)
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				sub, attempts := s.newSubmission("n-pg-3", "k-concurrent")
				_, errs[n] = s.store.Create(s.ctx(), sub, attempts, func(context.Context) error {
					callbacks.Add(1)
					return nil
				})
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			s.NoError(err)
		}
		s.Equal(int32(1), callbacks.Load())

		var count int
		s.Require().NoError(s.pg.Pool.QueryRow(context.Background(),
			"SELECT COUNT(*) FROM submissions WHERE nullifier = 'n-pg-3'").Scan(&count))
		s.Equal(1, count)
	})

	s.Run("find returns the submission with its attempts", func() {
		s.SetupTest()
		sub, attempts := s.newSubmission("n-pg-4", "k")
		result, err := s.store.Create(s.ctx(), sub, attempts, nil)
		s.Require().NoError(err)

		found, foundAttempts, err := s.store.Find(context.Background(), result.SubmissionID)
		s.Require().NoError(err)
		s.Equal(sub.Nullifier, found.Nullifier)
		s.Equal(submission.StatusPending, found.Status)
		s.Len(foundAttempts, 1)
		s.Equal(attempts[0].ID, foundAttempts[0].ID)
	})
}
